// Package webhook is a destination that forwards mapped event data to an
// arbitrary HTTP endpoint.
//
// Its actions accept:
//   - url: the target endpoint
//   - method: POST (default), PUT or PATCH
//   - headers: extra request headers
//   - data: the JSON body
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/request"
)

// Slug is the key the webhook destination is registered under.
const Slug = "webhook"

// SignatureHeader carries the hex HMAC-SHA256 of the body when the instance
// has a sharedSecret.
const SignatureHeader = "X-Signature"

var allowedMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// New returns the webhook destination definition.
func New() *destination.Definition {
	fields := map[string]destination.Field{
		"url": {
			Label:    "URL",
			Type:     destination.FieldString,
			Required: true,
		},
		"method": {
			Label:   "Method",
			Type:    destination.FieldString,
			Default: map[string]any{"@literal": http.MethodPost},
		},
		"headers": {
			Label: "Headers",
			Type:  destination.FieldObject,
		},
		"data": {
			Label:   "Data",
			Type:    destination.FieldObject,
			Default: map[string]any{"@path": "$"},
		},
	}

	return &destination.Definition{
		Slug: Slug,
		Name: "Webhook",
		Authentication: destination.Authentication{
			Scheme: destination.AuthCustom,
			Fields: map[string]destination.Field{
				"sharedSecret": {
					Label:       "Shared Secret",
					Description: "Signs each request body with HMAC-SHA256.",
					Type:        destination.FieldPassword,
				},
			},
		},
		Actions: map[string]*destination.ActionDefinition{
			"send": {
				Title:               "Send",
				Description:         "Send one HTTP request per event.",
				DefaultSubscription: `type = "track" or type = "identify"`,
				Fields:              fields,
				Perform:             send,
			},
			"sendBatch": {
				Title:               "Send Batch",
				Description:         "Send all matching events of a batch in one request.",
				DefaultSubscription: `type = "track"`,
				Fields:              fields,
				PerformBatch:        sendBatch,
			},
		},
	}
}

func send(ctx context.Context, c *request.Client, in destination.PerformInput) (any, error) {
	target, err := parseTarget(in.Payload)
	if err != nil {
		return nil, err
	}
	return deliver(ctx, c, target, in.Settings, in.Payload["data"])
}

// sendBatch posts every payload's data as one JSON array. The url, method
// and headers of the first payload apply to the whole batch.
func sendBatch(ctx context.Context, c *request.Client, in destination.BatchInput) (any, error) {
	if len(in.Payloads) == 0 {
		return nil, nil
	}
	target, err := parseTarget(in.Payloads[0])
	if err != nil {
		return nil, err
	}
	data := make([]any, len(in.Payloads))
	for i, p := range in.Payloads {
		data[i] = p["data"]
	}
	return deliver(ctx, c, target, in.Settings, data)
}

type target struct {
	url     string
	method  string
	headers map[string]string
}

func parseTarget(payload map[string]any) (target, error) {
	t := target{method: http.MethodPost}
	t.url, _ = payload["url"].(string)
	if t.url == "" {
		return t, destination.NewIntegrationError("webhook url is required", "MISSING_URL", http.StatusBadRequest)
	}
	if m, ok := payload["method"].(string); ok && m != "" {
		t.method = strings.ToUpper(m)
	}
	if !allowedMethods[t.method] {
		return t, destination.NewIntegrationError(
			fmt.Sprintf("webhook method must be POST, PUT or PATCH, got %q", t.method), "INVALID_METHOD", http.StatusBadRequest)
	}
	if hs, ok := payload["headers"].(map[string]any); ok {
		t.headers = make(map[string]string, len(hs))
		for k, v := range hs {
			if s, isStr := v.(string); isStr {
				t.headers[k] = s
			}
		}
	}
	return t, nil
}

func deliver(ctx context.Context, c *request.Client, t target, settings map[string]any, data any) (any, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("webhook body: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range t.headers {
		headers[k] = v
	}
	if secret, _ := settings["sharedSecret"].(string); secret != "" {
		headers[SignatureHeader] = Sign(secret, body)
	}

	resp, err := c.Do(ctx, t.url, request.Options{Method: t.method, Headers: headers, Body: body})
	if err != nil {
		return nil, err
	}
	out := map[string]any{"status": resp.Status}
	if resp.Data != nil {
		out["body"] = resp.Data
	} else if len(resp.Content) > 0 {
		out["body"] = resp.Text()
	}
	return out, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
