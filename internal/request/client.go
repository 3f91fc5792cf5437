// Package request is the outbound HTTP client used by destination actions.
// A Client carries default options and hook chains; Extend derives
// per-destination clients with their base URL and credentials.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Response is a received response whose body has already been read.
// Content holds the raw bytes; Data holds the decoded JSON, or nil when the
// body is not JSON.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	URL        string
	Content    []byte
	Data       any
	Duration   time.Duration
}

// Text returns Content as a string.
func (r *Response) Text() string { return string(r.Content) }

// Headers flattens Header into a JSON-friendly map with lower-cased names.
// Repeated values are joined with ", ".
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Client sends requests with a set of default options and hooks.
// It is safe for concurrent use.
type Client struct {
	http     *http.Client
	defaults Options
	hooks    Hooks
}

// New creates a Client. Hooks run in the order given.
func New(defaults Options, hooks ...Hooks) *Client {
	c := &Client{http: &http.Client{}, defaults: defaults}
	for _, h := range hooks {
		c.hooks = c.hooks.append(h)
	}
	return c
}

// WithHTTPClient replaces the underlying transport client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

// Extend derives a client whose defaults are c's merged with opts and whose
// hook chains are c's followed by hooks.
func (c *Client) Extend(opts Options, hooks ...Hooks) *Client {
	cp := &Client{http: c.http, defaults: merge(c.defaults, opts), hooks: c.hooks}
	for _, h := range hooks {
		cp.hooks = cp.hooks.append(h)
	}
	return cp
}

// Defaults returns the client's default options.
func (c *Client) Defaults() Options { return c.defaults }

// Do sends a request to rawURL, resolved against BaseURL when relative.
func (c *Client) Do(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	o := merge(c.defaults, opts)
	for _, hook := range c.hooks.BeforeRequest {
		patch, err := hook(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("before request hook: %w", err)
		}
		o = merge(o, patch)
	}

	req, cancel, err := c.build(ctx, rawURL, o)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start := time.Now()
	resp, err := c.send(ctx, req, o)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)

	for _, hook := range c.hooks.AfterResponse {
		next, err := hook(ctx, req, o, resp)
		if err != nil {
			return nil, fmt.Errorf("after response hook: %w", err)
		}
		if next != nil {
			resp = next
		}
	}

	if !resp.OK() && o.throwHTTPErrors() {
		return resp, &HTTPError{Request: req, Response: resp, Options: o}
	}
	return resp, nil
}

func (c *Client) build(ctx context.Context, rawURL string, o Options) (*http.Request, context.CancelFunc, error) {
	u, err := resolveURL(o.BaseURL, rawURL, o.SearchParams)
	if err != nil {
		return nil, nil, fmt.Errorf("request url %q: %w", rawURL, err)
	}

	var body io.Reader
	contentType := ""
	switch {
	case o.JSON != nil:
		b, err := json.Marshal(o.JSON)
		if err != nil {
			return nil, nil, fmt.Errorf("request json body: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case o.Body != nil:
		body = bytes.NewReader(o.Body)
	}

	method := strings.ToUpper(o.Method)
	if method == "" {
		method = http.MethodGet
	}

	cancel := context.CancelFunc(func() {})
	if t := o.timeout(); t > 0 {
		ctx, cancel = context.WithTimeout(ctx, t)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}
	return req, cancel, nil
}

// send performs the round trip and reads the body exactly once. parent is
// the caller's context, before the per-request timeout was applied.
func (c *Client) send(parent context.Context, req *http.Request, o Options) (*Response, error) {
	hr, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapErr(parent, req, o, err)
	}
	defer hr.Body.Close()

	content, err := io.ReadAll(hr.Body)
	if err != nil {
		return nil, c.wrapErr(parent, req, o, err)
	}
	return &Response{
		Status:     hr.StatusCode,
		StatusText: http.StatusText(hr.StatusCode),
		Header:     hr.Header,
		URL:        req.URL.String(),
		Content:    content,
		Data:       decodeJSON(hr.Header.Get("Content-Type"), content),
	}, nil
}

// wrapErr reports a TimeoutError only when the per-request timer fired. A
// deadline inherited from the caller's context is returned as is.
func (c *Client) wrapErr(parent context.Context, req *http.Request, o Options, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && o.timeout() > 0 &&
		parent.Err() == nil && errors.Is(req.Context().Err(), context.DeadlineExceeded) {
		return &TimeoutError{Request: req, Timeout: o.timeout()}
	}
	return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Redacted(), err)
}

func resolveURL(base, raw string, params map[string]string) (string, error) {
	target := raw
	if base != "" && !strings.Contains(raw, "://") {
		target = strings.TrimSuffix(base, "/")
		if raw != "" {
			target += "/" + strings.TrimPrefix(raw, "/")
		}
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("absolute url required")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// decodeJSON parses content when the content type says JSON or the body
// looks like a JSON object or array. Anything unparsable yields nil.
func decodeJSON(contentType string, content []byte) any {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil
	}
	isJSON := strings.Contains(strings.ToLower(contentType), "json") ||
		trimmed[0] == '{' || trimmed[0] == '['
	if !isJSON {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil
	}
	return v
}
