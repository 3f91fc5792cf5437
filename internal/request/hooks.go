package request

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gyaneshwarpardhi/actionkit/internal/metrics"
)

// BeforeRequestHook may return a partial Options patch that is merged onto
// the request's options. Returning the zero Options changes nothing.
type BeforeRequestHook func(ctx context.Context, opts Options) (Options, error)

// AfterResponseHook may return a replacement response. Returning nil keeps
// the current one.
type AfterResponseHook func(ctx context.Context, req *http.Request, opts Options, resp *Response) (*Response, error)

// Hooks groups the two hook chains of a Client.
type Hooks struct {
	BeforeRequest []BeforeRequestHook
	AfterResponse []AfterResponseHook
}

func (h Hooks) append(more Hooks) Hooks {
	return Hooks{
		BeforeRequest: append(append([]BeforeRequestHook(nil), h.BeforeRequest...), more.BeforeRequest...),
		AfterResponse: append(append([]AfterResponseHook(nil), h.AfterResponse...), more.AfterResponse...),
	}
}

// BasicAuth sets the Authorization header from Username and Password.
func BasicAuth(_ context.Context, opts Options) (Options, error) {
	if opts.Username == "" && opts.Password == "" {
		return Options{}, nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
	return Options{Headers: map[string]string{"Authorization": "Basic " + token}}, nil
}

// LogResponses logs every response at debug level, and non-2xx at warn.
func LogResponses(logger *slog.Logger) AfterResponseHook {
	return func(ctx context.Context, req *http.Request, _ Options, resp *Response) (*Response, error) {
		level := slog.LevelDebug
		if !resp.OK() {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "partner response",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"status", resp.Status,
			"bytes", len(resp.Content),
			"duration_ms", resp.Duration.Milliseconds(),
		)
		return nil, nil
	}
}

// ObserveResponses records response codes and latency for destination.
func ObserveResponses(destination string) AfterResponseHook {
	return func(_ context.Context, _ *http.Request, _ Options, resp *Response) (*Response, error) {
		metrics.OutboundRequests.WithLabelValues(destination, strconv.Itoa(resp.Status)).Inc()
		metrics.OutboundRequestDuration.WithLabelValues(destination).Observe(float64(resp.Duration.Milliseconds()))
		return nil, nil
	}
}
