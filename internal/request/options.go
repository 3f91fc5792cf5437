package request

import (
	"maps"
	"time"
)

// DefaultTimeout bounds a single request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options describes one outbound request. The zero value of a field means
// "inherit", which is what lets hooks and Extend return partial patches.
type Options struct {
	Method  string
	BaseURL string
	Headers map[string]string

	// JSON is marshalled as the body and sets Content-Type when present.
	// It takes precedence over Body.
	JSON any
	Body []byte

	SearchParams map[string]string

	// Timeout defaults to DefaultTimeout. A negative value disables it.
	Timeout time.Duration

	Username string
	Password string

	// ThrowHTTPErrors turns non-2xx responses into *HTTPError. Nil means true.
	ThrowHTTPErrors *bool
}

// Bool returns a pointer to b, for ThrowHTTPErrors.
func Bool(b bool) *bool { return &b }

// merge overlays patch onto base. Headers and search params merge key by key.
func merge(base, patch Options) Options {
	out := base
	if patch.Method != "" {
		out.Method = patch.Method
	}
	if patch.BaseURL != "" {
		out.BaseURL = patch.BaseURL
	}
	out.Headers = mergeMap(base.Headers, patch.Headers)
	if patch.JSON != nil {
		out.JSON = patch.JSON
	}
	if patch.Body != nil {
		out.Body = patch.Body
	}
	out.SearchParams = mergeMap(base.SearchParams, patch.SearchParams)
	if patch.Timeout != 0 {
		out.Timeout = patch.Timeout
	}
	if patch.Username != "" {
		out.Username = patch.Username
	}
	if patch.Password != "" {
		out.Password = patch.Password
	}
	if patch.ThrowHTTPErrors != nil {
		out.ThrowHTTPErrors = patch.ThrowHTTPErrors
	}
	return out
}

func mergeMap(base, patch map[string]string) map[string]string {
	if len(patch) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}

func (o Options) timeout() time.Duration {
	switch {
	case o.Timeout == 0:
		return DefaultTimeout
	case o.Timeout < 0:
		return 0
	}
	return o.Timeout
}

func (o Options) throwHTTPErrors() bool {
	return o.ThrowHTTPErrors == nil || *o.ThrowHTTPErrors
}
