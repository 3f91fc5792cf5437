package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBody records how many times the response body is read to EOF.
type countingBody struct {
	io.ReadCloser
	eofs *atomic.Int32
}

func (b countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		b.eofs.Add(1)
	}
	return n, err
}

type countingTransport struct {
	eofs atomic.Int32
}

func (t *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := http.DefaultTransport.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	resp.Body = countingBody{ReadCloser: resp.Body, eofs: &t.eofs}
	return resp, nil
}

func TestDo_JSONResponseReadOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"abc","tags":["a","b"]}`)
	}))
	defer srv.Close()

	var seen []string
	inspect := func(label string) AfterResponseHook {
		return func(_ context.Context, _ *http.Request, _ Options, resp *Response) (*Response, error) {
			seen = append(seen, label+":"+resp.Text())
			return nil, nil
		}
	}
	transport := &countingTransport{}
	c := New(Options{}, Hooks{AfterResponse: []AfterResponseHook{inspect("first"), inspect("second")}}).
		WithHTTPClient(&http.Client{Transport: transport})

	resp, err := c.Do(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.Equal(t, `{"id":"abc","tags":["a","b"]}`, string(resp.Content))
	assert.Equal(t, map[string]any{"id": "abc", "tags": []any{"a", "b"}}, resp.Data)
	assert.Equal(t, []string{
		`first:{"id":"abc","tags":["a","b"]}`,
		`second:{"id":"abc","tags":["a","b"]}`,
	}, seen)
	assert.Equal(t, int32(1), transport.eofs.Load())
}

func TestDo_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "accepted")
	}))
	defer srv.Close()

	resp, err := New(Options{}).Do(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp.Text())
	assert.Nil(t, resp.Data)
	assert.Equal(t, "text/plain", resp.Headers()["content-type"])
}

func TestDo_SniffsJSONWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, `[1,2]`)
	}))
	defer srv.Close()

	resp, err := New(Options{}).Do(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, resp.Data)
}

func TestDo_RequestShape(t *testing.T) {
	var got struct {
		method, path, query, contentType, custom string
		body                                     map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.contentType = r.Header.Get("Content-Type")
		got.custom = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/api/", Headers: map[string]string{"X-Api-Key": "k1"}})
	resp, err := c.Do(context.Background(), "/v2/orders", Options{
		Method:       "post",
		JSON:         map[string]any{"order_id": "o-1"},
		SearchParams: map[string]string{"dry_run": "true"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v2/orders", got.path)
	assert.Equal(t, "dry_run=true", got.query)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "k1", got.custom)
	assert.Equal(t, map[string]any{"order_id": "o-1"}, got.body)
}

func TestDo_BasicAuthHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Options{}, Hooks{BeforeRequest: []BeforeRequestHook{BasicAuth}})
	_, err := c.Do(context.Background(), srv.URL, Options{Username: "alice", Password: "s3cret"})
	assert.NoError(t, err)

	_, err = c.Do(context.Background(), srv.URL, Options{Username: "alice", Password: "wrong"})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Response.Status)
}

func TestDo_HooksRunInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("X-Trace"))
	}))
	defer srv.Close()

	setTrace := func(v string) BeforeRequestHook {
		return func(_ context.Context, opts Options) (Options, error) {
			return Options{Headers: map[string]string{"X-Trace": opts.Headers["X-Trace"] + v}}, nil
		}
	}
	replace := func(_ context.Context, _ *http.Request, _ Options, resp *Response) (*Response, error) {
		cp := *resp
		cp.Data = "replaced:" + resp.Text()
		return &cp, nil
	}
	base := New(Options{}, Hooks{BeforeRequest: []BeforeRequestHook{setTrace("a")}})
	c := base.Extend(Options{}, Hooks{
		BeforeRequest: []BeforeRequestHook{setTrace("b")},
		AfterResponse: []AfterResponseHook{replace},
	})

	resp, err := c.Do(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Text())
	assert.Equal(t, "replaced:ab", resp.Data)

	// The parent keeps its own chain.
	resp, err = base.Do(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Text())
}

func TestDo_HTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad email"}`)
	}))
	defer srv.Close()

	c := New(Options{})
	resp, err := c.Do(context.Background(), srv.URL+"/users", Options{Method: http.MethodPut})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Response.Status)
	assert.Equal(t, map[string]any{"error": "bad email"}, he.Response.Data)
	assert.Equal(t, http.MethodPut, he.Request.Method)
	assert.Equal(t, http.MethodPut, he.Options.Method)
	assert.Contains(t, err.Error(), "400 Bad Request")
	assert.Same(t, resp, he.Response)
	assert.False(t, IsRetryable(err))

	resp, err = c.Do(context.Background(), srv.URL, Options{ThrowHTTPErrors: Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestDo_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Options{Timeout: 20 * time.Millisecond}).Do(context.Background(), srv.URL, Options{})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.True(t, IsRetryable(err))

	var he *HTTPError
	assert.False(t, errors.As(err, &he))
}

func TestDo_ParentDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(Options{Timeout: 10 * time.Second}).Do(ctx, srv.URL, Options{})
	require.Error(t, err)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te), "caller deadline reported as request timeout: %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, err.Error(), "10s")
}

func TestDo_InvalidURL(t *testing.T) {
	_, err := New(Options{}).Do(context.Background(), "/relative/only", Options{})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	httpErr := func(status int) error {
		req := httptest.NewRequest(http.MethodPost, "http://partner.test/x", nil)
		return &HTTPError{Request: req, Response: &Response{Status: status}}
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", httpErr(http.StatusTooManyRequests), true},
		{"500", httpErr(http.StatusInternalServerError), true},
		{"503 wrapped", fmt.Errorf("perform: %w", httpErr(http.StatusServiceUnavailable)), true},
		{"404", httpErr(http.StatusNotFound), false},
		{"plain", errors.New("validation failed"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryable_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Options{}).Do(context.Background(), url, Options{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestMerge(t *testing.T) {
	base := Options{
		Method:  http.MethodGet,
		BaseURL: "https://a.test",
		Headers: map[string]string{"A": "1", "B": "1"},
		Timeout: time.Second,
	}
	out := merge(base, Options{Headers: map[string]string{"B": "2"}, ThrowHTTPErrors: Bool(false)})

	assert.Equal(t, http.MethodGet, out.Method)
	assert.Equal(t, "https://a.test", out.BaseURL)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, out.Headers)
	assert.Equal(t, time.Second, out.Timeout)
	assert.False(t, out.throwHTTPErrors())
	assert.Equal(t, "1", base.Headers["B"], "merge must not mutate the base")
}

func TestTimeoutDefaults(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Options{}.timeout())
	assert.Equal(t, time.Duration(0), Options{Timeout: -1}.timeout())
	assert.Equal(t, time.Second, Options{Timeout: time.Second}.timeout())
}
