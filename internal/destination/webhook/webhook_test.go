package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination/webhook"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
)

type captured struct {
	method    string
	signature string
	custom    string
	body      []byte
}

func newReceiver(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			method:    r.Method,
			signature: r.Header.Get(webhook.SignatureHeader),
			custom:    r.Header.Get("X-Source"),
			body:      body,
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

// mustMapping compiles a mapping fixed in the test source.
func mustMapping(template map[string]any) *mapping.Mapping {
	m, err := mapping.Compile(template)
	if err != nil {
		panic(err)
	}
	return m
}

func TestSend(t *testing.T) {
	srv, got := newReceiver(t)
	inst, err := destination.NewInstance(webhook.New(), map[string]any{"sharedSecret": "s3cret"}, destination.InstanceOptions{})
	require.NoError(t, err)

	m := mustMapping(map[string]any{
		"url":     srv.URL + "/hook",
		"method":  "put",
		"headers": map[string]any{"X-Source": "actionkit"},
		"data": map[string]any{
			"event_name": map[string]any{"@path": "$.event"},
			"amount":     map[string]any{"@path": "$.properties.revenue"},
		},
	})
	ev := map[string]any{"type": "track", "event": "Order Completed", "properties": map[string]any{"revenue": 99.99}}

	res, err := inst.ExecuteAction(context.Background(), "send", destination.ExecuteInput{Event: ev, Mapping: m})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": 200, "body": map[string]any{"received": true}}, res.Output)

	c := <-got
	assert.Equal(t, http.MethodPut, c.method)
	assert.Equal(t, "actionkit", c.custom)
	assert.JSONEq(t, `{"event_name":"Order Completed","amount":99.99}`, string(c.body))
	assert.Equal(t, webhook.Sign("s3cret", c.body), c.signature)
}

func TestSend_DefaultsToWholeEvent(t *testing.T) {
	srv, got := newReceiver(t)
	inst, err := destination.NewInstance(webhook.New(), nil, destination.InstanceOptions{})
	require.NoError(t, err)

	m := mustMapping(map[string]any{"url": srv.URL})
	ev := map[string]any{"type": "identify", "userId": "u-1"}

	_, err = inst.ExecuteAction(context.Background(), "send", destination.ExecuteInput{Event: ev, Mapping: m})
	require.NoError(t, err)

	c := <-got
	assert.Equal(t, http.MethodPost, c.method)
	assert.Empty(t, c.signature)
	assert.JSONEq(t, `{"type":"identify","userId":"u-1"}`, string(c.body))
}

func TestSend_RejectsMethod(t *testing.T) {
	inst, err := destination.NewInstance(webhook.New(), nil, destination.InstanceOptions{})
	require.NoError(t, err)

	m := mustMapping(map[string]any{"url": "http://localhost:1", "method": "DELETE"})
	res, err := inst.ExecuteAction(context.Background(), "send", destination.ExecuteInput{Event: map[string]any{}, Mapping: m})

	var ie *destination.IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "INVALID_METHOD", res.Code)
	assert.Equal(t, 1, res.Attempts)
}

func TestSend_MissingURLIsInvalid(t *testing.T) {
	inst, err := destination.NewInstance(webhook.New(), nil, destination.InstanceOptions{})
	require.NoError(t, err)

	res, err := inst.ExecuteAction(context.Background(), "send", destination.ExecuteInput{Event: map[string]any{}, Mapping: mustMapping(map[string]any{})})
	require.Error(t, err)
	assert.Equal(t, destination.StatusInvalid, res.Status)
}

func TestSendBatch(t *testing.T) {
	srv, got := newReceiver(t)
	inst, err := destination.NewInstance(webhook.New(), nil, destination.InstanceOptions{})
	require.NoError(t, err)

	m := mustMapping(map[string]any{
		"url":  srv.URL,
		"data": map[string]any{"id": map[string]any{"@path": "$.messageId"}},
	})
	events := []map[string]any{{"messageId": "m1"}, {"messageId": "m2"}}

	res, err := inst.ExecuteBatch(context.Background(), "sendBatch", destination.ExecuteBatchInput{Events: events, Mapping: m})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events)

	c := <-got
	var body []map[string]any
	require.NoError(t, json.Unmarshal(c.body, &body))
	assert.Equal(t, []map[string]any{{"id": "m1"}, {"id": "m2"}}, body)
}

func TestSign(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		webhook.Sign("key", []byte("The quick brown fox jumps over the lazy dog")))
}
