package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path        string
	contentType string
	body        map[string]json.RawMessage
}

func newControlPlane(t *testing.T, status int, delay time.Duration) (*httptest.Server, chan captured) {
	t.Helper()
	seen := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c := captured{path: r.URL.Path, contentType: r.Header.Get("Content-Type")}
		_ = json.Unmarshal(raw, &c.body)
		seen <- c
		time.Sleep(delay)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestAuthorizeAccepts(t *testing.T) {
	srv, seen := newControlPlane(t, http.StatusOK, 0)
	c := New(srv.URL+"/publish", srv.URL+"/play", time.Second)

	msg := json.RawMessage(`{"request":"publish","name":"room1"}`)
	jsep := &pubsub.JSEP{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	require.NoError(t, c.Authorize(context.Background(), pubsub.ActionPublish, msg, jsep))

	got := <-seen
	assert.Equal(t, "/publish", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, string(msg), string(got.body["msg"]))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.body["jsep"]))

	require.NoError(t, c.Authorize(context.Background(), pubsub.ActionSubscribe, json.RawMessage(`{}`), nil))
	got = <-seen
	assert.Equal(t, "/play", got.path)
	_, hasJSEP := got.body["jsep"]
	assert.False(t, hasJSEP)
}

func TestAuthorizeRejects(t *testing.T) {
	srv, _ := newControlPlane(t, http.StatusForbidden, 0)
	c := New(srv.URL+"/publish", srv.URL+"/play", time.Second)

	err := c.Authorize(context.Background(), pubsub.ActionPublish, json.RawMessage(`{}`), nil)
	require.EqualError(t, err, "status 403")
}

func TestAuthorizeTimeout(t *testing.T) {
	srv, _ := newControlPlane(t, http.StatusOK, 300*time.Millisecond)
	c := New(srv.URL, srv.URL, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, c.Authorize(ctx, pubsub.ActionSubscribe, json.RawMessage(`{}`), nil))
}

func TestAuthorizeReturnsOnCancel(t *testing.T) {
	srv, seen := newControlPlane(t, http.StatusOK, 500*time.Millisecond)
	c := New(srv.URL, srv.URL, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- c.Authorize(ctx, pubsub.ActionPublish, json.RawMessage(`{}`), nil)
	}()

	<-seen
	started := time.Now()
	cancel()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(started), 250*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("authorize did not return after cancel")
	}
}

func TestAuthorizeDisabledEndpoint(t *testing.T) {
	c := New("", "", time.Second)
	require.NoError(t, c.Authorize(context.Background(), pubsub.ActionPublish, json.RawMessage(`{}`), nil))
	require.ErrorIs(t, c.Authorize(context.Background(), pubsub.Action("record"), nil, nil), ErrUnknownAction)

	srv, _ := newControlPlane(t, http.StatusTeapot, 0)
	c.SetEndpoints(srv.URL, "")
	require.Error(t, c.Authorize(context.Background(), pubsub.ActionPublish, json.RawMessage(`{}`), nil))
	require.NoError(t, c.Authorize(context.Background(), pubsub.ActionSubscribe, json.RawMessage(`{}`), nil))
}
