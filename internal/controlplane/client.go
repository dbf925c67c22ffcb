// Package controlplane asks an external HTTP service whether a publish or a
// subscribe may go ahead.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/valyala/fasthttp"
)

var ErrUnknownAction = errors.New("unknown control plane action")

type request struct {
	Msg  json.RawMessage `json:"msg"`
	Jsep *pubsub.JSEP     `json:"jsep,omitempty"`
}

// Client posts the original request body and negotiation payload to the
// publish or subscribe URL. Any 2xx answer allows the action. An empty URL
// allows everything for that action.
type Client struct {
	http    *fasthttp.Client
	timeout time.Duration

	mu           sync.RWMutex
	publishURL   string
	subscribeURL string
}

func New(publishURL, subscribeURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                "pubsub",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		timeout:      timeout,
		publishURL:   publishURL,
		subscribeURL: subscribeURL,
	}
}

// SetEndpoints replaces both URLs, e.g. after a config reload.
func (c *Client) SetEndpoints(publishURL, subscribeURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishURL = publishURL
	c.subscribeURL = subscribeURL
}

func (c *Client) endpoint(action pubsub.Action) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch action {
	case pubsub.ActionPublish:
		return c.publishURL, nil
	case pubsub.ActionSubscribe:
		return c.subscribeURL, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

func (c *Client) Authorize(ctx context.Context, action pubsub.Action, msg json.RawMessage, jsep *pubsub.JSEP) error {
	url, err := c.endpoint(action)
	if err != nil {
		return err
	}
	if url == "" {
		return nil
	}

	body, err := json.Marshal(request{Msg: msg, Jsep: jsep})
	if err != nil {
		return fmt.Errorf("failed to encode control plane request: %w", err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	started := time.Now()
	result := "ok"
	defer func() {
		metrics.ControlPlaneRequestDuration.WithLabelValues(string(action), result).Observe(time.Since(started).Seconds())
	}()

	var status int
	select {
	case r := <-c.post(url, body, timeout):
		status, err = r.status, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		result = "error"
		slog.Warn("control plane request failed", "action", action, "url", url, "error", err)
		return fmt.Errorf("failed to reach control plane: %w", err)
	}

	if status < 200 || status >= 300 {
		result = "rejected"
		slog.Info("control plane rejected request", "action", action, "status", status)
		return fmt.Errorf("status %d", status)
	}
	return nil
}

type postResult struct {
	status int
	err    error
}

// post runs the request in the background so a cancelled caller does not
// wait out the timeout. The channel receives exactly one result.
func (c *Client) post(url string, body []byte, timeout time.Duration) <-chan postResult {
	done := make(chan postResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.Header.Set(fasthttp.HeaderAccept, "application/json")
		req.SetBody(body)

		err := c.http.DoTimeout(req, resp, timeout)
		done <- postResult{status: resp.StatusCode(), err: err}
	}()
	return done
}
