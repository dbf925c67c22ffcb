package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/valyala/fasthttp"
)

type StreamsCmd struct {
	Name string `arg:"" optional:"" help:"Show a single stream."`
}

func (c *StreamsCmd) Run(ctx *runContext) error {
	path := "/api/admin/streams"
	if c.Name != "" {
		path += "/" + url.PathEscape(c.Name)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimSuffix(ctx.Url, "/") + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAuthorization, "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:"+ctx.Credential)))

	if err := fasthttp.Do(req, resp); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("admin api: status %d: %s", resp.StatusCode(), resp.Body())
	}

	var out any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type WatchCmd struct{}

func (c *WatchCmd) Run(ctx *runContext) error {
	base := ctx.Url
	if strings.HasPrefix(base, "http") {
		base = "ws" + base[4:]
	}
	wsUrl := strings.TrimSuffix(base, "/") + "/ws/admin?credential=" + url.QueryEscape(ctx.Credential)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsUrl, nil)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	for {
		var msg struct {
			api.AdminMessage
			Error *api.ErrorMessage `json:"error,omitempty"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			return err
		}
		switch {
		case msg.Error != nil:
			return fmt.Errorf("admin socket: %s", msg.Error.Reason)
		case msg.Event == api.AdminMessageEventNotification && msg.Notification != nil:
			n := msg.Notification
			slog.Info(n.Event, "stream", n.Stream, "kind", n.Kind, "handle", n.Handle, "subscriberID", n.SubscriberID)
		case msg.Event == api.AdminMessageEventStreams:
			slog.Debug("status", "streams", len(msg.Streams))
		}
	}
}
