package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/pion/webrtc/v4"
)

const mediaQueueSize = 256

var ErrClosed = errors.New("client: connection closed")

// RequestError is a failed control request, either rejected on receipt or
// reported later in the event.
type RequestError struct {
	Code   int
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("client: %s (%d)", e.Reason, e.Code)
}

type Config struct {
	SignallingUrl string
}

// Forward describes the UDP destinations of a forward subscription. Zero
// ports and payload types are left out of the request.
type Forward struct {
	Host      string
	AudioPort int
	VideoPort int
	DataPort  int
	AudioPT   int
	VideoPT   int
	AudioSSRC uint32
	VideoSSRC uint32
}

// Pull describes the local UDP ports a pull-fed stream listens on.
type Pull struct {
	Host      string
	AudioPort int
	VideoPort int
	DataPort  int
}

// Result is the outcome of a successful control request.
type Result struct {
	PluginData api.PluginData
	Jsep       *webrtc.SessionDescription
}

// Client is one relay session over /ws/session.
type Client struct {
	ws     *websocket.Conn
	handle string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan api.ServerMessage

	media chan api.Frame
	done  chan struct{}
	err   error
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	url := sessionUrl(cfg.SignallingUrl)
	slog.Debug("connecting to relay", "url", url)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: failed to connect to %s: %w", url, err)
	}

	var hello api.ServerMessage
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if hello.Event != api.ServerMessageEventSession || hello.Session == nil {
		_ = ws.Close()
		return nil, errors.New("client: no session message")
	}

	c := &Client{
		ws:      ws,
		handle:  hello.Session.Handle,
		pending: make(map[string]chan api.ServerMessage),
		media:   make(chan api.Frame, mediaQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func sessionUrl(baseUrl string) string {
	if strings.HasPrefix(baseUrl, "http") {
		baseUrl = "ws" + baseUrl[4:]
	}
	return strings.TrimSuffix(baseUrl, "/") + "/ws/session"
}

func (c *Client) Handle() string {
	return c.handle
}

// Media delivers the frames the relay sends to this session. Frames are
// dropped when the receiver falls behind.
func (c *Client) Media() <-chan api.Frame {
	return c.media
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. Only valid after Done is closed.
func (c *Client) Err() error {
	return c.err
}

func (c *Client) Close() error {
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.media)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			c.failPending()
			return
		}
		switch messageType {
		case websocket.TextMessage:
			var msg api.ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("client: malformed server message", "error", err)
				continue
			}
			c.dispatch(msg)
		case websocket.BinaryMessage:
			f, err := api.DecodeFrame(data)
			if err != nil {
				continue
			}
			f.Payload = append([]byte(nil), f.Payload...)
			select {
			case c.media <- f:
			default:
				slog.Debug("client: dropping media frame", "kind", f.Kind)
			}
		}
	}
}

func (c *Client) dispatch(msg api.ServerMessage) {
	switch msg.Event {
	case api.ServerMessageEventEvent, api.ServerMessageEventError,
		api.ServerMessageEventInfo, api.ServerMessageEventPong:
	default:
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.Transaction]
	delete(c.pending, msg.Transaction)
	c.mu.Unlock()

	if ok {
		ch <- msg
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tx, ch := range c.pending {
		close(ch)
		delete(c.pending, tx)
	}
}

// roundTrip sends msg under a fresh transaction and waits for its outcome.
func (c *Client) roundTrip(ctx context.Context, msg api.ClientMessage) (api.ServerMessage, error) {
	msg.Transaction = uuid.NewString()
	ch := make(chan api.ServerMessage, 1)

	c.mu.Lock()
	c.pending[msg.Transaction] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Transaction)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(msg); err != nil {
		return api.ServerMessage{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return api.ServerMessage{}, ErrClosed
		}
		if reply.Event == api.ServerMessageEventError && reply.Error != nil {
			return reply, &RequestError{Code: reply.Error.Code, Reason: reply.Error.Reason}
		}
		return reply, nil
	case <-ctx.Done():
		return api.ServerMessage{}, ctx.Err()
	case <-c.done:
		return api.ServerMessage{}, ErrClosed
	}
}

// Request sends a control request and waits for its event.
func (c *Client) Request(ctx context.Context, body map[string]any, jsep *webrtc.SessionDescription) (Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	reply, err := c.roundTrip(ctx, api.ClientMessage{
		Event: api.ClientMessageEventMessage,
		Body:  raw,
		Jsep:  jsep,
	})
	if err != nil {
		return Result{}, err
	}
	if reply.PluginData == nil {
		return Result{}, errors.New("client: event without plugin data")
	}
	if reply.PluginData.Error != "" {
		return Result{}, &RequestError{Code: reply.PluginData.ErrorCode, Reason: reply.PluginData.Error}
	}
	return Result{PluginData: *reply.PluginData, Jsep: reply.Jsep}, nil
}

func (c *Client) Publish(ctx context.Context, name string, offer *webrtc.SessionDescription) (Result, error) {
	return c.Request(ctx, map[string]any{"request": "publish", "name": name}, offer)
}

func (c *Client) PublishPull(ctx context.Context, name string, pull Pull) (Result, error) {
	body := map[string]any{"request": "publish", "name": name, "kind": "pull"}
	setNonZero(body, "host", pull.Host)
	setNonZero(body, "audio_port", pull.AudioPort)
	setNonZero(body, "video_port", pull.VideoPort)
	setNonZero(body, "data_port", pull.DataPort)
	return c.Request(ctx, body, nil)
}

func (c *Client) Subscribe(ctx context.Context, name string) (Result, error) {
	return c.Request(ctx, map[string]any{"request": "subscribe", "name": name}, nil)
}

func (c *Client) SubscribeForward(ctx context.Context, name string, fwd Forward) (Result, error) {
	body := map[string]any{"request": "subscribe", "name": name, "kind": "forward"}
	setNonZero(body, "host", fwd.Host)
	setNonZero(body, "audio_port", fwd.AudioPort)
	setNonZero(body, "video_port", fwd.VideoPort)
	setNonZero(body, "data_port", fwd.DataPort)
	setNonZero(body, "audio_pt", fwd.AudioPT)
	setNonZero(body, "video_pt", fwd.VideoPT)
	setNonZero(body, "audio_ssrc", fwd.AudioSSRC)
	setNonZero(body, "video_ssrc", fwd.VideoSSRC)
	return c.Request(ctx, body, nil)
}

func (c *Client) Unsubscribe(ctx context.Context) (Result, error) {
	return c.Request(ctx, map[string]any{"request": "unsubscribe"}, nil)
}

func (c *Client) Unpublish(ctx context.Context) (Result, error) {
	return c.Request(ctx, map[string]any{"request": "unpublish"}, nil)
}

func setNonZero[T comparable](body map[string]any, key string, v T) {
	var zero T
	if v != zero {
		body[key] = v
	}
}

func (c *Client) Query(ctx context.Context) (api.Session, error) {
	reply, err := c.roundTrip(ctx, api.ClientMessage{Event: api.ClientMessageEventQuery})
	if err != nil {
		return api.Session{}, err
	}
	if reply.Info == nil {
		return api.Session{}, errors.New("client: info without session")
	}
	return *reply.Info, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, api.ClientMessage{Event: api.ClientMessageEventPing})
	return err
}

func (c *Client) Setup() error {
	return c.writeJSON(api.ClientMessage{Event: api.ClientMessageEventSetup})
}

func (c *Client) Hangup() error {
	return c.writeJSON(api.ClientMessage{Event: api.ClientMessageEventHangup})
}

func (c *Client) SendRTP(video bool, pkt []byte) error {
	return c.write(websocket.BinaryMessage, api.EncodeFrame(api.Frame{Kind: mediaKind(video), Payload: pkt}))
}

func (c *Client) SendRTCP(video bool, pkt []byte) error {
	return c.write(websocket.BinaryMessage, api.EncodeFrame(api.Frame{Kind: mediaKind(video), RTCP: true, Payload: pkt}))
}

func (c *Client) SendData(buf []byte) error {
	return c.write(websocket.BinaryMessage, api.EncodeFrame(api.Frame{Kind: api.FrameData, Payload: buf}))
}

func mediaKind(video bool) api.FrameKind {
	if video {
		return api.FrameVideo
	}
	return api.FrameAudio
}
