package signalling

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/config"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type recordingSocket struct {
	messages chan any
	frames   chan []byte
	closed   atomic.Bool
	failJSON atomic.Bool
}

func newRecordingSocket() *recordingSocket {
	return &recordingSocket{
		messages: make(chan any, 64),
		frames:   make(chan []byte, 64),
	}
}

func (r *recordingSocket) WriteJSON(v any) error {
	if r.failJSON.Load() {
		return errors.New("broken pipe")
	}
	r.messages <- v
	return nil
}

func (r *recordingSocket) WriteBinary(b []byte) error {
	r.frames <- append([]byte(nil), b...)
	return nil
}

func (r *recordingSocket) Close() error {
	r.closed.Store(true)
	return nil
}

// nextServerMessage returns the first server message accepted by match,
// skipping the others.
func (r *recordingSocket) nextServerMessage(t *testing.T, match func(api.ServerMessage) bool) api.ServerMessage {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-r.messages:
			if m, ok := v.(api.ServerMessage); ok && match(m) {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for server message")
		}
	}
}

func (r *recordingSocket) nextAdminMessage(t *testing.T, event api.AdminMessageEvent) api.AdminMessage {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-r.messages:
			if m, ok := v.(api.AdminMessage); ok && m.Event == event {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for admin message")
		}
	}
}

func (r *recordingSocket) nextFrame(t *testing.T) api.Frame {
	t.Helper()
	select {
	case b := <-r.frames:
		f, err := api.DecodeFrame(b)
		require.NoError(t, err)
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for media frame")
	}
	return api.Frame{}
}

func eventFor(transaction string) func(api.ServerMessage) bool {
	return func(m api.ServerMessage) bool {
		return m.Event == api.ServerMessageEventEvent && m.Transaction == transaction
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.AppConfig)) *Server {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.PubSub.PublishURL = ""
	cfg.PubSub.SubscribeURL = ""
	cfg.Relay.WatchdogInterval = int(time.Hour / time.Millisecond)
	cfg.Relay.GraceWindow = int(2 * time.Hour / time.Millisecond)
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewServer(&cfg, fiber.New(), Options{})
	require.NoError(t, err)
	s.Setup()
	t.Cleanup(s.Close)
	return s
}

func register(t *testing.T, s *Server) (*Session, *recordingSocket) {
	t.Helper()
	sock := newRecordingSocket()
	session, err := s.sessionHandler.RegisterSession(sock)
	require.NoError(t, err)
	t.Cleanup(session.Cleanup)
	return session, sock
}

func rtpPacket(t *testing.T, seq uint16) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      3000,
			SSRC:           42,
		},
		Payload: []byte{0xde, 0xad},
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	return buf
}

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}
