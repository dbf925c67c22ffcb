package pubsub

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

// Subscriber is one subscription to a stream. The sink decides where packets
// go: back to a session through the gateway, or out to UDP forwarders.
type Subscriber struct {
	tombstone

	id        uint64
	kind      SubscriberKind
	stream    string
	session   *Session
	host      string
	ports     [3]int
	sink      sink
	createdAt time.Time
	released  atomic.Bool
}

func (sub *Subscriber) ID() uint64 {
	return sub.id
}

func (sub *Subscriber) Kind() SubscriberKind {
	return sub.kind
}

func (sub *Subscriber) Session() *Session {
	return sub.session
}

func (sub *Subscriber) reclaim() {
	sub.sink.close()
	sub.released.Store(true)
}

// Forwarders returns the UDP destinations of a forward subscriber.
func (sub *Subscriber) Forwarders() []*Forwarder {
	fs, ok := sub.sink.(*forwardSink)
	if !ok {
		return nil
	}
	return fs.entries()
}

// AddForwarder attaches another destination to a forward subscriber.
func (sub *Subscriber) AddForwarder(f *Forwarder) error {
	if sub.Destroyed() {
		return ErrDestroyed
	}
	fs, ok := sub.sink.(*forwardSink)
	if !ok {
		return ErrDestroyed
	}
	return fs.add(f)
}

type SubscriberInfo struct {
	ID        uint64          `json:"id"`
	Kind      string          `json:"kind"`
	Session   Handle          `json:"session,omitempty"`
	Host      string          `json:"host,omitempty"`
	AudioPort int             `json:"audio_port,omitempty"`
	VideoPort int             `json:"video_port,omitempty"`
	DataPort  int             `json:"data_port,omitempty"`
	Forwards  []ForwarderInfo `json:"forwarders,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (sub *Subscriber) Info() SubscriberInfo {
	info := SubscriberInfo{
		ID:        sub.id,
		Kind:      sub.kind.String(),
		Host:      sub.host,
		AudioPort: sub.ports[MediaAudio],
		VideoPort: sub.ports[MediaVideo],
		DataPort:  sub.ports[MediaData],
		CreatedAt: sub.createdAt,
	}
	if sub.session != nil {
		info.Session = sub.session.handle
	}
	for _, f := range sub.Forwarders() {
		info.Forwards = append(info.Forwards, f.Info())
	}
	return info
}

type sink interface {
	deliver(pkt Packet)
	close()
}

type sessionSink struct {
	session *Session
	gateway Gateway
}

func (s *sessionSink) deliver(pkt Packet) {
	if s.session.Destroyed() || !s.session.active(pkt.Kind) {
		return
	}
	switch pkt.Kind {
	case MediaData:
		s.gateway.RelayData(s.session.handle, pkt.Data)
	default:
		s.gateway.RelayRTP(s.session.handle, pkt.Kind == MediaVideo, pkt.Data)
	}
	metrics.RelayedPacketsTotal.WithLabelValues(pkt.Kind.String(), "session").Inc()
	metrics.RelayedBytesTotal.WithLabelValues(pkt.Kind.String(), "session").Add(float64(len(pkt.Data)))
}

func (s *sessionSink) close() {}

type forwardSink struct {
	conn writer

	mu        sync.Mutex
	forwarder map[uint32]*Forwarder
	closed    bool
}

func newForwardSink(conn writer, forwarders []*Forwarder) *forwardSink {
	fs := &forwardSink{
		conn:      conn,
		forwarder: make(map[uint32]*Forwarder, len(forwarders)),
	}
	for _, f := range forwarders {
		_ = fs.add(f)
	}
	return fs
}

func (fs *forwardSink) add(f *Forwarder) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrDestroyed
	}
	for {
		id := rand.Uint32()
		if _, taken := fs.forwarder[id]; id != 0 && !taken {
			f.id = id
			break
		}
	}
	fs.forwarder[f.id] = f
	return nil
}

func (fs *forwardSink) entries() []*Forwarder {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]*Forwarder, 0, len(fs.forwarder))
	for _, f := range fs.forwarder {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *Forwarder) int {
		return int(a.kind) - int(b.kind)
	})
	return out
}

func (fs *forwardSink) deliver(pkt Packet) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.forwarder {
		if f.kind != pkt.Kind {
			continue
		}
		if err := f.send(fs.conn, pkt.Data); err != nil {
			metrics.ForwardErrorsTotal.Inc()
			slog.Warn("failed to forward packet", "forwarder", f.id, "addr", f.addr, "media", pkt.Kind, "error", err)
			continue
		}
		metrics.RelayedPacketsTotal.WithLabelValues(pkt.Kind.String(), "forward").Inc()
		metrics.RelayedBytesTotal.WithLabelValues(pkt.Kind.String(), "forward").Add(float64(len(pkt.Data)))
	}
}

func (fs *forwardSink) close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	clear(fs.forwarder)
}
