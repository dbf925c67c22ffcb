package pubsub

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stream struct {
	tombstone

	name      string
	kind      StreamKind
	owner     *Session
	createdAt time.Time
	offer     *JSEP
	puller    *Puller
	released  atomic.Bool

	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber

	fwdMu sync.Mutex
	fwd   *net.UDPConn
}

func newStream(name string, kind StreamKind, owner *Session) *Stream {
	return &Stream{
		name:        name,
		kind:        kind,
		owner:       owner,
		createdAt:   time.Now(),
		subscribers: make(map[uint64]*Subscriber),
	}
}

func (st *Stream) Name() string {
	return st.name
}

func (st *Stream) Kind() StreamKind {
	return st.kind
}

// Publisher is the session feeding the stream, nil for pull-fed streams.
func (st *Stream) Publisher() *Session {
	if st.kind != StreamSession {
		return nil
	}
	return st.owner
}

// addSubscriber assigns sub a fresh id and inserts it.
func (st *Stream) addSubscriber(sub *Subscriber) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Destroyed() {
		return ErrDestroyed
	}
	for {
		id := rand.Uint64()
		if _, taken := st.subscribers[id]; id != 0 && !taken {
			sub.id = id
			break
		}
	}
	sub.stream = st.name
	st.subscribers[sub.id] = sub
	return nil
}

func (st *Stream) removeSubscriber(id uint64) (*Subscriber, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sub, ok := st.subscribers[id]
	if ok {
		delete(st.subscribers, id)
	}
	return sub, ok
}

func (st *Stream) Subscriber(id uint64) (*Subscriber, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sub, ok := st.subscribers[id]
	return sub, ok
}

func (st *Stream) Subscribers() []*Subscriber {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Subscriber, 0, len(st.subscribers))
	for _, sub := range st.subscribers {
		out = append(out, sub)
	}
	return out
}

// forwardConn returns the socket shared by the forward subscribers of the
// stream, opening it on first use.
func (st *Stream) forwardConn() (*net.UDPConn, error) {
	st.fwdMu.Lock()
	defer st.fwdMu.Unlock()
	if st.fwd != nil {
		return st.fwd, nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open forwarding socket: %w", err)
	}
	st.fwd = conn
	return conn, nil
}

// stopIngest stops the pull loops without releasing their sockets.
func (st *Stream) stopIngest() {
	if st.puller != nil {
		st.puller.Stop()
	}
}

func (st *Stream) reclaim() {
	if st.puller != nil {
		if err := st.puller.Close(); err != nil {
			slog.Warn("failed to close puller", "stream", st.name, "error", err)
		}
	}
	st.fwdMu.Lock()
	if st.fwd != nil {
		_ = st.fwd.Close()
		st.fwd = nil
	}
	st.fwdMu.Unlock()
	st.released.Store(true)
}

type StreamInfo struct {
	Name        string           `json:"name"`
	Kind        string           `json:"kind"`
	Publisher   Handle           `json:"publisher,omitempty"`
	Owner       Handle           `json:"owner,omitempty"`
	Pullers     []string         `json:"pullers,omitempty"`
	Subscribers []SubscriberInfo `json:"subscribers"`
	CreatedAt   time.Time        `json:"created_at"`
	Destroyed   bool             `json:"destroyed"`
}

func (st *Stream) Info() StreamInfo {
	info := StreamInfo{
		Name:      st.name,
		Kind:      st.kind.String(),
		CreatedAt: st.createdAt,
		Destroyed: st.Destroyed(),
	}
	if st.owner != nil {
		info.Owner = st.owner.handle
	}
	if pub := st.Publisher(); pub != nil {
		info.Publisher = pub.handle
	}
	if st.puller != nil {
		for _, kind := range st.puller.Kinds() {
			info.Pullers = append(info.Pullers, kind.String())
		}
	}
	subs := st.Subscribers()
	info.Subscribers = make([]SubscriberInfo, 0, len(subs))
	for _, sub := range subs {
		info.Subscribers = append(info.Subscribers, sub.Info())
	}
	slices.SortFunc(info.Subscribers, func(a, b SubscriberInfo) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return info
}

// StreamRegistry maps stream names to live streams.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]*Stream),
	}
}

func (r *StreamRegistry) Register(st *Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(st)
}

func (r *StreamRegistry) registerLocked(st *Stream) error {
	if old, ok := r.streams[st.name]; ok && !old.Destroyed() {
		return ErrNameExists
	}
	r.streams[st.name] = st
	return nil
}

// Lookup returns the live stream with the given name.
func (r *StreamRegistry) Lookup(name string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *StreamRegistry) lookupLocked(name string) (*Stream, bool) {
	st, ok := r.streams[name]
	if !ok || st.Destroyed() {
		return nil, false
	}
	return st, true
}

func (r *StreamRegistry) Contains(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

func (r *StreamRegistry) Remove(name string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

func (r *StreamRegistry) removeLocked(name string) (*Stream, bool) {
	st, ok := r.streams[name]
	if ok {
		delete(r.streams, name)
	}
	return st, ok
}

func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Snapshot returns the registered streams ordered by name.
func (r *StreamRegistry) Snapshot() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, st := range r.streams {
		out = append(out, st)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Stream) int {
		return strings.Compare(a.name, b.name)
	})
	return out
}
