// Package pubsub implements the stream relay core: session and stream
// registries, packet fan-out to session subscribers and UDP forwarders, UDP
// pullers, the control message handler and deferred reclamation.
//
// Locks nest in one order only: session registry, stream registry, stream
// subscriber set, forwarder set. Session field locks and the watchdog list
// lock are leaves. The packet path never holds a registry lock while taking
// another lock.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

const (
	defaultForwardHost      = "127.0.0.1"
	defaultPullHost         = "127.0.0.1"
	defaultWatchdogInterval = 500 * time.Millisecond
	defaultGraceWindow      = 5 * time.Second
	defaultPullReadTimeout  = time.Second
	defaultAuthorizeTimeout = 5 * time.Second
)

type Config struct {
	Gateway    Gateway
	Authorizer Authorizer
	Negotiator Negotiator
	Notifier   Notifier

	ForwardHost  string
	PullHost     string
	NotifyEvents bool

	WatchdogInterval time.Duration
	GraceWindow      time.Duration
	PullReadTimeout  time.Duration
	AuthorizeTimeout time.Duration
}

type hostDefaults struct {
	forwardHost string
	pullHost    string
}

type PubSub struct {
	cfg        Config
	gateway    Gateway
	auth       Authorizer
	negotiator Negotiator
	notifier   Notifier

	settings     atomic.Pointer[hostDefaults]
	notifyEvents atomic.Bool

	sessions *SessionRegistry
	streams  *StreamRegistry
	relay    *relayEngine
	handler  *messageHandler
	watchdog *Watchdog

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// New builds the relay and starts its message handler and watchdog. Close
// must be called to stop them.
func New(cfg Config) (*PubSub, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("pubsub: gateway is required")
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	if cfg.GraceWindow < 0 {
		return nil, errors.New("pubsub: grace window must not be negative")
	}
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.GraceWindow%cfg.WatchdogInterval != 0 {
		return nil, fmt.Errorf("pubsub: grace window %s is not a multiple of the watchdog interval %s",
			cfg.GraceWindow, cfg.WatchdogInterval)
	}
	if cfg.PullReadTimeout <= 0 {
		cfg.PullReadTimeout = defaultPullReadTimeout
	}
	if cfg.AuthorizeTimeout <= 0 {
		cfg.AuthorizeTimeout = defaultAuthorizeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PubSub{
		cfg:        cfg,
		gateway:    cfg.Gateway,
		auth:       cfg.Authorizer,
		negotiator: cfg.Negotiator,
		notifier:   cfg.Notifier,
		sessions:   NewSessionRegistry(),
		streams:    NewStreamRegistry(),
		relay:      &relayEngine{gateway: cfg.Gateway},
		watchdog:   NewWatchdog(cfg.WatchdogInterval, cfg.GraceWindow),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.SetDefaults(cfg.ForwardHost, cfg.PullHost)
	p.notifyEvents.Store(cfg.NotifyEvents)
	p.handler = newMessageHandler(p)

	p.handler.start()
	p.watchdog.Start()

	slog.Info("pubsub started",
		"watchdogInterval", cfg.WatchdogInterval,
		"graceWindow", cfg.GraceWindow,
		"events", cfg.NotifyEvents,
	)
	return p, nil
}

// Close rejects further calls, stops the handler, the watchdog and every
// puller, and releases everything still registered.
func (p *PubSub) Close() {
	if !p.stopping.CompareAndSwap(false, true) {
		return
	}
	// Cancelling first aborts an in-flight authorization.
	p.cancel()
	p.handler.stop()
	p.watchdog.Stop()

	p.sessions.mu.Lock()
	p.streams.mu.Lock()
	for _, st := range p.streams.streams {
		p.destroyStreamLocked(st)
	}
	for h, s := range p.sessions.sessions {
		delete(p.sessions.sessions, h)
		if s.markDestroyed() {
			p.watchdog.bury("session", s)
			metrics.ActiveSessions.Dec()
		}
	}
	p.streams.mu.Unlock()
	p.sessions.mu.Unlock()

	released := p.watchdog.drain()
	slog.Info("pubsub stopped", "released", released)
}

func (p *PubSub) Sessions() *SessionRegistry {
	return p.sessions
}

func (p *PubSub) StreamRegistry() *StreamRegistry {
	return p.streams
}

func (p *PubSub) Watchdog() *Watchdog {
	return p.watchdog
}

// SetDefaults replaces the hosts used when a request has no host field.
func (p *PubSub) SetDefaults(forwardHost, pullHost string) {
	if forwardHost == "" {
		forwardHost = defaultForwardHost
	}
	if pullHost == "" {
		pullHost = defaultPullHost
	}
	p.settings.Store(&hostDefaults{forwardHost: forwardHost, pullHost: pullHost})
}

func (p *PubSub) defaults() hostDefaults {
	return *p.settings.Load()
}

func (p *PubSub) SetNotifyEvents(enabled bool) {
	p.notifyEvents.Store(enabled)
}

func (p *PubSub) CreateSession(h Handle) error {
	if p.stopping.Load() {
		return ErrStopping
	}
	if err := p.sessions.Register(newSession(h)); err != nil {
		return err
	}
	metrics.ActiveSessions.Inc()
	slog.Debug("session created", "handle", h)
	return nil
}

// DestroySession marks the session destroyed. A stream it owns is destroyed
// with it; a subscription it holds is removed.
func (p *PubSub) DestroySession(h Handle) error {
	if p.stopping.Load() {
		return ErrStopping
	}
	p.sessions.mu.Lock()
	defer p.sessions.mu.Unlock()

	s, ok := p.sessions.removeLocked(h)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.markDestroyed() {
		return nil
	}

	p.streams.mu.Lock()
	role, name, subID := s.binding()
	if st, ok := p.streams.lookupLocked(name); ok {
		switch {
		case st.owner == s:
			p.destroyStreamLocked(st)
		case role == RoleSubscriber:
			p.removeSubscriberLocked(st, subID)
		}
	}
	p.streams.mu.Unlock()

	s.unbind()
	p.watchdog.bury("session", s)
	metrics.ActiveSessions.Dec()
	slog.Debug("session destroyed", "handle", h, "role", role, "stream", name)
	return nil
}

// HandleMessage validates a control message and queues it. The outcome is
// pushed to the gateway later with the same transaction. A non-nil error is
// always an *Error.
func (p *PubSub) HandleMessage(h Handle, transaction string, body json.RawMessage, jsep *JSEP) error {
	if p.stopping.Load() {
		return AsError(ErrStopping)
	}
	if _, ok := p.sessions.Lookup(h); !ok {
		return AsError(ErrSessionNotFound)
	}
	root, err := parseRequest(body)
	if err != nil {
		return err
	}
	p.handler.queue.push(&message{
		handle:      h,
		transaction: transaction,
		body:        body,
		root:        root,
		jsep:        jsep,
	})
	return nil
}

func (p *PubSub) QuerySession(h Handle) (SessionInfo, error) {
	if p.stopping.Load() {
		return SessionInfo{}, ErrStopping
	}
	s, ok := p.sessions.Lookup(h)
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return s.Info(), nil
}

func (p *PubSub) Streams() []StreamInfo {
	streams := p.streams.Snapshot()
	out := make([]StreamInfo, 0, len(streams))
	for _, st := range streams {
		out = append(out, st.Info())
	}
	return out
}

func (p *PubSub) Stream(name string) (StreamInfo, bool) {
	st, ok := p.streams.Lookup(name)
	if !ok {
		return StreamInfo{}, false
	}
	return st.Info(), true
}

func (p *PubSub) IncomingRTP(h Handle, video bool, buf []byte) {
	p.ingest(h, mediaKindOf(video), buf)
}

func (p *PubSub) IncomingData(h Handle, buf []byte) {
	p.ingest(h, MediaData, buf)
}

func (p *PubSub) ingest(h Handle, kind MediaKind, buf []byte) {
	if p.stopping.Load() || len(buf) == 0 {
		return
	}
	s, ok := p.sessions.Lookup(h)
	if !ok || s.hangingUp.Load() {
		return
	}
	role, name, _ := s.binding()
	if role != RolePublisher || !s.active(kind) {
		return
	}
	st, ok := p.streams.Lookup(name)
	if !ok || st.Publisher() != s {
		return
	}
	p.relay.relay(st, Packet{Kind: kind, Data: buf})
}

func (p *PubSub) IncomingRTCP(h Handle, video bool, buf []byte) {
	if p.stopping.Load() || len(buf) == 0 {
		return
	}
	s, ok := p.sessions.Lookup(h)
	if !ok {
		return
	}
	role, name, _ := s.binding()
	if role == RoleNone {
		return
	}
	st, ok := p.streams.Lookup(name)
	if !ok {
		return
	}
	p.relay.feedback(st, s, video, buf)
}

func (p *PubSub) SetupMedia(h Handle) {
	if p.stopping.Load() {
		return
	}
	s, ok := p.sessions.Lookup(h)
	if !ok {
		return
	}
	s.hangingUp.Store(false)
	if s.Role() == RolePublisher {
		s.setActive(true, true)
	}
	slog.Info("media is available", "handle", h)
}

func (p *PubSub) HangupMedia(h Handle) {
	if p.stopping.Load() {
		return
	}
	s, ok := p.sessions.Lookup(h)
	if !ok {
		return
	}
	if !s.hangingUp.CompareAndSwap(false, true) {
		return
	}
	slog.Info("media hung up", "handle", h)
}

func (p *PubSub) SlowLink(h Handle, uplink, video bool) {
	if p.stopping.Load() {
		return
	}
	s, ok := p.sessions.Lookup(h)
	if !ok {
		return
	}
	count := s.slowLink()
	metrics.SlowLinksTotal.Inc()
	slog.Warn("slow link", "handle", h, "uplink", uplink, "video", video, "count", count)
}

func (p *PubSub) attachPublisher(s *Session, st *Stream) error {
	p.sessions.mu.Lock()
	defer p.sessions.mu.Unlock()
	if s.Destroyed() {
		return ErrSessionDestroyed
	}
	if s.StreamName() != "" {
		return ErrSessionBound
	}

	p.streams.mu.Lock()
	defer p.streams.mu.Unlock()
	if err := p.streams.registerLocked(st); err != nil {
		return err
	}
	s.bind(RolePublisher, st.name, 0)

	metrics.ActiveStreams.WithLabelValues(st.kind.String()).Inc()
	p.notify(Notification{Event: "published", Stream: st.name, Handle: s.handle, Kind: st.kind.String()})
	return nil
}

func (p *PubSub) attachSubscriber(s *Session, name string, sub *Subscriber, forwarders []*Forwarder) (*Stream, error) {
	p.sessions.mu.Lock()
	defer p.sessions.mu.Unlock()
	if s.Destroyed() {
		return nil, ErrSessionDestroyed
	}
	if s.StreamName() != "" {
		return nil, ErrSessionBound
	}

	p.streams.mu.RLock()
	defer p.streams.mu.RUnlock()
	st, ok := p.streams.lookupLocked(name)
	if !ok {
		return nil, ErrStreamNotFound
	}
	if sub.kind == SubscriberForward {
		conn, err := st.forwardConn()
		if err != nil {
			slog.Error("could not open forwarding socket", "stream", name, "error", err)
			return nil, newError(ErrorUnknown, "Could not open UDP socket for rtp stream")
		}
		sub.sink = newForwardSink(conn, forwarders)
	}
	if err := st.addSubscriber(sub); err != nil {
		return nil, ErrStreamNotFound
	}
	s.bind(RoleSubscriber, st.name, sub.id)

	metrics.ActiveSubscribers.WithLabelValues(sub.kind.String()).Inc()
	p.notify(Notification{
		Event:        "subscribed",
		Stream:       st.name,
		Handle:       s.handle,
		Kind:         sub.kind.String(),
		SubscriberID: sub.id,
	})
	return st, nil
}

func (p *PubSub) detachSubscriber(s *Session) (string, error) {
	p.sessions.mu.Lock()
	defer p.sessions.mu.Unlock()
	if s.Destroyed() {
		return "", ErrSessionDestroyed
	}
	role, name, subID := s.binding()
	if role != RoleSubscriber {
		return "", ErrNotSubscribed
	}

	p.streams.mu.RLock()
	if st, ok := p.streams.lookupLocked(name); ok {
		p.removeSubscriberLocked(st, subID)
	}
	p.streams.mu.RUnlock()

	s.unbind()
	return name, nil
}

func (p *PubSub) detachPublisher(s *Session) (string, error) {
	p.sessions.mu.Lock()
	defer p.sessions.mu.Unlock()
	if s.Destroyed() {
		return "", ErrSessionDestroyed
	}
	role, name, _ := s.binding()
	if role != RolePublisher {
		return "", ErrNotPublishing
	}

	p.streams.mu.Lock()
	defer p.streams.mu.Unlock()
	st, ok := p.streams.lookupLocked(name)
	if !ok || st.owner != s {
		s.unbind()
		return "", ErrNotPublishing
	}
	p.destroyStreamLocked(st)
	s.unbind()
	return name, nil
}

// removeSubscriberLocked needs the session registry lock and the stream
// registry lock in either mode.
func (p *PubSub) removeSubscriberLocked(st *Stream, id uint64) {
	sub, ok := st.removeSubscriber(id)
	if !ok || !sub.markDestroyed() {
		return
	}
	p.watchdog.bury("subscriber", sub)
	metrics.ActiveSubscribers.WithLabelValues(sub.kind.String()).Dec()

	n := Notification{Event: "unsubscribed", Stream: st.name, Kind: sub.kind.String(), SubscriberID: id}
	if sub.session != nil {
		n.Handle = sub.session.handle
	}
	p.notify(n)
}

// destroyStreamLocked needs both registry locks held for writing. The
// subscribers stay in the stream's set until it is reclaimed.
func (p *PubSub) destroyStreamLocked(st *Stream) {
	if !st.markDestroyed() {
		return
	}
	if cur, ok := p.streams.streams[st.name]; ok && cur == st {
		delete(p.streams.streams, st.name)
	}
	st.stopIngest()

	st.mu.Lock()
	subs := make([]*Subscriber, 0, len(st.subscribers))
	for _, sub := range st.subscribers {
		if !sub.markDestroyed() {
			continue
		}
		subs = append(subs, sub)
		if sub.session != nil {
			sub.session.unbindFrom(st.name, sub.id)
		}
	}
	st.mu.Unlock()

	p.watchdog.bury("stream", st)
	for _, sub := range subs {
		p.watchdog.bury("subscriber", sub)
		metrics.ActiveSubscribers.WithLabelValues(sub.kind.String()).Dec()
	}
	metrics.ActiveStreams.WithLabelValues(st.kind.String()).Dec()

	n := Notification{Event: "unpublished", Stream: st.name, Kind: st.kind.String()}
	if st.owner != nil {
		n.Handle = st.owner.handle
	}
	p.notify(n)
	slog.Info("stream destroyed", "stream", st.name, "subscribers", len(subs))
}

func (p *PubSub) requestKeyframe(s *Session) {
	buf := pliPacket(0)
	if buf == nil {
		return
	}
	p.gateway.RelayRTCP(s.handle, true, buf)
	metrics.PLIRequestsTotal.Inc()
}

func (p *PubSub) notify(n Notification) {
	if p.notifier == nil || !p.notifyEvents.Load() {
		return
	}
	n.Time = time.Now()
	p.notifier.Notify(n)
}
