package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

type message struct {
	handle      Handle
	transaction string
	body        json.RawMessage
	root        map[string]any
	jsep        *JSEP
}

// exitMessage stops the handler loop.
var exitMessage = &message{}

// messageQueue is an unbounded FIFO with a single consumer.
type messageQueue struct {
	mu     sync.Mutex
	items  []*message
	notify chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{notify: make(chan struct{}, 1)}
}

func (q *messageQueue) push(m *message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	n := len(q.items)
	q.mu.Unlock()
	metrics.ControlQueueLength.Set(float64(n))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *messageQueue) pop() *message {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()
			metrics.ControlQueueLength.Set(float64(n))
			return m
		}
		q.mu.Unlock()
		<-q.notify
	}
}

type ack struct {
	event Event
	jsep  *JSEP
}

type messageHandler struct {
	ps    *PubSub
	queue *messageQueue
	done  chan struct{}
}

func newMessageHandler(ps *PubSub) *messageHandler {
	return &messageHandler{
		ps:    ps,
		queue: newMessageQueue(),
		done:  make(chan struct{}),
	}
}

func (h *messageHandler) start() {
	go h.run()
}

func (h *messageHandler) stop() {
	h.queue.push(exitMessage)
	<-h.done
}

func (h *messageHandler) run() {
	defer close(h.done)
	slog.Debug("pubsub message handler started")

	for {
		m := h.queue.pop()
		if m == exitMessage {
			slog.Debug("leaving pubsub message handler")
			return
		}
		if h.ps.stopping.Load() {
			h.drop(m)
			continue
		}
		h.process(m)
	}
}

func (h *messageHandler) process(m *message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling control message", "handle", m.handle, "panic", r)
		}
	}()

	session, ok := h.ps.sessions.Lookup(m.handle)
	if !ok {
		slog.Warn("dropping control message for gone session", "handle", m.handle, "transaction", m.transaction)
		return
	}

	request := requestName(m.root)
	started := time.Now()
	res, err := h.dispatch(session, request, m)
	if err != nil {
		pe := AsError(err)
		metrics.ControlMessagesTotal.WithLabelValues(request, "error").Inc()
		slog.Warn("control request failed",
			"request", request,
			"handle", m.handle,
			"code", pe.Code,
			"error", pe.Reason,
		)
		h.push(m, errorEvent(pe), nil)
		return
	}

	metrics.ControlMessagesTotal.WithLabelValues(request, "ok").Inc()
	slog.Debug("control request handled", "request", request, "handle", m.handle, "duration", time.Since(started))
	h.push(m, res.event, res.jsep)
}

// drop answers a message still queued at shutdown without applying it.
func (h *messageHandler) drop(m *message) {
	metrics.ControlMessagesTotal.WithLabelValues(requestName(m.root), "dropped").Inc()
	h.push(m, errorEvent(AsError(ErrStopping)), nil)
}

func (h *messageHandler) push(m *message, event Event, jsep *JSEP) {
	if err := h.ps.gateway.PushEvent(m.handle, m.transaction, event, jsep); err != nil {
		slog.Error("failed to push event", "handle", m.handle, "transaction", m.transaction, "error", err)
	}
}

func (h *messageHandler) dispatch(s *Session, request string, m *message) (*ack, error) {
	switch request {
	case "publish":
		return h.publish(s, m)
	case "subscribe":
		return h.subscribe(s, m)
	case "unsubscribe":
		return h.unsubscribe(s)
	case "unpublish":
		return h.unpublish(s)
	case "configure":
		return h.configure(s, m)
	}
	return nil, newError(ErrorInvalidElement, "Unknown request (%s)", request)
}

func (h *messageHandler) authorize(action Action, m *message) error {
	if h.ps.auth == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(h.ps.ctx, h.ps.cfg.AuthorizeTimeout)
	defer cancel()
	err := h.ps.auth.Authorize(ctx, action, m.body, m.jsep)
	if h.ps.stopping.Load() {
		return AsError(ErrStopping)
	}
	if err != nil {
		return newError(ErrorUnknown, "Control plane rejected %s: %v", action, err)
	}
	return nil
}

func (h *messageHandler) publish(s *Session, m *message) (*ack, error) {
	ps := h.ps
	req, err := parsePublish(m.root, ps.defaults().pullHost)
	if err != nil {
		return nil, err
	}
	if s.StreamName() != "" {
		return nil, ErrSessionBound
	}
	if ps.streams.Contains(req.name) {
		return nil, ErrNameExists
	}
	if err := h.authorize(ActionPublish, m); err != nil {
		return nil, err
	}

	st := newStream(req.name, req.kind, s)
	var answer *JSEP
	if m.jsep != nil && req.kind == StreamSession && ps.negotiator != nil {
		neg, err := ps.negotiator.Answer(*m.jsep)
		if err != nil {
			return nil, newError(ErrorInvalidSDP, "Error parsing offer: %v", err)
		}
		s.setMedia(neg.HasAudio, neg.HasVideo, neg.HasData)
		st.offer = neg.Offer
		answer = neg.Answer
	}

	var bindErr error
	if req.kind == StreamPull {
		puller, errs := OpenPuller(req.name, req.host, req.ports, ps.cfg.PullReadTimeout)
		if puller == nil {
			return nil, newError(ErrorUnknown, "Could not bind puller socket (%s)", joinErrors(errs))
		}
		if len(errs) > 0 {
			bindErr = newError(ErrorUnknown, "Could not bind puller socket (%s)", joinErrors(errs))
		}
		st.puller = puller
		s.setMedia(puller.Has(MediaAudio), puller.Has(MediaVideo), puller.Has(MediaData))
	}

	if err := ps.attachPublisher(s, st); err != nil {
		if st.puller != nil {
			_ = st.puller.Close()
		}
		return nil, err
	}
	if st.puller != nil {
		st.puller.Start(ps.ctx, func(pkt Packet) {
			ps.relay.relay(st, pkt)
		})
	}

	slog.Info("stream published", "stream", st.name, "kind", st.kind, "handle", s.handle)
	if bindErr != nil {
		return nil, bindErr
	}
	return &ack{event: okEvent(st.name), jsep: answer}, nil
}

func (h *messageHandler) subscribe(s *Session, m *message) (*ack, error) {
	ps := h.ps
	req, err := parseSubscribe(m.root, ps.defaults().forwardHost)
	if err != nil {
		return nil, err
	}
	if s.StreamName() != "" {
		return nil, ErrSessionBound
	}
	if !ps.streams.Contains(req.name) {
		return nil, ErrStreamNotFound
	}
	if err := h.authorize(ActionSubscribe, m); err != nil {
		return nil, err
	}

	negotiated := false
	if m.jsep != nil && ps.negotiator != nil {
		neg, err := ps.negotiator.Inspect(*m.jsep)
		if err != nil {
			return nil, newError(ErrorInvalidSDP, "Error parsing answer: %v", err)
		}
		s.setMedia(neg.HasAudio, neg.HasVideo, neg.HasData)
		negotiated = true
	}

	sub := &Subscriber{
		kind:      req.kind,
		session:   s,
		host:      req.host,
		ports:     req.ports,
		createdAt: time.Now(),
	}
	var forwarders []*Forwarder
	if req.kind == SubscriberForward {
		forwarders, err = buildForwarders(req)
		if err != nil {
			return nil, newError(ErrorUnknown, "%v", err)
		}
	} else {
		sub.sink = &sessionSink{session: s, gateway: ps.gateway}
	}

	st, err := ps.attachSubscriber(s, req.name, sub, forwarders)
	if err != nil {
		return nil, err
	}

	if req.kind == SubscriberSession {
		pub := st.Publisher()
		if pub != nil && !negotiated {
			s.setMedia(pub.mediaFlags())
		}
		if s.enableVideo() && pub != nil {
			ps.requestKeyframe(pub)
		}
	}

	slog.Info("stream subscribed",
		"stream", st.name,
		"kind", sub.kind,
		"subscriberID", sub.id,
		"handle", s.handle,
	)
	event := okEvent(st.name)
	event.SubscriberID = sub.id
	return &ack{event: event, jsep: st.offer}, nil
}

func buildForwarders(req subscribeRequest) ([]*Forwarder, error) {
	var out []*Forwarder
	for _, kind := range mediaKinds {
		port := req.ports[kind]
		if port <= 0 {
			continue
		}
		var pt uint8
		var ssrc uint32
		if kind != MediaData {
			pt, ssrc = req.payloadTypes[kind], req.ssrcs[kind]
		}
		f, err := NewForwarder(req.host, port, kind, pt, ssrc)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (h *messageHandler) unsubscribe(s *Session) (*ack, error) {
	name, err := h.ps.detachSubscriber(s)
	if err != nil {
		return nil, err
	}
	slog.Info("stream unsubscribed", "stream", name, "handle", s.handle)
	return &ack{event: okEvent(name)}, nil
}

func (h *messageHandler) unpublish(s *Session) (*ack, error) {
	name, err := h.ps.detachPublisher(s)
	if err != nil {
		return nil, err
	}
	slog.Info("stream unpublished", "stream", name, "handle", s.handle)
	return &ack{event: okEvent(name)}, nil
}

func (h *messageHandler) configure(s *Session, m *message) (*ack, error) {
	req, err := parseConfigure(m.root)
	if err != nil {
		return nil, err
	}
	if s.configure(req.audio, req.video, req.bitrate) {
		if st, ok := h.ps.streams.Lookup(s.StreamName()); ok && st.Publisher() != nil {
			h.ps.requestKeyframe(st.Publisher())
		}
	}
	return &ack{event: okEvent(s.StreamName())}, nil
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
