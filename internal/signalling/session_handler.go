package signalling

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
)

type Session struct {
	Socket   sockets.Socket
	SocketID sockets.SocketID
	Handle   pubsub.Handle
	Loop     *ConnectionLoop
	Cleanup  func()
}

type SessionHandler struct {
	pubsub         *pubsub.PubSub
	gateway        *Gateway
	notifier       *Notifier
	sessionSockets *sockets.SocketPool
	adminSockets   *sockets.SocketPool
	queueSize      int
}

func NewSessionHandler(ps *pubsub.PubSub, gateway *Gateway, notifier *Notifier,
	sessionSockets, adminSockets *sockets.SocketPool, queueSize int) *SessionHandler {
	return &SessionHandler{
		pubsub:         ps,
		gateway:        gateway,
		notifier:       notifier,
		sessionSockets: sessionSockets,
		adminSockets:   adminSockets,
		queueSize:      queueSize,
	}
}

// RegisterSession creates the relay session behind a new /ws/session socket
// and starts its writer. Cleanup destroys the session and closes the socket.
func (h *SessionHandler) RegisterSession(socket sockets.Socket) (*Session, error) {
	handle := pubsub.Handle(uuid.NewString())
	socketID := sockets.SocketID(handle)
	loop := NewConnectionLoop(socket, socketID, h.queueSize)

	h.gateway.attach(handle, loop)
	if err := h.pubsub.CreateSession(handle); err != nil {
		h.gateway.detach(handle)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	h.sessionSockets.AddSocket(socketID, socket)
	loop.Start()

	metrics.ActiveWebSocketConnections.WithLabelValues("session").Inc()
	metrics.WebSocketConnectionsTotal.WithLabelValues("session").Inc()

	cleanup := func() {
		if err := h.pubsub.DestroySession(handle); err != nil {
			slog.Warn("failed to destroy session", "handle", handle, "error", err)
		}
		h.gateway.detach(handle)
		loop.Stop()
		metrics.ActiveWebSocketConnections.WithLabelValues("session").Dec()
		h.sessionSockets.CloseSocket(socketID)
	}

	slog.Info("session started", "handle", handle)

	return &Session{
		Socket:   socket,
		SocketID: socketID,
		Handle:   handle,
		Loop:     loop,
		Cleanup:  cleanup,
	}, nil
}

// RegisterAdminSession starts the writer of an /ws/admin socket and
// subscribes it to notifications.
func (h *SessionHandler) RegisterAdminSession(socket sockets.Socket) *Session {
	socketID := sockets.SocketID(uuid.NewString())
	loop := NewConnectionLoop(socket, socketID, 1)

	h.adminSockets.AddSocket(socketID, socket)
	h.notifier.subscribe(socketID, loop)
	loop.Start()

	metrics.ActiveWebSocketConnections.WithLabelValues("admin").Inc()
	metrics.WebSocketConnectionsTotal.WithLabelValues("admin").Inc()

	cleanup := func() {
		h.notifier.unsubscribe(socketID)
		loop.Stop()
		metrics.ActiveWebSocketConnections.WithLabelValues("admin").Dec()
		h.adminSockets.CloseSocket(socketID)
	}

	slog.Info("admin session started", "socketID", socketID)

	return &Session{
		Socket:   socket,
		SocketID: socketID,
		Loop:     loop,
		Cleanup:  cleanup,
	}
}
