package signalling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
)

func (s *Server) setupSessionSockets() {
	s.app.Get("/ws/session", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in /ws/session", "error", err)
			}
		}()

		s.listenSessionSocket(c)
	}))
}

// listenSessionSocket blocks until the socket closes or its writer fails.
func (s *Server) listenSessionSocket(c *websocket.Conn) {
	session, err := s.sessionHandler.RegisterSession(sockets.NewSocket(c))
	if err != nil {
		slog.Error("can not register session", "remote", c.RemoteAddr().String(), "error", err)
		return
	}
	defer session.Cleanup()

	if err := session.Loop.SendMessage(api.ServerMessage{
		Event:   api.ServerMessageEventSession,
		Session: &api.SessionMessage{Handle: string(session.Handle)},
	}); err != nil {
		return
	}

	// A failed write stops the loop; unblock the reader when that happens.
	readerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-session.Loop.Done():
			_ = session.Socket.Close()
		case <-readerDone:
		}
	}()
	defer wg.Wait()
	defer close(readerDone)

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			slog.Info("session disconnected", "handle", session.Handle, "error", err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			s.processClientMessage(session, data)
		case websocket.BinaryMessage:
			s.processMediaFrame(session.Handle, data)
		}
	}
}

func (s *Server) processClientMessage(session *Session, data []byte) {
	var m api.ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.reply(session, api.ServerMessage{
			Event: api.ServerMessageEventError,
			Error: &api.ErrorMessage{Code: pubsub.ErrorInvalidJSON, Reason: "JSON error: " + err.Error()},
		})
		return
	}

	h := session.Handle
	switch m.Event {
	case api.ClientMessageEventMessage:
		if err := s.pubsub.HandleMessage(h, m.Transaction, m.Body, m.Jsep); err != nil {
			s.replyError(session, m.Transaction, err)
			return
		}
		s.reply(session, api.ServerMessage{Event: api.ServerMessageEventAck, Transaction: m.Transaction})
	case api.ClientMessageEventSetup:
		s.pubsub.SetupMedia(h)
	case api.ClientMessageEventHangup:
		s.pubsub.HangupMedia(h)
	case api.ClientMessageEventSlowLink:
		if m.SlowLink == nil {
			return
		}
		s.pubsub.SlowLink(h, m.SlowLink.Uplink, m.SlowLink.Video)
	case api.ClientMessageEventQuery:
		info, err := s.pubsub.QuerySession(h)
		if err != nil {
			s.replyError(session, m.Transaction, err)
			return
		}
		apiInfo := api.ToApiSession(info)
		s.reply(session, api.ServerMessage{Event: api.ServerMessageEventInfo, Transaction: m.Transaction, Info: &apiInfo})
	case api.ClientMessageEventPing:
		s.reply(session, api.ServerMessage{
			Event:       api.ServerMessageEventPong,
			Transaction: m.Transaction,
			Ping:        &api.PingMessage{Timestamp: time.Now().Unix()},
		})
	default:
		s.reply(session, api.ServerMessage{
			Event:       api.ServerMessageEventError,
			Transaction: m.Transaction,
			Error:       &api.ErrorMessage{Code: pubsub.ErrorInvalidElement, Reason: "Unknown event (" + string(m.Event) + ")"},
		})
	}
}

func (s *Server) processMediaFrame(h pubsub.Handle, data []byte) {
	f, err := api.DecodeFrame(data)
	if err != nil {
		slog.Debug("dropping malformed media frame", "handle", h, "error", err)
		return
	}
	switch {
	case f.RTCP:
		s.pubsub.IncomingRTCP(h, f.Kind == api.FrameVideo, f.Payload)
	case f.Kind == api.FrameData:
		s.pubsub.IncomingData(h, f.Payload)
	default:
		s.pubsub.IncomingRTP(h, f.Kind == api.FrameVideo, f.Payload)
	}
}

func (s *Server) replyError(session *Session, transaction string, err error) {
	pe := pubsub.AsError(err)
	s.reply(session, api.ServerMessage{
		Event:       api.ServerMessageEventError,
		Transaction: transaction,
		Error:       &api.ErrorMessage{Code: pe.Code, Reason: pe.Reason},
	})
}

func (s *Server) reply(session *Session, msg api.ServerMessage) {
	if err := session.Loop.SendMessage(msg); err != nil && !errors.Is(err, ErrConnectionClosed) {
		slog.Warn("failed to queue reply", "handle", session.Handle, "event", msg.Event, "error", err)
	}
}
