package signalling

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/utils"
)

func (s *Server) setupAdminSockets() {
	s.app.Get("/ws/admin", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in /ws/admin", "error", err)
			}
		}()

		if !s.checkAdminAdmissions(c) {
			return
		}

		s.listenAdminSocket(c)
	}))
}

// checkAdminAdmissions requires an address from the admin networks and, when
// configured, the admin credential in the "credential" query parameter.
func (s *Server) checkAdminAdmissions(c *websocket.Conn) bool {
	ipAddr := c.NetConn().RemoteAddr().String()

	isAdminIpAddr, err := s.isAdminIpAddr(ipAddr)
	if err != nil {
		slog.Error("can not parse ipaddr", "addr", ipAddr, "error", err)
		return false
	}

	reason := ""
	switch {
	case !isAdminIpAddr:
		slog.Warn("blocking access to the admin socket", "addr", ipAddr)
		reason = "Forbidden. IP address black listed"
	case !s.checkAdminCredential(c.Query("credential")):
		slog.Warn("failed to authorize admin socket", "addr", ipAddr)
		reason = "Forbidden. Incorrect credential"
	default:
		return true
	}

	_ = c.WriteJSON(api.ServerMessage{
		Event: api.ServerMessageEventError,
		Error: &api.ErrorMessage{Code: 403, Reason: reason},
	})
	return false
}

func (s *Server) listenAdminSocket(c *websocket.Conn) {
	session := s.sessionHandler.RegisterAdminSession(sockets.NewSocket(c))
	defer session.Cleanup()

	sendStatus := func() {
		_ = session.Loop.SendMessage(s.statusMessage())
	}
	sendStatus()
	timer := utils.SetIntervalTimer(AdminSendStatusInterval, sendStatus)
	defer timer.Stop()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			slog.Info("admin disconnected", "socketID", session.SocketID, "error", err)
			return
		}
	}
}

func (s *Server) statusMessage() api.AdminMessage {
	return api.AdminMessage{
		Event:   api.AdminMessageEventStreams,
		Streams: api.ToApiStreams(s.pubsub.Streams()),
	}
}
