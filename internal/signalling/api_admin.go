package signalling

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type connectionsStatus struct {
	Sessions int `json:"sessions"`
	Admins   int `json:"admins"`
}

type watchdogStatus struct {
	Epoch   uint64 `json:"epoch"`
	Pending int    `json:"pending"`
}

func (s *Server) setupAdminApi() {
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Route("/api/admin", func(router fiber.Router) {
		router.Use(basicauth.New(basicauth.Config{
			Realm: "Forbidden",
			Authorizer: func(user, pass string) bool {
				return user == "admin" && s.checkAdminCredential(pass)
			},
		}))

		router.Get("/streams", func(c *fiber.Ctx) error {
			return c.JSON(api.ToApiStreams(s.pubsub.Streams()))
		})

		router.Get("/streams/:name", func(c *fiber.Ctx) error {
			info, ok := s.pubsub.Stream(c.Params("name"))
			if !ok {
				return c.Status(fiber.StatusNotFound).SendString("Stream not found")
			}
			return c.JSON(api.ToApiStream(info))
		})

		router.Get("/sessions/:handle", func(c *fiber.Ctx) error {
			info, err := s.pubsub.QuerySession(pubsub.Handle(c.Params("handle")))
			if err != nil {
				return c.Status(fiber.StatusNotFound).SendString("Session not found")
			}
			return c.JSON(api.ToApiSession(info))
		})

		router.Delete("/sessions/:handle", func(c *fiber.Ctx) error {
			id := sockets.SocketID(c.Params("handle"))
			if s.sessionSockets.GetSocket(id) == nil {
				return c.Status(fiber.StatusNotFound).SendString("Session not found")
			}
			s.sessionSockets.CloseSocket(id)
			return c.Status(fiber.StatusOK).SendString("Ok")
		})

		router.Get("/connections", func(c *fiber.Ctx) error {
			return c.JSON(connectionsStatus{
				Sessions: s.sessionSockets.Len(),
				Admins:   s.adminSockets.Len(),
			})
		})

		router.Get("/watchdog", func(c *fiber.Ctx) error {
			w := s.pubsub.Watchdog()
			return c.JSON(watchdogStatus{Epoch: w.Epoch(), Pending: w.Pending()})
		})
	})
}
