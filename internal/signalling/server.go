package signalling

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/config"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/sockets"
)

const (
	// AdminSendStatusInterval is how often /ws/admin clients receive the full
	// stream list.
	AdminSendStatusInterval = time.Second * 5
)

// Server exposes the relay over HTTP:
//   - /ws/session: one relay session per socket; JSON text frames carry
//     control messages, binary frames carry media
//   - /ws/admin: stream status and lifecycle notifications (IP-restricted)
//   - /api/admin: REST inspection behind basic auth
//   - /metrics: Prometheus metrics
type Server struct {
	app    *fiber.App
	config atomic.Pointer[config.AppConfig]

	pubsub   *pubsub.PubSub
	gateway  *Gateway
	notifier *Notifier

	sessionSockets *sockets.SocketPool
	adminSockets   *sockets.SocketPool
	sessionHandler *SessionHandler
}

// Options carries the collaborators the relay consults on publish and
// subscribe. Both may be nil.
type Options struct {
	Authorizer pubsub.Authorizer
	Negotiator pubsub.Negotiator
}

// NewServer builds the relay and its gateway. The returned server must be
// closed with Close.
func NewServer(cfg *config.AppConfig, app *fiber.App, opts Options) (*Server, error) {
	gateway := NewGateway()
	notifier := NewNotifier()

	ps, err := pubsub.New(pubsub.Config{
		Gateway:          gateway,
		Authorizer:       opts.Authorizer,
		Negotiator:       opts.Negotiator,
		Notifier:         notifier,
		ForwardHost:      cfg.PubSub.ForwardHost,
		PullHost:         cfg.PubSub.PullHost,
		NotifyEvents:     cfg.PubSub.NotifyEvents,
		WatchdogInterval: cfg.Relay.WatchdogIntervalDuration(),
		GraceWindow:      cfg.Relay.GraceWindowDuration(),
		PullReadTimeout:  cfg.Relay.PullReadTimeoutDuration(),
		AuthorizeTimeout: cfg.PubSub.ControlPlaneTimeoutDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}

	s := &Server{
		app:            app,
		pubsub:         ps,
		gateway:        gateway,
		notifier:       notifier,
		sessionSockets: sockets.NewSocketPool(),
		adminSockets:   sockets.NewSocketPool(),
	}
	s.config.Store(cfg)
	s.sessionHandler = NewSessionHandler(ps, gateway, notifier, s.sessionSockets, s.adminSockets, cfg.Server.SessionQueueSize)
	notifier.Start()

	return s, nil
}

func (s *Server) PubSub() *pubsub.PubSub {
	return s.pubsub
}

func (s *Server) cfg() *config.AppConfig {
	return s.config.Load()
}

// ApplyConfig takes the reloadable parts of a new configuration: default
// hosts, the notification flag and security settings.
func (s *Server) ApplyConfig(cfg *config.AppConfig) {
	s.config.Store(cfg)
	s.pubsub.SetDefaults(cfg.PubSub.ForwardHost, cfg.PubSub.PullHost)
	s.pubsub.SetNotifyEvents(cfg.PubSub.NotifyEvents)
}

func (s *Server) Close() {
	s.adminSockets.Close()
	s.sessionSockets.Close()
	s.notifier.Close()
	s.pubsub.Close()
}

// Setup mounts every route on the fiber app. Call it once before listening.
func (s *Server) Setup() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.setupSessionSockets()
	s.setupAdminSockets()
	s.setupAdminApi()
}

func (s *Server) isAdminIpAddr(addrPort string) (bool, error) {
	ip, err := netip.ParseAddrPort(addrPort)
	if err != nil {
		return false, fmt.Errorf("can not parse admin ipaddr, error - %v", err)
	}

	for _, n := range s.cfg().Security.AdminsNetworks {
		if n.Contains(ip.Addr().Unmap()) {
			return true, nil
		}
	}

	return false, nil
}

func (s *Server) checkAdminCredential(credential string) bool {
	expected := s.cfg().Security.AdminCredential
	return expected == nil || *expected == credential
}
