package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gofiber/fiber/v2"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/config"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/controlplane"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/logging"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/negotiation"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/signalling"
)

const shutdownTimeout = 5 * time.Second

var cli struct {
	ConfigDir    string `help:"Directory with server, security, pubsub, relay and log section files." default:"conf" type:"path"`
	Port         int    `help:"Override the listen port."`
	LogLevel     string `help:"Override the log level (debug, info, warn, error)."`
	NoColor      bool   `help:"Disable colored log output."`
	PublishURL   string `help:"Override the control plane publish endpoint." name:"publish-url"`
	SubscribeURL string `help:"Override the control plane subscribe endpoint." name:"subscribe-url"`
	Events       bool   `help:"Send stream lifecycle notifications to admin sockets."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("pubsub"),
		kong.Description("Pub/sub relay for real-time media."),
		kong.UsageOnError(),
	)

	if err := logging.Setup(os.Stderr, "info", cli.NoColor); err != nil {
		slog.Error("invalid log configuration", "error", err)
		os.Exit(1)
	}

	manager, err := config.NewManager(cli.ConfigDir,
		config.WithServerPort(cli.Port),
		config.WithLogLevel(cli.LogLevel),
		config.WithNoColor(cli.NoColor),
		config.WithControlPlane(cli.PublishURL, cli.SubscribeURL),
		config.WithNotifyEvents(cli.Events),
	)
	if err != nil {
		slog.Error("failed to load config", "dir", cli.ConfigDir, "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	cfg := manager.Get()
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.NoColor); err != nil {
		slog.Error("invalid log configuration", "error", err)
		os.Exit(1)
	}

	authorizer := controlplane.New(cfg.PubSub.PublishURL, cfg.PubSub.SubscribeURL, cfg.PubSub.ControlPlaneTimeoutDuration())

	app := fiber.New(fiber.Config{
		BodyLimit:             50 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	server, err := signalling.NewServer(&cfg, app, signalling.Options{
		Authorizer: authorizer,
		Negotiator: negotiation.New(),
	})
	if err != nil {
		slog.Error("can not start pubsub server", "error", err)
		os.Exit(1)
	}

	manager.OnUpdate(func(updated *config.AppConfig) {
		server.ApplyConfig(updated)
		authorizer.SetEndpoints(updated.PubSub.PublishURL, updated.PubSub.SubscribeURL)
		if err := logging.SetLevel(updated.Log.Level); err != nil {
			slog.Warn("ignoring log level", "error", err)
		}
	})

	server.Setup()
	metrics.StartTime.SetToCurrentTime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		if cfg.Security.TLSCrtFile != nil && cfg.Security.TLSKeyFile != nil {
			slog.Info("running TLS http server", "addr", addr)
			listenErr <- app.ListenTLS(addr, *cfg.Security.TLSCrtFile, *cfg.Security.TLSKeyFile)
			return
		}
		slog.Info("running http server", "addr", addr)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		slog.Error("http server stopped", "error", err)
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	// Closing the relay first ends the long-lived websocket handlers.
	server.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
}
