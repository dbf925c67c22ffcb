package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/logging"
)

type Globals struct {
	Url        string `help:"Relay base url." default:"http://localhost:8088"`
	Credential string `help:"Admin credential for the admin api and socket." env:"PUBSUB_ADMIN_CREDENTIAL"`
	LogLevel   string `help:"Log level." default:"info"`
}

type runContext struct {
	context.Context
	*Globals
}

var cli struct {
	Globals

	Publish   PublishCmd   `cmd:"" help:"Publish a stream and keep the session open."`
	Subscribe SubscribeCmd `cmd:"" help:"Subscribe to a stream."`
	Streams   StreamsCmd   `cmd:"" help:"List published streams."`
	Watch     WatchCmd     `cmd:"" help:"Print stream notifications from the admin socket."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("pubsubctl"),
		kong.Description("Command line client for the pubsub relay."),
		kong.UsageOnError(),
	)

	if err := logging.Setup(os.Stderr, cli.LogLevel, false); err != nil {
		kctx.FatalIfErrorf(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := kctx.Run(&runContext{Context: ctx, Globals: &cli.Globals})
	if err != nil && ctx.Err() == nil {
		slog.Error("command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}
