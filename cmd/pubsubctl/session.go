package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/client"
)

const statsInterval = 5 * time.Second

type PublishCmd struct {
	Name      string `arg:"" help:"Stream name."`
	Pull      bool   `help:"Create a pull-fed stream reading from local UDP ports."`
	Host      string `help:"Local address the pull sockets bind to."`
	AudioPort int    `help:"UDP port for audio."`
	VideoPort int    `help:"UDP port for video."`
	DataPort  int    `help:"UDP port for data."`
}

func (c *PublishCmd) Run(ctx *runContext) error {
	cl, err := client.Dial(ctx, client.Config{SignallingUrl: ctx.Url})
	if err != nil {
		return err
	}
	defer cl.Close()

	var res client.Result
	if c.Pull {
		res, err = cl.PublishPull(ctx, c.Name, client.Pull{
			Host:      c.Host,
			AudioPort: c.AudioPort,
			VideoPort: c.VideoPort,
			DataPort:  c.DataPort,
		})
	} else {
		res, err = cl.Publish(ctx, c.Name, nil)
	}
	if err != nil {
		return err
	}
	slog.Info("published", "stream", res.PluginData.Stream, "handle", cl.Handle())

	select {
	case <-ctx.Done():
	case <-cl.Done():
		return fmt.Errorf("relay closed the session: %w", cl.Err())
	}
	return nil
}

type SubscribeCmd struct {
	Name      string `arg:"" help:"Stream name."`
	Forward   bool   `help:"Forward media over UDP instead of the session socket."`
	Host      string `help:"Destination host for forwarded media."`
	AudioPort int    `help:"Destination UDP port for audio."`
	VideoPort int    `help:"Destination UDP port for video."`
	DataPort  int    `help:"Destination UDP port for data."`
	AudioPT   int    `help:"Rewrite the audio payload type." name:"audio-pt"`
	VideoPT   int    `help:"Rewrite the video payload type." name:"video-pt"`
	AudioSSRC uint32 `help:"Rewrite the audio SSRC." name:"audio-ssrc"`
	VideoSSRC uint32 `help:"Rewrite the video SSRC." name:"video-ssrc"`
}

func (c *SubscribeCmd) Run(ctx *runContext) error {
	cl, err := client.Dial(ctx, client.Config{SignallingUrl: ctx.Url})
	if err != nil {
		return err
	}
	defer cl.Close()

	var res client.Result
	if c.Forward {
		res, err = cl.SubscribeForward(ctx, c.Name, client.Forward{
			Host:      c.Host,
			AudioPort: c.AudioPort,
			VideoPort: c.VideoPort,
			DataPort:  c.DataPort,
			AudioPT:   c.AudioPT,
			VideoPT:   c.VideoPT,
			AudioSSRC: c.AudioSSRC,
			VideoSSRC: c.VideoSSRC,
		})
	} else {
		res, err = cl.Subscribe(ctx, c.Name)
	}
	if err != nil {
		return err
	}
	slog.Info("subscribed", "stream", res.PluginData.Stream, "subscriberID", res.PluginData.SubscriberID)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var frames, bytes [3]int
	for {
		select {
		case f, ok := <-cl.Media():
			if !ok {
				return fmt.Errorf("relay closed the session: %w", cl.Err())
			}
			if f.RTCP {
				continue
			}
			frames[f.Kind]++
			bytes[f.Kind] += len(f.Payload)
		case <-ticker.C:
			slog.Info("received",
				"audio", frames[api.FrameAudio], "audioBytes", bytes[api.FrameAudio],
				"video", frames[api.FrameVideo], "videoBytes", bytes[api.FrameVideo],
				"data", frames[api.FrameData], "dataBytes", bytes[api.FrameData],
			)
		case <-ctx.Done():
			return nil
		}
	}
}
