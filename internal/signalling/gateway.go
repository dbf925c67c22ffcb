package signalling

import (
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/utils"
)

// Gateway delivers relay output to the websocket of each session.
type Gateway struct {
	loops utils.SyncMap[pubsub.Handle, *ConnectionLoop]
}

func NewGateway() *Gateway {
	return &Gateway{}
}

func (g *Gateway) attach(h pubsub.Handle, loop *ConnectionLoop) {
	g.loops.Store(h, loop)
}

func (g *Gateway) detach(h pubsub.Handle) {
	g.loops.LoadAndDelete(h)
}

func frameKind(video bool) api.FrameKind {
	if video {
		return api.FrameVideo
	}
	return api.FrameAudio
}

func (g *Gateway) sendMedia(h pubsub.Handle, f api.Frame) {
	if loop, ok := g.loops.Load(h); ok {
		loop.SendMedia(f)
	}
}

func (g *Gateway) RelayRTP(h pubsub.Handle, video bool, buf []byte) {
	g.sendMedia(h, api.Frame{Kind: frameKind(video), Payload: buf})
}

func (g *Gateway) RelayRTCP(h pubsub.Handle, video bool, buf []byte) {
	g.sendMedia(h, api.Frame{Kind: frameKind(video), RTCP: true, Payload: buf})
}

func (g *Gateway) RelayData(h pubsub.Handle, buf []byte) {
	g.sendMedia(h, api.Frame{Kind: api.FrameData, Payload: buf})
}

func (g *Gateway) PushEvent(h pubsub.Handle, transaction string, event pubsub.Event, jsep *pubsub.JSEP) error {
	loop, ok := g.loops.Load(h)
	if !ok {
		return ErrConnectionClosed
	}
	return loop.SendEvent(api.ServerMessage{
		Event:       api.ServerMessageEventEvent,
		Transaction: transaction,
		PluginData:  api.ToPluginData(event),
		Jsep:        jsep,
	})
}
