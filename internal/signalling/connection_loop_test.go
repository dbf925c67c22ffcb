package signalling

import (
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLoopDropsMediaWhenFull(t *testing.T) {
	sock := newRecordingSocket()
	loop := NewConnectionLoop(sock, "s1", 1)

	payload := []byte{1, 2, 3}
	assert.True(t, loop.SendMedia(api.Frame{Kind: api.FrameAudio, Payload: payload}))
	assert.False(t, loop.SendMedia(api.Frame{Kind: api.FrameAudio, Payload: payload}))

	loop.Start()
	f := sock.nextFrame(t)
	assert.Equal(t, payload, f.Payload)

	// The frame was copied on queueing.
	payload[0] = 9
	assert.True(t, loop.SendMedia(api.Frame{Kind: api.FrameVideo, Payload: payload}))
	f = sock.nextFrame(t)
	assert.Equal(t, []byte{9, 2, 3}, f.Payload)
	assert.Equal(t, api.FrameVideo, f.Kind)

	loop.Stop()
	assert.False(t, loop.SendMedia(api.Frame{Kind: api.FrameAudio, Payload: payload}))
	assert.ErrorIs(t, loop.SendMessage(api.ServerMessage{}), ErrConnectionClosed)
}

func TestConnectionLoopStopsOnWriteError(t *testing.T) {
	sock := newRecordingSocket()
	sock.failJSON.Store(true)
	loop := NewConnectionLoop(sock, "s1", 4)
	loop.Start()
	t.Cleanup(loop.Stop)

	require.NoError(t, loop.SendMessage(api.ServerMessage{Event: api.ServerMessageEventAck}))
	select {
	case <-loop.Done():
	case <-time.After(waitTimeout):
		t.Fatal("loop kept running after a failed write")
	}
}

func TestGatewayPushEventDoesNotWait(t *testing.T) {
	g := NewGateway()
	loop := NewConnectionLoop(newRecordingSocket(), "s1", 4)
	t.Cleanup(loop.Stop)
	g.attach("h1", loop)

	for i := 0; i < messageQueueSize; i++ {
		require.NoError(t, g.PushEvent("h1", "t", pubsub.Event{PubSub: "event", Result: "ok"}, nil))
	}

	started := time.Now()
	err := g.PushEvent("h1", "t", pubsub.Event{PubSub: "event", Result: "ok"}, nil)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(started), 100*time.Millisecond)

	// A stopped loop refuses events.
	loop.Stop()
	assert.ErrorIs(t, loop.SendEvent(api.ServerMessage{}), ErrConnectionClosed)
}

func TestGatewayRoutesByHandle(t *testing.T) {
	g := NewGateway()
	sock := newRecordingSocket()
	loop := NewConnectionLoop(sock, "s1", 4)
	loop.Start()
	t.Cleanup(loop.Stop)

	assert.ErrorIs(t, g.PushEvent("h1", "t", pubsub.Event{}, nil), ErrConnectionClosed)
	g.RelayRTP("h1", true, []byte{1, 2})

	g.attach("h1", loop)
	g.RelayRTCP("h1", false, []byte{3, 4})
	f := sock.nextFrame(t)
	assert.True(t, f.RTCP)
	assert.Equal(t, api.FrameAudio, f.Kind)

	require.NoError(t, g.PushEvent("h1", "t", pubsub.Event{PubSub: "event", Result: "ok"}, nil))
	m := sock.nextServerMessage(t, eventFor("t"))
	assert.Equal(t, "ok", m.PluginData.Result)

	g.detach("h1")
	assert.ErrorIs(t, g.PushEvent("h1", "t", pubsub.Event{}, nil), ErrConnectionClosed)
}
