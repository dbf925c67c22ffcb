package pubsub

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendTo(t *testing.T, port int, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestPullStreamRelaysToForwarder(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPubSub(t, gw)
	createSessions(t, p, "a", "c")
	dst := listenUDP(t)
	pullPort := freePort(t)

	body, _ := json.Marshal(map[string]any{"request": "publish", "name": "cam", "kind": "pull", "video_port": pullPort})
	require.Equal(t, "ok", send(t, p, gw, "a", string(body)).Result)

	info, ok := p.Stream("cam")
	require.True(t, ok)
	assert.Equal(t, "pull", info.Kind)
	assert.Empty(t, info.Publisher)
	assert.Equal(t, Handle("a"), info.Owner)
	assert.Equal(t, []string{"video"}, info.Pullers)

	body, _ = json.Marshal(map[string]any{"request": "subscribe", "name": "cam", "kind": "forward", "video_port": localPort(dst)})
	require.Equal(t, "ok", send(t, p, gw, "c", string(body)).Result)

	pkt := rtpPacket(t, 96, 55, 1, []byte("pulled"))
	var got []byte
	require.Eventually(t, func() bool {
		sendTo(t, pullPort, pkt)
		buf, err := readDatagram(t, dst, 50*time.Millisecond)
		got = buf
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, pkt, got)

	// The owner of a pull stream cannot inject media into it.
	p.IncomingRTP("a", true, rtpPacket(t, 96, 1, 1, []byte("x")))
	assert.Empty(t, gw.rtpFor("c"))
}

func TestPullPartialBindFailure(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPubSub(t, gw)
	createSessions(t, p, "a", "b")
	busy := listenUDP(t)
	free := freePort(t)

	body, _ := json.Marshal(map[string]any{
		"request":    "publish",
		"name":       "cam",
		"kind":       "pull",
		"audio_port": localPort(busy),
		"video_port": free,
	})
	ev := send(t, p, gw, "a", string(body))
	assert.Equal(t, ErrorUnknown, ev.ErrorCode)
	assert.True(t, strings.HasPrefix(ev.Error, "Could not bind puller socket ("), ev.Error)

	info, ok := p.Stream("cam")
	require.True(t, ok)
	assert.Equal(t, []string{"video"}, info.Pullers)

	body, _ = json.Marshal(map[string]any{"request": "publish", "name": "cam2", "kind": "pull", "audio_port": localPort(busy)})
	ev = send(t, p, gw, "b", string(body))
	assert.True(t, strings.HasPrefix(ev.Error, "Could not bind puller socket ("), ev.Error)
	_, ok = p.Stream("cam2")
	assert.False(t, ok)

	s, err := p.QuerySession("b")
	require.NoError(t, err)
	assert.Equal(t, "none", s.Role)
}

func TestPullerStopsPerStream(t *testing.T) {
	gw := newFakeGateway()
	p := newTestPubSub(t, gw)
	createSessions(t, p, "a", "b")

	for _, pub := range []struct {
		handle Handle
		name   string
	}{{"a", "cam1"}, {"b", "cam2"}} {
		body, _ := json.Marshal(map[string]any{"request": "publish", "name": pub.name, "kind": "pull", "video_port": freePort(t)})
		require.Equal(t, "ok", send(t, p, gw, pub.handle, string(body)).Result)
	}
	cam1, _ := p.StreamRegistry().Lookup("cam1")
	cam2, _ := p.StreamRegistry().Lookup("cam2")
	assert.Equal(t, PullerPolling, cam1.puller.State())

	require.Equal(t, "ok", send(t, p, gw, "a", `{"request":"unpublish"}`).Result)

	require.Eventually(t, func() bool {
		return cam1.puller.State() == PullerStopped
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, PullerPolling, cam2.puller.State())

	// The socket stays bound until the stream is reclaimed.
	addr := cam1.puller.LocalAddr(MediaVideo).(*net.UDPAddr)
	_, err := net.ListenUDP("udp", addr)
	require.Error(t, err)

	for range 3 {
		p.Watchdog().Sweep()
	}
	assert.True(t, cam1.released.Load())
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOpenPullerNothingBound(t *testing.T) {
	busy := listenUDP(t)
	puller, errs := OpenPuller("cam", "127.0.0.1", [3]int{MediaAudio: localPort(busy)}, 10*time.Millisecond)
	assert.Nil(t, puller)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "audio")
}

func TestPullerCloseBeforeStart(t *testing.T) {
	puller, errs := OpenPuller("cam", "127.0.0.1", [3]int{MediaData: freePort(t)}, 10*time.Millisecond)
	require.Empty(t, errs)
	require.NotNil(t, puller)
	assert.True(t, puller.Has(MediaData))
	assert.False(t, puller.Has(MediaVideo))
	assert.Equal(t, PullerIdle, puller.State())

	require.NoError(t, puller.Close())
	assert.Equal(t, PullerStopped, puller.State())

	// A closed puller never starts.
	puller.Start(t.Context(), func(Packet) {})
	assert.Equal(t, PullerStopped, puller.State())
}
