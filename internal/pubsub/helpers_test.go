package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type relayed struct {
	handle Handle
	video  bool
	buf    []byte
}

type pushed struct {
	handle      Handle
	transaction string
	event       Event
	jsep        *JSEP
}

type fakeGateway struct {
	mu     sync.Mutex
	rtp    []relayed
	rtcp   []relayed
	data   []relayed
	events chan pushed
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan pushed, 64)}
}

func (g *fakeGateway) RelayRTP(h Handle, video bool, buf []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rtp = append(g.rtp, relayed{handle: h, video: video, buf: append([]byte(nil), buf...)})
}

func (g *fakeGateway) RelayRTCP(h Handle, video bool, buf []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rtcp = append(g.rtcp, relayed{handle: h, video: video, buf: append([]byte(nil), buf...)})
}

func (g *fakeGateway) RelayData(h Handle, buf []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.data = append(g.data, relayed{handle: h, buf: append([]byte(nil), buf...)})
}

func (g *fakeGateway) PushEvent(h Handle, transaction string, event Event, jsep *JSEP) error {
	g.events <- pushed{handle: h, transaction: transaction, event: event, jsep: jsep}
	return nil
}

func (g *fakeGateway) rtpFor(h Handle) []relayed {
	g.mu.Lock()
	defer g.mu.Unlock()
	return byHandle(g.rtp, h)
}

func (g *fakeGateway) rtcpFor(h Handle) []relayed {
	g.mu.Lock()
	defer g.mu.Unlock()
	return byHandle(g.rtcp, h)
}

func (g *fakeGateway) dataFor(h Handle) []relayed {
	g.mu.Lock()
	defer g.mu.Unlock()
	return byHandle(g.data, h)
}

func byHandle(all []relayed, h Handle) []relayed {
	var out []relayed
	for _, r := range all {
		if r.handle == h {
			out = append(out, r)
		}
	}
	return out
}

type fakeAuthorizer struct {
	deny map[Action]bool
}

func (a *fakeAuthorizer) Authorize(_ context.Context, action Action, _ json.RawMessage, _ *JSEP) error {
	if a.deny[action] {
		return errors.New("denied")
	}
	return nil
}

type fakeNegotiator struct{}

func (fakeNegotiator) Answer(offer JSEP) (Negotiation, error) {
	if offer.SDP == "" {
		return Negotiation{}, errors.New("empty sdp")
	}
	return Negotiation{
		Answer:   &JSEP{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + offer.SDP},
		Offer:    &JSEP{Type: webrtc.SDPTypeOffer, SDP: "offer:" + offer.SDP},
		HasAudio: true,
		HasVideo: true,
	}, nil
}

func (fakeNegotiator) Inspect(JSEP) (Negotiation, error) {
	return Negotiation{HasVideo: true}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *fakeNotifier) Notify(item Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item.Event+":"+item.Stream)
	}
	return out
}

// newTestPubSub builds a relay whose watchdog never fires on its own; tests
// drive it with Sweep. The grace window is two epochs.
func newTestPubSub(t *testing.T, gw Gateway, mutate ...func(*Config)) *PubSub {
	t.Helper()
	cfg := Config{
		Gateway:          gw,
		WatchdogInterval: time.Hour,
		GraceWindow:      2 * time.Hour,
		PullReadTimeout:  20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func createSessions(t *testing.T, p *PubSub, handles ...Handle) {
	t.Helper()
	for _, h := range handles {
		require.NoError(t, p.CreateSession(h))
	}
}

func send(t *testing.T, p *PubSub, gw *fakeGateway, h Handle, body string) Event {
	t.Helper()
	return sendJSEP(t, p, gw, h, body, nil).event
}

func sendJSEP(t *testing.T, p *PubSub, gw *fakeGateway, h Handle, body string, jsep *JSEP) pushed {
	t.Helper()
	require.NoError(t, p.HandleMessage(h, "tx-"+string(h), json.RawMessage(body), jsep))
	select {
	case ev := <-gw.events:
		require.Equal(t, h, ev.handle)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event for %s", body)
	}
	return pushed{}
}

func rtpPacket(t *testing.T, pt uint8, ssrc uint32, seq uint16, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      90000,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	return buf
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func localPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// freePort returns a UDP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := localPort(conn)
	require.NoError(t, conn.Close())
	return port
}

func readDatagram(t *testing.T, conn *net.UDPConn, timeout time.Duration) ([]byte, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
