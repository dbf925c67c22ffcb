package pubsub

import (
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

type relayEngine struct {
	gateway Gateway
}

// relay fans pkt out to every live subscriber of st and returns how many
// subscribers it was handed to.
func (r *relayEngine) relay(st *Stream, pkt Packet) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.Destroyed() {
		return 0
	}
	delivered := 0
	for _, sub := range st.subscribers {
		if sub.Destroyed() {
			continue
		}
		sub.sink.deliver(pkt)
		delivered++
	}
	return delivered
}

// feedback routes RTCP: from the publisher to every session subscriber,
// from anyone else to the publisher only.
func (r *relayEngine) feedback(st *Stream, from *Session, video bool, buf []byte) {
	pub := st.Publisher()
	if pub == nil {
		return
	}

	out := buf
	if _, ok := rembBitrate(buf); ok {
		video = true
		if limit := from.Bitrate(); limit > 0 {
			if capped, changed, err := capREMB(buf, limit); err == nil && changed {
				out = capped
			}
		}
	}

	if from != pub {
		if pub.Destroyed() {
			return
		}
		r.gateway.RelayRTCP(pub.handle, video, out)
		metrics.FeedbackPacketsTotal.WithLabelValues("upstream").Inc()
		return
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.Destroyed() {
		return
	}
	for _, sub := range st.subscribers {
		ss, ok := sub.sink.(*sessionSink)
		if !ok || sub.Destroyed() || ss.session.Destroyed() {
			continue
		}
		r.gateway.RelayRTCP(ss.session.handle, video, out)
		metrics.FeedbackPacketsTotal.WithLabelValues("downstream").Inc()
	}
}
