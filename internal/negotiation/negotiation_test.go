package negotiation

import (
	"strings"
	"testing"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var publisherOffer = strings.Join([]string{
	"v=0",
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"a=group:BUNDLE 0 1 2",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"c=IN IP4 0.0.0.0",
	"a=mid:0",
	"a=setup:actpass",
	"a=sendonly",
	"a=rtpmap:111 opus/48000/2",
	"m=video 9 UDP/TLS/RTP/SAVPF 96",
	"c=IN IP4 0.0.0.0",
	"a=mid:1",
	"a=setup:actpass",
	"a=rtpmap:96 VP8/90000",
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
	"c=IN IP4 0.0.0.0",
	"a=mid:2",
	"a=setup:actpass",
	"a=sctp-port:5000",
	"",
}, "\r\n")

func parse(t *testing.T, raw string) *sdp.SessionDescription {
	t.Helper()
	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal([]byte(raw)))
	return &desc
}

func attrs(md *sdp.MediaDescription) map[string]string {
	out := map[string]string{}
	for _, a := range md.Attributes {
		out[a.Key] = a.Value
	}
	return out
}

func TestAnswer(t *testing.T) {
	res, err := New().Answer(pubsub.JSEP{Type: webrtc.SDPTypeOffer, SDP: publisherOffer})
	require.NoError(t, err)
	assert.True(t, res.HasAudio)
	assert.True(t, res.HasVideo)
	assert.True(t, res.HasData)

	require.NotNil(t, res.Answer)
	assert.Equal(t, webrtc.SDPTypeAnswer, res.Answer.Type)
	answer := parse(t, res.Answer.SDP)
	require.Len(t, answer.MediaDescriptions, 3)

	audio := attrs(answer.MediaDescriptions[0])
	assert.Contains(t, audio, "recvonly")
	assert.NotContains(t, audio, "sendonly")
	assert.Equal(t, "active", audio["setup"])
	// No direction attribute means sendrecv.
	assert.Contains(t, attrs(answer.MediaDescriptions[1]), "recvonly")
	data := attrs(answer.MediaDescriptions[2])
	assert.NotContains(t, data, "recvonly")
	assert.Equal(t, "5000", data["sctp-port"])

	require.NotNil(t, res.Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, res.Offer.Type)
	forward := parse(t, res.Offer.SDP)
	assert.Contains(t, attrs(forward.MediaDescriptions[0]), "sendonly")
	assert.Contains(t, attrs(forward.MediaDescriptions[1]), "sendonly")
	assert.Equal(t, "actpass", attrs(forward.MediaDescriptions[0])["setup"])
}

func TestAnswerKeepsOffer(t *testing.T) {
	offer := pubsub.JSEP{Type: webrtc.SDPTypeOffer, SDP: publisherOffer}
	_, err := New().Answer(offer)
	require.NoError(t, err)
	assert.Equal(t, publisherOffer, offer.SDP)
}

func TestAnswerRejects(t *testing.T) {
	_, err := New().Answer(pubsub.JSEP{Type: webrtc.SDPTypeAnswer, SDP: publisherOffer})
	require.ErrorIs(t, err, ErrNotOffer)

	_, err = New().Answer(pubsub.JSEP{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	audioOnly := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=recvonly",
		"m=video 0 UDP/TLS/RTP/SAVPF 96",
		"",
	}, "\r\n")

	res, err := New().Inspect(pubsub.JSEP{Type: webrtc.SDPTypeAnswer, SDP: audioOnly})
	require.NoError(t, err)
	assert.True(t, res.HasAudio)
	assert.False(t, res.HasVideo, "rejected m-line")
	assert.False(t, res.HasData)
	assert.Nil(t, res.Answer)
}

func TestDirections(t *testing.T) {
	for offered, want := range map[string][2]string{
		sendrecv: {recvonly, sendonly},
		sendonly: {recvonly, sendonly},
		recvonly: {inactive, inactive},
		inactive: {inactive, inactive},
	} {
		assert.Equal(t, want[0], answerDirection(offered), offered)
		assert.Equal(t, want[1], forwardDirection(offered), offered)
	}
}
