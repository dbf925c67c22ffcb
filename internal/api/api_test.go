package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	tests := []struct {
		frame  Frame
		header byte
	}{
		{Frame{Kind: FrameAudio, Payload: []byte{1}}, 0x00},
		{Frame{Kind: FrameVideo, Payload: []byte{1, 2}}, 0x01},
		{Frame{Kind: FrameVideo, RTCP: true, Payload: []byte{3}}, 0x81},
		{Frame{Kind: FrameData, Payload: []byte("hi")}, 0x02},
	}
	for _, tc := range tests {
		buf := EncodeFrame(tc.frame)
		require.Equal(t, tc.header, buf[0])

		got, err := DecodeFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, tc.frame, got)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	for _, buf := range [][]byte{nil, {0x01}, {0x03, 0x00}, {0x82, 0x00}} {
		_, err := DecodeFrame(buf)
		assert.Error(t, err, "%x", buf)
	}
	_, err := DecodeFrame([]byte{0x00})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestClientMessageDecoding(t *testing.T) {
	var msg ClientMessage
	raw := `{"event":"message","transaction":"t1","body":{"request":"publish","name":"room1"},"jsep":{"type":"offer","sdp":"v=0"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, ClientMessageEventMessage, msg.Event)
	assert.Equal(t, "t1", msg.Transaction)
	assert.JSONEq(t, `{"request":"publish","name":"room1"}`, string(msg.Body))
	require.NotNil(t, msg.Jsep)
	assert.Equal(t, "v=0", msg.Jsep.SDP)
}

func TestMappers(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	stream := ToApiStream(pubsub.StreamInfo{
		Name:      "room1",
		Kind:      "session",
		Publisher: "a",
		Owner:     "a",
		Subscribers: []pubsub.SubscriberInfo{{
			ID:       7,
			Kind:     "forward",
			Session:  "c",
			Host:     "127.0.0.1",
			Forwards: []pubsub.ForwarderInfo{{ID: 1, Addr: "127.0.0.1:5004", Media: "video", PayloadType: 96}},
		}},
		CreatedAt: created,
	})
	assert.Equal(t, "a", stream.Publisher)
	require.Len(t, stream.Subscribers, 1)
	assert.Equal(t, "c", stream.Subscribers[0].Session)
	assert.Equal(t, "127.0.0.1:5004", stream.Subscribers[0].Forwarders[0].Addr)

	data := ToPluginData(pubsub.Event{PubSub: "event", ErrorCode: 499, Error: "Stream not found"})
	out, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pubsub":"event","error_code":499,"error":"Stream not found"}`, string(out))
}
