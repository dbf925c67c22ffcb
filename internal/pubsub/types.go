package pubsub

import (
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Handle identifies one peer connection of the media transport.
type Handle string

// JSEP is the negotiation payload attached to control messages.
type JSEP = webrtc.SessionDescription

type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
	MediaData
)

var mediaKinds = [...]MediaKind{MediaAudio, MediaVideo, MediaData}

func (k MediaKind) String() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaData:
		return "data"
	}
	return "unknown"
}

func mediaKindOf(video bool) MediaKind {
	if video {
		return MediaVideo
	}
	return MediaAudio
}

// Packet is one media packet attributed to a stream. Data is only valid for
// the duration of the relay call.
type Packet struct {
	Kind MediaKind
	Data []byte
}

type Role int

const (
	RoleNone Role = iota
	RolePublisher
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "none"
}

type StreamKind int

const (
	StreamSession StreamKind = iota + 1
	StreamPull
)

func (k StreamKind) String() string {
	if k == StreamPull {
		return "pull"
	}
	return "session"
}

type SubscriberKind int

const (
	SubscriberSession SubscriberKind = iota + 1
	SubscriberForward
)

func (k SubscriberKind) String() string {
	if k == SubscriberForward {
		return "forward"
	}
	return "session"
}

// tombstone records when an entity was destroyed. Zero means alive.
type tombstone struct {
	destroyedAt atomic.Int64
}

func (t *tombstone) markDestroyed() bool {
	return t.destroyedAt.CompareAndSwap(0, time.Now().UnixNano())
}

func (t *tombstone) Destroyed() bool {
	return t.destroyedAt.Load() != 0
}

func (t *tombstone) DestroyedAt() time.Time {
	ns := t.destroyedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
