package api

import (
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
)

func ToApiStream(s pubsub.StreamInfo) Stream {
	subscribers := make([]Subscriber, len(s.Subscribers))
	for i, sub := range s.Subscribers {
		subscribers[i] = ToApiSubscriber(sub)
	}
	return Stream{
		Name:        s.Name,
		Kind:        s.Kind,
		Publisher:   string(s.Publisher),
		Owner:       string(s.Owner),
		Pullers:     s.Pullers,
		Subscribers: subscribers,
		CreatedAt:   s.CreatedAt,
	}
}

func ToApiStreams(streams []pubsub.StreamInfo) []Stream {
	out := make([]Stream, len(streams))
	for i, s := range streams {
		out[i] = ToApiStream(s)
	}
	return out
}

func ToApiSubscriber(s pubsub.SubscriberInfo) Subscriber {
	var forwarders []Forwarder
	for _, f := range s.Forwards {
		forwarders = append(forwarders, Forwarder{
			ID:          f.ID,
			Addr:        f.Addr,
			Media:       f.Media,
			PayloadType: f.PayloadType,
			SSRC:        f.SSRC,
		})
	}
	return Subscriber{
		ID:         s.ID,
		Kind:       s.Kind,
		Session:    string(s.Session),
		Host:       s.Host,
		Forwarders: forwarders,
		CreatedAt:  s.CreatedAt,
	}
}

func ToApiSession(s pubsub.SessionInfo) Session {
	return Session{
		Handle:       string(s.Handle),
		Role:         s.Role,
		Stream:       s.Stream,
		SubscriberID: s.SubscriberID,
		HasAudio:     s.HasAudio,
		HasVideo:     s.HasVideo,
		HasData:      s.HasData,
		AudioActive:  s.AudioActive,
		VideoActive:  s.VideoActive,
		Bitrate:      s.Bitrate,
		SlowLinks:    s.SlowLinks,
		HangingUp:    s.HangingUp,
		CreatedAt:    s.CreatedAt,
	}
}

func ToApiNotification(n pubsub.Notification) Notification {
	return Notification{
		Event:        n.Event,
		Stream:       n.Stream,
		Handle:       string(n.Handle),
		Kind:         n.Kind,
		SubscriberID: n.SubscriberID,
		Time:         n.Time,
	}
}

func ToPluginData(e pubsub.Event) *PluginData {
	return &PluginData{
		PubSub:       e.PubSub,
		Result:       e.Result,
		Stream:       e.Stream,
		SubscriberID: e.SubscriberID,
		ErrorCode:    e.ErrorCode,
		Error:        e.Error,
	}
}
