package api

import "time"

type Forwarder struct {
	ID          uint32 `json:"id"`
	Addr        string `json:"addr"`
	Media       string `json:"media"`
	PayloadType uint8  `json:"payloadType,omitempty"`
	SSRC        uint32 `json:"ssrc,omitempty"`
}

type Subscriber struct {
	ID         uint64      `json:"id"`
	Kind       string      `json:"kind"`
	Session    string      `json:"session,omitempty"`
	Host       string      `json:"host,omitempty"`
	Forwarders []Forwarder `json:"forwarders,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type Stream struct {
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	Publisher   string       `json:"publisher,omitempty"`
	Owner       string       `json:"owner,omitempty"`
	Pullers     []string     `json:"pullers,omitempty"`
	Subscribers []Subscriber `json:"subscribers"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type Session struct {
	Handle       string    `json:"handle"`
	Role         string    `json:"role"`
	Stream       string    `json:"stream,omitempty"`
	SubscriberID uint64    `json:"subscriberId,omitempty"`
	HasAudio     bool      `json:"hasAudio"`
	HasVideo     bool      `json:"hasVideo"`
	HasData      bool      `json:"hasData"`
	AudioActive  bool      `json:"audioActive"`
	VideoActive  bool      `json:"videoActive"`
	Bitrate      uint32    `json:"bitrate"`
	SlowLinks    uint32    `json:"slowLinks"`
	HangingUp    bool      `json:"hangingUp"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Notification struct {
	Event        string    `json:"event"`
	Stream       string    `json:"stream"`
	Handle       string    `json:"handle,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	SubscriberID uint64    `json:"subscriberId,omitempty"`
	Time         time.Time `json:"time"`
}
