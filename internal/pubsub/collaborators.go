package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Gateway is the media transport the relay delivers to. Buffers passed to
// the Relay methods are only valid during the call; implementations that
// queue them must copy. None of the methods may block for long: they are
// called from the packet path.
type Gateway interface {
	RelayRTP(h Handle, video bool, buf []byte)
	RelayRTCP(h Handle, video bool, buf []byte)
	RelayData(h Handle, buf []byte)
	PushEvent(h Handle, transaction string, event Event, jsep *JSEP) error
}

type Action string

const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
)

// Authorizer asks the control plane whether a publish or subscribe may
// proceed. msg is the original request body.
type Authorizer interface {
	Authorize(ctx context.Context, action Action, msg json.RawMessage, jsep *JSEP) error
}

// Negotiation is what the relay needs to know out of an offer/answer
// exchange.
type Negotiation struct {
	Answer   *JSEP
	Offer    *JSEP
	HasAudio bool
	HasVideo bool
	HasData  bool
}

type Negotiator interface {
	// Answer completes a publisher offer. Offer in the result is handed to
	// subscribers of the stream.
	Answer(offer JSEP) (Negotiation, error)
	// Inspect reads the media flags of a subscriber description.
	Inspect(desc JSEP) (Negotiation, error)
}

// Notification is emitted on stream lifecycle changes when event
// notifications are enabled.
type Notification struct {
	Event        string    `json:"event"`
	Stream       string    `json:"stream"`
	Handle       Handle    `json:"handle,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	SubscriberID uint64    `json:"subscriber_id,omitempty"`
	Time         time.Time `json:"time"`
}

// Notifier receives notifications while registry locks are held and must
// not block.
type Notifier interface {
	Notify(n Notification)
}

// Event is the plugin payload of an acknowledgement.
type Event struct {
	PubSub       string `json:"pubsub"`
	Result       string `json:"result,omitempty"`
	Stream       string `json:"stream,omitempty"`
	SubscriberID uint64 `json:"subscriber_id,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

func okEvent(stream string) Event {
	return Event{PubSub: "event", Result: "ok", Stream: stream}
}

func errorEvent(e *Error) Event {
	return Event{PubSub: "event", ErrorCode: e.Code, Error: e.Reason}
}
