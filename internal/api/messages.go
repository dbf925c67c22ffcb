package api

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type ClientMessageEvent string
type ServerMessageEvent string
type AdminMessageEvent string

// Client to server, text frames on /ws/session.
const (
	ClientMessageEventMessage  = ClientMessageEvent("message")
	ClientMessageEventSetup    = ClientMessageEvent("setup")
	ClientMessageEventHangup   = ClientMessageEvent("hangup")
	ClientMessageEventSlowLink = ClientMessageEvent("slowlink")
	ClientMessageEventQuery    = ClientMessageEvent("query")
	ClientMessageEventPing     = ClientMessageEvent("ping")
)

// Server to client.
const (
	ServerMessageEventSession = ServerMessageEvent("session")
	ServerMessageEventAck     = ServerMessageEvent("ack")
	ServerMessageEventEvent   = ServerMessageEvent("event")
	ServerMessageEventError   = ServerMessageEvent("error")
	ServerMessageEventInfo    = ServerMessageEvent("info")
	ServerMessageEventPing    = ServerMessageEvent("ping")
	ServerMessageEventPong    = ServerMessageEvent("pong")
)

const (
	AdminMessageEventStreams      = AdminMessageEvent("streams")
	AdminMessageEventNotification = AdminMessageEvent("notification")
)

type PingMessage struct {
	Timestamp int64 `json:"timestamp"`
}

type SlowLinkMessage struct {
	Uplink bool `json:"uplink"`
	Video  bool `json:"video"`
}

type ClientMessage struct {
	Event       ClientMessageEvent         `json:"event"`
	Transaction string                     `json:"transaction,omitempty"`
	Body        json.RawMessage            `json:"body,omitempty"`
	Jsep        *webrtc.SessionDescription `json:"jsep,omitempty"`
	SlowLink    *SlowLinkMessage           `json:"slowLink,omitempty"`
	Ping        *PingMessage               `json:"ping,omitempty"`
}

type SessionMessage struct {
	Handle string `json:"handle"`
}

// PluginData is the outcome of a control request.
type PluginData struct {
	PubSub       string `json:"pubsub"`
	Result       string `json:"result,omitempty"`
	Stream       string `json:"stream,omitempty"`
	SubscriberID uint64 `json:"subscriber_id,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

type ErrorMessage struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type ServerMessage struct {
	Event       ServerMessageEvent         `json:"event"`
	Transaction string                     `json:"transaction,omitempty"`
	Session     *SessionMessage            `json:"session,omitempty"`
	PluginData  *PluginData                `json:"plugindata,omitempty"`
	Jsep        *webrtc.SessionDescription `json:"jsep,omitempty"`
	Error       *ErrorMessage              `json:"error,omitempty"`
	Info        *Session                   `json:"info,omitempty"`
	Ping        *PingMessage               `json:"ping,omitempty"`
}

type AdminMessage struct {
	Event        AdminMessageEvent `json:"event"`
	Streams      []Stream          `json:"streams,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
}
