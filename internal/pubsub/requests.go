package pubsub

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"
)

type paramType int

const (
	paramString paramType = iota
	paramInteger
	paramBool
)

func (t paramType) String() string {
	switch t {
	case paramInteger:
		return "an integer"
	case paramBool:
		return "a boolean"
	}
	return "a string"
}

type param struct {
	name     string
	typ      paramType
	required bool
	max      int64
}

const (
	maxPort        = 65535
	maxPayloadType = 127
)

var (
	requestParams = []param{
		{name: "request", typ: paramString, required: true},
	}
	publishParams = []param{
		{name: "name", typ: paramString, required: true},
		{name: "kind", typ: paramString},
	}
	pullParams = []param{
		{name: "host", typ: paramString},
		{name: "audio_port", typ: paramInteger, max: maxPort},
		{name: "video_port", typ: paramInteger, max: maxPort},
		{name: "data_port", typ: paramInteger, max: maxPort},
	}
	subscribeParams = []param{
		{name: "name", typ: paramString, required: true},
		{name: "kind", typ: paramString},
	}
	forwardParams = []param{
		{name: "host", typ: paramString},
		{name: "audio_port", typ: paramInteger, max: maxPort},
		{name: "video_port", typ: paramInteger, max: maxPort},
		{name: "data_port", typ: paramInteger, max: maxPort},
		{name: "audio_pt", typ: paramInteger, max: maxPayloadType},
		{name: "video_pt", typ: paramInteger, max: maxPayloadType},
		{name: "audio_ssrc", typ: paramInteger, max: math.MaxUint32},
		{name: "video_ssrc", typ: paramInteger, max: math.MaxUint32},
	}
	configureParams = []param{
		{name: "audio", typ: paramBool},
		{name: "video", typ: paramBool},
		{name: "bitrate", typ: paramInteger, max: math.MaxUint32},
	}
)

// parseRequest decodes a control message body into a JSON object and checks
// the request field.
func parseRequest(body json.RawMessage) (map[string]any, *Error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, newError(ErrorNoMessage, "No message")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newError(ErrorInvalidJSON, "JSON error: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, newError(ErrorInvalidJSON, "JSON error: trailing data after value")
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, newError(ErrorInvalidJSON, "JSON error: not an object")
	}
	if err := validate(root, requestParams); err != nil {
		return nil, err
	}
	return root, nil
}

func validate(root map[string]any, params []param) *Error {
	for _, p := range params {
		v, ok := root[p.name]
		if !ok || v == nil {
			if p.required {
				return newError(ErrorMissingElement, "Missing mandatory element (%s)", p.name)
			}
			continue
		}
		if !hasType(v, p.typ) {
			return newError(ErrorInvalidElement, "Invalid element type (%s should be %s)", p.name, p.typ)
		}
		if p.typ == paramInteger {
			n, _ := v.(json.Number).Int64()
			if n < 0 || (p.max > 0 && n > p.max) {
				return newError(ErrorInvalidElement, "Invalid value (%s should be between 0 and %d)", p.name, p.max)
			}
		}
	}
	return nil
}

func hasType(v any, typ paramType) bool {
	switch typ {
	case paramString:
		_, ok := v.(string)
		return ok
	case paramBool:
		_, ok := v.(bool)
		return ok
	case paramInteger:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		_, err := n.Int64()
		return err == nil
	}
	return false
}

func stringField(root map[string]any, name, def string) string {
	if s, ok := root[name].(string); ok {
		return s
	}
	return def
}

func intField(root map[string]any, name string) int64 {
	n, ok := root[name].(json.Number)
	if !ok {
		return 0
	}
	v, _ := n.Int64()
	return v
}

func boolField(root map[string]any, name string) *bool {
	b, ok := root[name].(bool)
	if !ok {
		return nil
	}
	return &b
}

func requestName(root map[string]any) string {
	return strings.ToLower(stringField(root, "request", ""))
}

type publishRequest struct {
	name  string
	kind  StreamKind
	host  string
	ports [3]int
}

func parsePublish(root map[string]any, defaultHost string) (publishRequest, error) {
	if err := validate(root, publishParams); err != nil {
		return publishRequest{}, err
	}
	req := publishRequest{
		name: stringField(root, "name", ""),
		kind: StreamSession,
	}
	switch strings.ToLower(stringField(root, "kind", "session")) {
	case "session":
	case "pull":
		req.kind = StreamPull
	default:
		return publishRequest{}, newError(ErrorUnknown, "Invalid publisher kind")
	}
	if req.kind != StreamPull {
		return req, nil
	}

	if err := validate(root, pullParams); err != nil {
		return publishRequest{}, err
	}
	req.host = stringField(root, "host", defaultHost)
	req.ports = portsOf(root)
	if req.ports == [3]int{} {
		return publishRequest{}, newError(ErrorMissingElement, "Missing mandatory element (audio_port, video_port or data_port)")
	}
	return req, nil
}

type subscribeRequest struct {
	name         string
	kind         SubscriberKind
	host         string
	ports        [3]int
	payloadTypes [2]uint8
	ssrcs        [2]uint32
}

func parseSubscribe(root map[string]any, defaultHost string) (subscribeRequest, error) {
	if err := validate(root, subscribeParams); err != nil {
		return subscribeRequest{}, err
	}
	req := subscribeRequest{
		name: stringField(root, "name", ""),
		kind: SubscriberSession,
	}
	switch strings.ToLower(stringField(root, "kind", "session")) {
	case "session":
	case "forward":
		req.kind = SubscriberForward
	default:
		return subscribeRequest{}, newError(ErrorUnknown, "Invalid subscriber kind")
	}
	if req.kind != SubscriberForward {
		return req, nil
	}

	if err := validate(root, forwardParams); err != nil {
		return subscribeRequest{}, err
	}
	req.host = stringField(root, "host", defaultHost)
	req.ports = portsOf(root)
	if req.ports == [3]int{} {
		return subscribeRequest{}, newError(ErrorMissingElement, "Missing mandatory element (audio_port, video_port or data_port)")
	}
	req.payloadTypes = [2]uint8{uint8(intField(root, "audio_pt")), uint8(intField(root, "video_pt"))}
	req.ssrcs = [2]uint32{uint32(intField(root, "audio_ssrc")), uint32(intField(root, "video_ssrc"))}
	return req, nil
}

func portsOf(root map[string]any) [3]int {
	return [3]int{
		MediaAudio: int(intField(root, "audio_port")),
		MediaVideo: int(intField(root, "video_port")),
		MediaData:  int(intField(root, "data_port")),
	}
}

type configureRequest struct {
	audio   *bool
	video   *bool
	bitrate *uint32
}

func parseConfigure(root map[string]any) (configureRequest, error) {
	if err := validate(root, configureParams); err != nil {
		return configureRequest{}, err
	}
	req := configureRequest{
		audio: boolField(root, "audio"),
		video: boolField(root, "video"),
	}
	if _, ok := root["bitrate"]; ok {
		b := uint32(intField(root, "bitrate"))
		req.bitrate = &b
	}
	return req, nil
}
