package api

import (
	"errors"
	"fmt"
)

// Media travels in binary websocket frames: one header byte, then the
// packet. Bits 0-1 of the header carry the FrameKind, bit 7 marks RTCP.
type FrameKind uint8

const (
	FrameAudio FrameKind = iota
	FrameVideo
	FrameData
)

const (
	frameKindMask = 0x03
	frameRTCP     = 0x80
)

var ErrShortFrame = errors.New("media frame too short")

type Frame struct {
	Kind    FrameKind
	RTCP    bool
	Payload []byte
}

func (k FrameKind) String() string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameVideo:
		return "video"
	case FrameData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	header := byte(f.Kind) & frameKindMask
	if f.RTCP {
		header |= frameRTCP
	}
	dst = append(dst, header)
	return append(dst, f.Payload...)
}

func EncodeFrame(f Frame) []byte {
	return AppendFrame(make([]byte, 0, len(f.Payload)+1), f)
}

// DecodeFrame parses buf. The payload aliases buf.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, ErrShortFrame
	}
	f := Frame{
		Kind:    FrameKind(buf[0] & frameKindMask),
		RTCP:    buf[0]&frameRTCP != 0,
		Payload: buf[1:],
	}
	if f.Kind > FrameData {
		return Frame{}, fmt.Errorf("invalid media frame kind %d", f.Kind)
	}
	if f.Kind == FrameData && f.RTCP {
		return Frame{}, errors.New("data frames cannot carry rtcp")
	}
	return f, nil
}
