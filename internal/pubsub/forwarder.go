package pubsub

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/pion/rtp"
)

type writer interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Forwarder is one UDP destination of a forward subscriber. A non-zero
// payload type or SSRC is written into the RTP header for the duration of
// each send.
type Forwarder struct {
	id          uint32
	addr        *net.UDPAddr
	kind        MediaKind
	payloadType uint8
	ssrc        uint32
}

func NewForwarder(host string, port int, kind MediaKind, payloadType uint8, ssrc uint32) (*Forwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forwarder address: %w", err)
	}
	return &Forwarder{
		addr:        addr,
		kind:        kind,
		payloadType: payloadType & 0x7f,
		ssrc:        ssrc,
	}, nil
}

func (f *Forwarder) ID() uint32 {
	return f.id
}

func (f *Forwarder) Addr() *net.UDPAddr {
	return f.addr
}

func (f *Forwarder) Kind() MediaKind {
	return f.kind
}

func (f *Forwarder) rewrites() bool {
	return f.kind != MediaData && (f.payloadType != 0 || f.ssrc != 0)
}

// send writes buf to the destination. When rewriting, buf is modified in
// place and restored before send returns.
func (f *Forwarder) send(conn writer, buf []byte) error {
	if !f.rewrites() {
		_, err := conn.WriteToUDP(buf, f.addr)
		return err
	}

	var header rtp.Header
	if _, err := header.Unmarshal(buf); err != nil {
		return fmt.Errorf("failed to parse rtp header: %w", err)
	}

	saved := buf[1]
	var ssrc [4]byte
	copy(ssrc[:], buf[8:12])

	if f.payloadType != 0 {
		buf[1] = saved&0x80 | f.payloadType
	}
	if f.ssrc != 0 {
		binary.BigEndian.PutUint32(buf[8:12], f.ssrc)
	}

	_, err := conn.WriteToUDP(buf, f.addr)

	buf[1] = saved
	copy(buf[8:12], ssrc[:])
	return err
}

type ForwarderInfo struct {
	ID          uint32 `json:"id"`
	Addr        string `json:"addr"`
	Media       string `json:"media"`
	PayloadType uint8  `json:"payload_type,omitempty"`
	SSRC        uint32 `json:"ssrc,omitempty"`
}

func (f *Forwarder) Info() ForwarderInfo {
	return ForwarderInfo{
		ID:          f.id,
		Addr:        f.addr.String(),
		Media:       f.kind.String(),
		PayloadType: f.payloadType,
		SSRC:        f.ssrc,
	}
}
