package pubsub

import (
	"github.com/pion/rtcp"
)

// rembBitrate returns the lowest REMB estimate carried by a compound RTCP
// packet.
func rembBitrate(buf []byte) (float32, bool) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return 0, false
	}
	found := false
	var lowest float32
	for _, p := range packets {
		remb, ok := p.(*rtcp.ReceiverEstimatedMaximumBitrate)
		if !ok {
			continue
		}
		if !found || remb.Bitrate < lowest {
			lowest = remb.Bitrate
		}
		found = true
	}
	return lowest, found
}

// capREMB returns a copy of buf with every REMB estimate above limit lowered
// to limit. changed is false when nothing exceeded the cap.
func capREMB(buf []byte, limit uint32) (out []byte, changed bool, err error) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, false, err
	}
	for _, p := range packets {
		remb, ok := p.(*rtcp.ReceiverEstimatedMaximumBitrate)
		if !ok || remb.Bitrate <= float32(limit) {
			continue
		}
		remb.Bitrate = float32(limit)
		changed = true
	}
	if !changed {
		return buf, false, nil
	}
	out, err = rtcp.Marshal(packets)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func pliPacket(mediaSSRC uint32) []byte {
	buf, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: mediaSSRC}})
	if err != nil {
		return nil
	}
	return buf
}
