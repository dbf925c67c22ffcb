// Package negotiation reads and rewrites the SDP carried by publish and
// subscribe requests. It never terminates media: the answer it produces only
// mirrors the offer with directions flipped, the transport finishes the rest.
package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/pubsub"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrNotOffer = errors.New("description is not an offer")

const (
	sendrecv = "sendrecv"
	sendonly = "sendonly"
	recvonly = "recvonly"
	inactive = "inactive"
)

type SDP struct{}

func New() *SDP {
	return &SDP{}
}

// Answer completes a publisher offer. The returned Offer is what session
// subscribers of the stream are handed: the same media, send-only.
func (n *SDP) Answer(offer pubsub.JSEP) (pubsub.Negotiation, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return pubsub.Negotiation{}, fmt.Errorf("%w: %s", ErrNotOffer, offer.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return pubsub.Negotiation{}, err
	}

	res := flags(&parsed)

	answer, err := derive(&parsed, true)
	if err != nil {
		return pubsub.Negotiation{}, err
	}
	forward, err := derive(&parsed, false)
	if err != nil {
		return pubsub.Negotiation{}, err
	}
	res.Answer = &pubsub.JSEP{Type: webrtc.SDPTypeAnswer, SDP: answer}
	res.Offer = &pubsub.JSEP{Type: webrtc.SDPTypeOffer, SDP: forward}
	return res, nil
}

// Inspect reports which media a description carries.
func (n *SDP) Inspect(desc pubsub.JSEP) (pubsub.Negotiation, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return pubsub.Negotiation{}, err
	}
	return flags(&parsed), nil
}

func flags(desc *sdp.SessionDescription) pubsub.Negotiation {
	var res pubsub.Negotiation
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Port.Value == 0 {
			continue
		}
		switch md.MediaName.Media {
		case "audio":
			res.HasAudio = true
		case "video":
			res.HasVideo = true
		case "application":
			res.HasData = true
		default:
			for _, proto := range md.MediaName.Protos {
				if strings.Contains(proto, "SCTP") {
					res.HasData = true
				}
			}
		}
	}
	return res
}

func direction(md *sdp.MediaDescription) string {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case sendrecv, sendonly, recvonly, inactive:
			return attr.Key
		}
	}
	return sendrecv
}

func answerDirection(offered string) string {
	switch offered {
	case sendrecv, sendonly:
		return recvonly
	}
	return inactive
}

func forwardDirection(offered string) string {
	switch offered {
	case sendrecv, sendonly:
		return sendonly
	}
	return inactive
}

func answerSetup(offered string) string {
	switch offered {
	case "active":
		return "passive"
	case "passive":
		return "active"
	}
	return "active"
}

// derive copies desc with every audio/video direction rewritten, either as
// our answer to it or as the offer relayed to subscribers. desc is not
// modified.
func derive(desc *sdp.SessionDescription, answer bool) (string, error) {
	flip := forwardDirection
	if answer {
		flip = answerDirection
	}
	out := *desc
	out.MediaDescriptions = make([]*sdp.MediaDescription, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		cp := *md
		cp.Attributes = make([]sdp.Attribute, 0, len(md.Attributes))
		rewrite := md.MediaName.Media == "audio" || md.MediaName.Media == "video"
		dir := direction(md)
		hasDirection := false
		for _, attr := range md.Attributes {
			switch attr.Key {
			case sendrecv, sendonly, recvonly, inactive:
				if rewrite {
					attr = sdp.NewPropertyAttribute(flip(dir))
				}
				hasDirection = true
			case "setup":
				if answer {
					attr = sdp.NewAttribute("setup", answerSetup(attr.Value))
				}
			}
			cp.Attributes = append(cp.Attributes, attr)
		}
		if rewrite && !hasDirection {
			cp.Attributes = append(cp.Attributes, sdp.NewPropertyAttribute(flip(dir)))
		}
		out.MediaDescriptions = append(out.MediaDescriptions, &cp)
	}

	buf, err := out.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal sdp: %w", err)
	}
	return string(buf), nil
}
