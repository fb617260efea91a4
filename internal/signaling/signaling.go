// Package signaling builds the WebRTC payloads relayed through a call room.
// Offers and answers come from real pion peer connections so the SDP the
// harness sends is something a browser would also produce; no media flows
// and no ICE gathering is started.
package signaling

import (
	"errors"
	"fmt"
	"log"

	"github.com/pion/webrtc/v4"

	"callprobe/pkg/types"
)

var (
	ErrEmptySDP      = errors.New("SDP is empty")
	ErrInvalidSDP    = errors.New("SDP does not parse")
	ErrMissingCallID = errors.New("callId is required")
)

// Emitter is the part of a session signaling needs
type Emitter interface {
	Emit(event string, payload any) error
}

// newPeer creates a peer connection with no ICE servers. The harness only
// negotiates descriptions, so nothing needs to be reachable.
func newPeer() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return pc, nil
}

func closePeer(pc *webrtc.PeerConnection) {
	if err := pc.Close(); err != nil {
		log.Printf("[Signaling] closing peer connection: %v", err)
	}
}

// NewOffer returns an offer with one audio, one video and one data section,
// the shape a staff or kiosk client opens a call with.
func NewOffer() (webrtc.SessionDescription, error) {
	pc, err := newPeer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	defer closePeer(pc)

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("adding %s transceiver: %w", kind, err)
		}
	}
	// TECHNICAL DISCOVERY: A data channel forces an application section into
	// the SDP, matching what the browser clients negotiate for chat.
	if _, err := pc.CreateDataChannel("chat", nil); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating SDP offer: %w", err)
	}
	return offer, nil
}

// AnswerFor returns an answer to offer from a fresh peer connection
func AnswerFor(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: expected offer, got %s", ErrInvalidSDP, offer.Type)
	}
	if err := Validate(offer.SDP); err != nil {
		return webrtc.SessionDescription{}, err
	}

	pc, err := newPeer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	defer closePeer(pc)

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating SDP answer: %w", err)
	}
	return answer, nil
}

// Validate checks that sdp parses as a session description
func Validate(sdp string) error {
	if sdp == "" {
		return ErrEmptySDP
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrInvalidSDP)
	}
	return nil
}

// HostCandidate builds a trickle ICE host candidate for the first media
// section.
func HostCandidate(address string, port uint16) webrtc.ICECandidateInit {
	c := webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    address,
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
	init := c.ToJSON()
	mid := "0"
	index := uint16(0)
	init.SDPMid = &mid
	init.SDPMLineIndex = &index
	return init
}

// SDPPayload wraps a description for the call:sdp relay
func SDPPayload(callID string, desc webrtc.SessionDescription) types.CallSDP {
	return types.CallSDP{CallID: callID, Type: desc.Type.String(), SDP: desc.SDP}
}

// SendSDP emits an offer or answer into the call room
func SendSDP(e Emitter, callID string, desc webrtc.SessionDescription) error {
	if callID == "" {
		return ErrMissingCallID
	}
	if err := Validate(desc.SDP); err != nil {
		return err
	}
	return e.Emit(types.EventCallSDP, SDPPayload(callID, desc))
}

// SendICE emits one trickle candidate into the call room
func SendICE(e Emitter, callID string, candidate webrtc.ICECandidateInit) error {
	if callID == "" {
		return ErrMissingCallID
	}
	return e.Emit(types.EventCallICE, types.CallICE{CallID: callID, Candidate: candidate})
}
