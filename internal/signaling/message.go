// Package signaling carries session descriptions and ICE candidates between
// the two peers before a direct connection exists.
//
// Inbound messages arrive on an HTTP endpoint (POST /sdp, POST /candidate) or
// on a WebSocket (GET /ws). Outbound messages are POSTed to the same paths on
// the remote peer, or written to its WebSocket.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrDecode marks a malformed signaling payload.
var ErrDecode = errors.New("malformed signaling payload")

// Kind names a signaling message; it is also the HTTP path segment.
type Kind string

const (
	KindSDP       Kind = "sdp"
	KindCandidate Kind = "candidate"
	kindError     Kind = "error"
)

// SessionDescription is the wire form of an offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrDecode, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the wire form of a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// DecodeSessionDescription parses a JSON session description body.
func DecodeSessionDescription(body []byte) (webrtc.SessionDescription, error) {
	var wire SessionDescription
	if err := decodeSingle(body, &wire); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if wire.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing sdp", ErrDecode)
	}
	return wire.ToPion()
}

// DecodeCandidate parses a JSON ICE candidate body.
func DecodeCandidate(body []byte) (webrtc.ICECandidateInit, error) {
	var wire Candidate
	if err := decodeSingle(body, &wire); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return wire.ToPion(), nil
}

// decodeSingle decodes exactly one JSON value from body. Unknown fields are
// ignored, so a peer may send keys this side does not know about.
func decodeSingle(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	return nil
}

// envelope frames a signaling message on the WebSocket transport, where a
// single connection carries both kinds.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
