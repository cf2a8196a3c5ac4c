package engine

import (
	"github.com/pion/webrtc/v4"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventCandidate: a local ICE candidate was gathered (Candidate).
	EventCandidate EventKind = iota + 1
	// EventDataChannel: the remote peer opened a DataChannel (Channel).
	EventDataChannel
	// EventChannelOpen: a DataChannel became writable (Channel).
	EventChannelOpen
	// EventMessage: a text message arrived on a DataChannel (Text).
	EventMessage
	// EventStateChange: the connection state moved (State).
	EventStateChange
)

func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventDataChannel:
		return "datachannel"
	case EventChannelOpen:
		return "channel-open"
	case EventMessage:
		return "message"
	case EventStateChange:
		return "state"
	default:
		return "unknown"
	}
}

// Event is a single notification from the engine. Only the field matching
// Kind is meaningful.
type Event struct {
	Kind      EventKind
	Candidate webrtc.ICECandidateInit
	Channel   Channel
	Text      string
	State     State
}

// State mirrors the PeerConnection state. It is owned by the engine; the
// session only observes it.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state can no longer reach StateConnected.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

func stateFromPion(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
