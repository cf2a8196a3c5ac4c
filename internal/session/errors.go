package session

import "errors"

var (
	// ErrEngine wraps a failed call into the WebRTC engine. The operation that
	// hit it is abandoned; the session keeps running.
	ErrEngine = errors.New("engine error")
	// ErrChannelNotReady is returned by SendMessage before a DataChannel is open.
	ErrChannelNotReady = errors.New("data channel not ready")
	// ErrConnectionTimeout is returned by AwaitConnected when its bound expires.
	ErrConnectionTimeout = errors.New("timed out waiting for connection")
	// ErrConnectionFailed is returned by AwaitConnected when the engine reaches
	// a state from which it cannot connect.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrCandidateBufferFull is returned when a misbehaving peer trickles more
	// early candidates than the buffer accepts.
	ErrCandidateBufferFull = errors.New("candidate buffer full")
	// ErrDescriptionAlreadySet rejects a second local or remote description.
	ErrDescriptionAlreadySet = errors.New("session description already set")
	// ErrUnexpectedOffer rejects a remote offer sent to the offerer.
	ErrUnexpectedOffer = errors.New("unexpected offer: this peer is the offerer")
	// ErrSessionClosed is returned by inbound handlers and AwaitConnected once
	// Close has run.
	ErrSessionClosed = errors.New("session closed")
)
