// Package engine adapts a pion PeerConnection into the small surface the
// session coordinator needs. Every engine callback (trickle candidate, inbound
// DataChannel, channel open, inbound message, connection state change) is
// turned into a typed Event pushed onto a single channel.
package engine

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcecho/internal/util"
)

// DefaultICEServers are used when Config.ICEServers is nil. No TURN: the
// peers are expected to reach each other directly.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
}

const defaultEventBuffer = 64

// Config controls how the underlying pion API is built.
type Config struct {
	// ICEServers lists STUN/TURN URLs. nil selects DefaultICEServers; an empty
	// non-nil slice disables them.
	ICEServers []string

	// Net replaces the OS network stack, e.g. with a vnet for tests.
	Net *vnet.Net

	// LoggerFactory receives pion's internal logs. nil keeps pion's default.
	LoggerFactory logging.LoggerFactory

	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// Peer wraps a single PeerConnection. Its lifecycle ends with Close.
type Peer struct {
	pc *webrtc.PeerConnection

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a PeerConnection from cfg and starts forwarding its callbacks as
// events. The caller must drain Events until Close.
func New(cfg Config) (*Peer, error) {
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)

	urls := cfg.ICEServers
	if urls == nil {
		urls = DefaultICEServers
	}
	var iceServers []webrtc.ICEServer
	if len(urls) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: urls}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	size := cfg.EventBuffer
	if size <= 0 {
		size = defaultEventBuffer
	}

	p := &Peer{
		pc:     pc,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle has nothing to send for it.
		if c == nil {
			util.LogDebug("ICE gathering complete")
			return
		}
		p.emit(Event{Kind: EventCandidate, Candidate: c.ToJSON()})
	})

	pc.OnDataChannel(func(d *webrtc.DataChannel) {
		util.LogInfo("new DataChannel %q from remote", d.Label())
		ch := p.wrap(d)
		p.emit(Event{Kind: EventDataChannel, Channel: ch})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state := stateFromPion(s)
		util.LogDebug("PeerConnection state: %s", state)
		p.emit(Event{Kind: EventStateChange, State: state})
	})

	return p, nil
}

// emit blocks until the event is queued or the peer is closed, so trickle
// candidates are never dropped under a slow consumer.
func (p *Peer) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Events returns the channel carrying every engine event.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateDataChannel opens a reliable, ordered DataChannel. Messages from a
// single producer must arrive in order for a chat.
func (p *Peer) CreateDataChannel(label string) (Channel, error) {
	d, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return p.wrap(d), nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

// AddICECandidate applies a remote candidate received through signaling.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// ConnectionState reads the current PeerConnection state.
func (p *Peer) ConnectionState() State {
	return stateFromPion(p.pc.ConnectionState())
}

// Close shuts down the PeerConnection. Calling it again is a no-op.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
	})
	return err
}
