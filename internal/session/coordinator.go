// Package session drives the offer/answer exchange for one peer connection.
//
// A Coordinator owns the engine handle, the remote signaling address, the
// buffer of early remote candidates and the active DataChannel. Inbound
// signaling arrives through HandleSessionDescription / HandleCandidate (it
// implements signaling.Handler); engine callbacks arrive as events consumed
// by Run.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcecho/internal/engine"
	"github.com/1ureka/rtcecho/internal/signaling"
	"github.com/1ureka/rtcecho/internal/util"
)

// DefaultChannelLabel names the DataChannel the offerer creates.
const DefaultChannelLabel = "chat"

// Engine is the part of engine.Peer the coordinator drives.
type Engine interface {
	Events() <-chan engine.Event
	CreateDataChannel(label string) (engine.Channel, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	ConnectionState() engine.State
	Close() error
}

// Prober decides the role when none is configured.
type Prober func(ctx context.Context, addr string, timeout time.Duration) Role

// Options configures a Coordinator.
type Options struct {
	// Role fixes the role. RoleUnknown runs Prober against RemoteAddress.
	Role Role
	// RemoteAddress is where outbound signaling goes. Empty disables sending.
	RemoteAddress string

	Prober       Prober        // nil selects DetectRole
	ProbeTimeout time.Duration // 0 selects DefaultProbeTimeout

	// BufferLimit caps early remote candidates. 0 means unbounded.
	BufferLimit int

	ChannelLabel string

	// OnMessage receives every inbound text message.
	OnMessage func(text string)
}

// Coordinator is the signaling state machine for one session.
type Coordinator struct {
	eng  Engine
	sig  signaling.Signaler
	opts Options
	id   string
	log  util.SessionLogger

	// ctx bounds outbound signaling started from inbound handlers.
	ctx    context.Context
	cancel context.CancelFunc

	buffer *CandidateBuffer

	remoteReady chan struct{}
	remoteOnce  sync.Once

	mu      sync.RWMutex
	phase   Phase
	role    Role
	started bool

	chMu      sync.RWMutex
	channel   engine.Channel
	channelUp bool

	channelReady chan struct{}
	readyOnce    sync.Once

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates an idle Coordinator. sig may be nil when nothing is ever sent.
func New(eng Engine, sig signaling.Signaler, opts Options) *Coordinator {
	if opts.Prober == nil {
		opts.Prober = DetectRole
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = DefaultChannelLabel
	}

	id := uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		eng:          eng,
		sig:          sig,
		opts:         opts,
		id:           id,
		log:          util.ForSession(id),
		role:         opts.Role,
		ctx:          ctx,
		cancel:       cancel,
		buffer:       NewCandidateBuffer(opts.BufferLimit),
		remoteReady:  make(chan struct{}),
		channelReady: make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// ID is a short random identifier used in log lines.
func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// advance moves the phase forward. It never moves backward, so a late
// transition cannot undo Connected or Closed.
func (c *Coordinator) advance(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p <= c.phase {
		return
	}
	c.log.Debug("phase %s -> %s", c.phase, p)
	c.phase = p
}

// RemoteDescriptionSet is closed once the remote description is in place,
// which completes the offer/answer exchange on either side.
func (c *Coordinator) RemoteDescriptionSet() <-chan struct{} { return c.remoteReady }

// ChannelReady is closed once a DataChannel has opened.
func (c *Coordinator) ChannelReady() <-chan struct{} { return c.channelReady }

// Buffered reports how many remote candidates are waiting for the remote
// description.
func (c *Coordinator) Buffered() int { return c.buffer.Len() }

// ---------------------------------------------------------------------------
// Startup
// ---------------------------------------------------------------------------

// Start fixes the role and, for the offerer, creates the DataChannel and
// sends the offer. The answerer just waits for one.
//
// A configured role is fixed from New on. In auto mode an offer that
// arrives before Start has probed makes this peer the answerer.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("start: session already started (%s)", c.phase)
	}
	c.started = true
	c.mu.Unlock()

	role := c.opts.Role
	if role == RoleUnknown {
		c.log.Info("probing %s to pick a role", c.opts.RemoteAddress)
		role = c.opts.Prober(ctx, c.opts.RemoteAddress, c.opts.ProbeTimeout)
	}

	c.mu.Lock()
	if c.role == RoleUnknown {
		c.role = role
	}
	role = c.role
	c.mu.Unlock()
	c.advance(PhaseRoleDetermined)
	c.log.Info("acting as %s", role)

	if role != RoleOfferer {
		c.advance(PhaseAwaitingOffer)
		return nil
	}
	return c.offer(ctx)
}

func (c *Coordinator) offer(ctx context.Context) error {
	ch, err := c.eng.CreateDataChannel(c.opts.ChannelLabel)
	if err != nil {
		return c.engineErr("create data channel", err)
	}
	c.chMu.Lock()
	c.channel = ch
	c.chMu.Unlock()

	offer, err := c.eng.CreateOffer()
	if err != nil {
		return c.engineErr("create offer", err)
	}
	if err := c.eng.SetLocalDescription(offer); err != nil {
		return c.engineErr("set local offer", err)
	}
	c.advance(PhaseOffering)

	return c.send(ctx, signaling.KindSDP, signaling.SessionDescriptionFromPion(offer))
}

// ---------------------------------------------------------------------------
// Inbound signaling
// ---------------------------------------------------------------------------

// HandleSessionDescription sets desc as the remote description, applies the
// buffered candidates in arrival order and, for the answerer, replies with
// an answer.
func (c *Coordinator) HandleSessionDescription(desc webrtc.SessionDescription) error {
	if c.isClosed() {
		return ErrSessionClosed
	}
	if desc.Type == webrtc.SDPTypeOffer && c.Role() == RoleOfferer {
		c.log.Warning("rejecting remote offer")
		return ErrUnexpectedOffer
	}

	applied, err := c.buffer.Resolve(
		func() error {
			if err := c.eng.SetRemoteDescription(desc); err != nil {
				return c.engineErr("set remote "+desc.Type.String(), err)
			}
			return nil
		},
		c.eng.AddICECandidate,
		func(cand webrtc.ICECandidateInit, err error) {
			c.log.Warning("failed to apply buffered candidate %q: %v", cand.Candidate, err)
		},
	)
	if err != nil {
		if errors.Is(err, ErrDescriptionAlreadySet) {
			c.log.Warning("ignoring second remote %s", desc.Type)
		}
		return err
	}
	c.remoteOnce.Do(func() { close(c.remoteReady) })
	c.log.Info("remote %s set, applied %d buffered candidates", desc.Type, applied)

	if desc.Type != webrtc.SDPTypeOffer || !c.claimAnswerer() {
		c.advance(PhaseDescriptionExchanged)
		return nil
	}

	answer, err := c.eng.CreateAnswer()
	if err != nil {
		return c.engineErr("create answer", err)
	}
	if err := c.eng.SetLocalDescription(answer); err != nil {
		return c.engineErr("set local answer", err)
	}
	c.advance(PhaseDescriptionExchanged)

	// The offer itself was accepted; a lost answer is logged by send.
	_ = c.send(c.ctx, signaling.KindSDP, signaling.SessionDescriptionFromPion(answer))
	return nil
}

// HandleCandidate applies a remote candidate at once when the remote
// description is set and buffers it otherwise.
func (c *Coordinator) HandleCandidate(cand webrtc.ICECandidateInit) error {
	if c.isClosed() {
		return ErrSessionClosed
	}

	queued, err := c.buffer.Add(cand, c.eng.AddICECandidate)
	if err != nil {
		if queued {
			c.log.Warning("dropping remote candidate: %v", err)
			return err
		}
		return c.engineErr("add candidate", err)
	}
	if queued {
		c.log.Debug("buffered remote candidate (%d pending)", c.buffer.Len())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

// Run consumes engine events until ctx is cancelled or the session closes.
//
// Local candidates gathered before the remote description is set are held
// and sent, in order, right after it is set.
func (c *Coordinator) Run(ctx context.Context) error {
	var held []webrtc.ICECandidateInit
	remoteReady := c.remoteReady

	flush := func() {
		for _, cand := range held {
			_ = c.send(ctx, signaling.KindCandidate, signaling.CandidateFromPion(cand))
		}
		held = nil
		remoteReady = nil
	}

	events := c.eng.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.closed:
			return nil

		case <-remoteReady:
			flush()

		case ev := <-events:
			if c.isClosed() {
				return nil
			}
			switch ev.Kind {
			case engine.EventCandidate:
				if remoteReady != nil && !isDone(remoteReady) {
					held = append(held, ev.Candidate)
					continue
				}
				if remoteReady != nil {
					flush()
				}
				_ = c.send(ctx, signaling.KindCandidate, signaling.CandidateFromPion(ev.Candidate))

			case engine.EventDataChannel:
				c.chMu.Lock()
				c.channel = ev.Channel
				c.channelUp = false
				c.chMu.Unlock()

			case engine.EventChannelOpen:
				c.chMu.Lock()
				c.channel = ev.Channel
				c.channelUp = true
				c.chMu.Unlock()
				c.readyOnce.Do(func() { close(c.channelReady) })
				c.log.Success("DataChannel %q is open", ev.Channel.Label())

			case engine.EventMessage:
				util.Stats.AddRecv(len(ev.Text))
				if c.opts.OnMessage != nil {
					c.opts.OnMessage(ev.Text)
				}

			case engine.EventStateChange:
				c.log.Info("connection state: %s", ev.State)
				if ev.State == engine.StateConnected {
					c.advance(PhaseConnected)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Messaging and lifecycle
// ---------------------------------------------------------------------------

// SendMessage writes text to the open DataChannel.
func (c *Coordinator) SendMessage(text string) error {
	c.chMu.RLock()
	ch, up := c.channel, c.channelUp
	c.chMu.RUnlock()

	if ch == nil || !up {
		return ErrChannelNotReady
	}
	if err := ch.SendText(text); err != nil {
		return c.engineErr("send message", err)
	}
	util.Stats.AddSent(len(text))
	return nil
}

// AwaitConnected polls the engine every poll interval until it reports
// StateConnected. timeout <= 0 waits without bound.
func (c *Coordinator) AwaitConnected(ctx context.Context, poll, timeout time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		state := c.eng.ConnectionState()
		switch {
		case state == engine.StateConnected:
			c.advance(PhaseConnected)
			return nil
		case state.Terminal():
			return fmt.Errorf("%w: engine state %s", ErrConnectionFailed, state)
		}

		select {
		case <-ticker.C:
		case <-c.closed:
			return ErrSessionClosed
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s (state %s)", ErrConnectionTimeout, timeout, state)
			}
			return ctx.Err()
		}
	}
}

// Close releases the DataChannel and the engine. It is safe to call more
// than once.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closed)

		c.chMu.Lock()
		ch := c.channel
		c.channel, c.channelUp = nil, false
		c.chMu.Unlock()

		var errs []error
		if ch != nil {
			errs = append(errs, ch.Close())
		}
		errs = append(errs, c.eng.Close())
		c.closeErr = errors.Join(errs...)

		c.mu.Lock()
		c.phase = PhaseClosed
		c.mu.Unlock()
		c.log.Info("session closed")
	})
	return c.closeErr
}

// claimAnswerer reports whether this peer answers, taking the answerer role
// if neither configuration nor a probe has fixed one yet.
func (c *Coordinator) claimAnswerer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == RoleUnknown {
		c.role = RoleAnswerer
	}
	return c.role == RoleAnswerer
}

func (c *Coordinator) isClosed() bool { return isDone(c.closed) }

// send delivers one outbound message, logging and returning any failure.
// An empty remote address skips the send.
func (c *Coordinator) send(ctx context.Context, kind signaling.Kind, payload any) error {
	if c.opts.RemoteAddress == "" || c.sig == nil {
		c.log.Warning("no remote address, not sending %s", kind)
		return nil
	}
	if err := c.sig.Send(ctx, kind, payload); err != nil {
		c.log.Error("%v", err)
		return err
	}
	return nil
}

func (c *Coordinator) engineErr(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
	c.log.Error("%v", wrapped)
	return wrapped
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
