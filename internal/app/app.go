// Package app contains the top-level orchestration for one peer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pion/transport/v4/vnet"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rtcecho/internal/chat"
	"github.com/1ureka/rtcecho/internal/config"
	"github.com/1ureka/rtcecho/internal/engine"
	"github.com/1ureka/rtcecho/internal/session"
	"github.com/1ureka/rtcecho/internal/signaling"
	"github.com/1ureka/rtcecho/internal/util"
)

const (
	pollInterval    = time.Second
	shutdownTimeout = 5 * time.Second
)

// Options carries the collaborators a Peer would otherwise create itself.
type Options struct {
	// Listener replaces the listener on cfg.ListenAddress().
	Listener net.Listener
	// Net replaces the OS network stack for the WebRTC engine.
	Net *vnet.Net
	// Input is the console input. nil selects os.Stdin.
	Input io.Reader
	// OnMessage is called for every inbound message after it is printed.
	OnMessage func(text string)
}

// Peer is one end of the echo chat: a signaling server, a WebRTC session
// and the message loops.
type Peer struct {
	cfg   *config.Config
	input io.Reader

	ln     net.Listener
	server *http.Server
	sig    signaling.Signaler
	coord  *session.Coordinator
}

// Run builds a Peer from cfg and runs it until ctx is cancelled or the
// user quits.
func Run(ctx context.Context, cfg *config.Config) error {
	p, err := New(cfg, Options{})
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

// New binds the signaling listener and creates the engine and coordinator.
// Errors here are startup errors.
func New(cfg *config.Config, opts Options) (*Peer, error) {
	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.ListenAddress())
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddress(), err)
		}
	}

	eng, err := engine.New(engine.Config{
		ICEServers:    cfg.ICEServers,
		Net:           opts.Net,
		LoggerFactory: util.PionLoggerFactory{},
	})
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	policy := signaling.RetryPolicy{Attempts: cfg.SignalAttempts, Delay: cfg.SignalRetryDelay}
	var sig signaling.Signaler
	switch cfg.SignalTransport {
	case config.TransportWebSocket:
		sig = signaling.NewWSClient(cfg.RemoteAddress, policy)
	default:
		sig = signaling.NewClient(cfg.RemoteAddress, policy, nil)
	}

	onMessage := func(text string) {
		chat.PrintInbound(text)
		if opts.OnMessage != nil {
			opts.OnMessage(text)
		}
	}

	coord := session.New(eng, sig, session.Options{
		Role:          roleFor(cfg.Mode),
		RemoteAddress: cfg.RemoteAddress,
		ProbeTimeout:  cfg.ProbeTimeout,
		BufferLimit:   cfg.CandidateBufferLimit,
		OnMessage:     onMessage,
	})

	input := opts.Input
	if input == nil {
		input = os.Stdin
	}

	return &Peer{
		cfg:   cfg,
		input: input,
		ln:    ln,
		server: &http.Server{
			Handler:           signaling.NewServer(coord),
			ReadHeaderTimeout: 10 * time.Second,
		},
		sig:   sig,
		coord: coord,
	}, nil
}

// Addr is the bound signaling address.
func (p *Peer) Addr() string { return p.ln.Addr().String() }

// Session exposes the coordinator, mainly for inspection.
func (p *Peer) Session() *session.Coordinator { return p.coord }

// Run serves signaling, negotiates the session and runs the message loops.
// The server task and the loops are joined before the session is closed.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		util.LogInfo("Server listening on http://%s", p.Addr())
		if err := p.server.Serve(p.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("signaling server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := p.coord.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	runErr := p.converse(gctx)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := p.server.Shutdown(shutdownCtx); err != nil {
		util.LogWarning("signaling server shutdown: %v", err)
	}

	waitErr := g.Wait()

	if ws, ok := p.sig.(*signaling.WSClient); ok {
		_ = ws.Close()
	}
	if err := p.coord.Close(); err != nil {
		util.LogWarning("close session: %v", err)
	}

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, waitErr)
}

// converse negotiates the session, waits for the DataChannel and runs the
// console and auto-message loops. It returns when the user quits or ctx is
// done.
func (p *Peer) converse(ctx context.Context) error {
	if err := p.coord.Start(ctx); err != nil {
		return err
	}

	// The connect timeout bounds ICE and DTLS only; waiting for a peer that
	// has not started yet is unbounded.
	util.LogInfo("waiting for the remote peer...")
	select {
	case <-p.coord.RemoteDescriptionSet():
	case <-ctx.Done():
		return ctx.Err()
	}

	util.LogInfo("waiting for connection...")
	if err := p.coord.AwaitConnected(ctx, pollInterval, p.cfg.ConnectTimeout); err != nil {
		return err
	}
	select {
	case <-p.coord.ChannelReady():
	case <-ctx.Done():
		return ctx.Err()
	}
	util.LogSuccess("Connection established! You can now start sending messages.")

	util.StartStatsReporter(ctx)

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return chat.AutoLoop(gctx, p.coord, p.cfg.AutoMessageInterval, nil)
	})
	g.Go(func() error {
		err := chat.ConsoleLoop(gctx, p.input, p.coord)
		if errors.Is(err, io.EOF) {
			// No more console input; keep the auto loop going until shutdown.
			util.LogInfo("console input closed")
			return nil
		}
		stop()
		return err
	})
	return g.Wait()
}

func roleFor(m config.Mode) session.Role {
	switch m {
	case config.ModeOffer:
		return session.RoleOfferer
	case config.ModeAnswer:
		return session.RoleAnswerer
	default:
		return session.RoleUnknown
	}
}
