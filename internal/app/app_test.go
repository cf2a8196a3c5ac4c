package app

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"

	"github.com/1ureka/rtcecho/internal/config"
	"github.com/1ureka/rtcecho/internal/session"
)

func newVNetPair(t *testing.T) (*vnet.Net, *vnet.Net) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	for _, n := range []*vnet.Net{netA, netB} {
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net: %v", err)
		}
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return netA, netB
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func testConfig(mode config.Mode, remote string) *config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.RemoteAddress = remote
	cfg.ICEServers = []string{}
	cfg.ConnectTimeout = 20 * time.Second
	cfg.AutoMessageInterval = time.Hour
	cfg.SignalRetryDelay = 50 * time.Millisecond
	return cfg
}

// An offerer and an answerer signal over loopback HTTP, connect over a
// virtual network, and a console line typed on the offerer reaches the
// answerer unchanged.
func TestPeers_EchoOverDataChannel(t *testing.T) {
	netA, netB := newVNetPair(t)
	lnA, lnB := listen(t), listen(t)

	inputA, typeA := io.Pipe()
	inputB, typeB := io.Pipe()
	defer typeA.Close()
	defer typeB.Close()

	received := make(chan string, 4)

	a, err := New(testConfig(config.ModeOffer, lnB.Addr().String()), Options{
		Listener: lnA,
		Net:      netA,
		Input:    inputA,
	})
	if err != nil {
		t.Fatalf("new offerer: %v", err)
	}
	b, err := New(testConfig(config.ModeAnswer, lnA.Addr().String()), Options{
		Listener:  lnB,
		Net:       netB,
		Input:     inputB,
		OnMessage: func(text string) { received <- text },
	})
	if err != nil {
		t.Fatalf("new answerer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneB <- b.Run(ctx) }()
	go func() { doneA <- a.Run(ctx) }()

	go func() { _, _ = io.WriteString(typeA, "hello from A\n") }()

	select {
	case got := <-received:
		if got != "hello from A" {
			t.Fatalf("answerer received %q", got)
		}
	case err := <-doneA:
		t.Fatalf("offerer stopped early: %v", err)
	case err := <-doneB:
		t.Fatalf("answerer stopped early: %v", err)
	case <-ctx.Done():
		t.Fatalf("message never arrived")
	}

	if a.Session().Role() != session.RoleOfferer || b.Session().Role() != session.RoleAnswerer {
		t.Fatalf("roles: a=%s b=%s", a.Session().Role(), b.Session().Role())
	}
	if a.Session().Phase() != session.PhaseConnected {
		t.Fatalf("offerer phase = %s", a.Session().Phase())
	}

	go func() { _, _ = io.WriteString(typeA, "quit\n") }()
	select {
	case err := <-doneA:
		if err != nil {
			t.Fatalf("offerer: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("offerer did not stop after quit")
	}
	if a.Session().Phase() != session.PhaseClosed {
		t.Fatalf("offerer phase after quit = %s", a.Session().Phase())
	}

	cancel()
	select {
	case err := <-doneB:
		if err != nil {
			t.Fatalf("answerer: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("answerer did not stop after cancel")
	}
}

func TestPeer_StartupFailsWhenOfferUndeliverable(t *testing.T) {
	// Reserve a port and release it so nothing answers there.
	dead := listen(t)
	remote := dead.Addr().String()
	dead.Close()

	cfg := testConfig(config.ModeOffer, remote)
	cfg.SignalAttempts = 2
	cfg.SignalRetryDelay = 0

	p, err := New(cfg, Options{Listener: listen(t), Input: eofReader{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = p.Run(ctx)
	if err == nil {
		t.Fatalf("run succeeded without a remote peer")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run hung until the deadline: %v", err)
	}
	if p.Session().Phase() != session.PhaseClosed {
		t.Fatalf("phase = %s", p.Session().Phase())
	}
}

// The connect timeout only starts once the descriptions are exchanged, so an
// answerer whose peer has not launched yet keeps waiting.
func TestPeer_WaitsForLatePeerPastConnectTimeout(t *testing.T) {
	cfg := testConfig(config.ModeAnswer, "")
	cfg.ConnectTimeout = 50 * time.Millisecond

	p, err := New(cfg, Options{Listener: listen(t), Input: eofReader{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("run stopped before any peer showed up: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestPeer_ListenErrorIsFatal(t *testing.T) {
	busy := listen(t)
	defer busy.Close()

	host, port, _ := net.SplitHostPort(busy.Addr().String())
	cfg := testConfig(config.ModeAnswer, "")
	cfg.BindHost = host
	cfg.Port = port

	if _, err := New(cfg, Options{}); err == nil {
		t.Fatalf("expected listen error on a busy port")
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
