package session

import (
	"context"
	"net"
	"time"

	"github.com/1ureka/rtcecho/internal/util"
)

// DefaultProbeTimeout bounds the role probe.
const DefaultProbeTimeout = 5 * time.Second

// Role is fixed for the lifetime of a session.
type Role int

const (
	RoleUnknown Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// Phase is a step of the offer/answer exchange. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRoleDetermined
	PhaseOffering
	PhaseAwaitingOffer
	PhaseDescriptionExchanged
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRoleDetermined:
		return "role-determined"
	case PhaseOffering:
		return "offering"
	case PhaseAwaitingOffer:
		return "awaiting-offer"
	case PhaseDescriptionExchanged:
		return "description-exchanged"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DetectRole dials addr over TCP. If something answers, the remote peer is
// already up and we offer; otherwise we wait for its offer.
//
// Both peers probe independently, so two peers started at the same moment
// can both end up answering. Configure the mode explicitly when that matters.
func DetectRole(ctx context.Context, addr string, timeout time.Duration) Role {
	if addr == "" {
		return RoleAnswerer
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		util.LogDebug("role probe to %s failed: %v", addr, err)
		return RoleAnswerer
	}
	conn.Close()
	return RoleOfferer
}
