package engine

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcecho/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// ErrPeerClosed is returned by a send blocked on backpressure when the peer
// closes.
var ErrPeerClosed = errors.New("peer connection closed")

// Channel is the outbound side of a DataChannel.
type Channel interface {
	Label() string
	SendText(text string) error
	Close() error
}

// dataChannel wraps a pion DataChannel and reports its open/message
// callbacks as events on the owning Peer. Writes are serialized and paused
// while the SCTP send buffer is above highWaterMark.
type dataChannel struct {
	raw  *webrtc.DataChannel
	done <-chan struct{}

	mu          sync.Mutex
	drainSignal chan struct{}
}

func (p *Peer) wrap(raw *webrtc.DataChannel) *dataChannel {
	ch := &dataChannel{
		raw:         raw,
		done:        p.done,
		drainSignal: make(chan struct{}, 1),
	}

	raw.SetBufferedAmountLowThreshold(lowWaterMark)
	raw.OnBufferedAmountLow(func() {
		select {
		case ch.drainSignal <- struct{}{}:
		default:
		}
	})

	raw.OnOpen(func() {
		util.LogDebug("DataChannel %q open", raw.Label())
		p.emit(Event{Kind: EventChannelOpen, Channel: ch})
	})

	raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.emit(Event{Kind: EventMessage, Text: string(msg.Data)})
	})

	raw.OnClose(func() {
		util.LogDebug("DataChannel %q closed", raw.Label())
	})

	return ch
}

func (c *dataChannel) Label() string { return c.raw.Label() }

// SendText writes one text message. It fails unless the channel is open.
func (c *dataChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.raw.BufferedAmount() > highWaterMark {
		util.LogDebug("DataChannel %q buffer above %d bytes, waiting", c.raw.Label(), highWaterMark)
		select {
		case <-c.drainSignal:
		case <-c.done:
			return ErrPeerClosed
		}
	}
	return c.raw.SendText(text)
}

func (c *dataChannel) Close() error { return c.raw.Close() }
