package session

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrive before the remote
// description is set.
//
// One mutex guards both the pending list and the "remote description set"
// flag, so the check-then-push in Add and the set-then-drain in Resolve are
// atomic with respect to each other: a candidate either lands in the buffer
// before the drain or is applied directly after it, never in between.
type CandidateBuffer struct {
	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	limit     int // 0 means unbounded
}

// NewCandidateBuffer creates an empty buffer. limit <= 0 disables the cap.
func NewCandidateBuffer(limit int) *CandidateBuffer {
	if limit < 0 {
		limit = 0
	}
	return &CandidateBuffer{limit: limit}
}

// Push queues c unconditionally (subject to the cap).
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushLocked(c)
}

func (b *CandidateBuffer) pushLocked(c webrtc.ICECandidateInit) error {
	if b.limit > 0 && len(b.pending) >= b.limit {
		return fmt.Errorf("%w: %d pending candidates", ErrCandidateBufferFull, len(b.pending))
	}
	b.pending = append(b.pending, c)
	return nil
}

// DrainAll returns the pending candidates in arrival order and empties the buffer.
func (b *CandidateBuffer) DrainAll() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

func (b *CandidateBuffer) drainLocked() []webrtc.ICECandidateInit {
	out := b.pending
	b.pending = nil
	return out
}

// Len reports how many candidates are waiting.
func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// IsRemoteDescriptionSet reports whether Resolve has succeeded.
func (b *CandidateBuffer) IsRemoteDescriptionSet() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteSet
}

// Add applies c through apply when the remote description is already set,
// otherwise it queues c. queued reports which happened.
func (b *CandidateBuffer) Add(c webrtc.ICECandidateInit, apply func(webrtc.ICECandidateInit) error) (queued bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.remoteSet {
		return true, b.pushLocked(c)
	}
	return false, apply(c)
}

// Resolve runs setRemote and, if it succeeds, marks the remote description
// as set and applies every queued candidate in arrival order. A failing
// candidate is reported through onFail and does not stop the drain.
//
// A second Resolve fails with ErrDescriptionAlreadySet without calling
// setRemote. If setRemote fails the buffer is left untouched.
func (b *CandidateBuffer) Resolve(
	setRemote func() error,
	apply func(webrtc.ICECandidateInit) error,
	onFail func(webrtc.ICECandidateInit, error),
) (applied int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remoteSet {
		return 0, ErrDescriptionAlreadySet
	}
	if err := setRemote(); err != nil {
		return 0, err
	}
	b.remoteSet = true

	for _, c := range b.drainLocked() {
		if err := apply(c); err != nil {
			if onFail != nil {
				onFail(c, err)
			}
			continue
		}
		applied++
	}
	return applied, nil
}
