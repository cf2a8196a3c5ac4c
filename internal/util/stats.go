package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide message/signaling counter.
var Stats = &stats{}

type stats struct {
	MsgsSent       atomic.Int64 // text messages written to the DataChannel
	MsgsRecv       atomic.Int64 // text messages read from the DataChannel
	BytesSent      atomic.Int64 // cumulative payload bytes written to the DataChannel
	BytesRecv      atomic.Int64 // cumulative payload bytes read from the DataChannel
	SignalsSent    atomic.Int64 // signaling messages delivered to the remote peer
	SignalsRetried atomic.Int64 // delivery attempts that failed and were retried
}

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddSignal() { s.SignalsSent.Add(1) }
func (s *stats) AddRetry()  { s.SignalsRetried.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs message statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevMsgsSent, prevMsgsRecv, prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				msgsSent := Stats.MsgsSent.Load()
				msgsRecv := Stats.MsgsRecv.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outM := msgsSent - prevMsgsSent
				inM := msgsRecv - prevMsgsRecv

				if outM > 0 || inM > 0 {
					pterm.DefaultLogger.Info(formatStats(float64(sent-prevSent), float64(recv-prevRecv), outM, inM))
				}

				prevMsgsSent = msgsSent
				prevMsgsRecv = msgsRecv
				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporting window (10 seconds) of traffic.
func formatStats(sentBytes, recvBytes float64, outMsgs, inMsgs int64) string {
	return fmt.Sprintf("Out: %s (%2d msg) | In: %s (%2d msg) | Signals: %d sent, %d retried",
		formatBytes(sentBytes),
		outMsgs,
		formatBytes(recvBytes),
		inMsgs,
		Stats.SignalsSent.Load(),
		Stats.SignalsRetried.Load(),
	)
}
