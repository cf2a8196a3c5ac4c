// Package chat is the message exchange surface once a session is connected:
// an interactive console loop, a periodic automatic sender and the printer
// for inbound messages.
package chat

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rtcecho/internal/session"
	"github.com/1ureka/rtcecho/internal/util"
)

const (
	// DefaultAutoInterval is the period of AutoLoop.
	DefaultAutoInterval = 5 * time.Second
	// AutoMessageLength is the length of each automatic message.
	AutoMessageLength = 3

	prompt = "Enter a message to send (or 'quit' to exit):"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Sender writes one text message to the peer.
type Sender interface {
	SendMessage(text string) error
}

// ConsoleLoop reads lines from r and sends each one. It returns nil when a
// line reads "quit" (any case) or ctx is done, and io.EOF when r runs out.
func ConsoleLoop(ctx context.Context, r io.Reader, s Sender) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		pterm.Println(prompt)

		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if err == nil {
				return io.EOF
			}
			return err

		case line := <-lines:
			if strings.EqualFold(strings.TrimSpace(line), "quit") {
				util.LogInfo("quit requested")
				return nil
			}
			if err := s.SendMessage(line); err != nil {
				reportSendError("message", err)
				continue
			}
			util.LogSuccess("Message sent successfully")
		}
	}
}

// AutoLoop sends gen() every interval until ctx is done. gen nil selects a
// random AutoMessageLength-letter string.
func AutoLoop(ctx context.Context, s Sender, interval time.Duration, gen func() string) error {
	if interval <= 0 {
		interval = DefaultAutoInterval
	}
	if gen == nil {
		gen = func() string { return RandomAlpha(AutoMessageLength) }
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msg := gen()
			util.LogInfo("Sending auto message: '%s'", msg)
			if err := s.SendMessage(msg); err != nil {
				reportSendError("auto message", err)
			}
		}
	}
}

// PrintInbound writes one inbound message to the console.
func PrintInbound(text string) {
	pterm.Info.Printfln("Message from remote: '%s'", text)
}

// RandomAlpha returns n random ASCII letters.
func RandomAlpha(n int) string {
	size := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		k, err := rand.Int(rand.Reader, size)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		out[i] = alphabet[k.Int64()]
	}
	return string(out)
}

func reportSendError(what string, err error) {
	if errors.Is(err, session.ErrChannelNotReady) {
		util.LogWarning("Failed to send %s: %v", what, err)
		return
	}
	util.LogError("Failed to send %s: %v", what, err)
}
