package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/1ureka/rtcecho/internal/session"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) SendMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestConsoleLoop(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{"stops at quit", "hello\nworld\nquit\nignored\n", []string{"hello", "world"}, nil},
		{"quit is case-insensitive and trimmed", "a\n  QuIt  \nb\n", []string{"a"}, nil},
		{"stops at EOF", "one\ntwo", []string{"one", "two"}, io.EOF},
		{"empty input", "", nil, io.EOF},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := &recordingSender{}
			if err := ConsoleLoop(context.Background(), strings.NewReader(tc.input), s); err != tc.wantErr {
				t.Fatalf("loop: %v, want %v", err, tc.wantErr)
			}
			got := s.messages()
			if len(got) != len(tc.want) {
				t.Fatalf("sent %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("sent %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestConsoleLoop_SendFailureContinues(t *testing.T) {
	s := &recordingSender{err: session.ErrChannelNotReady}
	if err := ConsoleLoop(context.Background(), strings.NewReader("a\nb\nquit\n"), s); err != nil {
		t.Fatalf("loop: %v", err)
	}
}

func TestConsoleLoop_StopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ConsoleLoop(ctx, r, &recordingSender{}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}

func TestAutoLoop(t *testing.T) {
	s := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- AutoLoop(ctx, s, 10*time.Millisecond, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.messages()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("loop: %v", err)
	}

	msgs := s.messages()
	if len(msgs) < 3 {
		t.Fatalf("sent %d auto messages, want at least 3", len(msgs))
	}
	for _, m := range msgs {
		if len(m) != AutoMessageLength {
			t.Fatalf("auto message %q has length %d", m, len(m))
		}
	}
}

func TestRandomAlpha(t *testing.T) {
	for _, n := range []int{0, 1, 3, 64} {
		s := RandomAlpha(n)
		if len(s) != n {
			t.Fatalf("RandomAlpha(%d) length = %d", n, len(s))
		}
		for _, r := range s {
			if r > unicode.MaxASCII || !unicode.IsLetter(r) {
				t.Fatalf("RandomAlpha(%d) = %q contains %q", n, s, r)
			}
		}
	}
}
