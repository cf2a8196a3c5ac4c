package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("mode", "", "")
	fs.String("port", "", "")
	fs.String("remote-address", "", "")
	fs.String("bind-host", "", "")
	fs.String("signal-transport", "", "")
	fs.Duration("connect-timeout", 0, "")
	fs.Bool("debug", false, "")
	return fs
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", newFlagSet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeAuto {
		t.Errorf("Mode = %q, want auto", cfg.Mode)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.RemoteAddress != "127.0.0.1:8081" {
		t.Errorf("RemoteAddress = %q", cfg.RemoteAddress)
	}
	if cfg.SignalAttempts != 5 || cfg.SignalRetryDelay != time.Second {
		t.Errorf("retry policy = %d x %v, want 5 x 1s", cfg.SignalAttempts, cfg.SignalRetryDelay)
	}
	if cfg.AutoMessageInterval != 5*time.Second {
		t.Errorf("AutoMessageInterval = %v", cfg.AutoMessageInterval)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if got := cfg.ListenAddress(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddress = %q", got)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "peer.toml", `
mode = "answer"
port = 9000
remote_address = "10.0.0.2:9001"
candidate_buffer_limit = 8
connect_timeout = "0s"
`)

	cfg, err := Load(path, newFlagSet())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeAnswer || cfg.Port != "9000" || cfg.RemoteAddress != "10.0.0.2:9001" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CandidateBufferLimit != 8 {
		t.Errorf("CandidateBufferLimit = %d, want 8", cfg.CandidateBufferLimit)
	}
	if cfg.ConnectTimeout != 0 {
		t.Errorf("ConnectTimeout = %v, want 0", cfg.ConnectTimeout)
	}
}

func TestLoad_ExtensionlessFileIsTOML(t *testing.T) {
	path := writeFile(t, "peerconf", `mode = "offer"`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeOffer {
		t.Fatalf("Mode = %q, want offer", cfg.Mode)
	}
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "peer.toml", `
mode = "answer"
port = "9000"
`)
	fs := newFlagSet()
	if err := fs.Parse([]string{"--mode", "offer", "--remote-address", "192.168.1.5:8081"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeOffer {
		t.Errorf("Mode = %q, want offer (flag)", cfg.Mode)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000 (file, flag unset)", cfg.Port)
	}
	if cfg.RemoteAddress != "192.168.1.5:8081" {
		t.Errorf("RemoteAddress = %q (flag)", cfg.RemoteAddress)
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"bad mode", []string{"--mode", "both"}},
		{"bad port", []string{"--port", "70000"}},
		{"non numeric port", []string{"--port", "http"}},
		{"bad remote", []string{"--remote-address", "nohostport"}},
		{"empty remote for offer", []string{"--mode", "offer", "--remote-address", ""}},
		{"bad transport", []string{"--signal-transport", "carrier-pigeon"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFlagSet()
			if err := fs.Parse(tc.args); err != nil {
				t.Fatalf("parse flags: %v", err)
			}
			_, err := Load("", fs)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestLoad_AnswerWithoutRemote(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse([]string{"--mode", "answer", "--remote-address", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteAddress != "" {
		t.Fatalf("RemoteAddress = %q, want empty", cfg.RemoteAddress)
	}
}
