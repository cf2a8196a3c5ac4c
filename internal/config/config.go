// Package config holds the peer configuration and its loading rules.
//
// Values are resolved with the precedence command-line flag > config file >
// built-in default. Config files are TOML unless their extension says
// otherwise.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig marks a bad or missing configuration. It is fatal at startup.
var ErrConfig = errors.New("config error")

// Mode selects how the session role is decided.
type Mode string

const (
	ModeOffer  Mode = "offer"
	ModeAnswer Mode = "answer"
	ModeAuto   Mode = "auto" // probe the remote address at startup
)

// SignalTransport selects how signaling messages travel to the remote peer.
type SignalTransport string

const (
	TransportHTTP      SignalTransport = "http"
	TransportWebSocket SignalTransport = "ws"
)

// Config stores every recognized option.
type Config struct {
	Mode            Mode            `mapstructure:"mode"`
	Port            string          `mapstructure:"port"`
	RemoteAddress   string          `mapstructure:"remote_address"`
	BindHost        string          `mapstructure:"bind_host"`
	SignalTransport SignalTransport `mapstructure:"signal_transport"`
	ICEServers      []string        `mapstructure:"ice_servers"`

	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"` // from remote description set; 0 waits forever
	CandidateBufferLimit int           `mapstructure:"candidate_buffer_limit"`
	AutoMessageInterval  time.Duration `mapstructure:"auto_message_interval"`
	SignalAttempts       int           `mapstructure:"signal_attempts"`
	SignalRetryDelay     time.Duration `mapstructure:"signal_retry_delay"`

	Debug bool `mapstructure:"debug"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"mode":             "mode",
	"port":             "port",
	"remote-address":   "remote_address",
	"bind-host":        "bind_host",
	"signal-transport": "signal_transport",
	"connect-timeout":  "connect_timeout",
	"debug":            "debug",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeAuto))
	v.SetDefault("port", "8080")
	v.SetDefault("remote_address", "127.0.0.1:8081")
	v.SetDefault("bind_host", "127.0.0.1")
	v.SetDefault("signal_transport", string(TransportHTTP))
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("probe_timeout", "5s")
	v.SetDefault("connect_timeout", "60s")
	v.SetDefault("candidate_buffer_limit", 256)
	v.SetDefault("auto_message_interval", "5s")
	v.SetDefault("signal_attempts", 5)
	v.SetDefault("signal_retry_delay", "1s")
	v.SetDefault("debug", false)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		// The defaults are static; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load resolves the configuration from defaults, the optional file at path
// and the flags that were explicitly set on fs. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("%w: bind flag %s: %v", ErrConfig, name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values and cross-field rules.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOffer, ModeAnswer, ModeAuto:
	default:
		return fmt.Errorf("%w: invalid mode %q (want offer, answer or auto)", ErrConfig, c.Mode)
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: invalid port %q (must be 1~65535)", ErrConfig, c.Port)
	}

	if c.RemoteAddress == "" {
		if c.Mode != ModeAnswer {
			return fmt.Errorf("%w: remote address is required for %s mode", ErrConfig, c.Mode)
		}
	} else if _, _, err := net.SplitHostPort(c.RemoteAddress); err != nil {
		return fmt.Errorf("%w: invalid remote address %q: %v", ErrConfig, c.RemoteAddress, err)
	}

	switch c.SignalTransport {
	case TransportHTTP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: invalid signal transport %q (want http or ws)", ErrConfig, c.SignalTransport)
	}

	if c.SignalAttempts < 1 {
		return fmt.Errorf("%w: signal_attempts must be at least 1", ErrConfig)
	}
	if c.CandidateBufferLimit < 0 {
		return fmt.Errorf("%w: candidate_buffer_limit must not be negative", ErrConfig)
	}
	if c.ProbeTimeout <= 0 || c.AutoMessageInterval <= 0 || c.ConnectTimeout < 0 || c.SignalRetryDelay < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	return nil
}

// ListenAddress is the local signaling endpoint address.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindHost, c.Port)
}
