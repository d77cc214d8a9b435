// Package config holds the call client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultRelayURL              = "ws://127.0.0.1:8765"
	DefaultSTUN                  = "stun:stun.l.google.com:19302"
	DefaultReconnectBaseInterval = 2 * time.Second
	DefaultReconnectMaxAttempts  = 5
	DefaultPingInterval          = 30 * time.Second
	DefaultPongTimeout           = 10 * time.Second
	DefaultVolume                = 0.5
	DefaultRecordingDir          = "recordings"
)

// Config holds application configuration.
type Config struct {
	// RelayURL is the WebSocket endpoint of the signaling relay.
	RelayURL string

	// ClientID is registered with the relay. Empty means a fresh id is
	// generated for every relay connection.
	ClientID string

	// PeerID, when set, is attached as the routing target of outgoing
	// offer/answer/candidate messages.
	PeerID string

	// ICE servers for WebRTC.
	STUNServer string

	// Reconnection backoff: delay(n) = ReconnectBaseInterval * 2^n.
	ReconnectBaseInterval time.Duration
	ReconnectMaxAttempts  int

	// Relay keepalive. Zero PingInterval disables pings.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// AnswerTimeout ends an unanswered outgoing call. Zero waits forever.
	AnswerTimeout time.Duration

	// Volume is the initial output volume in [0, 1].
	Volume float64

	// RecordingDir receives call recordings.
	RecordingDir string
}

// Options for loading config with CLI flag overrides. Zero values and nil
// pointers mean "not set on the command line"; pointers let a flag carry an
// explicit zero or empty value.
type Options struct {
	RelayURL              string
	ClientID              string
	PeerID                string
	STUNServer            *string
	ReconnectBaseInterval time.Duration
	ReconnectMaxAttempts  *int
	AnswerTimeout         time.Duration
	Volume                *float64
	RecordingDir          string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	relayURL := firstNonEmpty(opts.RelayURL, os.Getenv("CALL_RELAY_URL"), DefaultRelayURL)
	if err := validateRelayURL(relayURL); err != nil {
		return nil, err
	}

	stunServer := firstNonEmpty(os.Getenv("STUN_SERVER"), DefaultSTUN)
	if opts.STUNServer != nil {
		stunServer = strings.TrimSpace(*opts.STUNServer)
	}

	base := opts.ReconnectBaseInterval
	if base == 0 {
		d, err := envDuration("CALL_RECONNECT_BASE", DefaultReconnectBaseInterval)
		if err != nil {
			return nil, err
		}
		base = d
	}
	if base <= 0 {
		return nil, fmt.Errorf("reconnect base interval must be positive, got %s", base)
	}

	var maxAttempts int
	if opts.ReconnectMaxAttempts != nil {
		maxAttempts = *opts.ReconnectMaxAttempts
	} else {
		n, err := envInt("CALL_RECONNECT_MAX", DefaultReconnectMaxAttempts)
		if err != nil {
			return nil, err
		}
		maxAttempts = n
	}
	if maxAttempts < 0 {
		return nil, fmt.Errorf("reconnect max attempts must be >= 0, got %d", maxAttempts)
	}

	answerTimeout := opts.AnswerTimeout
	if answerTimeout == 0 {
		d, err := envDuration("CALL_ANSWER_TIMEOUT", 0)
		if err != nil {
			return nil, err
		}
		answerTimeout = d
	}
	if answerTimeout < 0 {
		return nil, fmt.Errorf("answer timeout must be >= 0, got %s", answerTimeout)
	}

	volume := DefaultVolume
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	if volume < 0 || volume > 1 {
		return nil, fmt.Errorf("volume must be within [0, 1], got %v", volume)
	}

	return &Config{
		RelayURL:              relayURL,
		ClientID:              firstNonEmpty(opts.ClientID, os.Getenv("CALL_CLIENT_ID")),
		PeerID:                firstNonEmpty(opts.PeerID, os.Getenv("CALL_PEER_ID")),
		STUNServer:            stunServer,
		ReconnectBaseInterval: base,
		ReconnectMaxAttempts:  maxAttempts,
		PingInterval:          DefaultPingInterval,
		PongTimeout:           DefaultPongTimeout,
		AnswerTimeout:         answerTimeout,
		Volume:                volume,
		RecordingDir:          firstNonEmpty(opts.RecordingDir, os.Getenv("CALL_RECORDING_DIR"), DefaultRecordingDir),
	}, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

func validateRelayURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid relay URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL scheme %q: must be ws or wss", u.Scheme)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
