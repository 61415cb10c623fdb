package loader

import (
	"time"

	"github.com/shaunagostinho/wdcloader/internal/board"
)

// Config holds the detector and session settings.
type Config struct {
	// Profiles are probed in order. Defaults to board.Profiles().
	Profiles []*board.Profile

	// ProbeTimeout bounds the wait for each profile's signature.
	// Real hardware needs more than a simulated board.
	ProbeTimeout time.Duration

	// ResponseTimeout bounds the wait for each read/write/execute reply.
	ResponseTimeout time.Duration

	// Attempts is the number of times one frame is sent before the
	// exchange fails (so Attempts-1 retries).
	Attempts int

	// DetectAttempts is Attempts for detection probes. Silence is the
	// normal "not this board" answer, so it defaults to one.
	DetectAttempts int

	// ResyncQuiet is the silence that ends a resync drain; ResyncMax
	// caps the drain.
	ResyncQuiet time.Duration
	ResyncMax   time.Duration

	// Sink receives progress events (optional).
	Sink Sink
}

func defaultConfig() Config {
	return Config{
		Profiles:        board.Profiles(),
		ProbeTimeout:    500 * time.Millisecond,
		ResponseTimeout: 1 * time.Second,
		Attempts:        3,
		DetectAttempts:  1,
		ResyncQuiet:     50 * time.Millisecond,
		ResyncMax:       1 * time.Second,
	}
}

// Option is a functional option for Detect.
type Option func(*Config)

// WithProfiles restricts detection to the given profiles, in order.
// Used when the caller has a board hint.
func WithProfiles(profiles ...*board.Profile) Option {
	return func(c *Config) {
		if len(profiles) > 0 {
			c.Profiles = profiles
		}
	}
}

// WithProbeTimeout sets the per-profile detection timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ProbeTimeout = d
		}
	}
}

// WithResponseTimeout sets the timeout for each memory exchange.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ResponseTimeout = d
		}
	}
}

// WithAttempts sets the per-frame attempt bound for memory operations.
func WithAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Attempts = n
		}
	}
}

// WithDetectAttempts sets the per-frame attempt bound for probes.
func WithDetectAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.DetectAttempts = n
		}
	}
}

// WithResync sets the drain parameters used to recover from a desync.
func WithResync(quiet, max time.Duration) Option {
	return func(c *Config) {
		if quiet > 0 {
			c.ResyncQuiet = quiet
		}
		if max > 0 {
			c.ResyncMax = max
		}
	}
}

// WithSink sets the progress event sink.
func WithSink(s Sink) Option {
	return func(c *Config) {
		c.Sink = s
	}
}
