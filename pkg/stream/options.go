package stream

import (
	"errors"
	"time"

	"github.com/go-logr/logr"
)

// Defaults for Options.
const (
	DefaultMaxConcurrent = 4
	DefaultNearThreshold = 5
	DefaultFarThreshold  = 10
)

// Options configures a Streamer.
type Options struct {
	// MaxConcurrent caps the number of fetches in flight. Must be >= 1.
	MaxConcurrent int

	// BufferCapacity caps the number of buffered payloads.
	// 0 derives it from the chunk count of each manifest (see DeriveCapacity).
	BufferCapacity int

	// NearThreshold and FarThreshold drive the eviction policy.
	NearThreshold int
	FarThreshold  int

	// StallTimeout fails the session when no chunk is delivered for this
	// long. 0 disables it: a permanently failing chunk then stalls delivery
	// until the caller cancels.
	StallTimeout time.Duration

	// SkipFailed lets the consumption cursor step past permanently failed
	// chunks instead of stalling on them.
	SkipFailed bool

	// Decompress transparently decodes zstd framed payloads (default: true).
	Decompress bool

	Decoder  Decoder
	Observer Observer
	Logger   logr.Logger
}

// Option is a functional option for configuring a Streamer.
type Option func(*Options)

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: DefaultMaxConcurrent,
		NearThreshold: DefaultNearThreshold,
		FarThreshold:  DefaultFarThreshold,
		Decompress:    true,
		Logger:        logr.Discard(),
	}
}

// WithMaxConcurrent sets the maximum number of fetches in flight.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) {
		o.MaxConcurrent = n
	}
}

// WithBufferCapacity sets the ready buffer capacity. 0 derives it per manifest.
func WithBufferCapacity(n int) Option {
	return func(o *Options) {
		o.BufferCapacity = n
	}
}

// WithThresholds sets the near and far lookahead thresholds of the
// eviction policy.
func WithThresholds(near, far int) Option {
	return func(o *Options) {
		o.NearThreshold = near
		o.FarThreshold = far
	}
}

// WithStallTimeout fails a session whose delivery makes no progress for d.
func WithStallTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.StallTimeout = d
	}
}

// WithSkipFailed lets delivery continue past permanently failed chunks.
func WithSkipFailed(skip bool) Option {
	return func(o *Options) {
		o.SkipFailed = skip
	}
}

// WithDecompression enables or disables transparent zstd decoding.
func WithDecompression(enabled bool) Option {
	return func(o *Options) {
		o.Decompress = enabled
	}
}

// WithDecoder sets the payload decoder.
func WithDecoder(d Decoder) Option {
	return func(o *Options) {
		o.Decoder = d
	}
}

// WithObserver sets the engine event observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.MaxConcurrent < 1 {
		return errors.New("stream: max concurrent must be at least 1")
	}
	if o.BufferCapacity < 0 {
		return errors.New("stream: buffer capacity must not be negative")
	}
	if o.NearThreshold < 0 {
		return errors.New("stream: near threshold must not be negative")
	}
	if o.FarThreshold < o.NearThreshold {
		return errors.New("stream: far threshold must not be below near threshold")
	}
	if o.StallTimeout < 0 {
		return errors.New("stream: stall timeout must not be negative")
	}
	return nil
}
