package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	chttp "github.com/ligustah/chunkstream/internal/http"
	"github.com/ligustah/chunkstream/internal/logging"
	"github.com/ligustah/chunkstream/internal/progress"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CHUNKSTREAM_"

// Config defines configuration for the chunkstream CLI.
type Config struct {
	// Source is a gocloud.dev bucket URL (mem://, file://, s3://, gs://)
	// or an http(s) base URL.
	Source      string       `yaml:"source"`
	Manifest    string       `yaml:"manifest"`
	Stream      StreamConfig `yaml:"stream"`
	HTTP        HTTPConfig   `yaml:"http"`
	LogLevel    string       `yaml:"log_level"`
	Progress    bool         `yaml:"progress"`
	ListenAddr  string       `yaml:"listen_addr"`
	MetricsAddr string       `yaml:"metrics_addr"`
}

// StreamConfig mirrors the streaming engine options.
type StreamConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	BufferCapacity int           `yaml:"buffer_capacity"` // 0 derives it from the chunk count
	NearThreshold  int           `yaml:"near_threshold"`
	FarThreshold   int           `yaml:"far_threshold"`
	StallTimeout   time.Duration `yaml:"stall_timeout"` // 0 waits forever
	SkipFailed     bool          `yaml:"skip_failed"`
}

// HTTPConfig configures fetching from http(s) sources.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	MaxObjectSize int64         `yaml:"max_object_size"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			MaxConcurrent: stream.DefaultMaxConcurrent,
			NearThreshold: stream.DefaultNearThreshold,
			FarThreshold:  stream.DefaultFarThreshold,
		},
		HTTP: HTTPConfig{
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		LogLevel:   "info",
		ListenAddr: ":8080",
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and sizes.
type yamlConfig struct {
	Source      string           `yaml:"source"`
	Manifest    string           `yaml:"manifest"`
	Stream      yamlStreamConfig `yaml:"stream"`
	HTTP        yamlHTTPConfig   `yaml:"http"`
	LogLevel    string           `yaml:"log_level"`
	Progress    bool             `yaml:"progress"`
	ListenAddr  string           `yaml:"listen_addr"`
	MetricsAddr string           `yaml:"metrics_addr"`
}

type yamlStreamConfig struct {
	MaxConcurrent  int    `yaml:"max_concurrent"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	NearThreshold  int    `yaml:"near_threshold"`
	FarThreshold   int    `yaml:"far_threshold"`
	StallTimeout   string `yaml:"stall_timeout"`
	SkipFailed     bool   `yaml:"skip_failed"`
}

type yamlHTTPConfig struct {
	Timeout       string `yaml:"timeout"`
	RetryAttempts int    `yaml:"retry_attempts"`
	Backoff       string `yaml:"backoff"`
	MaxBackoff    string `yaml:"max_backoff"`
	MaxObjectSize string `yaml:"max_object_size"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Source != "" {
		cfg.Source = yc.Source
	}
	if yc.Manifest != "" {
		cfg.Manifest = yc.Manifest
	}
	if yc.Stream.MaxConcurrent != 0 {
		cfg.Stream.MaxConcurrent = yc.Stream.MaxConcurrent
	}
	if yc.Stream.BufferCapacity != 0 {
		cfg.Stream.BufferCapacity = yc.Stream.BufferCapacity
	}
	if yc.Stream.NearThreshold != 0 {
		cfg.Stream.NearThreshold = yc.Stream.NearThreshold
	}
	if yc.Stream.FarThreshold != 0 {
		cfg.Stream.FarThreshold = yc.Stream.FarThreshold
	}
	if err := parseDuration(yc.Stream.StallTimeout, &cfg.Stream.StallTimeout); err != nil {
		return Config{}, fmt.Errorf("parse stream.stall_timeout: %w", err)
	}
	cfg.Stream.SkipFailed = yc.Stream.SkipFailed

	if err := parseDuration(yc.HTTP.Timeout, &cfg.HTTP.Timeout); err != nil {
		return Config{}, fmt.Errorf("parse http.timeout: %w", err)
	}
	if yc.HTTP.RetryAttempts != 0 {
		cfg.HTTP.RetryAttempts = yc.HTTP.RetryAttempts
	}
	if err := parseDuration(yc.HTTP.Backoff, &cfg.HTTP.Backoff); err != nil {
		return Config{}, fmt.Errorf("parse http.backoff: %w", err)
	}
	if err := parseDuration(yc.HTTP.MaxBackoff, &cfg.HTTP.MaxBackoff); err != nil {
		return Config{}, fmt.Errorf("parse http.max_backoff: %w", err)
	}
	if yc.HTTP.MaxObjectSize != "" {
		size, err := progress.ParseBytes(yc.HTTP.MaxObjectSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.max_object_size: %w", err)
		}
		cfg.HTTP.MaxObjectSize = size
	}

	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	cfg.Progress = yc.Progress
	if yc.ListenAddr != "" {
		cfg.ListenAddr = yc.ListenAddr
	}
	if yc.MetricsAddr != "" {
		cfg.MetricsAddr = yc.MetricsAddr
	}

	return cfg, nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHUNKSTREAM_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"SOURCE":       &c.Source,
		"MANIFEST":     &c.Manifest,
		"LOG_LEVEL":    &c.LogLevel,
		"LISTEN_ADDR":  &c.ListenAddr,
		"METRICS_ADDR": &c.MetricsAddr,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_CONCURRENT":      &c.Stream.MaxConcurrent,
		"BUFFER_CAPACITY":     &c.Stream.BufferCapacity,
		"NEAR_THRESHOLD":      &c.Stream.NearThreshold,
		"FAR_THRESHOLD":       &c.Stream.FarThreshold,
		"HTTP_RETRY_ATTEMPTS": &c.HTTP.RetryAttempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"STALL_TIMEOUT":    &c.Stream.StallTimeout,
		"HTTP_TIMEOUT":     &c.HTTP.Timeout,
		"HTTP_BACKOFF":     &c.HTTP.Backoff,
		"HTTP_MAX_BACKOFF": &c.HTTP.MaxBackoff,
	}
	for name, dst := range durations {
		if err := parseDuration(os.Getenv(EnvPrefix+name), dst); err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
	}

	if v := os.Getenv(EnvPrefix + "HTTP_MAX_OBJECT_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sHTTP_MAX_OBJECT_SIZE: %w", EnvPrefix, err)
		}
		c.HTTP.MaxObjectSize = size
	}
	if v := os.Getenv(EnvPrefix + "SKIP_FAILED"); v != "" {
		c.Stream.SkipFailed = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration. The manifest key is not required
// since the relay server takes it from clients.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("config: source is required")
	}
	if c.Stream.MaxConcurrent <= 0 {
		return errors.New("config: max_concurrent must be positive")
	}
	if c.Stream.BufferCapacity < 0 {
		return errors.New("config: buffer_capacity must not be negative")
	}
	if c.Stream.NearThreshold < 0 || c.Stream.FarThreshold < c.Stream.NearThreshold {
		return errors.New("config: thresholds must satisfy 0 <= near_threshold <= far_threshold")
	}
	if c.Stream.StallTimeout < 0 {
		return errors.New("config: stall_timeout must not be negative")
	}
	if c.HTTP.RetryAttempts < 0 {
		return errors.New("config: http.retry_attempts must not be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Source != "" {
		c.Source = override.Source
	}
	if override.Manifest != "" {
		c.Manifest = override.Manifest
	}
	if override.Stream.MaxConcurrent != 0 {
		c.Stream.MaxConcurrent = override.Stream.MaxConcurrent
	}
	if override.Stream.BufferCapacity != 0 {
		c.Stream.BufferCapacity = override.Stream.BufferCapacity
	}
	if override.Stream.NearThreshold != 0 {
		c.Stream.NearThreshold = override.Stream.NearThreshold
	}
	if override.Stream.FarThreshold != 0 {
		c.Stream.FarThreshold = override.Stream.FarThreshold
	}
	if override.Stream.StallTimeout != 0 {
		c.Stream.StallTimeout = override.Stream.StallTimeout
	}
	if override.Stream.SkipFailed {
		c.Stream.SkipFailed = override.Stream.SkipFailed
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RetryAttempts != 0 {
		c.HTTP.RetryAttempts = override.HTTP.RetryAttempts
	}
	if override.HTTP.Backoff != 0 {
		c.HTTP.Backoff = override.HTTP.Backoff
	}
	if override.HTTP.MaxBackoff != 0 {
		c.HTTP.MaxBackoff = override.HTTP.MaxBackoff
	}
	if override.HTTP.MaxObjectSize != 0 {
		c.HTTP.MaxObjectSize = override.HTTP.MaxObjectSize
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.ListenAddr != "" {
		c.ListenAddr = override.ListenAddr
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	return c
}

// IsHTTPSource reports whether Source is an http(s) base URL rather than a
// bucket URL.
func (c *Config) IsHTTPSource() bool {
	return strings.HasPrefix(c.Source, "http://") || strings.HasPrefix(c.Source, "https://")
}

// StreamOptions converts the stream settings to engine options.
func (c *Config) StreamOptions() []stream.Option {
	return []stream.Option{
		stream.WithMaxConcurrent(c.Stream.MaxConcurrent),
		stream.WithBufferCapacity(c.Stream.BufferCapacity),
		stream.WithThresholds(c.Stream.NearThreshold, c.Stream.FarThreshold),
		stream.WithStallTimeout(c.Stream.StallTimeout),
		stream.WithSkipFailed(c.Stream.SkipFailed),
	}
}

// HTTPOptions converts the http settings to client options.
func (c *Config) HTTPOptions() chttp.Options {
	opts := chttp.DefaultOptions()
	opts.Timeout = c.HTTP.Timeout
	opts.RetryAttempts = c.HTTP.RetryAttempts
	opts.RetryBackoff = c.HTTP.Backoff
	opts.RetryMaxBackoff = c.HTTP.MaxBackoff
	opts.MaxObjectSize = c.HTTP.MaxObjectSize
	if c.Stream.MaxConcurrent > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = c.Stream.MaxConcurrent
	}
	return opts
}
