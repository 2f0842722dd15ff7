package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/chunkstream/pkg/stream"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Stream.MaxConcurrent != 4 {
		t.Errorf("expected default max concurrent 4, got %d", cfg.Stream.MaxConcurrent)
	}
	if cfg.Stream.BufferCapacity != 0 {
		t.Errorf("expected derived buffer capacity, got %d", cfg.Stream.BufferCapacity)
	}
	if cfg.Stream.NearThreshold != 5 || cfg.Stream.FarThreshold != 10 {
		t.Errorf("expected thresholds 5/10, got %d/%d", cfg.Stream.NearThreshold, cfg.Stream.FarThreshold)
	}
	if cfg.Stream.StallTimeout != 0 {
		t.Errorf("expected no stall timeout, got %v", cfg.Stream.StallTimeout)
	}
	if cfg.HTTP.RetryAttempts != 0 {
		t.Errorf("expected no retries, got %d", cfg.HTTP.RetryAttempts)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
source: s3://datasets?region=eu-west-1
manifest: models/bunny/bunny_manifest.json
stream:
  max_concurrent: 8
  buffer_capacity: 24
  near_threshold: 3
  far_threshold: 12
  stall_timeout: 30s
  skip_failed: true
http:
  timeout: 15s
  retry_attempts: 2
  backoff: 250ms
  max_object_size: 64MB
log_level: debug
progress: true
metrics_addr: ":9090"
`
	// Create temp file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Source != "s3://datasets?region=eu-west-1" {
		t.Errorf("unexpected source %s", cfg.Source)
	}
	if cfg.Manifest != "models/bunny/bunny_manifest.json" {
		t.Errorf("unexpected manifest %s", cfg.Manifest)
	}
	want := StreamConfig{
		MaxConcurrent:  8,
		BufferCapacity: 24,
		NearThreshold:  3,
		FarThreshold:   12,
		StallTimeout:   30 * time.Second,
		SkipFailed:     true,
	}
	if cfg.Stream != want {
		t.Errorf("stream config = %+v, want %+v", cfg.Stream, want)
	}
	if cfg.HTTP.Timeout != 15*time.Second || cfg.HTTP.RetryAttempts != 2 || cfg.HTTP.Backoff != 250*time.Millisecond {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.HTTP.MaxBackoff != 10*time.Second {
		t.Errorf("expected default max backoff preserved, got %v", cfg.HTTP.MaxBackoff)
	}
	if cfg.HTTP.MaxObjectSize != 64*1024*1024 {
		t.Errorf("expected max object size 64MB, got %d", cfg.HTTP.MaxObjectSize)
	}
	if cfg.LogLevel != "debug" || !cfg.Progress || cfg.MetricsAddr != ":9090" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %s", cfg.ListenAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Set env vars
	t.Setenv("CHUNKSTREAM_SOURCE", "https://cdn.example.com/")
	t.Setenv("CHUNKSTREAM_MAX_CONCURRENT", "6")
	t.Setenv("CHUNKSTREAM_FAR_THRESHOLD", "20")
	t.Setenv("CHUNKSTREAM_STALL_TIMEOUT", "1m")
	t.Setenv("CHUNKSTREAM_SKIP_FAILED", "1")
	t.Setenv("CHUNKSTREAM_HTTP_RETRY_ATTEMPTS", "3")
	t.Setenv("CHUNKSTREAM_HTTP_MAX_OBJECT_SIZE", "1GB")
	t.Setenv("CHUNKSTREAM_PROGRESS", "true")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Source != "https://cdn.example.com/" || !cfg.IsHTTPSource() {
		t.Errorf("unexpected source %s", cfg.Source)
	}
	if cfg.Stream.MaxConcurrent != 6 {
		t.Errorf("expected max concurrent 6, got %d", cfg.Stream.MaxConcurrent)
	}
	if cfg.Stream.NearThreshold != 5 || cfg.Stream.FarThreshold != 20 {
		t.Errorf("expected thresholds 5/20, got %d/%d", cfg.Stream.NearThreshold, cfg.Stream.FarThreshold)
	}
	if cfg.Stream.StallTimeout != time.Minute || !cfg.Stream.SkipFailed {
		t.Errorf("unexpected stream config %+v", cfg.Stream)
	}
	if cfg.HTTP.RetryAttempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.HTTP.RetryAttempts)
	}
	if cfg.HTTP.MaxObjectSize != 1024*1024*1024 {
		t.Errorf("expected max object size 1GB, got %d", cfg.HTTP.MaxObjectSize)
	}
	if !cfg.Progress {
		t.Error("expected progress true")
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("CHUNKSTREAM_MAX_CONCURRENT", "many")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for invalid integer")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Source = "mem://"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing source", func(c *Config) { c.Source = "" }, true},
		{"invalid max concurrent", func(c *Config) { c.Stream.MaxConcurrent = 0 }, true},
		{"negative buffer", func(c *Config) { c.Stream.BufferCapacity = -1 }, true},
		{"far below near", func(c *Config) { c.Stream.FarThreshold = 2 }, true},
		{"negative stall timeout", func(c *Config) { c.Stream.StallTimeout = -time.Second }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Source = "gs://bucket"
	base.Manifest = "bunny/manifest.json"

	override := Config{
		Stream: StreamConfig{MaxConcurrent: 12}, // Override concurrency
		// Leave other fields at zero values
	}

	merged := base.Merge(override)

	// Should keep base values for non-overridden fields
	if merged.Source != "gs://bucket" {
		t.Errorf("expected Source preserved, got %s", merged.Source)
	}
	if merged.Manifest != "bunny/manifest.json" {
		t.Errorf("expected Manifest preserved, got %s", merged.Manifest)
	}
	if merged.Stream.NearThreshold != 5 {
		t.Errorf("expected NearThreshold preserved, got %d", merged.Stream.NearThreshold)
	}

	// Should use override values
	if merged.Stream.MaxConcurrent != 12 {
		t.Errorf("expected MaxConcurrent overridden to 12, got %d", merged.Stream.MaxConcurrent)
	}
}

func TestStreamOptions(t *testing.T) {
	cfg := Default()
	cfg.Stream.BufferCapacity = 9
	cfg.Stream.SkipFailed = true

	opts := stream.DefaultOptions()
	for _, o := range cfg.StreamOptions() {
		o(&opts)
	}
	if opts.MaxConcurrent != 4 || opts.BufferCapacity != 9 || !opts.SkipFailed {
		t.Errorf("unexpected stream options %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("options from default config are invalid: %v", err)
	}

	httpOpts := cfg.HTTPOptions()
	if httpOpts.RetryAttempts != 0 || httpOpts.RetryBackoff != 500*time.Millisecond {
		t.Errorf("unexpected http options %+v", httpOpts)
	}
}

func TestLoadYAMLFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
