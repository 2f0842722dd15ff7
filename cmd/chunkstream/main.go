package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/chunkstream/internal/config"
	chttp "github.com/ligustah/chunkstream/internal/http"
	"github.com/ligustah/chunkstream/internal/logging"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitManifestInvalid  = 4
	ExitStorageError     = 5
	ExitStreamFailed     = 6
	ExitValidationFailed = 7
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, stream.ErrManifestMalformed):
		return ExitManifestInvalid
	case errors.Is(err, stream.ErrManifestUnavailable):
		return ExitSourceNotAccess
	case errors.Is(err, stream.ErrChunkFetchFailed), errors.Is(err, stream.ErrStalled):
		return ExitStreamFailed
	default:
		return ExitGeneralError
	}
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Source     string
	LogLevel   string
	DevLog     bool
}

// NewRootCommand creates the root command of the chunkstream CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chunkstream",
		Short: "Progressively stream chunked datasets",
		Long: `Stream the chunks of a dataset manifest in priority order from object
storage or an HTTP server, inspect and validate manifests, or serve them to
live viewers over websockets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.Source, "source", "s", "", "bucket URL (file://, s3://, gs://, mem://) or http(s) base URL")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (error|info|verbose|debug|trace)")
	cmd.PersistentFlags().BoolVar(&opts.DevLog, "dev-log", false, "human-readable log output")

	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// command line, in that order.
func loadConfig(opts *RootOptions, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.ConfigPath); err != nil {
			return cfg, withCode(ExitInvalidArgs, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, withCode(ExitInvalidArgs, err)
	}

	override.Source = opts.Source
	override.LogLevel = opts.LogLevel
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return cfg, withCode(ExitInvalidArgs, err)
	}
	return cfg, nil
}

func newLogger(opts *RootOptions, cfg config.Config) (logr.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: opts.DevLog})
	if err != nil {
		return logger, withCode(ExitInvalidArgs, err)
	}
	return logger, nil
}

// openFetcher returns the Fetcher for cfg.Source and a function releasing it.
func openFetcher(ctx context.Context, cfg config.Config) (stream.Fetcher, func() error, error) {
	if cfg.IsHTTPSource() {
		client, err := chttp.NewClient(cfg.Source, cfg.HTTPOptions())
		if err != nil {
			return nil, nil, withCode(ExitInvalidArgs, err)
		}
		return client, func() error { return nil }, nil
	}

	f, err := stream.OpenBucketFetcher(ctx, cfg.Source)
	if err != nil {
		return nil, nil, withCode(ExitStorageError, err)
	}
	return f, f.Close, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(stderr io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[chunkstream] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// manifestArg returns the manifest key from args or the config.
func manifestArg(args []string, cfg config.Config) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Manifest != "" {
		return cfg.Manifest, nil
	}
	return "", withCode(ExitInvalidArgs, errors.New("a manifest key is required"))
}
