// Package logging builds the logr.Logger used across chunkstream.
//
// Library code takes a logr.Logger and logs at the verbosity levels below;
// the CLI constructs the concrete zap-backed logger with New.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V(...).
const (
	DEFAULT = 0
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

// Options configures New.
type Options struct {
	// Level is one of "error", "info", "verbose", "debug", "trace".
	Level string
	// Development switches to human-readable console output.
	Development bool
}

// ParseLevel maps a level name to a logr verbosity. Errors are always logged.
func ParseLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return DEFAULT, nil
	case "verbose":
		return VERBOSE, nil
	case "debug":
		return DEBUG, nil
	case "trace":
		return TRACE, nil
	case "error":
		return -1, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", level)
	}
}

// New creates a zap-backed logr.Logger writing to stderr.
func New(opts Options) (logr.Logger, error) {
	v, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	// logr verbosity V(n) maps to zap level -n.
	if v < 0 {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-v))
	}

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("logging: build zap logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// Fatal logs err and exits with code.
func Fatal(logger logr.Logger, code int, err error, msg string, keysAndValues ...any) {
	logger.Error(err, msg, keysAndValues...)
	os.Exit(code)
}
