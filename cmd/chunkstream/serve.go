package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/chunkstream/internal/config"
	"github.com/ligustah/chunkstream/internal/logging"
	"github.com/ligustah/chunkstream/internal/metrics"
	"github.com/ligustah/chunkstream/internal/relay"
	"github.com/ligustah/chunkstream/pkg/ply"
	"github.com/ligustah/chunkstream/pkg/stream"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds the flags of the serve command.
type ServeOptions struct {
	ListenAddr  string
	MetricsAddr string
	IdleTimeout time.Duration
	Decode      bool
	TrimAnchors bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve datasets to live viewers over websockets",
		Long: `Run the websocket relay. Clients connect to /ws and request manifests
from the configured source; chunks are pushed to them in priority order.
Prometheus metrics are served on /metrics, on --metrics-addr when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, opts, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ListenAddr, "listen", "", "relay listen address (default :8080)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "separate listen address for /metrics")
	f.DurationVar(&opts.IdleTimeout, "idle-timeout", 0, "close clients that send nothing for this long (0 disables)")
	f.BoolVar(&opts.Decode, "decode", false, "decode chunks as PLY before relaying them")
	f.BoolVar(&opts.TrimAnchors, "trim-anchors", false, "drop the bounding box anchors when decoding")

	return cmd
}

func runServe(rootOpts *RootOptions, opts *ServeOptions, stderr io.Writer) error {
	cfg, err := loadConfig(rootOpts, config.Config{ListenAddr: opts.ListenAddr, MetricsAddr: opts.MetricsAddr})
	if err != nil {
		return err
	}
	logger, err := newLogger(rootOpts, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(stderr)
	defer stop()

	fetcher, closeFetcher, err := openFetcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	metrics.Register()

	streamOpts := append(cfg.StreamOptions(), stream.WithLogger(logger), stream.WithObserver(metrics.Observer{}))
	if opts.Decode {
		streamOpts = append(streamOpts, stream.WithDecoder(ply.Decoder{TrimAnchors: opts.TrimAnchors}))
	}
	rs, err := relay.NewServer(relay.Config{
		Fetcher:      fetcher,
		Options:      streamOpts,
		Logger:       logger,
		IdleTimeout:  opts.IdleTimeout,
		SessionEnded: func(s *stream.Session) { metrics.RecordSessionEnd(s.State()) },
	})
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", rs.WSHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", rs.Active())
	})

	servers := []*http.Server{{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
	if cfg.MetricsAddr == "" || cfg.MetricsAddr == cfg.ListenAddr {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		hs := hs
		g.Go(func() error {
			logger.Info("Listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", hs.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, hs := range servers {
			if err := hs.Shutdown(shutdownCtx); err != nil {
				logger.V(logging.DEBUG).Info("Shutdown incomplete", "addr", hs.Addr, "error", err.Error())
			}
		}
		return nil
	})

	fmt.Fprintf(stderr, "[chunkstream] Relay serving %s on %s\n", cfg.Source, cfg.ListenAddr)
	if err := g.Wait(); err != nil {
		return withCode(ExitGeneralError, err)
	}
	fmt.Fprintln(stderr, "[chunkstream] Relay stopped")
	return nil
}
