package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/chunkstream/internal/config"
	"github.com/ligustah/chunkstream/internal/progress"
	"github.com/ligustah/chunkstream/pkg/ply"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// StreamOptions holds the flags of the stream command.
type StreamOptions struct {
	MaxConcurrent  int
	BufferCapacity int
	Near           int
	Far            int
	StallTimeout   time.Duration
	SkipFailed     bool
	Progress       bool
	Output         string
	Decode         bool
	TrimAnchors    bool
}

func (o *StreamOptions) override() config.Config {
	return config.Config{
		Stream: config.StreamConfig{
			MaxConcurrent:  o.MaxConcurrent,
			BufferCapacity: o.BufferCapacity,
			NearThreshold:  o.Near,
			FarThreshold:   o.Far,
			StallTimeout:   o.StallTimeout,
			SkipFailed:     o.SkipFailed,
		},
		Progress: o.Progress,
	}
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{}

	cmd := &cobra.Command{
		Use:   "stream [manifest]",
		Short: "Stream a dataset in priority order",
		Long: `Stream every chunk of a dataset manifest in priority order.

Chunks are fetched concurrently and handed over strictly in order. With
--output each chunk is written to that directory as it is delivered.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(rootOpts, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.MaxConcurrent, "max-concurrent", "j", 0, "maximum fetches in flight (default 4)")
	f.IntVar(&opts.BufferCapacity, "buffer", 0, "ready buffer capacity (0 derives it from the chunk count)")
	f.IntVar(&opts.Near, "near", 0, "near eviction threshold (default 5)")
	f.IntVar(&opts.Far, "far", 0, "far eviction threshold (default 10)")
	f.DurationVar(&opts.StallTimeout, "stall-timeout", 0, "fail when no chunk is delivered for this long (0 waits forever)")
	f.BoolVar(&opts.SkipFailed, "skip-failed", false, "skip chunks that failed to fetch instead of stalling")
	f.BoolVar(&opts.Progress, "progress", false, "show progress on stderr")
	f.StringVarP(&opts.Output, "output", "o", "", "directory to write delivered chunks to")
	f.BoolVar(&opts.Decode, "decode", false, "decode chunks as PLY point clouds")
	f.BoolVar(&opts.TrimAnchors, "trim-anchors", false, "drop the bounding box anchors the chunker appends to each chunk")

	return cmd
}

// chunkWriter is the stream consumer of the CLI.
type chunkWriter struct {
	dir    string
	chunks int
	bytes  int64
	points int
	err    error
}

func (w *chunkWriter) OnChunkDelivered(p *stream.Payload, _, _ int) {
	w.chunks++
	w.bytes += int64(len(p.Data))
	if cloud, ok := p.Decoded.(*ply.Cloud); ok {
		w.points += cloud.Len()
	}
	if w.dir == "" || w.err != nil {
		return
	}
	name := filepath.Join(w.dir, filepath.Base(p.Chunk.ID))
	if err := os.WriteFile(name, p.Data, 0644); err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
	}
}

func (w *chunkWriter) OnLoadComplete()    {}
func (w *chunkWriter) OnLoadFailed(error) {}

func runStream(rootOpts *RootOptions, opts *StreamOptions, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(rootOpts, opts.override())
	if err != nil {
		return err
	}
	key, err := manifestArg(args, cfg)
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

	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, 0755); err != nil {
			return withCode(ExitGeneralError, fmt.Errorf("create output directory: %w", err))
		}
	}

	w := &chunkWriter{dir: opts.Output}
	streamOpts := append(cfg.StreamOptions(), stream.WithLogger(logger))
	if opts.Decode {
		streamOpts = append(streamOpts, stream.WithDecoder(ply.Decoder{TrimAnchors: opts.TrimAnchors}))
	}
	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			Output:        stderr,
			Source:        key,
			MaxConcurrent: cfg.Stream.MaxConcurrent,
		})
		streamOpts = append(streamOpts, stream.WithObserver(reporter))
	}

	s, err := stream.New(fetcher, w, streamOpts...)
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}

	start := time.Now()
	sess, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if reporter != nil {
		reporter.Start(sess.Manifest())
	}

	err = sess.Wait(ctx)
	if ctx.Err() != nil {
		s.Stop()
	}
	if reporter != nil {
		reporter.Stop()
	}

	switch {
	case ctx.Err() != nil:
		return withCode(ExitGeneralError, errors.New("interrupted"))
	case err != nil:
		return withCode(ExitStreamFailed, err)
	case w.err != nil:
		return withCode(ExitGeneralError, w.err)
	}

	m := sess.Manifest()
	fmt.Fprintf(stderr, "[chunkstream] Streamed %d/%d chunks (%s) in %s\n",
		w.chunks, m.Len(), progress.FormatBytes(w.bytes), time.Since(start).Round(time.Millisecond))
	if opts.Decode {
		fmt.Fprintf(stdout, "Points: %d\n", w.points)
	}
	if opts.Output != "" {
		fmt.Fprintf(stderr, "[chunkstream] Chunks written to %s\n", opts.Output)
	}
	return nil
}
