package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ligustah/chunkstream/internal/config"
	"github.com/ligustah/chunkstream/internal/progress"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// InspectOptions holds the flags of the inspect command.
type InspectOptions struct {
	JSON  bool
	Limit int
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect [manifest]",
		Short: "Print a manifest summary",
		Long: `Load a dataset manifest and print its summary and chunks in priority
order. Both the canonical and the chunker's legacy format are accepted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the normalized manifest as JSON")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of chunks to list (0 lists all)")

	return cmd
}

func runInspect(rootOpts *RootOptions, opts *InspectOptions, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(rootOpts, config.Config{})
	if err != nil {
		return err
	}
	key, err := manifestArg(args, cfg)
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

	m, err := stream.LoadManifest(ctx, fetcher, key)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	fmt.Fprintf(stdout, "Manifest: %s\n", key)
	if m.Source != "" {
		fmt.Fprintf(stdout, "Source file: %s\n", m.Source)
	}
	fmt.Fprintf(stdout, "Records: %d\n", m.TotalRecords)
	fmt.Fprintf(stdout, "Chunks: %d\n", m.Len())
	fmt.Fprintf(stdout, "Total size: %s\n", progress.FormatBytes(m.TotalBytes()))
	fmt.Fprintf(stdout, "Bounds: %s\n", formatBounds(m.OverallBounds))
	fmt.Fprintf(stdout, "Buffer capacity (derived): %d\n", stream.DeriveCapacity(m.Len()))

	n := m.Len()
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	if n == 0 {
		return nil
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%-6s %-8s %-32s %10s %10s\n", "INDEX", "PRIORITY", "IDENTIFIER", "RECORDS", "SIZE")
	for i, c := range m.Chunks[:n] {
		fmt.Fprintf(stdout, "%-6d %-8d %-32s %10d %10s\n", i, c.Priority, c.ID, c.RecordCount, progress.FormatBytes(c.ByteSize))
	}
	if n < m.Len() {
		fmt.Fprintf(stdout, "... %d more\n", m.Len()-n)
	}
	return nil
}

func formatBounds(b stream.Bounds) string {
	return fmt.Sprintf("[%g %g %g] .. [%g %g %g]", b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}
