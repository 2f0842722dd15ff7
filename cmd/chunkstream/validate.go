package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ligustah/chunkstream/internal/config"
	chttp "github.com/ligustah/chunkstream/internal/http"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Verify all chunks exist and sizes match the manifest",
		Long: `Verify that every chunk listed in a manifest exists with the declared
size. Does not download chunk data - only checks metadata.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	return cmd
}

func runValidate(rootOpts *RootOptions, args []string, stdout, stderr io.Writer) error {
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

	var result *stream.ValidationResult
	if cfg.IsHTTPSource() {
		client, err := chttp.NewClient(cfg.Source, cfg.HTTPOptions())
		if err != nil {
			return withCode(ExitInvalidArgs, err)
		}
		result, err = validateHTTP(ctx, client, key)
		if err != nil {
			return err
		}
	} else {
		f, err := stream.OpenBucketFetcher(ctx, cfg.Source)
		if err != nil {
			return withCode(ExitStorageError, err)
		}
		defer f.Close()

		result, err = stream.Validate(ctx, f.Bucket(), key)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "Manifest: %s\n", key)
	fmt.Fprintf(stdout, "Total size: %d bytes\n", result.TotalBytes)
	fmt.Fprintf(stdout, "Chunks: %d\n", result.ChunkCount)

	if result.Valid {
		fmt.Fprintln(stdout, "Status: VALID")
		return nil
	}

	fmt.Fprintln(stdout, "Status: INVALID")
	fmt.Fprintf(stdout, "Missing chunks: %d\n", result.MissingChunks)
	fmt.Fprintf(stdout, "Size mismatches: %d\n", result.SizeMismatches)
	if len(result.Errors) > 0 {
		fmt.Fprintln(stdout, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}
	return withCode(ExitValidationFailed, errors.New("dataset is incomplete"))
}

// validateHTTP checks chunk objects with HEAD requests.
func validateHTTP(ctx context.Context, client *chttp.Client, key string) (*stream.ValidationResult, error) {
	m, err := stream.LoadManifest(ctx, client, key)
	if err != nil {
		return nil, err
	}

	result := &stream.ValidationResult{
		Valid:      true,
		ChunkCount: m.Len(),
		TotalBytes: m.TotalBytes(),
		Errors:     make([]string, 0),
	}
	for i, c := range m.Chunks {
		info, err := client.Stat(ctx, c.Key)
		if err != nil {
			if errors.Is(err, chttp.ErrNotFound) {
				result.Valid = false
				result.MissingChunks++
				result.Errors = append(result.Errors, fmt.Sprintf("chunk %d missing: %s", i, c.Key))
				continue
			}
			return nil, withCode(ExitSourceNotAccess, fmt.Errorf("check chunk %d: %w", i, err))
		}
		// Servers may omit the length of HEAD responses.
		if info.Size >= 0 && info.Size != c.ByteSize {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d size mismatch: expected %d, got %d", i, c.ByteSize, info.Size))
		}
	}
	return result, nil
}
