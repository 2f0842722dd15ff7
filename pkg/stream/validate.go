package stream

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of dataset validation.
type ValidationResult struct {
	Valid          bool     // True if every chunk exists with the expected size
	ChunkCount     int      // Number of chunks listed in the manifest
	TotalBytes     int64    // Sum of the manifest byte sizes
	MissingChunks  int      // Chunks whose object does not exist
	SizeMismatches int      // Chunks whose object size differs from byteSize
	Errors         []string // One message per problem found
}

// Validate checks that every chunk listed in the manifest at manifestKey
// exists in bucket with the declared byte size. Chunk objects are not
// downloaded.
//
// Returns an error if the manifest cannot be loaded (wrapping
// ErrManifestUnavailable or ErrManifestMalformed), if the bucket cannot be
// queried, or if ctx is cancelled. Missing chunks and size mismatches are
// reported in the ValidationResult with Valid=false.
func Validate(ctx context.Context, bucket *blob.Bucket, manifestKey string) (*ValidationResult, error) {
	m, err := LoadManifest(ctx, NewBucketFetcher(bucket), manifestKey)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		ChunkCount: m.Len(),
		TotalBytes: m.TotalBytes(),
		Errors:     make([]string, 0),
	}

	for i, c := range m.Chunks {
		attrs, err := bucket.Attributes(ctx, c.Key)
		if err != nil {
			if isNotExist(err) {
				result.Valid = false
				result.MissingChunks++
				result.Errors = append(result.Errors,
					fmt.Sprintf("chunk %d missing: %s", i, c.Key))
				continue
			}
			return nil, fmt.Errorf("stream: check chunk %d: %w", i, err)
		}

		// Compressed objects are smaller than their declared size.
		if attrs.Size != c.ByteSize && !isCompressed(attrs) {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d size mismatch: expected %d, got %d",
					i, c.ByteSize, attrs.Size))
		}
	}

	return result, nil
}

func isCompressed(attrs *blob.Attributes) bool {
	return attrs.ContentEncoding == "zstd"
}
