package stream

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Fetcher retrieves the bytes stored under key. Implementations must return
// promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// Decoder turns fetched chunk bytes into a typed payload.
type Decoder interface {
	Decode(ctx context.Context, c ChunkDescriptor, data []byte) (any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, c ChunkDescriptor, data []byte) (any, error)

func (f DecoderFunc) Decode(ctx context.Context, c ChunkDescriptor, data []byte) (any, error) {
	return f(ctx, c, data)
}

// BucketFetcher reads objects from a gocloud.dev/blob bucket.
type BucketFetcher struct {
	bucket *blob.Bucket
	owned  bool
}

// NewBucketFetcher wraps an existing bucket. Keys are read as given.
// The caller keeps ownership of the bucket.
func NewBucketFetcher(bucket *blob.Bucket) *BucketFetcher {
	return &BucketFetcher{bucket: bucket}
}

// OpenBucketFetcher opens the bucket at bucketURL. A "prefix" URL parameter
// scopes every key below that prefix. The caller must call Close.
func OpenBucketFetcher(ctx context.Context, bucketURL string) (*BucketFetcher, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("stream: open bucket: %w", err)
	}
	return &BucketFetcher{bucket: bucket, owned: true}, nil
}

// Bucket returns the underlying bucket.
func (f *BucketFetcher) Bucket() *blob.Bucket {
	return f.bucket
}

// Fetch reads the whole object stored under key.
func (f *BucketFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := f.bucket.ReadAll(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("stream: object %s not found: %w", key, err)
		}
		return nil, fmt.Errorf("stream: read %s: %w", key, err)
	}
	return data, nil
}

// Close closes the bucket if the fetcher opened it.
func (f *BucketFetcher) Close() error {
	if !f.owned {
		return nil
	}
	return f.bucket.Close()
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// zstdDecoder is shared by all streamers; DecodeAll is safe for concurrent use.
var zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})

// maybeDecompress returns data unchanged unless it starts with a zstd frame.
func maybeDecompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("stream: zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: zstd decode: %w", err)
	}
	return out, nil
}
