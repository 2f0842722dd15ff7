package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func writeLegacyDataset(t *testing.T, ctx context.Context, bucket *blob.Bucket) {
	t.Helper()
	if err := bucket.WriteAll(ctx, "models/bunny/manifest.json", []byte(legacyManifestDoc), nil); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	chunk := []byte(strings.Repeat("x", 290))
	for _, name := range []string{"bunny_chunk_0000.ply", "bunny_chunk_0001.ply"} {
		if err := bucket.WriteAll(ctx, "models/bunny/"+name, chunk, nil); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	writeLegacyDataset(t, ctx, bucket)

	result, err := Validate(ctx, bucket, "models/bunny/manifest.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got invalid: %v", result.Errors)
	}
	if result.ChunkCount != 2 {
		t.Errorf("expected 2 chunks, got %d", result.ChunkCount)
	}
	if result.TotalBytes != 580 {
		t.Errorf("expected 580 bytes, got %d", result.TotalBytes)
	}
}

func TestValidateMissingChunk(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	writeLegacyDataset(t, ctx, bucket)

	if err := bucket.Delete(ctx, "models/bunny/bunny_chunk_0001.ply"); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}

	result, err := Validate(ctx, bucket, "models/bunny/manifest.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid")
	}
	if result.MissingChunks != 1 {
		t.Errorf("expected 1 missing chunk, got %d", result.MissingChunks)
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	writeLegacyDataset(t, ctx, bucket)

	if err := bucket.WriteAll(ctx, "models/bunny/bunny_chunk_0000.ply", []byte("short"), nil); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	result, err := Validate(ctx, bucket, "models/bunny/manifest.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || result.SizeMismatches != 1 {
		t.Errorf("expected one size mismatch, got %+v", result)
	}

	// Zstd-encoded chunks are exempt from the size check.
	opts := &blob.WriterOptions{ContentEncoding: "zstd"}
	if err := bucket.WriteAll(ctx, "models/bunny/bunny_chunk_0000.ply", []byte("short"), opts); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	result, err = Validate(ctx, bucket, "models/bunny/manifest.json")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got %v", result.Errors)
	}
}

func TestValidateMissingManifest(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	if _, err := Validate(ctx, bucket, "nothing/manifest.json"); !errors.Is(err, ErrManifestUnavailable) {
		t.Errorf("expected ErrManifestUnavailable, got %v", err)
	}
}
