// Package testutils provides shared test infrastructure: chunked dataset
// fixtures, an HTTP server backed by a bucket, and (with the integration
// build tag) a MinIO environment.
package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/chunkstream/pkg/ply"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// AnchorCount is the number of bounding box anchors the chunker appends to
// every chunk of a legacy dataset.
const AnchorCount = 8

// Dataset describes a chunked point cloud fixture.
type Dataset struct {
	// Dir is the key prefix the manifest and chunks are written under.
	Dir string
	// Chunks holds the points of each chunk, in priority order.
	Chunks [][]ply.Point
	// Legacy writes the chunker's manifest.json format, including the
	// bounding box anchors appended to every chunk.
	Legacy bool
	// Compress stores chunks zstd framed with a zstd content encoding.
	Compress bool
}

// ChunkName returns the identifier of chunk i.
func ChunkName(i int) string {
	return fmt.Sprintf("chunk_%04d.ply", i)
}

// Grid returns n points on a line starting at offset, coloured by index.
func Grid(n int, offset float32) []ply.Point {
	pts := make([]ply.Point, n)
	for i := range pts {
		f := offset + float32(i)
		pts[i] = ply.Point{X: f, Y: f / 2, Z: -f, R: uint8(i), G: uint8(i * 3), B: 255}
	}
	return pts
}

// Points builds a dataset of n chunks with per points each.
func Points(n, per int) [][]ply.Point {
	chunks := make([][]ply.Point, n)
	for i := range chunks {
		chunks[i] = Grid(per, float32(i*per))
	}
	return chunks
}

// Write stores the dataset in bucket and returns the manifest key.
func (d Dataset) Write(ctx context.Context, bucket *blob.Bucket) (string, error) {
	overall := bounds(nil)
	for _, pts := range d.Chunks {
		overall = merge(overall, bounds(pts))
	}

	var (
		chunks  []stream.ChunkDescriptor
		records int64
	)
	for i, pts := range d.Chunks {
		stored := pts
		if d.Legacy {
			stored = append(append([]ply.Point(nil), pts...), anchors(overall)...)
		}
		var buf bytes.Buffer
		if err := ply.Encode(&buf, stored); err != nil {
			return "", fmt.Errorf("encode chunk %d: %w", i, err)
		}
		data := buf.Bytes()

		var opts *blob.WriterOptions
		if d.Compress {
			enc, err := zstd.NewWriter(nil)
			if err != nil {
				return "", err
			}
			data = enc.EncodeAll(data, nil)
			enc.Close()
			opts = &blob.WriterOptions{ContentEncoding: "zstd"}
		}
		if err := bucket.WriteAll(ctx, path.Join(d.Dir, ChunkName(i)), data, opts); err != nil {
			return "", fmt.Errorf("write chunk %d: %w", i, err)
		}

		chunks = append(chunks, stream.ChunkDescriptor{
			ID:          ChunkName(i),
			RecordCount: int64(len(pts)),
			ByteSize:    int64(buf.Len()),
			Bounds:      bounds(pts),
			Priority:    i,
		})
		records += int64(len(pts))
	}

	var (
		doc []byte
		err error
	)
	if d.Legacy {
		doc, err = legacyDocument(chunks, records, overall)
	} else {
		doc, err = json.Marshal(stream.Manifest{
			TotalRecords:  records,
			ChunkCount:    len(chunks),
			OverallBounds: overall,
			Chunks:        chunks,
		})
	}
	if err != nil {
		return "", err
	}

	key := path.Join(d.Dir, "manifest.json")
	if err := bucket.WriteAll(ctx, key, doc, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return key, nil
}

// MustWrite is Write that fails the test on error.
func (d Dataset) MustWrite(t *testing.T, bucket *blob.Bucket) string {
	t.Helper()
	key, err := d.Write(context.Background(), bucket)
	if err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return key
}

type legacyVec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type legacyBox struct {
	Min legacyVec `json:"min"`
	Max legacyVec `json:"max"`
}

func toLegacy(b stream.Bounds) legacyBox {
	return legacyBox{
		Min: legacyVec{b.Min[0], b.Min[1], b.Min[2]},
		Max: legacyVec{b.Max[0], b.Max[1], b.Max[2]},
	}
}

func legacyDocument(chunks []stream.ChunkDescriptor, records int64, overall stream.Bounds) ([]byte, error) {
	type chunk struct {
		Filename    string    `json:"filename"`
		VertexCount int64     `json:"vertex_count"`
		BoundingBox legacyBox `json:"bounding_box"`
		Priority    int       `json:"priority"`
		FileSize    int64     `json:"file_size_bytes"`
	}
	doc := struct {
		OriginalFile  string    `json:"original_file"`
		TotalVertices int64     `json:"total_vertices"`
		ChunkCount    int       `json:"chunk_count"`
		OverallBox    legacyBox `json:"overall_bounding_box"`
		TargetChunkMB float64   `json:"target_chunk_size_mb"`
		Chunks        []chunk   `json:"chunks"`
	}{
		OriginalFile:  "fixture.ply",
		TotalVertices: records,
		ChunkCount:    len(chunks),
		OverallBox:    toLegacy(overall),
		TargetChunkMB: 0.5,
	}
	for _, c := range chunks {
		doc.Chunks = append(doc.Chunks, chunk{
			Filename:    c.ID,
			VertexCount: c.RecordCount,
			BoundingBox: toLegacy(c.Bounds),
			Priority:    c.Priority,
			FileSize:    c.ByteSize,
		})
	}
	return json.Marshal(doc)
}

func bounds(pts []ply.Point) stream.Bounds {
	if len(pts) == 0 {
		return stream.Bounds{}
	}
	c := ply.Cloud{Points: pts}
	lo, hi := c.Bounds()
	return stream.Bounds{
		Min: stream.Vec3{float64(lo[0]), float64(lo[1]), float64(lo[2])},
		Max: stream.Vec3{float64(hi[0]), float64(hi[1]), float64(hi[2])},
	}
}

func merge(a, b stream.Bounds) stream.Bounds {
	if a == (stream.Bounds{}) {
		return b
	}
	for i := 0; i < 3; i++ {
		a.Min[i] = min(a.Min[i], b.Min[i])
		a.Max[i] = max(a.Max[i], b.Max[i])
	}
	return a
}

// anchors returns black points at the eight corners of b.
func anchors(b stream.Bounds) []ply.Point {
	pts := make([]ply.Point, 0, AnchorCount)
	for i := 0; i < AnchorCount; i++ {
		var p [3]float32
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) == 0 {
				p[axis] = float32(b.Min[axis])
			} else {
				p[axis] = float32(b.Max[axis])
			}
		}
		pts = append(pts, ply.Point{X: p[0], Y: p[1], Z: p[2]})
	}
	return pts
}

// StartBucketServer serves the objects of bucket over HTTP. HEAD requests
// report the object size and ETag.
func StartBucketServer(t *testing.T, bucket *blob.Bucket) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		attrs, err := bucket.Attributes(r.Context(), key)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Length", strconv.FormatInt(attrs.Size, 10))
		w.Header().Set("ETag", fmt.Sprintf(`"%x"`, attrs.MD5))
		if attrs.ContentType != "" {
			w.Header().Set("Content-Type", attrs.ContentType)
		}
		if r.Method == http.MethodHead {
			return
		}

		data, err := bucket.ReadAll(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}
