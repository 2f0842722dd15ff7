package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
)

// Vec3 is a three-component vector. It decodes from either [x, y, z] or
// {"x": .., "y": .., "z": ..}.
type Vec3 [3]float64

// UnmarshalJSON implements json.Unmarshaler.
func (v *Vec3) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var o struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			Z float64 `json:"z"`
		}
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		*v = Vec3{o.X, o.Y, o.Z}
		return nil
	}
	var a [3]float64
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*v = a
	return nil
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// ChunkDescriptor describes one independently fetchable chunk.
type ChunkDescriptor struct {
	ID          string `json:"identifier"`
	RecordCount int64  `json:"recordCount"`
	ByteSize    int64  `json:"byteSize"`
	Bounds      Bounds `json:"bounds"`
	Priority    int    `json:"priority"`

	// Key is the object key the chunk is fetched from, resolved relative to
	// the manifest location.
	Key string `json:"-"`
}

// Manifest describes a chunked dataset. Chunks are sorted by ascending
// priority; a manifest is never modified after it is loaded.
type Manifest struct {
	TotalRecords         int64             `json:"totalRecords"`
	ChunkCount           int               `json:"chunkCount"`
	OverallBounds        Bounds            `json:"overallBounds"`
	TargetChunkSizeBytes float64           `json:"targetChunkSizeBytes"`
	Chunks               []ChunkDescriptor `json:"chunks"`

	// Source names the file the dataset was chunked from, when known.
	Source string `json:"-"`
}

// Len returns the number of chunks.
func (m *Manifest) Len() int {
	return len(m.Chunks)
}

// TotalBytes returns the sum of all chunk byte sizes.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += c.ByteSize
	}
	return n
}

// legacyManifest is the format written by the point-cloud chunker tool.
type legacyManifest struct {
	OriginalFile       string  `json:"original_file"`
	TotalVertices      int64   `json:"total_vertices"`
	ChunkCount         int     `json:"chunk_count"`
	OverallBoundingBox Bounds  `json:"overall_bounding_box"`
	TargetChunkSizeMB  float64 `json:"target_chunk_size_mb"`
	Chunks             []struct {
		Filename      string `json:"filename"`
		VertexCount   int64  `json:"vertex_count"`
		BoundingBox   Bounds `json:"bounding_box"`
		Priority      int    `json:"priority"`
		FileSizeBytes int64  `json:"file_size_bytes"`
	} `json:"chunks"`
}

func (l *legacyManifest) convert() *Manifest {
	m := &Manifest{
		TotalRecords:         l.TotalVertices,
		ChunkCount:           l.ChunkCount,
		OverallBounds:        l.OverallBoundingBox,
		TargetChunkSizeBytes: l.TargetChunkSizeMB * 1024 * 1024,
		Chunks:               make([]ChunkDescriptor, len(l.Chunks)),
		Source:               l.OriginalFile,
	}
	for i, c := range l.Chunks {
		m.Chunks[i] = ChunkDescriptor{
			ID:          c.Filename,
			RecordCount: c.VertexCount,
			ByteSize:    c.FileSizeBytes,
			Bounds:      c.BoundingBox,
			Priority:    c.Priority,
		}
	}
	return m
}

// LoadManifest fetches and parses the manifest stored at key. Chunk keys are
// resolved relative to the directory of key.
//
// Returns an error wrapping ErrManifestUnavailable if the fetch fails, or
// ErrManifestMalformed if the document is invalid. Neither is retried.
func LoadManifest(ctx context.Context, f Fetcher, key string) (*Manifest, error) {
	data, err := f.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestUnavailable, key, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	dir := path.Dir(key)
	for i := range m.Chunks {
		m.Chunks[i].Key = chunkKey(dir, m.Chunks[i].ID)
	}
	return m, nil
}

func chunkKey(dir, id string) string {
	if dir == "." || dir == "" {
		return id
	}
	return path.Join(dir, id)
}

// ParseManifest decodes and validates a manifest document. Chunk keys are
// left equal to the chunk identifiers.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document is not an object", ErrManifestMalformed)
	}

	var m *Manifest
	if _, legacy := obj["total_vertices"]; legacy {
		if err := legacySchema().Validate(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
		}
		var l legacyManifest
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
		}
		m = l.convert()
	} else {
		if err := manifestSchema().Validate(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
		}
		m = &Manifest{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestMalformed, err)
		}
	}

	if m.ChunkCount != len(m.Chunks) {
		return nil, fmt.Errorf("%w: chunk count %d does not match %d listed chunks",
			ErrManifestMalformed, m.ChunkCount, len(m.Chunks))
	}

	seen := make(map[string]struct{}, len(m.Chunks))
	for i, c := range m.Chunks {
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: chunk %d: duplicate identifier %q", ErrManifestMalformed, i, c.ID)
		}
		seen[c.ID] = struct{}{}
		m.Chunks[i].Key = c.ID
	}

	// Ties keep manifest order.
	sort.SliceStable(m.Chunks, func(i, j int) bool {
		return m.Chunks[i].Priority < m.Chunks[j].Priority
	})

	return m, nil
}
