package ply

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ligustah/chunkstream/pkg/stream"
)

func TestEncodeDecodeBinary(t *testing.T) {
	points := []Point{
		{X: -1, Y: 0.5, Z: 2, R: 255, G: 10, B: 0},
		{X: 3, Y: -4, Z: 0, R: 1, G: 2, B: 3},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, points); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	cloud, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cloud.Header.Format != FormatLittleEndian {
		t.Errorf("format = %s", cloud.Header.Format)
	}
	if !cloud.HasColor {
		t.Error("expected colour")
	}
	if diff := cmp.Diff(points, cloud.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}

	lo, hi := cloud.Bounds()
	if lo != [3]float32{-1, -4, 0} || hi != [3]float32{3, 0.5, 2} {
		t.Errorf("bounds = %v %v", lo, hi)
	}
}

func TestDecodeASCII(t *testing.T) {
	data := []byte(`ply
format ascii 1.0
comment made by hand
element vertex 3
property double x
property double y
property double z
property float intensity
element face 1
property list uchar int vertex_indices
end_header
0 0 0 0.5
1 2 3 0.25
-1 -2 -3 1
3 0 1 2
`)
	cloud, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cloud.HasColor {
		t.Error("no colour expected")
	}
	want := []Point{{}, {X: 1, Y: 2, Z: 3}, {X: -1, Y: -2, Z: -3}}
	if diff := cmp.Diff(want, cloud.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"made by hand"}, cloud.Header.Comments); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBigEndianMixedTypes(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_big_endian 1.0\nelement vertex 1\n" +
		"property short x\nproperty int y\nproperty double z\nproperty ushort red\nproperty uchar green\nproperty char blue\nend_header\n")
	buf.Write([]byte{0xff, 0xfe})                               // x = -2
	buf.Write([]byte{0x00, 0x00, 0x01, 0x00})                   // y = 256
	buf.Write([]byte{0x3f, 0xf8, 0x00, 0x00, 0x00, 0x00, 0, 0}) // z = 1.5
	buf.Write([]byte{0x00, 0x07})                               // red = 7
	buf.Write([]byte{0x08})                                     // green = 8
	buf.Write([]byte{0x09})                                     // blue = 9

	cloud, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []Point{{X: -2, Y: 256, Z: 1.5, R: 7, G: 8, B: 9}}
	if diff := cmp.Diff(want, cloud.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no magic", "format ascii 1.0\nend_header\n"},
		{"no format", "ply\nelement vertex 0\nproperty float x\nproperty float y\nproperty float z\nend_header\n"},
		{"unknown format", "ply\nformat binary_middle_endian 1.0\nend_header\n"},
		{"missing z", "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nend_header\n1 2\n"},
		{"unterminated", "ply\nformat ascii 1.0\nelement vertex 1\n"},
		{"truncated body", "ply\nformat binary_little_endian 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n\x00\x00"},
		{"face first", "ply\nformat ascii 1.0\nelement face 1\nproperty list uchar int vertex_indices\nelement vertex 0\nend_header\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDecoderTrimsAnchors(t *testing.T) {
	points := make([]Point, 0, 10)
	points = append(points, Point{X: 0.1, R: 200}, Point{X: 0.2, G: 200})
	for i := 0; i < 8; i++ {
		points = append(points, Point{X: float32(i%2*2 - 1), Y: -1, Z: -1})
	}
	var buf bytes.Buffer
	if err := Encode(&buf, points); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	chunk := stream.ChunkDescriptor{ID: "bunny_chunk_000.ply", RecordCount: 2}

	v, err := Decoder{TrimAnchors: true}.Decode(context.Background(), chunk, buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := v.(*Cloud).Len(); n != 2 {
		t.Errorf("trimmed cloud has %d points, want 2", n)
	}

	v, err = Decoder{}.Decode(context.Background(), chunk, buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := v.(*Cloud).Len(); n != 10 {
		t.Errorf("untrimmed cloud has %d points, want 10", n)
	}
}
