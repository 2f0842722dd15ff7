package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/ligustah/chunkstream/internal/testutils"
	"github.com/ligustah/chunkstream/pkg/stream"
)

// fileSource returns a fileblob bucket in a temp dir and its URL.
func fileSource(t *testing.T) (*blob.Bucket, string) {
	t.Helper()
	dir := t.TempDir()
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		t.Fatalf("fileblob.OpenBucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket, "file://" + filepath.ToSlash(dir)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append(args, "--log-level", "error"), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunHelp(t *testing.T) {
	code, _, _ := runCLI(t, "--help")
	if code != ExitSuccess {
		t.Errorf("exit code = %d, want %d", code, ExitSuccess)
	}
}

func TestRunRequiresSource(t *testing.T) {
	code, _, stderr := runCLI(t, "inspect", "data/manifest.json")
	if code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d (stderr: %s)", code, ExitInvalidArgs, stderr)
	}
}

func TestStreamCommand(t *testing.T) {
	bucket, src := fileSource(t)
	key := testutils.Dataset{Dir: "data", Chunks: testutils.Points(6, 12)}.MustWrite(t, bucket)
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := runCLI(t, "stream", "-s", src, key, "--decode", "-o", out, "-j", "2")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Points: 72") {
		t.Errorf("stdout = %q, want the point count", stdout)
	}
	if !strings.Contains(stderr, "[chunkstream] Streamed 6/6 chunks") {
		t.Errorf("stderr = %q, want the summary line", stderr)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 6 {
		t.Errorf("wrote %d files, want 6", len(entries))
	}
	want, err := bucket.ReadAll(context.Background(), "data/"+testutils.ChunkName(3))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(out, testutils.ChunkName(3)))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("written chunk differs from the stored object")
	}
}

func TestStreamLegacyDatasetTrimsAnchors(t *testing.T) {
	bucket, src := fileSource(t)
	key := testutils.Dataset{Dir: "legacy", Chunks: testutils.Points(4, 10), Legacy: true, Compress: true}.MustWrite(t, bucket)

	code, stdout, stderr := runCLI(t, "stream", "-s", src, key, "--decode", "--trim-anchors")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Points: 40") {
		t.Errorf("stdout = %q, want 40 points", stdout)
	}
}

func TestStreamFromHTTPSource(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	key := testutils.Dataset{Dir: "scans", Chunks: testutils.Points(5, 8)}.MustWrite(t, bucket)
	srv := testutils.StartBucketServer(t, bucket)

	code, _, stderr := runCLI(t, "stream", "-s", srv.URL, key, "--progress")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stderr, "[chunkstream] Streaming: "+key) {
		t.Errorf("stderr = %q, want the progress header", stderr)
	}
}

func TestStreamManifestErrors(t *testing.T) {
	bucket, src := fileSource(t)
	if err := bucket.WriteAll(context.Background(), "bad/manifest.json", []byte(`{"chunks": 3}`), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "none/manifest.json", ExitSourceNotAccess},
		{"malformed", "bad/manifest.json", ExitManifestInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, "stream", "-s", src, tt.key)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.want, stderr)
			}
		})
	}
}

func TestInspectCommand(t *testing.T) {
	bucket, src := fileSource(t)
	key := testutils.Dataset{Dir: "data", Chunks: testutils.Points(3, 5)}.MustWrite(t, bucket)

	code, stdout, stderr := runCLI(t, "inspect", "-s", src, key)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Records: 15", "Chunks: 3", testutils.ChunkName(2)} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, stderr = runCLI(t, "inspect", "-s", src, key, "--json")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	var m stream.Manifest
	if err := json.Unmarshal([]byte(stdout), &m); err != nil {
		t.Fatalf("decode JSON output: %v", err)
	}
	if m.Len() != 3 || m.TotalRecords != 15 {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestValidateCommand(t *testing.T) {
	bucket, src := fileSource(t)
	key := testutils.Dataset{Dir: "data", Chunks: testutils.Points(4, 6)}.MustWrite(t, bucket)

	code, stdout, stderr := runCLI(t, "validate", "-s", src, key)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Status: VALID") {
		t.Errorf("stdout = %q", stdout)
	}

	if err := bucket.Delete(context.Background(), "data/"+testutils.ChunkName(1)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	code, stdout, _ = runCLI(t, "validate", "-s", src, key)
	if code != ExitValidationFailed {
		t.Errorf("exit code = %d, want %d", code, ExitValidationFailed)
	}
	if !strings.Contains(stdout, "Missing chunks: 1") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestValidateHTTPSource(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	key := testutils.Dataset{Dir: "data", Chunks: testutils.Points(3, 6)}.MustWrite(t, bucket)
	srv := testutils.StartBucketServer(t, bucket)

	code, stdout, stderr := runCLI(t, "validate", "-s", srv.URL, key)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Status: VALID") {
		t.Errorf("stdout = %q", stdout)
	}

	if err := bucket.WriteAll(context.Background(), "data/"+testutils.ChunkName(2), []byte("short"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	code, stdout, _ = runCLI(t, "validate", "-s", srv.URL, key)
	if code != ExitValidationFailed {
		t.Errorf("exit code = %d, want %d", code, ExitValidationFailed)
	}
	if !strings.Contains(stdout, "Size mismatches: 1") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{withCode(ExitStorageError, os.ErrNotExist), ExitStorageError},
		{stream.ErrManifestUnavailable, ExitSourceNotAccess},
		{stream.ErrManifestMalformed, ExitManifestInvalid},
		{&stream.StallError{Index: 2, ID: "c"}, ExitStreamFailed},
		{os.ErrClosed, ExitGeneralError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
