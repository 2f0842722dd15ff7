package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocloud.dev/blob/memblob"

	"github.com/ligustah/chunkstream/internal/testutils"
	"github.com/ligustah/chunkstream/pkg/ply"
	"github.com/ligustah/chunkstream/pkg/stream"
)

type envelope struct {
	Type string `json:"type"`
}

func startRelay(t *testing.T, cfg Config) *websocket.Conn {
	t.Helper()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	hs := httptest.NewServer(srv.WSHandler())
	t.Cleanup(hs.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, req Request) {
	t.Helper()
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

// next reads one text message into v and returns its type.
func next(t *testing.T, ws *websocket.Conn, v any) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("got message kind %d, want text", kind)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("decode %s: %v", env.Type, err)
		}
	}
	return env.Type
}

func nextBinary(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("got message kind %d, want binary", kind)
	}
	return msg
}

func TestNewServerRequiresFetcher(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("expected an error without a fetcher")
	}
}

func TestRelayStreamsChunks(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	key := testutils.Dataset{Dir: "scans/room", Chunks: testutils.Points(5, 10)}.MustWrite(t, bucket)

	ended := make(chan stream.State, 1)
	ws := startRelay(t, Config{
		Fetcher:      stream.NewBucketFetcher(bucket),
		Options:      []stream.Option{stream.WithDecoder(ply.Decoder{})},
		SessionEnded: func(s *stream.Session) { ended <- s.State() },
	})
	send(t, ws, Request{Type: TypeLoad, Manifest: key})

	var started Started
	if typ := next(t, ws, &started); typ != TypeStarted {
		t.Fatalf("first message is %q, want %q", typ, TypeStarted)
	}
	if started.ChunkCount != 5 || started.TotalRecords != 50 || started.Session == "" {
		t.Errorf("unexpected started message: %+v", started)
	}

	for i := 0; i < 5; i++ {
		var hdr ChunkHeader
		if typ := next(t, ws, &hdr); typ != TypeChunk {
			t.Fatalf("message %d is %q, want %q", i, typ, TypeChunk)
		}
		if hdr.Index != i || hdr.Total != 5 || hdr.ID != testutils.ChunkName(i) {
			t.Errorf("chunk %d: unexpected header %+v", i, hdr)
		}
		if hdr.Session != started.Session {
			t.Errorf("chunk %d: session %q, want %q", i, hdr.Session, started.Session)
		}
		if hdr.Points != 10 {
			t.Errorf("chunk %d: %d points, want 10", i, hdr.Points)
		}

		data := nextBinary(t, ws)
		if len(data) != hdr.Bytes {
			t.Errorf("chunk %d: frame has %d bytes, header says %d", i, len(data), hdr.Bytes)
		}
		cloud, err := ply.Decode(data)
		if err != nil {
			t.Fatalf("chunk %d: decode: %v", i, err)
		}
		if cloud.Points[0].X != float32(i*10) {
			t.Errorf("chunk %d: first point %+v", i, cloud.Points[0])
		}
	}

	var done Status
	if typ := next(t, ws, &done); typ != TypeComplete {
		t.Fatalf("final message is %q, want %q", typ, TypeComplete)
	}
	if done.Session != started.Session {
		t.Errorf("complete for session %q, want %q", done.Session, started.Session)
	}

	select {
	case st := <-ended:
		if st != stream.StateCompleted {
			t.Errorf("session ended as %v, want %v", st, stream.StateCompleted)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SessionEnded was not called")
	}
}

func TestRelayReportsManifestFailure(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	ended := make(chan stream.State, 1)
	ws := startRelay(t, Config{
		Fetcher:      stream.NewBucketFetcher(bucket),
		SessionEnded: func(s *stream.Session) { ended <- s.State() },
	})
	send(t, ws, Request{Type: TypeLoad, Manifest: "missing/manifest.json"})

	var st Status
	if typ := next(t, ws, &st); typ != TypeFailed {
		t.Fatalf("got %q, want %q", typ, TypeFailed)
	}
	if !strings.Contains(st.Error, "missing/manifest.json") {
		t.Errorf("error %q does not name the manifest", st.Error)
	}
	if got := <-ended; got != stream.StateFailed {
		t.Errorf("session ended as %v, want %v", got, stream.StateFailed)
	}
}

func TestRelayCancel(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	key := testutils.Dataset{Dir: "big", Chunks: testutils.Points(3, 4)}.MustWrite(t, bucket)
	bf := stream.NewBucketFetcher(bucket)

	// Chunk fetches hang until their session is cancelled.
	f := stream.FetcherFunc(func(ctx context.Context, k string) ([]byte, error) {
		if k == key {
			return bf.Fetch(ctx, k)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ended := make(chan stream.State, 2)
	ws := startRelay(t, Config{
		Fetcher:      f,
		SessionEnded: func(s *stream.Session) { ended <- s.State() },
	})
	send(t, ws, Request{Type: TypeLoad, Manifest: key})
	send(t, ws, Request{Type: TypeCancel})

	var st Status
	if typ := next(t, ws, &st); typ != TypeCancelled {
		t.Fatalf("got %q, want %q", typ, TypeCancelled)
	}
	if st.Session == "" {
		t.Error("cancelled message carries no session")
	}
	select {
	case got := <-ended:
		if got != stream.StateCancelled {
			t.Errorf("session ended as %v, want %v", got, stream.StateCancelled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SessionEnded was not called")
	}

	// A second cancel has nothing to act on.
	send(t, ws, Request{Type: TypeCancel})
	if typ := next(t, ws, &st); typ != TypeError {
		t.Fatalf("got %q, want %q", typ, TypeError)
	}
}

func TestRelayLoadReplacesActiveLoad(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	slow := testutils.Dataset{Dir: "slow", Chunks: testutils.Points(3, 4)}.MustWrite(t, bucket)
	fast := testutils.Dataset{Dir: "fast", Chunks: testutils.Points(2, 4)}.MustWrite(t, bucket)
	bf := stream.NewBucketFetcher(bucket)

	f := stream.FetcherFunc(func(ctx context.Context, k string) ([]byte, error) {
		if strings.HasPrefix(k, "slow/") && k != slow {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return bf.Fetch(ctx, k)
	})

	ws := startRelay(t, Config{Fetcher: f})
	send(t, ws, Request{Type: TypeLoad, Manifest: slow})
	send(t, ws, Request{Type: TypeLoad, Manifest: fast})

	var st Status
	if typ := next(t, ws, &st); typ != TypeCancelled {
		t.Fatalf("got %q, want %q", typ, TypeCancelled)
	}

	var started Started
	if typ := next(t, ws, &started); typ != TypeStarted {
		t.Fatalf("got %q, want %q", typ, TypeStarted)
	}
	if started.Session == st.Session {
		t.Error("replacement load reused the cancelled session")
	}
	if started.ChunkCount != 2 {
		t.Errorf("started %d chunks, want 2", started.ChunkCount)
	}
	for i := 0; i < 2; i++ {
		var hdr ChunkHeader
		if typ := next(t, ws, &hdr); typ != TypeChunk || hdr.Index != i {
			t.Fatalf("message %d: %q index %d", i, typ, hdr.Index)
		}
		nextBinary(t, ws)
	}
	if typ := next(t, ws, nil); typ != TypeComplete {
		t.Fatalf("got %q, want %q", typ, TypeComplete)
	}
}

func TestRelayRejectsBadRequests(t *testing.T) {
	ws := startRelay(t, Config{
		Fetcher: stream.FetcherFunc(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("unused")
		}),
	})

	for _, raw := range []string{`not json`, `{"type":"teleport"}`, `{"type":"load"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
		var st Status
		if typ := next(t, ws, &st); typ != TypeError {
			t.Errorf("%s: got %q, want %q", raw, typ, TypeError)
		}
		if st.Error == "" {
			t.Errorf("%s: empty error", raw)
		}
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if typ := next(t, ws, nil); typ != TypeError {
		t.Errorf("binary request: got %q, want %q", typ, TypeError)
	}
}
