package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/ligustah/chunkstream/internal/logging"
	"github.com/ligustah/chunkstream/pkg/ply"
	"github.com/ligustah/chunkstream/pkg/stream"
)

const (
	defaultWriteTimeout = 5 * time.Second
	outboxSize          = 16
)

// Config configures a Server.
type Config struct {
	Fetcher stream.Fetcher

	// Options are applied to the Streamer of every connection.
	Options []stream.Option

	Logger logr.Logger

	// SessionEnded, when set, is called once for every load after it
	// reached a terminal state.
	SessionEnded func(*stream.Session)

	// WriteTimeout bounds a single frame write (default 5s).
	WriteTimeout time.Duration

	// IdleTimeout closes connections that send nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration

	// CheckOrigin overrides the websocket origin check. nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// Server relays chunk streams to websocket clients.
type Server struct {
	cfg      Config
	log      logr.Logger
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	active   atomic.Int64
}

// NewServer creates a relay server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("relay: fetcher is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.WithName("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}, nil
}

// Active returns the number of open connections.
func (s *Server) Active() int64 {
	return s.active.Load()
}

type frame struct {
	kind int
	data []byte
}

// conn is one client connection. It is the Consumer of its Streamer.
type conn struct {
	id  string
	ctx context.Context
	out chan frame
	log logr.Logger

	// announced is the load whose started message was sent. It is only
	// touched from consumer callbacks, or after Cancel returned.
	announced *stream.Session
}

// WSHandler serves the streaming websocket endpoint.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.V(logging.DEBUG).Info("Upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
			return
		}
		defer ws.Close()

		s.active.Add(1)
		defer s.active.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := &conn{
			id:  fmt.Sprintf("C%d", s.nextID.Add(1)),
			ctx: ctx,
			out: make(chan frame, outboxSize),
		}
		c.log = s.log.WithValues("conn", c.id, "remote", r.RemoteAddr)
		c.log.V(logging.VERBOSE).Info("Client connected")

		st, err := stream.New(s.cfg.Fetcher, c, s.cfg.Options...)
		if err != nil {
			c.log.Error(err, "Failed to create streamer")
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"), time.Now().Add(time.Second))
			return
		}

		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, ws, c.out)
			cancel()
		}()

		s.readLoop(ctx, ws, st, c)

		st.Stop()
		cancel()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		c.log.V(logging.VERBOSE).Info("Client disconnected")
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, out <-chan frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-out:
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(f.kind, f.data); err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, st *stream.Streamer, c *conn) {
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			c.sendJSON(Status{Type: TypeError, Error: "expected a text message"})
			continue
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.sendJSON(Status{Type: TypeError, Error: "invalid request: " + err.Error()})
			continue
		}

		switch req.Type {
		case TypeLoad:
			if req.Manifest == "" {
				c.sendJSON(Status{Type: TypeError, Error: "load requires a manifest"})
				continue
			}
			s.cancelActive(st, c)
			c.log.Info("Load requested", "manifest", req.Manifest)
			sess, err := st.Load(ctx, req.Manifest)
			if sess != nil {
				s.watch(sess)
			}
			if err != nil && !errors.Is(err, stream.ErrSessionCancelled) {
				// Also reported through OnLoadFailed.
				c.log.V(logging.DEBUG).Info("Load failed", "manifest", req.Manifest, "error", err.Error())
			}
		case TypeCancel:
			if !s.cancelActive(st, c) {
				c.sendJSON(Status{Type: TypeError, Error: "no active load"})
			}
		default:
			c.sendJSON(Status{Type: TypeError, Error: fmt.Sprintf("unknown request type %q", req.Type)})
		}
	}
}

// cancelActive cancels the current load of st and tells the client.
func (s *Server) cancelActive(st *stream.Streamer, c *conn) bool {
	sess := st.Session()
	if sess == nil || !st.Cancel(sess) {
		return false
	}
	c.announced = nil
	c.sendJSON(Status{Type: TypeCancelled, Session: sess.Token()})
	return true
}

func (s *Server) watch(sess *stream.Session) {
	if s.cfg.SessionEnded == nil {
		return
	}
	go func() {
		<-sess.Done()
		s.cfg.SessionEnded(sess)
	}()
}

func (c *conn) send(f frame) bool {
	select {
	case c.out <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *conn) sendJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error(err, "Failed to encode message")
		return false
	}
	return c.send(frame{kind: websocket.TextMessage, data: b})
}

// OnChunkDelivered implements stream.Consumer.
func (c *conn) OnChunkDelivered(p *stream.Payload, index, total int) {
	if p.Session != c.announced {
		c.announced = p.Session
		if m := p.Session.Manifest(); m != nil {
			c.sendJSON(Started{
				Type:          TypeStarted,
				Session:       p.Session.Token(),
				ChunkCount:    m.Len(),
				TotalRecords:  m.TotalRecords,
				TotalBytes:    m.TotalBytes(),
				OverallBounds: m.OverallBounds,
			})
		}
	}

	hdr := ChunkHeader{
		Type:        TypeChunk,
		Session:     p.Session.Token(),
		Index:       index,
		Total:       total,
		ID:          p.Chunk.ID,
		RecordCount: p.Chunk.RecordCount,
		Bounds:      p.Chunk.Bounds,
		Bytes:       len(p.Data),
	}
	if cloud, ok := p.Decoded.(*ply.Cloud); ok {
		hdr.Points = cloud.Len()
	}
	if c.sendJSON(hdr) {
		c.send(frame{kind: websocket.BinaryMessage, data: p.Data})
	}
}

// OnLoadComplete implements stream.Consumer.
func (c *conn) OnLoadComplete() {
	c.sendJSON(Status{Type: TypeComplete, Session: c.token()})
	c.announced = nil
}

// OnLoadFailed implements stream.Consumer.
func (c *conn) OnLoadFailed(err error) {
	c.log.Error(err, "Load failed")
	c.sendJSON(Status{Type: TypeFailed, Session: c.token(), Error: err.Error()})
	c.announced = nil
}

func (c *conn) token() string {
	if c.announced == nil {
		return ""
	}
	return c.announced.Token()
}

var _ stream.Consumer = (*conn)(nil)
