package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ligustah/chunkstream/internal/logging"
)

// Streamer streams chunked datasets into a Consumer. One load is active at
// a time; starting another cancels the previous one.
type Streamer struct {
	fetcher  Fetcher
	consumer Consumer
	opts     Options
	obs      Observer
	log      logr.Logger

	sessions Controller

	// mu serializes every mutation of the active run: task table, ready
	// buffer, cursor and in-flight count.
	mu  sync.Mutex
	run *run

	// deliverMu is held across consumer callbacks so Cancel can wait out a
	// hand-off that already started. Lock order is deliverMu, then mu.
	deliverMu sync.Mutex
}

// run is the per-session engine state.
type run struct {
	session  *Session
	state    State
	manifest *Manifest
	tasks    []task
	buffer   *ReadyBuffer

	cursor    int
	inFlight  int
	delivered int
	failed    int

	wake chan struct{}
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// clear drops buffered payloads and cancels every task that has not
// finished. Caller holds s.mu.
func (r *run) clear() int {
	for i := range r.tasks {
		switch r.tasks[i].state {
		case TaskPending, TaskInFlight, TaskReady:
			r.tasks[i].to(TaskCancelled)
		}
	}
	dropped := 0
	if r.buffer != nil {
		dropped = r.buffer.Clear()
	}
	if !r.state.Terminal() {
		r.state = StateCancelled
	}
	return dropped
}

// Stats is a snapshot of the active load.
type Stats struct {
	State     State
	Total     int
	Cursor    int
	InFlight  int
	Buffered  int
	Capacity  int
	Delivered int
	Failed    int
}

// New creates a Streamer that fetches through f and delivers to c.
func New(f Fetcher, c Consumer, options ...Option) (*Streamer, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.New("stream: fetcher is required")
	}
	if c == nil {
		c = ConsumerFuncs{}
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	return &Streamer{
		fetcher:  f,
		consumer: c,
		opts:     opts,
		obs:      obs,
		log:      opts.Logger.WithName("stream"),
	}, nil
}

// Load cancels any active session, loads the manifest at manifestKey and
// starts streaming it. It returns once streaming has started.
//
// Manifest errors are returned (wrapping ErrManifestUnavailable or
// ErrManifestMalformed) and also reported through Consumer.OnLoadFailed.
// If the session is cancelled while the manifest loads, Load returns
// ErrSessionCancelled.
func (s *Streamer) Load(ctx context.Context, manifestKey string) (*Session, error) {
	s.mu.Lock()
	replaced := s.teardownLocked()
	sess := s.sessions.Begin(ctx)
	r := &run{session: sess, state: StateManifesting, wake: make(chan struct{}, 1)}
	s.run = r
	s.mu.Unlock()
	if replaced {
		s.barrier()
	}

	log := s.log.WithValues("session", sess.Token(), "manifest", manifestKey)
	log.V(logging.VERBOSE).Info("Loading manifest")

	m, err := LoadManifest(sess.Context(), s.fetcher, manifestKey)

	s.mu.Lock()
	if s.run != r || !s.sessions.IsCurrent(sess) {
		s.abandonLocked(r)
		s.mu.Unlock()
		return sess, ErrSessionCancelled
	}
	if err != nil {
		s.mu.Unlock()
		log.Error(err, "Manifest load failed")
		s.finish(r, StateFailed, err, func() { s.consumer.OnLoadFailed(err) })
		return sess, err
	}

	capacity := s.opts.BufferCapacity
	if capacity == 0 {
		capacity = DeriveCapacity(m.Len())
	}
	r.manifest = m
	sess.manifest.Store(m)
	r.tasks = make([]task, m.Len())
	for i := range r.tasks {
		r.tasks[i].index = i
	}
	r.buffer = NewReadyBuffer(capacity, Policy{Near: s.opts.NearThreshold, Far: s.opts.FarThreshold})
	r.state = StateStreaming
	s.fill(r)
	s.mu.Unlock()

	log.Info("Streaming started", "chunks", m.Len(), "bytes", m.TotalBytes(),
		"bufferCapacity", capacity, "maxConcurrent", s.opts.MaxConcurrent)

	go s.consume(r)
	return sess, nil
}

// Cancel cancels sess. When it returns, no further callback, buffering or
// delivery for sess happens. Fetches still running are told to stop and
// their results are discarded. Cancel is idempotent; it reports whether
// sess was still live.
func (s *Streamer) Cancel(sess *Session) bool {
	if sess == nil {
		return false
	}
	s.mu.Lock()
	var live bool
	if s.run != nil && s.run.session == sess {
		live = s.teardownLocked()
	} else {
		live = s.sessions.Cancel(sess)
	}
	s.mu.Unlock()

	s.barrier()
	if live {
		s.log.V(logging.VERBOSE).Info("Session cancelled", "session", sess.Token())
	}
	return live
}

// Stop cancels the active session, if any.
func (s *Streamer) Stop() bool {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return false
	}
	return s.Cancel(r.session)
}

// Session returns the current session, or nil.
func (s *Streamer) Session() *Session {
	return s.sessions.Current()
}

// Stats returns a snapshot of the active load. The zero Stats is returned
// when no load is active.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.run
	if r == nil {
		return Stats{}
	}
	st := Stats{
		State:     r.state,
		Cursor:    r.cursor,
		InFlight:  r.inFlight,
		Delivered: r.delivered,
		Failed:    r.failed,
	}
	if r.manifest != nil {
		st.Total = r.manifest.Len()
	}
	if r.buffer != nil {
		st.Buffered = r.buffer.Len()
		st.Capacity = r.buffer.Cap()
	}
	return st
}

// teardownLocked cancels the active run and clears its state. It reports
// whether the run's session was still live. Caller holds s.mu.
func (s *Streamer) teardownLocked() bool {
	r := s.run
	if r == nil {
		return false
	}
	live := s.sessions.Cancel(r.session)
	r.clear()
	if r.buffer != nil {
		s.obs.BufferChanged(0, r.buffer.Cap())
	}
	s.run = nil
	return live
}

// abandonLocked cleans up a run whose session was cancelled from outside,
// for example through the parent context. Caller holds s.mu.
func (s *Streamer) abandonLocked(r *run) {
	if s.run == r {
		r.clear()
		s.run = nil
	}
	s.sessions.Cancel(r.session)
}

// barrier waits for a consumer hand-off in progress to return.
func (s *Streamer) barrier() {
	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // empty critical section is the point
}

// handoff runs fn unless the run's session has been cancelled.
func (s *Streamer) handoff(r *run, fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if r.session.Context().Err() != nil {
		return false
	}
	fn()
	return true
}

// finish moves r to a terminal state, notifies the consumer and ends the
// session. Nothing happens if the session was cancelled first.
func (s *Streamer) finish(r *run, state State, err error, notify func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.run != r || !s.sessions.IsCurrent(r.session) {
		s.abandonLocked(r)
		s.mu.Unlock()
		return
	}
	r.state = state
	if r.buffer != nil {
		r.buffer.Clear()
	}
	s.run = nil
	s.sessions.release(r.session)
	s.mu.Unlock()

	notify()
	r.session.end(state, err)
}

// consume delivers chunks in priority order until the cursor passes the
// last chunk or the session ends.
func (s *Streamer) consume(r *run) {
	var (
		stallC   <-chan time.Time
		progress = func() {}
	)
	if s.opts.StallTimeout > 0 {
		timer := time.NewTimer(s.opts.StallTimeout)
		defer timer.Stop()
		stallC = timer.C
		progress = func() { timer.Reset(s.opts.StallTimeout) }
	}
	s.consumeLoop(r, stallC, progress)
}

func (s *Streamer) consumeLoop(r *run, stallC <-chan time.Time, progressed func()) {
	total := r.manifest.Len()
	lastProgress := time.Now()
	log := s.log.WithValues("session", r.session.Token())

	for {
		s.mu.Lock()
		if s.run != r || !s.sessions.IsCurrent(r.session) {
			s.abandonLocked(r)
			s.mu.Unlock()
			return
		}
		if r.cursor >= total {
			s.mu.Unlock()
			log.Info("Load complete", "delivered", r.delivered, "failed", r.failed)
			s.finish(r, StateCompleted, nil, s.consumer.OnLoadComplete)
			return
		}

		t := &r.tasks[r.cursor]
		switch {
		case t.state == TaskReady:
			c := r.manifest.Chunks[r.cursor]
			p, _ := r.buffer.Take(c.ID)
			t.to(TaskDelivered)
			index := r.cursor
			r.cursor++
			r.delivered++
			s.obs.BufferChanged(r.buffer.Len(), r.buffer.Cap())
			s.fill(r)
			s.mu.Unlock()

			if s.handoff(r, func() { s.consumer.OnChunkDelivered(p, index, total) }) {
				s.obs.Delivered(c, index, total)
				lastProgress = time.Now()
				progressed()
			}
			continue

		case t.state == TaskFailed && s.opts.SkipFailed:
			log.V(logging.VERBOSE).Info("Skipping failed chunk", "index", r.cursor, "chunk", r.manifest.Chunks[r.cursor].ID)
			r.cursor++
			s.fill(r)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		select {
		case <-r.session.Context().Done():
		case <-r.wake:
		case <-stallC:
			s.stall(r, time.Since(lastProgress))
			return
		}
	}
}

// stall fails the session because the chunk at the cursor never arrived.
func (s *Streamer) stall(r *run, waited time.Duration) {
	s.mu.Lock()
	if s.run != r || !s.sessions.IsCurrent(r.session) {
		s.abandonLocked(r)
		s.mu.Unlock()
		return
	}
	c := r.manifest.Chunks[r.cursor]
	err := &StallError{Index: r.cursor, ID: c.ID, Waited: waited, Cause: r.tasks[r.cursor].err}
	s.mu.Unlock()

	s.log.Error(err, "Delivery stalled", "session", r.session.Token())
	s.finish(r, StateFailed, err, func() { s.consumer.OnLoadFailed(err) })
}
