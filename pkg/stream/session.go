package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
)

// State is the lifecycle state of a load attempt.
type State int

const (
	StateIdle State = iota
	StateManifesting
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateManifesting:
		return "manifesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Session identifies one load attempt. Work started under a session that is
// no longer current is discarded when it is observed.
type Session struct {
	token    ksuid.KSUID
	ctx      context.Context
	cancel   context.CancelFunc
	manifest atomic.Pointer[Manifest]

	done     chan struct{}
	endOnce  sync.Once
	released bool // ended on its own; guarded by Controller.mu
	state    State
	err      error
}

// Token returns the opaque session token.
func (s *Session) Token() string {
	return s.token.String()
}

// Manifest returns the manifest being streamed, or nil before it loaded.
func (s *Session) Manifest() *Manifest {
	return s.manifest.Load()
}

// Context returns the session context. It is cancelled when the session is.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the terminal state once Done is closed; StateIdle before that.
func (s *Session) State() State {
	select {
	case <-s.done:
		return s.state
	default:
		return StateIdle
	}
}

// Wait blocks until the session ends or ctx is done.
// It returns nil for a completed load, ErrSessionCancelled for a cancelled
// one and the failure otherwise.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end records the terminal state. Only the first call has an effect.
func (s *Session) end(state State, err error) {
	s.endOnce.Do(func() {
		s.state = state
		s.err = err
		close(s.done)
	})
}

// Controller issues sessions. At most one session is current at a time.
type Controller struct {
	mu      sync.Mutex
	current *Session
}

// Begin starts a new session derived from parent, cancelling the current one.
func (c *Controller) Begin(parent context.Context) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.cancelLocked(c.current)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		token:  ksuid.New(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = s
	return s
}

// Current returns the current session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IsCurrent reports whether s is the current, uncancelled session.
func (c *Controller) IsCurrent(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s != nil && s == c.current && s.ctx.Err() == nil
}

// Cancel cancels s. It returns false if s was already cancelled.
func (c *Controller) Cancel(s *Session) bool {
	if s == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(s)
}

func (c *Controller) cancelLocked(s *Session) bool {
	live := s.ctx.Err() == nil
	s.cancel()
	if !s.released {
		s.end(StateCancelled, ErrSessionCancelled)
	}
	if c.current == s {
		c.current = nil
	}
	return live
}

// release drops s from the controller after it ended on its own. The caller
// is responsible for ending the session.
func (c *Controller) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.released = true
	s.cancel()
	if c.current == s {
		c.current = nil
	}
}
