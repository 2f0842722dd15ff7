package stream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrManifestUnavailable is returned when the manifest cannot be fetched.
	ErrManifestUnavailable = errors.New("stream: manifest unavailable")

	// ErrManifestMalformed is returned when the manifest fails to parse or
	// violates the manifest schema.
	ErrManifestMalformed = errors.New("stream: manifest malformed")

	// ErrChunkFetchFailed marks a single chunk that could not be fetched or
	// decoded. It is terminal for that chunk only.
	ErrChunkFetchFailed = errors.New("stream: chunk fetch failed")

	// ErrSessionCancelled is reported for sessions that ended by cancellation.
	ErrSessionCancelled = errors.New("stream: session cancelled")

	// ErrStalled is reported when delivery made no progress within the
	// configured stall timeout.
	ErrStalled = errors.New("stream: delivery stalled")
)

// ChunkError records a chunk that failed permanently.
// It matches ErrChunkFetchFailed with errors.Is.
type ChunkError struct {
	Index int    // Position in priority order
	ID    string // Chunk identifier
	Err   error  // Underlying fetch or decode error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("stream: chunk %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkFetchFailed, e.Err}
}

// StallError is reported through Consumer.OnLoadFailed when the chunk at the
// cursor did not arrive within the stall timeout.
type StallError struct {
	Index  int
	ID     string
	Waited time.Duration
	Cause  error // Last failure of the blocking chunk, if any
}

func (e *StallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream: delivery stalled at chunk %d (%s) for %s: %v", e.Index, e.ID, e.Waited, e.Cause)
	}
	return fmt.Sprintf("stream: delivery stalled at chunk %d (%s) for %s", e.Index, e.ID, e.Waited)
}

func (e *StallError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrStalled}
	}
	return []error{ErrStalled, e.Cause}
}
