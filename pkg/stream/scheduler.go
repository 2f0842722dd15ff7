package stream

import (
	"fmt"

	"github.com/ligustah/chunkstream/internal/logging"
)

// fill launches fetches for the highest-priority eligible chunks while a
// concurrency slot is free and the ready buffer can take the payload.
// Caller holds s.mu.
func (s *Streamer) fill(r *run) {
	for r.inFlight < s.opts.MaxConcurrent && r.inFlight+r.buffer.Len() < r.buffer.Cap() {
		t := r.nextEligible(s.opts.NearThreshold)
		if t == nil {
			return
		}
		t.to(TaskInFlight)
		t.deferred = false
		t.attempts++
		r.inFlight++

		c := r.manifest.Chunks[t.index]
		s.obs.FetchStarted(c)
		s.log.V(logging.TRACE).Info("Launching fetch", "session", r.session.Token(), "chunk", c.ID, "index", t.index, "inFlight", r.inFlight)
		go s.fetch(r, t.index, c)
	}
}

// nextEligible returns the first pending task at or after the cursor.
// Deferred tasks wait until they are within near of the cursor.
func (r *run) nextEligible(near int) *task {
	for i := r.cursor; i < len(r.tasks); i++ {
		t := &r.tasks[i]
		if t.state != TaskPending {
			continue
		}
		if t.deferred && t.index-r.cursor > near {
			continue
		}
		return t
	}
	return nil
}

// fetch runs one chunk download outside the lock and reports back.
func (s *Streamer) fetch(r *run, index int, c ChunkDescriptor) {
	p, err := s.retrieve(r, c)
	s.complete(r, index, c, p, err)
}

func (s *Streamer) retrieve(r *run, c ChunkDescriptor) (*Payload, error) {
	ctx := r.session.Context()
	data, err := s.fetcher.Fetch(ctx, c.Key)
	if err != nil {
		return nil, err
	}
	if s.opts.Decompress {
		if data, err = maybeDecompress(data); err != nil {
			return nil, err
		}
	}

	p := &Payload{Chunk: c, Data: data, Session: r.session}
	if s.opts.Decoder != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Decoded, err = s.opts.Decoder.Decode(ctx, c, data); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	return p, nil
}

// complete applies a finished fetch to the run it was started under.
// Results from a run that is no longer current only release their slot.
func (s *Streamer) complete(r *run, index int, c ChunkDescriptor, p *Payload, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.inFlight--
	size := 0
	if p != nil {
		size = len(p.Data)
	}

	if s.run != r || !s.sessions.IsCurrent(r.session) {
		s.obs.FetchFinished(c, size, err, true)
		s.log.V(logging.DEBUG).Info("Discarding stale fetch", "session", r.session.Token(), "chunk", c.ID)
		return
	}
	s.obs.FetchFinished(c, size, err, false)

	t := &r.tasks[index]
	if err != nil {
		cerr := &ChunkError{Index: index, ID: c.ID, Err: err}
		t.fail(cerr)
		r.failed++
		s.log.Error(cerr, "Chunk fetch failed", "session", r.session.Token(), "chunk", c.ID, "index", index)
		s.fill(r)
		r.signal()
		return
	}

	res := r.buffer.Offer(c.ID, index, p, r.cursor)
	switch res.Outcome {
	case OfferAccepted:
		t.to(TaskReady)
	case OfferReplaced:
		t.to(TaskReady)
		r.tasks[res.EvictedIndex].requeue()
		s.log.V(logging.DEBUG).Info("Evicted buffered chunk", "session", r.session.Token(), "chunk", c.ID, "evicted", res.EvictedID)
	case OfferRejected:
		t.requeue()
		s.log.V(logging.DEBUG).Info("Rejected chunk payload", "session", r.session.Token(), "chunk", c.ID, "cursor", r.cursor)
	}
	s.obs.Offered(c, res)
	s.obs.BufferChanged(r.buffer.Len(), r.buffer.Cap())

	s.fill(r)
	r.signal()
}
