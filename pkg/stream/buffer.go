package stream

import "sort"

// Capacity bounds used when the buffer capacity is derived from the
// manifest size.
const (
	MinDerivedCapacity = 8
	MaxDerivedCapacity = 64
)

// DeriveCapacity returns a ready buffer capacity for a manifest with n
// chunks: a quarter of the chunk count clamped to
// [MinDerivedCapacity, MaxDerivedCapacity], never more than n and never
// less than 1.
func DeriveCapacity(n int) int {
	c := n / 4
	if c < MinDerivedCapacity {
		c = MinDerivedCapacity
	}
	if c > MaxDerivedCapacity {
		c = MaxDerivedCapacity
	}
	if c > n {
		c = n
	}
	if c < 1 {
		c = 1
	}
	return c
}

// OfferOutcome is the result of offering a payload to the ready buffer.
type OfferOutcome int

const (
	OfferAccepted OfferOutcome = iota
	OfferReplaced
	OfferRejected
)

func (o OfferOutcome) String() string {
	switch o {
	case OfferAccepted:
		return "accepted"
	case OfferReplaced:
		return "replaced"
	case OfferRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// OfferResult describes what Offer did. EvictedID and EvictedIndex are set
// only for OfferReplaced.
type OfferResult struct {
	Outcome      OfferOutcome
	EvictedID    string
	EvictedIndex int
}

// Policy holds the eviction thresholds, in chunks ahead of the cursor.
type Policy struct {
	Near int
	Far  int
}

type bufferEntry struct {
	index   int
	payload *Payload
}

// ReadyBuffer holds fetched payloads until they are consumed.
// It is not safe for concurrent use; the Streamer serializes access.
type ReadyBuffer struct {
	capacity int
	policy   Policy
	entries  map[string]bufferEntry
}

// NewReadyBuffer creates a buffer holding at most capacity payloads.
func NewReadyBuffer(capacity int, policy Policy) *ReadyBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadyBuffer{
		capacity: capacity,
		policy:   policy,
		entries:  make(map[string]bufferEntry, capacity),
	}
}

// Offer stores the payload for chunk id at priority index, given the
// current consumption cursor. When the buffer is full the eviction policy
// decides whether the payload displaces a buffered one. Offering an id
// that is already buffered is rejected.
func (b *ReadyBuffer) Offer(id string, index int, p *Payload, cursor int) OfferResult {
	if _, ok := b.entries[id]; ok {
		return OfferResult{Outcome: OfferRejected}
	}
	if len(b.entries) < b.capacity {
		b.entries[id] = bufferEntry{index: index, payload: p}
		return OfferResult{Outcome: OfferAccepted}
	}

	distance := index - cursor
	var (
		victim string
		found  bool
	)
	switch {
	case distance <= b.policy.Near:
		victim, found = b.farthest(cursor, b.policy.Near)
	case distance > b.policy.Far:
		return OfferResult{Outcome: OfferRejected}
	default:
		// The incoming payload competes with the buffered ones; when it is
		// itself the farthest it is the one dropped.
		victim, found = b.farthest(cursor, distance)
	}
	if !found {
		return OfferResult{Outcome: OfferRejected}
	}

	evicted := b.entries[victim]
	delete(b.entries, victim)
	b.entries[id] = bufferEntry{index: index, payload: p}
	return OfferResult{Outcome: OfferReplaced, EvictedID: victim, EvictedIndex: evicted.index}
}

// farthest returns the buffered entry with the largest distance from the
// cursor among those whose distance exceeds floor.
func (b *ReadyBuffer) farthest(cursor, floor int) (string, bool) {
	var (
		best     string
		bestDist = floor
		found    bool
	)
	for id, e := range b.entries {
		if d := e.index - cursor; d > bestDist {
			best, bestDist, found = id, d, true
		}
	}
	return best, found
}

// Take removes and returns the payload for id.
func (b *ReadyBuffer) Take(id string) (*Payload, bool) {
	e, ok := b.entries[id]
	if !ok {
		return nil, false
	}
	delete(b.entries, id)
	return e.payload, true
}

// Contains reports whether id is buffered.
func (b *ReadyBuffer) Contains(id string) bool {
	_, ok := b.entries[id]
	return ok
}

// Clear drops every payload and returns how many were dropped.
func (b *ReadyBuffer) Clear() int {
	n := len(b.entries)
	clear(b.entries)
	return n
}

// Len returns the number of buffered payloads.
func (b *ReadyBuffer) Len() int {
	return len(b.entries)
}

// Cap returns the buffer capacity.
func (b *ReadyBuffer) Cap() int {
	return b.capacity
}

// IDs returns the buffered chunk ids in priority order.
func (b *ReadyBuffer) IDs() []string {
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return b.entries[ids[i]].index < b.entries[ids[j]].index
	})
	return ids
}
