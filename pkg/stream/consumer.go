package stream

// Payload is a fetched chunk handed to the consumer.
type Payload struct {
	Chunk ChunkDescriptor
	// Data holds the fetched bytes, decompressed when they were zstd framed.
	Data []byte
	// Decoded is the Decoder result, or nil when no Decoder is configured.
	Decoded any
	// Session is the load the payload belongs to.
	Session *Session
}

// Consumer receives chunks in priority order. All methods are called from a
// single goroutine per session and must not call Load or Cancel on the
// Streamer that invokes them.
type Consumer interface {
	OnChunkDelivered(p *Payload, index, total int)
	OnLoadComplete()
	OnLoadFailed(err error)
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are skipped.
type ConsumerFuncs struct {
	Delivered func(p *Payload, index, total int)
	Complete  func()
	Failed    func(err error)
}

func (c ConsumerFuncs) OnChunkDelivered(p *Payload, index, total int) {
	if c.Delivered != nil {
		c.Delivered(p, index, total)
	}
}

func (c ConsumerFuncs) OnLoadComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

func (c ConsumerFuncs) OnLoadFailed(err error) {
	if c.Failed != nil {
		c.Failed(err)
	}
}

// Observer receives engine events for metrics and progress reporting.
// Methods may be called from several goroutines, some with the Streamer lock
// held, so implementations must be safe for concurrent use and must not
// block or call back into the Streamer.
type Observer interface {
	FetchStarted(c ChunkDescriptor)
	// FetchFinished is called for every launched fetch. stale is true when
	// the fetch belonged to a session that is no longer current.
	FetchFinished(c ChunkDescriptor, bytes int, err error, stale bool)
	Offered(c ChunkDescriptor, r OfferResult)
	Delivered(c ChunkDescriptor, index, total int)
	BufferChanged(size, capacity int)
}

// NopObserver ignores all events. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) FetchStarted(ChunkDescriptor)                    {}
func (NopObserver) FetchFinished(ChunkDescriptor, int, error, bool) {}
func (NopObserver) Offered(ChunkDescriptor, OfferResult)            {}
func (NopObserver) Delivered(ChunkDescriptor, int, int)             {}
func (NopObserver) BufferChanged(int, int)                          {}

type multiObserver []Observer

// MultiObserver fans events out to every observer in order.
func MultiObserver(observers ...Observer) Observer {
	return multiObserver(observers)
}

func (m multiObserver) FetchStarted(c ChunkDescriptor) {
	for _, o := range m {
		o.FetchStarted(c)
	}
}

func (m multiObserver) FetchFinished(c ChunkDescriptor, bytes int, err error, stale bool) {
	for _, o := range m {
		o.FetchFinished(c, bytes, err, stale)
	}
}

func (m multiObserver) Offered(c ChunkDescriptor, r OfferResult) {
	for _, o := range m {
		o.Offered(c, r)
	}
}

func (m multiObserver) Delivered(c ChunkDescriptor, index, total int) {
	for _, o := range m {
		o.Delivered(c, index, total)
	}
}

func (m multiObserver) BufferChanged(size, capacity int) {
	for _, o := range m {
		o.BufferChanged(size, capacity)
	}
}
