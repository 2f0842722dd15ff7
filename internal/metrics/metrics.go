// Package metrics exports streaming engine events as Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ligustah/chunkstream/pkg/stream"
)

const namespace = "chunkstream"

// Fetch results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultStale = "stale"
)

var (
	fetchesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_started_total",
			Help:      "Count of chunk fetches launched.",
		},
	)
	fetchesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_finished_total",
			Help:      "Count of chunk fetches finished, by result (ok, error, stale).",
		},
		[]string{"result"},
	)
	fetchedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes fetched for chunks of current sessions.",
		},
	)
	fetchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Chunk fetches currently running.",
		},
	)
	offers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_offers_total",
			Help:      "Count of payloads offered to the ready buffer, by outcome.",
		},
		[]string{"outcome"},
	)
	delivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_delivered_total",
			Help:      "Count of chunks handed to consumers.",
		},
	)
	bufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_buffer_size",
			Help:      "Payloads held in the most recently updated ready buffer.",
		},
	)
	bufferCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_buffer_capacity",
			Help:      "Capacity of the most recently updated ready buffer.",
		},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Count of load sessions that ended, by terminal state.",
		},
		[]string{"state"},
	)
)

var registerMetrics sync.Once

// Register all metrics with the default registerer.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(
			fetchesStarted,
			fetchesFinished,
			fetchedBytes,
			fetchesInFlight,
			offers,
			delivered,
			bufferSize,
			bufferCapacity,
			sessions,
		)
	})
}

// RecordSessionEnd counts a session that reached a terminal state.
func RecordSessionEnd(state stream.State) {
	sessions.WithLabelValues(state.String()).Inc()
}

// Observer records stream events. It implements stream.Observer and is
// safe to share between streamers.
type Observer struct{}

// FetchStarted implements stream.Observer.
func (Observer) FetchStarted(stream.ChunkDescriptor) {
	fetchesStarted.Inc()
	fetchesInFlight.Inc()
}

// FetchFinished implements stream.Observer.
func (Observer) FetchFinished(_ stream.ChunkDescriptor, bytes int, err error, stale bool) {
	fetchesInFlight.Dec()
	switch {
	case stale:
		fetchesFinished.WithLabelValues(ResultStale).Inc()
	case err != nil:
		fetchesFinished.WithLabelValues(ResultError).Inc()
	default:
		fetchesFinished.WithLabelValues(ResultOK).Inc()
		fetchedBytes.Add(float64(bytes))
	}
}

// Offered implements stream.Observer.
func (Observer) Offered(_ stream.ChunkDescriptor, r stream.OfferResult) {
	offers.WithLabelValues(r.Outcome.String()).Inc()
}

// Delivered implements stream.Observer.
func (Observer) Delivered(stream.ChunkDescriptor, int, int) {
	delivered.Inc()
}

// BufferChanged implements stream.Observer.
func (Observer) BufferChanged(size, capacity int) {
	bufferSize.Set(float64(size))
	bufferCapacity.Set(float64(capacity))
}

var _ stream.Observer = Observer{}
