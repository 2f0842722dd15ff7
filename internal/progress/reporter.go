package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ligustah/chunkstream/pkg/stream"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Source is the dataset being streamed (for display).
	Source string

	// MaxConcurrent is the fetch concurrency (for display).
	MaxConcurrent int
}

// Reporter outputs human-readable streaming progress. It implements
// stream.Observer; counters are updated from fetch and delivery events and
// printed periodically once Start is called.
type Reporter struct {
	opts Options

	totalBytes      atomic.Int64
	totalChunks     atomic.Int32
	fetchedBytes    atomic.Int64
	deliveredBytes  atomic.Int64
	deliveredChunks atomic.Int32
	failedChunks    atomic.Int32
	discarded       atomic.Int32
	inProgress      atomic.Int32
	buffered        atomic.Int32

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the dataset summary and begins periodic progress output.
func (r *Reporter) Start(m *stream.Manifest) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	r.totalBytes.Store(m.TotalBytes())
	r.totalChunks.Store(int32(m.Len()))

	fmt.Fprintf(r.opts.Output, "[chunkstream] Streaming: %s\n", r.opts.Source)
	fmt.Fprintf(r.opts.Output, "[chunkstream] Total size: %s | Chunks: %d | Records: %d | Concurrency: %d\n",
		formatBytes(m.TotalBytes()),
		m.Len(),
		m.TotalRecords,
		r.opts.MaxConcurrent,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status. It waits
// for the final status to be written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// FetchStarted implements stream.Observer.
func (r *Reporter) FetchStarted(stream.ChunkDescriptor) {
	r.inProgress.Add(1)
}

// FetchFinished implements stream.Observer.
func (r *Reporter) FetchFinished(_ stream.ChunkDescriptor, bytes int, err error, stale bool) {
	r.inProgress.Add(-1)
	switch {
	case stale:
		r.discarded.Add(1)
	case err != nil:
		r.failedChunks.Add(1)
	default:
		r.fetchedBytes.Add(int64(bytes))
	}
}

// Offered implements stream.Observer.
func (r *Reporter) Offered(_ stream.ChunkDescriptor, res stream.OfferResult) {
	if res.Outcome != stream.OfferAccepted {
		r.discarded.Add(1)
	}
}

// Delivered implements stream.Observer.
func (r *Reporter) Delivered(c stream.ChunkDescriptor, _, _ int) {
	r.deliveredChunks.Add(1)
	r.deliveredBytes.Add(c.ByteSize)
}

// BufferChanged implements stream.Observer.
func (r *Reporter) BufferChanged(size, _ int) {
	r.buffered.Store(int32(size))
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	fetched := r.fetchedBytes.Load()
	delivered := r.deliveredBytes.Load()
	total := r.totalBytes.Load()

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(fetched-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = fetched

	var percent float64
	if total > 0 {
		percent = float64(delivered) / float64(total) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[chunkstream] Progress: %.1f%% | %s / %s | Speed: %s/s    ",
		percent,
		formatBytes(delivered),
		formatBytes(total),
		formatBytes(int64(speed)),
	)
	fmt.Fprintf(r.opts.Output, "\n[chunkstream] Chunks: %d delivered | %d buffered | %d in-flight | %d failed    \033[A",
		r.deliveredChunks.Load(),
		r.buffered.Load(),
		r.inProgress.Load(),
		r.failedChunks.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	delivered := r.deliveredBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(r.fetchedBytes.Load()) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[chunkstream] Delivered: %s / %s | Chunks: %d / %d | Failed: %d | Discarded: %d    \n",
		formatBytes(delivered),
		formatBytes(r.totalBytes.Load()),
		r.deliveredChunks.Load(),
		r.totalChunks.Load(),
		r.failedChunks.Load(),
		r.discarded.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[chunkstream] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

const (
	KB = 1024
	MB = KB * 1024
	GB = MB * 1024
	TB = GB * 1024
)

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "256MB").
// Units are binary; "KiB" style suffixes are accepted as well.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)
	s = strings.Replace(s, "iB", "B", 1)

	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = TB
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "GB"):
		multiplier = GB
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		multiplier = MB
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "KB"):
		multiplier = KB
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &value)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

var _ stream.Observer = (*Reporter)(nil)
