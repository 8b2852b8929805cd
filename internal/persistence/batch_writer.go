package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// AuditStore is the durable sink of audit entries.
type AuditStore interface {
	InsertAuditEntries(ctx context.Context, entries []db.AuditEntry) error
}

// AuditWriter batches audit entries and writes them in the background.
// Writes are fire-and-forget: a failed batch is logged and counted, never
// surfaced to the trading loop.
type AuditWriter struct {
	store       AuditStore
	buffer      []db.AuditEntry
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	flushCh     chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	metrics     AuditWriterMetrics
	metricsMu   sync.Mutex
}

// AuditWriterMetrics provides statistics about batch operations.
type AuditWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Dropped       uint64    `json:"dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewAuditWriter creates a batch writer with specified parameters.
// maxSize: max entries before auto-flush
// interval: time-based flush interval
func NewAuditWriter(store AuditStore, maxSize int, interval time.Duration) *AuditWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	w := &AuditWriter{
		store:       store,
		buffer:      make([]db.AuditEntry, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		flushCh:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.backgroundFlush()

	return w
}

// Record queues one entry and never blocks on the store. A full buffer
// wakes the background loop.
func (w *AuditWriter) Record(entry db.AuditEntry) {
	w.mu.Lock()
	w.buffer = append(w.buffer, entry)
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush immediately writes all buffered entries.
func (w *AuditWriter) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	entries := w.buffer
	w.buffer = make([]db.AuditEntry, 0, w.maxSize)
	w.mu.Unlock()

	return w.executeBatch(entries)
}

func (w *AuditWriter) executeBatch(entries []db.AuditEntry) error {
	atomic.AddUint64(&w.metrics.TotalWrites, uint64(len(entries)))
	atomic.AddUint64(&w.metrics.TotalBatches, 1)
	w.metricsMu.Lock()
	w.metrics.LastBatchSize = len(entries)
	w.metrics.LastFlushTime = time.Now()
	w.metricsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.InsertAuditEntries(ctx, entries); err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		atomic.AddUint64(&w.metrics.Dropped, uint64(len(entries)))
		logger.WithComponent("audit").WithError(err).WithField("entries", len(entries)).Error("audit batch dropped")
		return err
	}

	logger.WithComponent("audit").WithField("entries", len(entries)).Debug("audit batch flushed")
	return nil
}

func (w *AuditWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush()
		case <-w.flushCh:
			_ = w.Flush()
		case <-w.done:
			// final flush before shutdown
			_ = w.Flush()
			return
		}
	}
}

// Pending returns the number of buffered entries.
func (w *AuditWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Metrics returns the current counters.
func (w *AuditWriter) Metrics() AuditWriterMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return AuditWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&w.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&w.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&w.metrics.TotalErrors),
		Dropped:       atomic.LoadUint64(&w.metrics.Dropped),
		LastBatchSize: w.metrics.LastBatchSize,
		LastFlushTime: w.metrics.LastFlushTime,
	}
}

// Close flushes what is buffered and stops the background loop.
func (w *AuditWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
