package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// BatchWriterConfig holds configuration for the BatchWriter.
type BatchWriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// DefaultBatchWriterConfig provides sensible defaults.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// BatchWriter collects the delivery reports of one run and writes them to a
// RowInserter in batches. It satisfies messagepipeline.DeliveryObserver.
type BatchWriter struct {
	cfg      BatchWriterConfig
	inserter RowInserter
	runID    string
	logger   zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	input   chan *DeliveryRow
	wg      sync.WaitGroup
	dropped atomic.Int64
	now     func() time.Time
}

// NewBatchWriter creates a writer for a single run. An empty runID is replaced
// by a random UUID.
func NewBatchWriter(cfg BatchWriterConfig, inserter RowInserter, runID string, logger zerolog.Logger) (*BatchWriter, error) {
	if inserter == nil {
		return nil, errors.New("row inserter cannot be nil")
	}
	defaults := DefaultBatchWriterConfig()
	if cfg.BatchSize <= 0 {
		logger.Warn().Int("batch_size", cfg.BatchSize).Msg("BatchSize was zero or negative, applying default value.")
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = defaults.InsertTimeout
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &BatchWriter{
		cfg:      cfg,
		inserter: inserter,
		runID:    runID,
		logger:   logger.With().Str("component", "LedgerBatchWriter").Str("run_id", runID).Logger(),
		input:    make(chan *DeliveryRow, cfg.BatchSize*2),
		now:      time.Now,
	}, nil
}

// RunID identifies the rows written by this writer.
func (w *BatchWriter) RunID() string {
	return w.runID
}

// Start begins the batching worker.
func (w *BatchWriter) Start() {
	w.logger.Info().Int("batch_size", w.cfg.BatchSize).Dur("flush_interval", w.cfg.FlushInterval).Msg("Starting ledger writer...")
	w.wg.Add(1)
	go w.worker()
}

// ObserveDelivery queues a report without blocking the caller, which is a
// transport callback. Reports arriving after Stop or while the queue is full
// are dropped.
func (w *BatchWriter) ObserveDelivery(report types.DeliveryReport) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		w.dropped.Add(1)
		w.logger.Warn().Str("message_key", report.Key).Msg("Delivery report arrived after ledger stop, dropped.")
		return
	}
	select {
	case w.input <- NewDeliveryRow(w.runID, report, w.now()):
	default:
		w.dropped.Add(1)
		w.logger.Warn().Str("message_key", report.Key).Int("queue_size", cap(w.input)).Msg("Ledger queue full, delivery report dropped.")
	}
}

// Dropped returns the number of reports that were not queued.
func (w *BatchWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Stop flushes queued rows and closes the inserter.
func (w *BatchWriter) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.input)
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.inserter.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Error closing ledger inserter")
	}
	w.logger.Info().Msg("Ledger writer stopped.")
}

func (w *BatchWriter) worker() {
	defer w.wg.Done()
	batch := make([]*DeliveryRow, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case row, ok := <-w.input:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = make([]*DeliveryRow, 0, w.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*DeliveryRow, 0, w.cfg.BatchSize)
			}
		}
	}
}

// flush writes one batch. A failed batch is logged and dropped.
func (w *BatchWriter) flush(batch []*DeliveryRow) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.InsertTimeout)
	defer cancel()

	if err := w.inserter.InsertRows(ctx, batch); err != nil {
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write ledger batch.")
		return
	}
	w.logger.Debug().Int("batch_size", len(batch)).Msg("Ledger batch written.")
}
