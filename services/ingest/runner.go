package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"geekcatalog/models"
)

// ErrStopped is returned when a run ends early on a stop request.
var ErrStopped = errors.New("ingestion stopped")

// StopFlag is a cooperative stop request. Work already started finishes;
// no new chunk or task begins after Stop.
type StopFlag struct {
	stopped atomic.Bool
}

func (s *StopFlag) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop was called. A nil flag is never stopped.
func (s *StopFlag) Stopped() bool { return s != nil && s.stopped.Load() }

// CheckpointStore records progress; *database.ExecutionRepository satisfies it.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, executionID string, checkpoint int64) error
}

// Stats counts candidate outcomes of one run.
type Stats struct {
	Read          int64 `json:"read"`
	Inserted      int64 `json:"inserted"`
	Skipped       int64 `json:"skipped"`
	Duplicates    int64 `json:"duplicates"`
	Malformed     int64 `json:"malformed"`
	Failed        int64 `json:"failed"`
	BatchFailures int64 `json:"batchFailures"`
	Offset        int64 `json:"offset"`
}

// ChunkedOptions tunes ChunkedRunner.
type ChunkedOptions struct {
	ChunkSize            int
	ChunkDelay           time.Duration
	ContinueOnBatchError bool
	// Sleep waits between chunks; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ChunkedRunner reads, processes and writes the export sequentially in
// chunks, saving the reader offset after every chunk.
type ChunkedRunner struct {
	job         string
	reader      *Reader
	processor   *Processor
	writer      *Writer
	checkpoints CheckpointStore
	opts        ChunkedOptions
	log         *slog.Logger
}

func NewChunkedRunner(job string, reader *Reader, processor *Processor, writer *Writer, checkpoints CheckpointStore, opts ChunkedOptions) *ChunkedRunner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &ChunkedRunner{
		job:         job,
		reader:      reader,
		processor:   processor,
		writer:      writer,
		checkpoints: checkpoints,
		opts:        opts,
		log:         slog.Default().With("component", "ingest.runner", "job", job),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes the export from checkpoint until it is exhausted, stop is
// requested, or a non-item error occurs. The offset reached is saved under
// executionID after each chunk.
func (r *ChunkedRunner) Run(ctx context.Context, executionID string, checkpoint int64, stop *StopFlag) (Stats, error) {
	var stats Stats
	if err := r.reader.Open(ctx, checkpoint); err != nil {
		return stats, err
	}
	defer r.reader.Close()
	stats.Offset = r.reader.Offset()
	r.log.Info("chunked run started", "execution", executionID, "offset", stats.Offset, "chunk_size", r.opts.ChunkSize)

	for {
		if stop.Stopped() {
			r.log.Info("stop requested", "execution", executionID, "offset", stats.Offset)
			return stats, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, eof, err := r.readChunk(ctx, &stats)
		if err != nil {
			return stats, err
		}

		if len(batch) > 0 {
			report, err := r.writer.WriteBatch(ctx, batch)
			if err != nil {
				stats.BatchFailures++
				r.log.Error("batch failed", "execution", executionID, "offset", r.reader.Offset(), "error", err)
				if !r.opts.ContinueOnBatchError {
					return stats, err
				}
			} else {
				stats.Inserted += int64(report.Saved)
				stats.Duplicates += int64(report.Duplicates)
				stats.Failed += int64(report.Failed)
			}
		}

		stats.Offset = r.reader.Offset()
		if err := r.checkpoints.SaveCheckpoint(ctx, executionID, stats.Offset); err != nil {
			return stats, fmt.Errorf("save checkpoint: %w", err)
		}
		checkpoints.WithLabelValues(r.job).Set(float64(stats.Offset))

		if eof {
			r.log.Info("chunked run finished", "execution", executionID,
				"read", stats.Read, "inserted", stats.Inserted, "skipped", stats.Skipped,
				"malformed", stats.Malformed, "failed", stats.Failed)
			return stats, nil
		}
		if len(batch) > 0 {
			if err := r.opts.Sleep(ctx, r.opts.ChunkDelay); err != nil {
				return stats, err
			}
		}
	}
}

// readChunk consumes up to ChunkSize lines and returns the records to write.
func (r *ChunkedRunner) readChunk(ctx context.Context, stats *Stats) ([]*models.CatalogRecord, bool, error) {
	batch := make([]*models.CatalogRecord, 0, r.opts.ChunkSize)
	start := r.reader.Offset()
	for r.reader.Offset()-start < int64(r.opts.ChunkSize) {
		cand, err := r.reader.Next()
		if errors.Is(err, io.EOF) {
			return batch, true, nil
		}
		var perr *ParseError
		if errors.As(err, &perr) {
			stats.Malformed++
			candidates.WithLabelValues(r.job, outcomeMalformed).Inc()
			continue
		}
		if err != nil {
			return nil, false, err
		}
		stats.Read++

		rec, err := r.processor.Process(ctx, cand)
		switch {
		case errors.Is(err, ErrMalformedCandidate):
			stats.Malformed++
			candidates.WithLabelValues(r.job, outcomeMalformed).Inc()
		case err != nil:
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			stats.Failed++
			candidates.WithLabelValues(r.job, outcomeFailed).Inc()
			r.log.Error("candidate failed", "native_id", cand.NativeID, "line", cand.Line, "error", err)
		case rec == nil:
			stats.Skipped++
			candidates.WithLabelValues(r.job, outcomeSkipped).Inc()
		default:
			batch = append(batch, rec)
		}
	}
	return batch, false, nil
}
