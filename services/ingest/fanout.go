package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// ErrDrainTimeout is returned by FanOutRun.Wait when the pool has not drained
// in time. Tasks keep running.
var ErrDrainTimeout = errors.New("fan-out pool did not drain in time")

// FanOut ingests one task per candidate on a bounded worker pool. It does
// not checkpoint; re-running is safe because existing references are skipped.
type FanOut struct {
	job       string
	reader    *Reader
	processor *Processor
	writer    *Writer
	workers   int
	log       *slog.Logger
}

func NewFanOut(job string, reader *Reader, processor *Processor, writer *Writer, workers int) *FanOut {
	if workers <= 0 {
		workers = 4
	}
	return &FanOut{
		job:       job,
		reader:    reader,
		processor: processor,
		writer:    writer,
		workers:   workers,
		log:       slog.Default().With("component", "ingest.fanout", "job", job),
	}
}

// FanOutRun tracks a started fan-out.
type FanOutRun struct {
	done chan struct{}

	read       atomic.Int64
	inserted   atomic.Int64
	skipped    atomic.Int64
	duplicates atomic.Int64
	malformed  atomic.Int64
	failed     atomic.Int64

	mu  sync.Mutex
	err error
}

// Done is closed once every submitted task has finished.
func (r *FanOutRun) Done() <-chan struct{} { return r.done }

// Wait blocks until the pool drains or timeout elapses. A non-positive
// timeout waits indefinitely. The returned error is the stream failure, if
// any; per-task failures are only counted.
func (r *FanOutRun) Wait(timeout time.Duration) (Stats, error) {
	if timeout <= 0 {
		<-r.done
		return r.Stats(), r.Err()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.done:
		return r.Stats(), r.Err()
	case <-t.C:
		return r.Stats(), ErrDrainTimeout
	}
}

// Stats is a snapshot of the counters so far.
func (r *FanOutRun) Stats() Stats {
	return Stats{
		Read:       r.read.Load(),
		Inserted:   r.inserted.Load(),
		Skipped:    r.skipped.Load(),
		Duplicates: r.duplicates.Load(),
		Malformed:  r.malformed.Load(),
		Failed:     r.failed.Load(),
	}
}

// Err is the error that ended submission early, if any.
func (r *FanOutRun) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *FanOutRun) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Start opens the export and submits tasks from a background goroutine. It
// returns once the export is open. Submission blocks while all workers are
// busy, so memory stays bounded by the pool size. After stop is requested no
// further tasks are submitted.
func (f *FanOut) Start(ctx context.Context, stop *StopFlag) (*FanOutRun, error) {
	if err := f.reader.Open(ctx, 0); err != nil {
		return nil, err
	}
	run := &FanOutRun{done: make(chan struct{})}
	go f.submit(ctx, run, stop)
	return run, nil
}

func (f *FanOut) submit(ctx context.Context, run *FanOutRun, stop *StopFlag) {
	defer close(run.done)
	defer f.reader.Close()

	p := pool.New().WithMaxGoroutines(f.workers)
	f.log.Info("fan-out started", "workers", f.workers)
	for {
		if stop.Stopped() {
			run.setErr(ErrStopped)
			break
		}
		if err := ctx.Err(); err != nil {
			run.setErr(err)
			break
		}
		cand, err := f.reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *ParseError
		if errors.As(err, &perr) {
			run.malformed.Add(1)
			candidates.WithLabelValues(f.job, outcomeMalformed).Inc()
			continue
		}
		if err != nil {
			run.setErr(err)
			break
		}
		run.read.Add(1)
		p.Go(func() { f.task(ctx, run, cand) })
	}
	p.Wait()

	s := run.Stats()
	f.log.Info("fan-out drained", "read", s.Read, "inserted", s.Inserted, "skipped", s.Skipped,
		"duplicates", s.Duplicates, "malformed", s.Malformed, "failed", s.Failed)
}

// task isolates one candidate: every failure, including a panic, is counted
// and logged without touching sibling tasks.
func (f *FanOut) task(ctx context.Context, run *FanOutRun, cand *Candidate) {
	gauge := fanoutInflight.WithLabelValues(f.job)
	gauge.Inc()
	defer gauge.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			run.failed.Add(1)
			candidates.WithLabelValues(f.job, outcomeFailed).Inc()
			f.log.Error("fan-out task panicked", "native_id", cand.NativeID, "panic", fmt.Sprint(rec))
		}
	}()

	rec, err := f.processor.Process(ctx, cand)
	switch {
	case errors.Is(err, ErrMalformedCandidate):
		run.malformed.Add(1)
		candidates.WithLabelValues(f.job, outcomeMalformed).Inc()
		return
	case err != nil:
		run.failed.Add(1)
		candidates.WithLabelValues(f.job, outcomeFailed).Inc()
		f.log.Error("candidate failed", "native_id", cand.NativeID, "error", err)
		return
	case rec == nil:
		run.skipped.Add(1)
		candidates.WithLabelValues(f.job, outcomeSkipped).Inc()
		return
	}

	report, err := f.writer.WriteOne(ctx, rec)
	if err != nil {
		run.failed.Add(1)
		f.log.Error("record write failed", "native_id", cand.NativeID, "error", err)
		return
	}
	run.inserted.Add(int64(report.Saved))
	run.duplicates.Add(int64(report.Duplicates))
	run.failed.Add(int64(report.Failed))
}
