package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"geekcatalog/models"
	"geekcatalog/services/ingest"
	"geekcatalog/services/provider"
)

// Named jobs.
const (
	UpdateMoviesJob       = "updateMoviesJob"
	UpdateSeriesJob       = "updateSeriesJob"
	UpdateMoviesFanOutJob = "updateMoviesFanOutJob"
	UpdateSeriesFanOutJob = "updateSeriesFanOutJob"
)

// Pipeline is what an ingestion job needs to turn one provider's export into
// catalog records. Client should already be wrapped with provider.Retrying.
type Pipeline struct {
	Client       provider.Client
	Policy       ingest.Policy
	Records      ingest.RecordStore
	Titles       ingest.TitleStore
	References   ingest.ReferenceFinder
	Checkpoints  ingest.CheckpointStore
	Exports      ExportRecorder
	DedupeWindow int
}

// ExportRecorder persists the export file an execution reads;
// *database.ExecutionRepository satisfies it.
type ExportRecorder interface {
	SaveExport(ctx context.Context, executionID, name string) error
}

func (p Pipeline) processor() *ingest.Processor {
	return ingest.NewProcessor(p.Client, p.References, p.Policy, p.DedupeWindow)
}

func (p Pipeline) writer(job string) *ingest.Writer {
	return ingest.NewWriter(p.Records, p.Titles, p.Client, job)
}

// pinExport returns the stream a checkpointed execution reads. The first
// execution of an instance records the export it opened and every restart
// reopens that file, so a checkpoint is never applied to a later day's
// export.
func (p Pipeline) pinExport(ctx context.Context, exec *models.JobExecution) (ingest.StreamOpener, error) {
	eo, ok := p.Client.(provider.ExportOpener)
	if !ok {
		return p.Client, nil
	}
	if exec.Export == "" {
		if exec.Export = eo.CurrentExport(); exec.Export == "" {
			return p.Client, nil
		}
		if p.Exports != nil {
			if err := p.Exports.SaveExport(ctx, exec.ID, exec.Export); err != nil {
				return nil, fmt.Errorf("record export: %w", err)
			}
		}
	}
	return pinnedExport{opener: eo, name: exec.Export}, nil
}

type pinnedExport struct {
	opener provider.ExportOpener
	name   string
}

func (e pinnedExport) OpenTitleStream(ctx context.Context) (io.ReadCloser, error) {
	return e.opener.OpenExport(ctx, e.name)
}

// ChunkedJob runs a checkpointed ChunkedRunner per execution.
type ChunkedJob struct {
	name     string
	pipeline Pipeline
	opts     ingest.ChunkedOptions
}

var _ Job = (*ChunkedJob)(nil)

func NewChunkedJob(name string, pipeline Pipeline, opts ingest.ChunkedOptions) *ChunkedJob {
	return &ChunkedJob{name: name, pipeline: pipeline, opts: opts}
}

func (j *ChunkedJob) Name() string    { return j.name }
func (j *ChunkedJob) Resumable() bool { return true }

func (j *ChunkedJob) Execute(ctx context.Context, exec *models.JobExecution, stop *ingest.StopFlag) (ingest.Stats, error) {
	source, err := j.pipeline.pinExport(ctx, exec)
	if err != nil {
		return ingest.Stats{}, err
	}
	runner := ingest.NewChunkedRunner(j.name,
		ingest.NewReader(source),
		j.pipeline.processor(),
		j.pipeline.writer(j.name),
		j.pipeline.Checkpoints,
		j.opts)
	return runner.Run(ctx, exec.ID, exec.Checkpoint, stop)
}

// FanOutOptions tunes FanOutJob.
type FanOutOptions struct {
	Workers int
	// QueueWait makes Execute wait for the pool to drain. Without it the
	// execution completes once the export is open and tasks drain in the
	// background.
	QueueWait    bool
	DrainTimeout time.Duration
}

// FanOutJob runs one fan-out per execution. It never resumes: a restart
// re-reads the whole export and relies on the existence check.
type FanOutJob struct {
	name     string
	pipeline Pipeline
	opts     FanOutOptions
	log      *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	detached map[string]*ingest.StopFlag
}

var (
	_ Job      = (*FanOutJob)(nil)
	_ Detacher = (*FanOutJob)(nil)
)

func NewFanOutJob(name string, pipeline Pipeline, opts FanOutOptions) *FanOutJob {
	return &FanOutJob{
		name:     name,
		pipeline: pipeline,
		opts:     opts,
		log:      slog.Default().With("component", "jobs", "job", name),
		detached: make(map[string]*ingest.StopFlag),
	}
}

func (j *FanOutJob) Name() string    { return j.name }
func (j *FanOutJob) Resumable() bool { return false }

func (j *FanOutJob) Execute(ctx context.Context, exec *models.JobExecution, stop *ingest.StopFlag) (ingest.Stats, error) {
	fo := ingest.NewFanOut(j.name,
		ingest.NewReader(j.pipeline.Client),
		j.pipeline.processor(),
		j.pipeline.writer(j.name),
		j.opts.Workers)
	run, err := fo.Start(ctx, stop)
	if err != nil {
		return ingest.Stats{}, err
	}

	if !j.opts.QueueWait {
		j.detach(exec.ID, run, stop)
		return run.Stats(), nil
	}

	stats, err := run.Wait(j.opts.DrainTimeout)
	if errors.Is(err, ingest.ErrDrainTimeout) {
		j.detach(exec.ID, run, stop)
		return stats, fmt.Errorf("after %s: %w", j.opts.DrainTimeout, err)
	}
	return stats, err
}

// detach registers run before Execute returns so the operator never sees the
// job idle while its pool is still working.
func (j *FanOutJob) detach(executionID string, run *ingest.FanOutRun, stop *ingest.StopFlag) {
	j.mu.Lock()
	j.detached[executionID] = stop
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		<-run.Done()
		j.mu.Lock()
		delete(j.detached, executionID)
		j.mu.Unlock()
		s := run.Stats()
		j.log.Info("detached fan-out drained", "execution", executionID,
			"inserted", s.Inserted, "failed", s.Failed, "stopped", stop.Stopped())
	}()
}

// Detached lists executions whose fan-out is still draining.
func (j *FanOutJob) Detached() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]string, 0, len(j.detached))
	for id := range j.detached {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopDetached stops submission for the detached fan-out of executionID, or
// of every execution when executionID is empty.
func (j *FanOutJob) StopDetached(executionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if executionID == "" {
		for _, stop := range j.detached {
			stop.Stop()
		}
		return len(j.detached) > 0
	}
	stop, ok := j.detached[executionID]
	if ok {
		stop.Stop()
	}
	return ok
}

// Drain waits for fan-outs that Execute left running, either by design or
// after a drain timeout.
func (j *FanOutJob) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Catalog carries the per-provider pipelines the named jobs are built from.
type Catalog struct {
	Movies Pipeline
	Series Pipeline
}

// NamedJobs builds the four standard ingestion jobs.
func NamedJobs(c Catalog, chunked ingest.ChunkedOptions, fanOut FanOutOptions) []Job {
	return []Job{
		NewChunkedJob(UpdateMoviesJob, c.Movies, chunked),
		NewChunkedJob(UpdateSeriesJob, c.Series, chunked),
		NewFanOutJob(UpdateMoviesFanOutJob, c.Movies, fanOut),
		NewFanOutJob(UpdateSeriesFanOutJob, c.Series, fanOut),
	}
}
