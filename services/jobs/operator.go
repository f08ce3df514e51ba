// Package jobs launches named ingestion jobs and tracks their executions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"geekcatalog/internal/database"
	"geekcatalog/models"
	"geekcatalog/services/ingest"
)

var (
	ErrUnknownJob        = errors.New("unknown job")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNotRunning        = errors.New("execution is not running")
	ErrStillRunning      = errors.New("execution is still running")
	ErrAlreadyComplete   = errors.New("job instance already completed")
	ErrNotRestartable    = errors.New("execution cannot be restarted")
	ErrShuttingDown      = errors.New("operator is shutting down")
)

// Job is one named unit of ingestion work.
type Job interface {
	Name() string
	// Resumable jobs restart from the checkpoint of the execution they
	// replace; others restart from the beginning.
	Resumable() bool
	Execute(ctx context.Context, exec *models.JobExecution, stop *ingest.StopFlag) (ingest.Stats, error)
}

// Detacher is implemented by jobs that leave work running after Execute
// returns. While any of it runs the job counts as running.
type Detacher interface {
	// Detached lists the executions whose work is still running.
	Detached() []string
	// StopDetached signals the work of executionID, or of all executions
	// when executionID is empty, and reports whether any was found.
	StopDetached(executionID string) bool
	Drain(ctx context.Context) error
}

// ExecutionStore persists executions; *database.ExecutionRepository satisfies it.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.JobExecution) error
	Get(ctx context.Context, id string) (*models.JobExecution, error)
	UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, message string) error
	LatestForInstance(ctx context.Context, instanceID string) (*models.JobExecution, error)
	MarkOrphaned(ctx context.Context, message string) (int64, error)
}

type activeRun struct {
	job  string
	stop *ingest.StopFlag
	done chan struct{}
}

// Operator runs, stops, restarts and abandons job executions. Executions run
// on their own goroutine under the operator's context, never the caller's.
type Operator struct {
	store ExecutionStore
	jobs  map[string]Job
	newID func() string
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeRun
	closed bool
}

func NewOperator(store ExecutionStore, jobs ...Job) *Operator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Operator{
		store:  store,
		jobs:   make(map[string]Job, len(jobs)),
		newID:  uuid.NewString,
		log:    slog.Default().With("component", "jobs"),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*activeRun),
	}
	for _, j := range jobs {
		o.jobs[j.Name()] = j
	}
	return o
}

// Jobs lists the registered job names.
func (o *Operator) Jobs() []string {
	names := make([]string, 0, len(o.jobs))
	for name := range o.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start fails executions a previous process left running. Call it once
// before the first Run.
func (o *Operator) Start(ctx context.Context) error {
	n, err := o.store.MarkOrphaned(ctx, "process exited while running")
	if err != nil {
		return fmt.Errorf("recover orphaned executions: %w", err)
	}
	if n > 0 {
		o.log.Warn("marked orphaned executions as failed", "count", n)
	}
	return nil
}

// Run launches a new instance of the named job and returns its execution id.
func (o *Operator) Run(ctx context.Context, name string) (string, error) {
	job, ok := o.jobs[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	exec := &models.JobExecution{
		ID:         o.newID(),
		JobName:    name,
		InstanceID: o.newID(),
		Status:     models.ExecutionStarting,
	}
	if err := o.launch(ctx, job, exec); err != nil {
		return "", err
	}
	return exec.ID, nil
}

// Restart launches a new execution of a failed or stopped job instance.
// Resumable jobs continue from the latest checkpoint of that instance.
func (o *Operator) Restart(ctx context.Context, executionID string) (string, error) {
	prev, err := o.get(ctx, executionID)
	if err != nil {
		return "", err
	}
	latest, err := o.store.LatestForInstance(ctx, prev.InstanceID)
	if err != nil {
		return "", fmt.Errorf("latest execution of %s: %w", prev.InstanceID, err)
	}
	if latest == nil {
		latest = prev
	}
	switch {
	case latest.Status.Running():
		return "", fmt.Errorf("%s: %w", latest.ID, ErrStillRunning)
	case latest.Status == models.ExecutionCompleted:
		return "", fmt.Errorf("%s: %w", prev.InstanceID, ErrAlreadyComplete)
	case !latest.Status.Restartable():
		return "", fmt.Errorf("%s is %s: %w", latest.ID, latest.Status, ErrNotRestartable)
	}

	job, ok := o.jobs[latest.JobName]
	if !ok {
		return "", fmt.Errorf("%q: %w", latest.JobName, ErrUnknownJob)
	}
	exec := &models.JobExecution{
		ID:         o.newID(),
		JobName:    latest.JobName,
		InstanceID: latest.InstanceID,
		Status:     models.ExecutionStarting,
	}
	if job.Resumable() {
		exec.Checkpoint = latest.Checkpoint
		exec.Export = latest.Export
	}
	if err := o.launch(ctx, job, exec); err != nil {
		return "", err
	}
	o.log.Info("restarted execution", "previous", latest.ID, "execution", exec.ID,
		"checkpoint", exec.Checkpoint, "export", exec.Export)
	return exec.ID, nil
}

// Stop asks a running execution to finish after its in-flight work.
func (o *Operator) Stop(ctx context.Context, executionID string) error {
	exec, err := o.get(ctx, executionID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.active[executionID]
	if !ok || !exec.Status.Running() {
		if d, isDetacher := o.jobs[exec.JobName].(Detacher); isDetacher && d.StopDetached(executionID) {
			o.log.Info("stop requested for detached work", "execution", executionID, "job", exec.JobName)
			return nil
		}
		return fmt.Errorf("%s is %s: %w", executionID, exec.Status, ErrNotRunning)
	}
	run.stop.Stop()
	if err := o.store.UpdateStatus(ctx, executionID, models.ExecutionStopping, ""); err != nil {
		return fmt.Errorf("mark stopping: %w", err)
	}
	o.log.Info("stop requested", "execution", executionID, "job", run.job)
	return nil
}

// Abandon marks a finished, failed or stopped execution as never to be
// restarted.
func (o *Operator) Abandon(ctx context.Context, executionID string) error {
	exec, err := o.get(ctx, executionID)
	if err != nil {
		return err
	}
	switch {
	case exec.Status.Running():
		return fmt.Errorf("%s: %w", executionID, ErrStillRunning)
	case exec.Status == models.ExecutionCompleted:
		return fmt.Errorf("%s: %w", executionID, ErrAlreadyComplete)
	case exec.Status == models.ExecutionAbandoned:
		return nil
	}
	if err := o.store.UpdateStatus(ctx, executionID, models.ExecutionAbandoned, "abandoned by operator"); err != nil {
		return fmt.Errorf("abandon %s: %w", executionID, err)
	}
	executions.WithLabelValues(exec.JobName, string(models.ExecutionAbandoned)).Inc()
	o.log.Info("execution abandoned", "execution", executionID, "job", exec.JobName)
	return nil
}

// Get returns the stored state of an execution.
func (o *Operator) Get(ctx context.Context, executionID string) (*models.JobExecution, error) {
	return o.get(ctx, executionID)
}

// Wait blocks until the execution is no longer running in this process and
// returns its final state.
func (o *Operator) Wait(ctx context.Context, executionID string) (*models.JobExecution, error) {
	o.mu.Lock()
	run, ok := o.active[executionID]
	o.mu.Unlock()
	if ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.get(ctx, executionID)
}

// Drain waits for work the named job left running after its executions
// finished, such as a fire-and-forget fan-out.
func (o *Operator) Drain(ctx context.Context, name string) error {
	job, ok := o.jobs[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	if d, ok := job.(Detacher); ok {
		return d.Drain(ctx)
	}
	return nil
}

// Shutdown stops every running execution and waits for them, and for any
// detached fan-out work, to finish. When ctx expires first the remaining work
// is canceled.
func (o *Operator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, run := range o.active {
		run.stop.Stop()
	}
	for _, job := range o.jobs {
		if d, ok := job.(Detacher); ok {
			d.StopDetached("")
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn("shutdown timed out, canceling executions")
		o.cancel()
		<-done
		err = ctx.Err()
	}

	// detached fan-out tasks still run under the operator context, and jobs
	// that were still executing above may have detached since
	for _, job := range o.jobs {
		if d, ok := job.(Detacher); ok {
			d.StopDetached("")
			if derr := d.Drain(ctx); derr != nil {
				err = errors.Join(err, fmt.Errorf("drain %s: %w", job.Name(), derr))
			}
		}
	}
	o.cancel()
	return err
}

func (o *Operator) get(ctx context.Context, executionID string) (*models.JobExecution, error) {
	exec, err := o.store.Get(ctx, executionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", executionID, ErrExecutionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (o *Operator) launch(ctx context.Context, job Job, exec *models.JobExecution) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	for id, run := range o.active {
		if run.job == job.Name() {
			return fmt.Errorf("%s already running as %s: %w", job.Name(), id, ErrStillRunning)
		}
	}
	if d, ok := job.(Detacher); ok {
		if ids := d.Detached(); len(ids) > 0 {
			return fmt.Errorf("%s still draining detached work of %s: %w", job.Name(), ids[0], ErrStillRunning)
		}
	}
	if err := o.store.Create(ctx, exec); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	if err := o.store.UpdateStatus(ctx, exec.ID, models.ExecutionStarted, ""); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	exec.Status = models.ExecutionStarted

	run := &activeRun{job: job.Name(), stop: &ingest.StopFlag{}, done: make(chan struct{})}
	o.active[exec.ID] = run
	o.wg.Add(1)
	go o.execute(job, exec, run)
	o.log.Info("execution started", "execution", exec.ID, "job", exec.JobName, "instance", exec.InstanceID)
	return nil
}

func (o *Operator) execute(job Job, exec *models.JobExecution, run *activeRun) {
	defer o.wg.Done()
	defer close(run.done)

	stats, err := o.safeExecute(job, exec, run.stop)

	status, message := models.ExecutionCompleted, summary(stats)
	switch {
	case errors.Is(err, ingest.ErrStopped):
		status = models.ExecutionStopped
	case err != nil:
		status, message = models.ExecutionFailed, err.Error()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, exec.ID)
	// the operator context may already be canceled during shutdown
	if uerr := o.store.UpdateStatus(context.Background(), exec.ID, status, message); uerr != nil {
		o.log.Error("failed to record execution result", "execution", exec.ID, "error", uerr)
	}
	executions.WithLabelValues(exec.JobName, string(status)).Inc()

	attrs := []any{"execution", exec.ID, "job", exec.JobName, "status", string(status),
		"read", stats.Read, "inserted", stats.Inserted, "offset", stats.Offset}
	if status == models.ExecutionFailed {
		o.log.Error("execution failed", append(attrs, "error", err)...)
		return
	}
	o.log.Info("execution finished", attrs...)
}

func (o *Operator) safeExecute(job Job, exec *models.JobExecution, stop *ingest.StopFlag) (stats ingest.Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(o.ctx, exec, stop)
}

func summary(s ingest.Stats) string {
	return fmt.Sprintf("read=%d inserted=%d skipped=%d duplicates=%d malformed=%d failed=%d batch_failures=%d offset=%d",
		s.Read, s.Inserted, s.Skipped, s.Duplicates, s.Malformed, s.Failed, s.BatchFailures, s.Offset)
}
