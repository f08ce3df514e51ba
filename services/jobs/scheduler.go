package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// Launcher starts a job by name; *Operator satisfies it.
type Launcher interface {
	Run(ctx context.Context, name string) (string, error)
}

// Scheduler triggers jobs on cron expressions.
type Scheduler struct {
	launcher Launcher
	cron     *cron.Cron
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler registers one entry per job name. Specs use the standard
// five-field cron syntax or descriptors such as "@daily".
func NewScheduler(launcher Launcher, specs map[string]string) (*Scheduler, error) {
	s := &Scheduler{
		launcher: launcher,
		cron:     cron.New(),
		log:      slog.Default().With("component", "jobs.scheduler"),
	}
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := specs[name]
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, s.trigger(name)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) trigger(name string) func() {
	return func() {
		id, err := s.launcher.Run(context.Background(), name)
		switch {
		case errors.Is(err, ErrStillRunning):
			scheduled.WithLabelValues(name, "skipped").Inc()
			s.log.Info("previous run still active, skipping", "job", name)
		case err != nil:
			scheduled.WithLabelValues(name, "failed").Inc()
			s.log.Error("scheduled run failed to start", "job", name, "error", err)
		default:
			scheduled.WithLabelValues(name, "started").Inc()
			s.log.Info("scheduled run started", "job", name, "execution", id)
		}
	}
}

// Entries reports how many schedules are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("scheduler started", "entries", s.Entries())
}

// Stop halts new triggers and waits for triggers in progress, or until ctx
// is done. Executions already launched keep running under the operator.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stopped (timeout)")
		return ctx.Err()
	}
}
