package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLauncher struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (l *recordingLauncher) Run(_ context.Context, name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	if l.err != nil {
		return "", l.err
	}
	return "exec-" + name, nil
}

func TestScheduler_RegistersEntries(t *testing.T) {
	s, err := NewScheduler(&recordingLauncher{}, map[string]string{
		UpdateMoviesJob: "0 22 * * *",
		UpdateSeriesJob: "0 9 * * *",
		"disabledJob":   "",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())

	s.Start()
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(&recordingLauncher{}, map[string]string{UpdateMoviesJob: "every tuesday"})
	assert.Error(t, err)
}

func TestScheduler_TriggerLaunchesJob(t *testing.T) {
	l := &recordingLauncher{}
	s, err := NewScheduler(l, map[string]string{UpdateMoviesJob: "@daily"})
	require.NoError(t, err)

	skipped := testutil.ToFloat64(scheduled.WithLabelValues(UpdateMoviesJob, "skipped"))

	s.trigger(UpdateMoviesJob)()
	l.err = fmt.Errorf("x: %w", ErrStillRunning)
	s.trigger(UpdateMoviesJob)()

	assert.Equal(t, []string{UpdateMoviesJob, UpdateMoviesJob}, l.names)
	assert.Equal(t, skipped+1, testutil.ToFloat64(scheduled.WithLabelValues(UpdateMoviesJob, "skipped")))
}
