package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xPuncker/cronkeeper/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTriggerEndToEnd(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	alignToSecond()
	require.NoError(t, manager.Register(Definition{
		Name:    "every-second",
		Pattern: "*/1 * * * * *",
		Handler: noop,
	}))

	ran, err := manager.Trigger(context.Background(), "every-second")
	require.NoError(t, err)
	require.True(t, ran)

	job, err := manager.GetJob("every-second")
	require.NoError(t, err)
	assert.NotNil(t, job.PreviousRun)
	assert.Equal(t, 1, job.Stats.TotalRuns)
	assert.Equal(t, 1, job.Stats.SuccessfulRuns)
	assert.Equal(t, 0, job.Stats.FailedRuns)
	require.Len(t, job.RecentExecutions, 1)
	assert.True(t, job.RecentExecutions[0].Success)
	assert.NotNil(t, job.RecentExecutions[0].EndedAt)
	assert.NotNil(t, job.RecentExecutions[0].DurationMs)
}

func TestManagerDuplicateRegistration(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	require.NoError(t, manager.Register(Definition{
		Name:        "x",
		Description: "first",
		Pattern:     yearly,
		Handler:     noop,
	}))
	before, err := manager.GetJob("x")
	require.NoError(t, err)

	err = manager.Register(Definition{
		Name:        "x",
		Description: "second",
		Pattern:     "* * * * * *",
		Handler:     noop,
	})
	require.Error(t, err)
	var dupErr *DuplicateJobError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "x", dupErr.Name)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	after, err := manager.GetJob("x")
	require.NoError(t, err)
	assert.Equal(t, "first", after.Description)
	assert.Equal(t, yearly, after.Pattern)
	assert.Equal(t, StateIdle, after.State)
	require.NotNil(t, before.NextRun)
	require.NotNil(t, after.NextRun)
	assert.True(t, before.NextRun.Equal(*after.NextRun))
	assert.Len(t, manager.GetAllJobs(), 1)
}

func TestManagerRegisterValidation(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	err := manager.Register(Definition{Name: "bad-pattern", Pattern: "not a pattern", Handler: noop})
	var patternErr *PatternError
	require.ErrorAs(t, err, &patternErr)

	err = manager.Register(Definition{Name: "bad-zone", Pattern: yearly, Timezone: "Mars/Olympus", Handler: noop})
	require.Error(t, err)

	err = manager.Register(Definition{Pattern: yearly, Handler: noop})
	require.Error(t, err)

	err = manager.Register(Definition{Name: "no-handler", Pattern: yearly})
	require.Error(t, err)

	assert.Empty(t, manager.GetAllJobs())
	_, err = manager.GetJob("bad-pattern")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManagerPauseResume(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})
	require.NoError(t, manager.Register(Definition{Name: "nightly", Pattern: "@daily", Handler: noop}))

	job, err := manager.GetJob("nightly")
	require.NoError(t, err)
	require.NotNil(t, job.NextRun)

	assert.False(t, manager.Resume("nightly"))
	assert.True(t, manager.Pause("nightly"))
	assert.False(t, manager.Pause("nightly"))

	job, err = manager.GetJob("nightly")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, job.State)
	assert.Nil(t, job.NextRun)
	assert.Equal(t, "@daily", job.Pattern)

	assert.True(t, manager.Resume("nightly"))

	job, err = manager.GetJob("nightly")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, job.State)
	require.NotNil(t, job.NextRun)
	assert.Equal(t, "@daily", job.Pattern)
	assert.Equal(t, 0, job.NextRun.UTC().Hour())

	assert.False(t, manager.Pause("missing"))
	assert.False(t, manager.Resume("missing"))
}

func TestManagerDisabledJobStartsPaused(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	var counter int32
	require.NoError(t, manager.Register(Definition{
		Name:     "disabled-job",
		Pattern:  "*/1 * * * * *",
		Disabled: true,
		Handler: func(ctx context.Context, job *Runtime) error {
			atomic.AddInt32(&counter, 1)
			return nil
		},
	}))

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&counter))

	job, err := manager.GetJob("disabled-job")
	require.NoError(t, err)
	assert.False(t, job.Enabled)
	assert.Equal(t, StatePaused, job.State)

	require.True(t, manager.Resume("disabled-job"))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&counter) > 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestManagerStop(t *testing.T) {
	states := map[string]func(m *Manager){
		"idle":   func(m *Manager) {},
		"paused": func(m *Manager) { m.Pause("doomed") },
	}

	for name, prepare := range states {
		t.Run(name, func(t *testing.T) {
			manager := newTestManager(t, types.SchedulerConfig{})
			require.NoError(t, manager.Register(Definition{Name: "doomed", Pattern: yearly, Handler: noop}))
			prepare(manager)

			assert.True(t, manager.Stop("doomed"))
			_, err := manager.GetJob("doomed")
			var notFound *NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "doomed", notFound.Name)

			assert.False(t, manager.Stop("doomed"))
			assert.False(t, manager.Pause("doomed"))
			ran, err := manager.Trigger(context.Background(), "doomed")
			assert.False(t, ran)
			assert.NoError(t, err)
		})
	}
}

func TestManagerStopWhileRunning(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, manager.Register(Definition{
		Name:    "long",
		Pattern: yearly,
		Handler: func(ctx context.Context, job *Runtime) error {
			close(started)
			<-release
			close(finished)
			return nil
		},
	}))

	go manager.Trigger(context.Background(), "long")
	<-started

	assert.True(t, manager.Stop("long"))
	_, err := manager.GetJob("long")
	assert.ErrorIs(t, err, ErrJobNotFound)

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("running handler was interrupted")
	}
}

func TestManagerReRegisterAfterStopKeepsHistorySeparate(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, manager.Register(Definition{
		Name:    "x",
		Pattern: yearly,
		Handler: func(ctx context.Context, job *Runtime) error {
			close(started)
			<-release
			return nil
		},
	}))

	go func() {
		defer close(done)
		manager.Trigger(context.Background(), "x")
	}()
	<-started

	require.True(t, manager.Stop("x"))
	require.NoError(t, manager.Register(Definition{Name: "x", Pattern: yearly, Handler: noop}))

	close(release)
	<-done

	job, err := manager.GetJob("x")
	require.NoError(t, err)
	assert.Equal(t, 0, job.Stats.TotalRuns)
	assert.Empty(t, job.RecentExecutions)
	assert.Nil(t, job.PreviousRun)
	assert.Equal(t, StateIdle, job.State)
	assert.Equal(t, 0, manager.GetStats().TotalExecutions)
}

func TestManagerPauseWhileRunning(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	var counter int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	require.NoError(t, manager.Register(Definition{
		Name:    "long-run",
		Pattern: "*/1 * * * * *",
		Handler: func(ctx context.Context, job *Runtime) error {
			if atomic.AddInt32(&counter, 1) == 1 {
				started <- struct{}{}
				<-release
			}
			return nil
		},
	}))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not start")
	}

	require.True(t, manager.Pause("long-run"))
	job, err := manager.GetJob("long-run")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, job.State)
	assert.True(t, job.Busy)
	assert.NotNil(t, job.CurrentRun)
	assert.Nil(t, job.NextRun)

	close(release)
	require.Eventually(t, func() bool {
		job, err := manager.GetJob("long-run")
		return err == nil && !job.Busy
	}, 2*time.Second, 20*time.Millisecond)

	job, err = manager.GetJob("long-run")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, job.State)
	require.Len(t, job.RecentExecutions, 1)
	assert.True(t, job.RecentExecutions[0].Success)
	assert.Nil(t, job.CurrentRun)

	// a per-second schedule would have fired by now if pause were ignored
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counter))

	resumedAt := time.Now()
	require.True(t, manager.Resume("long-run"))
	job, err = manager.GetJob("long-run")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, job.State)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(resumedAt))
	assert.False(t, job.NextRun.After(resumedAt.Add(2*time.Second)))
}

func TestManagerRegisterAllIsIndependent(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	err := manager.RegisterAll([]Definition{
		{Name: "a", Pattern: yearly, Handler: noop},
		{Name: "b", Pattern: "bogus", Handler: noop},
		{Name: "a", Pattern: yearly, Handler: noop},
		{Name: "c", Pattern: "@weekly", Handler: noop},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	jobs := manager.GetAllJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "c", jobs[1].Name)
}

func TestManagerLoadPredefinedJobs(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{Timezone: "Europe/Paris"})
	manager.RegisterTask("noop", noop)

	disabled := false
	err := manager.LoadPredefinedJobs([]types.Job{
		{Name: "configured", Schedule: "0 30 6 * * *", TaskName: "noop", Description: "morning"},
		{Name: "paused", Schedule: yearly, TaskName: "noop", Enabled: &disabled},
		{Name: "utc", Schedule: yearly, TaskName: "noop", Timezone: "UTC", Options: types.JobOptions{MinInterval: "10m", Catch: true}},
		{Name: "orphan", Schedule: yearly, TaskName: "missing"},
		{Name: "bad-interval", Schedule: yearly, TaskName: "noop", Options: types.JobOptions{MinInterval: "soon"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	jobs := manager.GetAllJobs()
	require.Len(t, jobs, 3)

	configured, err := manager.GetJob("configured")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", configured.Timezone)
	assert.Equal(t, "morning", configured.Description)

	paused, err := manager.GetJob("paused")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.State)

	utc, err := manager.GetJob("utc")
	require.NoError(t, err)
	assert.Equal(t, "UTC", utc.Timezone)
	assert.Equal(t, 10*time.Minute, utc.Options.MinInterval)
	assert.True(t, utc.Options.Catch)
}

func TestManagerGetStats(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	require.NoError(t, manager.Register(Definition{Name: "ok", Pattern: yearly, Handler: noop}))
	require.NoError(t, manager.Register(Definition{
		Name:    "fails",
		Pattern: yearly,
		Options: Options{Catch: true},
		Handler: func(ctx context.Context, job *Runtime) error {
			return errors.New("nope")
		},
	}))
	require.NoError(t, manager.Register(Definition{Name: "idle", Pattern: yearly, Handler: noop, Disabled: true}))

	for i := 0; i < 2; i++ {
		_, err := manager.Trigger(context.Background(), "ok")
		require.NoError(t, err)
	}
	_, err := manager.Trigger(context.Background(), "fails")
	require.NoError(t, err)

	stats := manager.GetStats()
	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 2, stats.IdleJobs)
	assert.Equal(t, 1, stats.PausedJobs)
	assert.Equal(t, 0, stats.RunningJobs)
	assert.Equal(t, 3, stats.TotalExecutions)
	assert.Equal(t, 2, stats.SuccessfulExecutions)
	assert.Equal(t, 1, stats.FailedExecutions)

	manager.StopAll()
	stats = manager.GetStats()
	assert.Equal(t, 0, stats.TotalJobs)
	assert.Equal(t, 0, stats.TotalExecutions)
	assert.Empty(t, manager.GetAllJobs())
}

func TestManagerHistoryLimit(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{HistoryLimit: 3})
	require.NoError(t, manager.Register(Definition{Name: "capped", Pattern: yearly, Handler: noop}))

	var starts []time.Time
	for i := 0; i < 5; i++ {
		_, err := manager.Trigger(context.Background(), "capped")
		require.NoError(t, err)
		job, err := manager.GetJob("capped")
		require.NoError(t, err)
		starts = append(starts, *job.PreviousRun)
	}

	job, err := manager.GetJob("capped")
	require.NoError(t, err)
	require.Len(t, job.RecentExecutions, 3)
	assert.Equal(t, 3, job.Stats.TotalRuns)
	for i, rec := range job.RecentExecutions {
		assert.True(t, starts[4-i].Equal(rec.StartedAt))
	}
}

type recordingListener struct {
	records chan ExecutionRecord
}

func (l *recordingListener) OnExecution(record ExecutionRecord) {
	l.records <- record
}

func TestManagerNotifiesListeners(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})
	listener := &recordingListener{records: make(chan ExecutionRecord, 1)}
	manager.AddListener(listener)

	require.NoError(t, manager.Register(Definition{Name: "observed", Pattern: yearly, Handler: noop}))
	_, err := manager.Trigger(context.Background(), "observed")
	require.NoError(t, err)

	select {
	case rec := <-listener.records:
		assert.Equal(t, "observed", rec.JobName)
		assert.True(t, rec.Success)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
}

func TestManagerShutdownWaitsForRuns(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	started := make(chan struct{})
	var finished int32
	require.NoError(t, manager.Register(Definition{
		Name:    "draining",
		Pattern: yearly,
		Handler: func(ctx context.Context, job *Runtime) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			atomic.StoreInt32(&finished, 1)
			return nil
		},
	}))

	go manager.Trigger(context.Background(), "draining")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, manager.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestManagerShutdownTimesOutOnHungHandler(t *testing.T) {
	manager := newTestManager(t, types.SchedulerConfig{})

	started := make(chan struct{})
	hang := make(chan struct{})
	defer close(hang)
	require.NoError(t, manager.Register(Definition{
		Name:    "hung",
		Pattern: yearly,
		Handler: func(ctx context.Context, job *Runtime) error {
			close(started)
			<-hang
			return nil
		},
	}))

	go manager.Trigger(context.Background(), "hung")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := manager.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewManagerInvalidTimezone(t *testing.T) {
	_, err := NewManager(nil, types.SchedulerConfig{Timezone: "Nowhere/Land"})
	assert.Error(t, err)
}
