package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xPuncker/cronkeeper/pkg/types"
	"github.com/sirupsen/logrus"
)

// recentExecutions is the number of records included in a job snapshot.
const recentExecutions = 10

// ExecutionListener is notified of every finalized execution record.
// Listeners run on the execution goroutine and should not block.
type ExecutionListener interface {
	OnExecution(record ExecutionRecord)
}

// JobSnapshot is a point-in-time view of a registered job.
type JobSnapshot struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Pattern          string            `json:"pattern"`
	Timezone         string            `json:"timezone"`
	Enabled          bool              `json:"enabled"`
	State            State             `json:"state"`
	NextRun          *time.Time        `json:"next_run"`
	PreviousRun      *time.Time        `json:"previous_run"`
	CurrentRun       *time.Time        `json:"current_run"`
	Busy             bool              `json:"busy"`
	Exhausted        bool              `json:"exhausted"`
	Options          Options           `json:"-"`
	RecentExecutions []ExecutionRecord `json:"recent_executions"`
	Stats            Stats             `json:"stats"`
}

// ManagerStats aggregates every registered job.
type ManagerStats struct {
	TotalJobs            int `json:"total_jobs"`
	IdleJobs             int `json:"idle_jobs"`
	RunningJobs          int `json:"running_jobs"`
	PausedJobs           int `json:"paused_jobs"`
	StoppedJobs          int `json:"stopped_jobs"`
	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	FailedExecutions     int `json:"failed_executions"`
}

type managedJob struct {
	def      Definition
	location *time.Location
	runtime  *Runtime
}

// Manager owns the registered jobs, their runtimes and their histories.
type Manager struct {
	logger   *logrus.Logger
	location *time.Location
	recorder *Recorder

	mu    sync.RWMutex
	jobs  map[string]*managedJob
	tasks map[string]Handler

	listenersMu sync.RWMutex
	listeners   []ExecutionListener
}

// NewManager creates a manager. An empty timezone means UTC and a
// non-positive history limit means DefaultHistoryLimit.
func NewManager(logger *logrus.Logger, config types.SchedulerConfig) (*Manager, error) {
	location := time.UTC
	if config.Timezone != "" {
		loc, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid default timezone %q: %w", config.Timezone, err)
		}
		location = loc
	}

	return &Manager{
		logger:   logger,
		location: location,
		recorder: NewRecorder(config.HistoryLimit),
		jobs:     make(map[string]*managedJob),
		tasks:    make(map[string]Handler),
	}, nil
}

// AddListener subscribes a listener to execution records.
func (m *Manager) AddListener(listener ExecutionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Manager) dispatch(record ExecutionRecord) {
	m.listenersMu.RLock()
	listeners := make([]ExecutionListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnExecution(record)
	}
}

// Register validates a definition and starts its runtime. The job begins
// firing on its schedule immediately unless it is disabled.
func (m *Manager) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	pattern, err := ParsePattern(def.Pattern)
	if err != nil {
		return err
	}

	location := m.location
	if def.Timezone != "" {
		location, err = time.LoadLocation(def.Timezone)
		if err != nil {
			return fmt.Errorf("job %s: invalid timezone %q: %w", def.Name, def.Timezone, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[def.Name]; exists {
		return &DuplicateJobError{Name: def.Name}
	}

	schedule := Schedule{
		Pattern:  pattern,
		Location: location,
		StartAt:  def.Options.StartAt,
		StopAt:   def.Options.StopAt,
	}
	history := m.recorder.Open(def.Name, def.Options.HistoryLimit)
	runtime := newRuntime(def, schedule, m.logger, history, m.dispatch)
	m.jobs[def.Name] = &managedJob{
		def:      def,
		location: location,
		runtime:  runtime,
	}
	runtime.start()

	m.logger.WithFields(logrus.Fields{
		"job_name":    def.Name,
		"schedule":    def.Pattern,
		"timezone":    location.String(),
		"enabled":     !def.Disabled,
		"description": def.Description,
	}).Info("Job scheduled successfully")

	return nil
}

// RegisterAll registers each definition independently. A failure does not
// roll back earlier registrations; all failures are joined in the result.
func (m *Manager) RegisterAll(defs []Definition) error {
	var errs []error
	for _, def := range defs {
		if err := m.Register(def); err != nil {
			m.logger.WithFields(logrus.Fields{
				"job_name": def.Name,
				"error":    err.Error(),
			}).Error("Failed to register job")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterTask makes a handler available to configured jobs under name.
func (m *Manager) RegisterTask(name string, task Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[name] = task
}

// LoadPredefinedJobs registers jobs from configuration, resolving each
// job's task against the registered tasks. Like RegisterAll, every job is
// handled independently.
func (m *Manager) LoadPredefinedJobs(jobs []types.Job) error {
	m.mu.RLock()
	tasks := make(map[string]Handler, len(m.tasks))
	for name, task := range m.tasks {
		tasks[name] = task
	}
	m.mu.RUnlock()

	var (
		defs []Definition
		errs []error
	)
	for _, job := range jobs {
		task, exists := tasks[job.TaskName]
		if !exists {
			errs = append(errs, fmt.Errorf("job %s: %w: %s", job.Name, ErrTaskNotFound, job.TaskName))
			continue
		}
		def, err := definitionFromConfig(job, task)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}

	if err := m.RegisterAll(defs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetJob returns a snapshot of the named job or a *NotFoundError.
func (m *Manager) GetJob(name string) (JobSnapshot, error) {
	m.mu.RLock()
	job, exists := m.jobs[name]
	m.mu.RUnlock()

	if !exists {
		return JobSnapshot{}, &NotFoundError{Name: name}
	}
	return m.snapshot(job), nil
}

// GetAllJobs returns a snapshot of every job, ordered by name.
func (m *Manager) GetAllJobs() []JobSnapshot {
	m.mu.RLock()
	jobs := make([]*managedJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].def.Name < jobs[j].def.Name
	})

	snapshots := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snapshots = append(snapshots, m.snapshot(job))
	}
	return snapshots
}

func (m *Manager) snapshot(job *managedJob) JobSnapshot {
	status := job.runtime.status()
	return JobSnapshot{
		Name:             job.def.Name,
		Description:      job.def.Description,
		Pattern:          job.def.Pattern,
		Timezone:         job.location.String(),
		Enabled:          !job.def.Disabled,
		State:            status.State,
		NextRun:          status.NextRun,
		PreviousRun:      status.PreviousRun,
		CurrentRun:       status.CurrentRun,
		Busy:             status.Busy,
		Exhausted:        status.Exhausted,
		Options:          job.def.Options,
		RecentExecutions: m.recorder.Query(job.def.Name, recentExecutions),
		Stats:            m.recorder.Stats(job.def.Name),
	}
}

func (m *Manager) lookup(name string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[name]
	if !exists {
		return nil, false
	}
	return job.runtime, true
}

// Trigger runs the named job now. It reports false for unknown jobs and
// for runs refused by the job's state or overlap protection. A handler
// error is returned only when the job does not catch errors.
func (m *Manager) Trigger(ctx context.Context, name string) (bool, error) {
	runtime, exists := m.lookup(name)
	if !exists {
		return false, nil
	}
	return runtime.Trigger(ctx)
}

// Pause pauses the named job. It reports false if the job is unknown or
// not pausable.
func (m *Manager) Pause(name string) bool {
	runtime, exists := m.lookup(name)
	if !exists {
		return false
	}
	return runtime.Pause()
}

// Resume resumes the named job. It reports false if the job is unknown or
// not paused.
func (m *Manager) Resume(name string) bool {
	runtime, exists := m.lookup(name)
	if !exists {
		return false
	}
	return runtime.Resume()
}

// Stop stops the named job and removes it from the registry along with its
// history. A run in flight is not interrupted.
func (m *Manager) Stop(name string) bool {
	m.mu.Lock()
	job, exists := m.jobs[name]
	if exists {
		delete(m.jobs, name)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	job.runtime.Stop()
	m.recorder.Remove(name)
	m.logger.WithField("job_name", name).Info("Job removed from registry")
	return true
}

// GetStats aggregates job states and execution history across all jobs.
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	runtimes := make([]*Runtime, 0, len(m.jobs))
	for _, job := range m.jobs {
		runtimes = append(runtimes, job.runtime)
	}
	m.mu.RUnlock()

	stats := ManagerStats{TotalJobs: len(runtimes)}
	for _, runtime := range runtimes {
		switch runtime.State() {
		case StateIdle:
			stats.IdleJobs++
		case StateRunning:
			stats.RunningJobs++
		case StatePaused:
			stats.PausedJobs++
		case StateStopped:
			stats.StoppedJobs++
		}
	}

	totals := m.recorder.Totals()
	stats.TotalExecutions = totals.TotalRuns
	stats.SuccessfulExecutions = totals.SuccessfulRuns
	stats.FailedExecutions = totals.FailedRuns
	return stats
}

// StopAll stops every job and clears the registry. Runs in flight are not
// waited for; use Shutdown for that.
func (m *Manager) StopAll() {
	m.stopAll()
}

func (m *Manager) stopAll() []*Runtime {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = make(map[string]*managedJob)
	m.mu.Unlock()

	runtimes := make([]*Runtime, 0, len(jobs))
	for name, job := range jobs {
		job.runtime.Stop()
		m.recorder.Remove(name)
		runtimes = append(runtimes, job.runtime)
	}

	m.logger.WithField("jobs", len(runtimes)).Info("All jobs stopped")
	return runtimes
}

// Shutdown stops every job and waits for in-flight runs to finish or for
// ctx to be done. Handlers have no timeout of their own, so a hung handler
// makes Shutdown return ctx.Err().
func (m *Manager) Shutdown(ctx context.Context) error {
	runtimes := m.stopAll()

	done := make(chan struct{})
	go func() {
		for _, runtime := range runtimes {
			runtime.wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
