package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/cronkeeper/pkg/utils"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a job runtime.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Result is what the execution wrapper hands back to its caller. Err is
// non-nil when the handler failed, whether or not the job catches errors.
type Result struct {
	Record ExecutionRecord
	Err    error
}

// Runtime drives one job: a timer loop that sleeps until the next fire,
// overlap protection, and the pause/resume/stop/trigger controls.
//
// The lifecycle state is derived from three facts guarded by mu: stopped,
// paused and the number of in-flight runs. A job paused mid-run reports
// paused while its current run finishes.
type Runtime struct {
	def      Definition
	schedule Schedule
	logger   *logrus.Entry
	history  *History
	notify   func(ExecutionRecord)

	mu          sync.Mutex
	stopped     bool
	exhausted   bool
	paused      bool
	inFlight    int
	fires       int
	nextRun     time.Time
	previousRun time.Time
	currentRun  time.Time

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	runs     sync.WaitGroup
}

// newRuntime builds a runtime with its first fire time already computed,
// so the job is fully scheduled before anyone can look it up.
func newRuntime(def Definition, schedule Schedule, logger *logrus.Logger, history *History, notify func(ExecutionRecord)) *Runtime {
	r := &Runtime{
		def:      def,
		schedule: schedule,
		logger:   logger.WithField("job_name", def.Name),
		history:  history,
		notify:   notify,
		paused:   def.Disabled,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if !r.paused && !r.armLocked(time.Now()) {
		r.logger.Info("No further fire times, schedule finished")
	}
	return r
}

func (r *Runtime) start() {
	go r.loop()
}

// Name returns the job name.
func (r *Runtime) Name() string {
	return r.def.Name
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Runtime) stateLocked() State {
	switch {
	case r.stopped:
		return StateStopped
	case r.paused:
		return StatePaused
	case r.inFlight > 0:
		return StateRunning
	default:
		return StateIdle
	}
}

// NextRun returns the next scheduled fire time, or nil when none is pending.
func (r *Runtime) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return timePtr(r.nextRun)
}

// PreviousRun returns the start time of the latest run, or nil.
func (r *Runtime) PreviousRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return timePtr(r.previousRun)
}

// CurrentRun returns the start time of the in-flight run, or nil when idle.
func (r *Runtime) CurrentRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return timePtr(r.currentRun)
}

// Busy reports whether a run is in flight.
func (r *Runtime) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight > 0
}

type runtimeStatus struct {
	State       State
	NextRun     *time.Time
	PreviousRun *time.Time
	CurrentRun  *time.Time
	Busy        bool
	Exhausted   bool
}

func (r *Runtime) status() runtimeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return runtimeStatus{
		State:       r.stateLocked(),
		NextRun:     timePtr(r.nextRun),
		PreviousRun: timePtr(r.previousRun),
		CurrentRun:  timePtr(r.currentRun),
		Busy:        r.inFlight > 0,
		Exhausted:   r.exhausted,
	}
}

// Pause stops future fires. A run in flight is allowed to finish.
func (r *Runtime) Pause() bool {
	r.mu.Lock()
	if r.stopped || r.paused {
		r.mu.Unlock()
		return false
	}
	r.paused = true
	r.nextRun = time.Time{}
	r.mu.Unlock()

	r.signal()
	r.logger.Info("Job paused")
	return true
}

// Resume re-enables a paused job; the next fire is computed from now.
func (r *Runtime) Resume() bool {
	r.mu.Lock()
	if r.stopped || !r.paused {
		r.mu.Unlock()
		return false
	}
	r.paused = false
	armed := r.armLocked(time.Now())
	r.mu.Unlock()

	r.signal()
	r.logger.Info("Job resumed")
	if !armed {
		r.logger.Info("No further fire times, schedule finished")
	}
	return true
}

// Stop ends the schedule permanently. It does not interrupt a run in
// flight; that run is still finalized.
func (r *Runtime) Stop() bool {
	r.mu.Lock()
	wasStopped := r.stopped
	r.stopped = true
	r.nextRun = time.Time{}
	r.mu.Unlock()

	r.quitOnce.Do(func() { close(r.quit) })
	if !wasStopped {
		r.logger.Info("Job stopped")
	}
	return !wasStopped
}

// Trigger runs the handler now in the caller's goroutine, leaving the
// schedule untouched. It reports false when the job is stopped or when
// overlap protection refuses the run. The handler's error is returned only
// if the job does not catch errors.
func (r *Runtime) Trigger(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false, nil
	}
	if !r.def.Options.AllowOverlap && r.inFlight > 0 {
		r.mu.Unlock()
		r.logger.Warn("Previous run still in progress, skipping manual trigger")
		return false, nil
	}
	startedAt := r.beginLocked()
	r.mu.Unlock()

	defer r.runs.Done()
	result := r.execute(ctx, startedAt)
	if result.Err != nil && !r.def.Options.Catch {
		return true, result.Err
	}
	return true, nil
}

// wait blocks until the timer loop has exited and every in-flight run has
// been finalized.
func (r *Runtime) wait() {
	<-r.done
	r.runs.Wait()
}

func (r *Runtime) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runtime) loop() {
	defer close(r.done)

	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		if r.paused {
			r.mu.Unlock()
			select {
			case <-r.wake:
				continue
			case <-r.quit:
				return
			}
		}

		if !r.armLocked(time.Now()) {
			r.mu.Unlock()
			r.logger.Info("No further fire times, schedule finished")
			return
		}
		next := r.nextRun
		r.mu.Unlock()

		r.logger.WithField("next_run", next.Format(time.RFC3339)).Debug("Waiting for next fire")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			r.fire()
		case <-r.wake:
			timer.Stop()
		case <-r.quit:
			timer.Stop()
			return
		}
	}
}

// armLocked sets nextRun to the next fire after now. When none remains the
// schedule ends: the runtime is stopped and marked exhausted.
func (r *Runtime) armLocked(now time.Time) bool {
	next, ok := r.nextFireLocked(now)
	if !ok {
		r.stopped = true
		r.exhausted = true
		r.nextRun = time.Time{}
		return false
	}
	r.nextRun = next
	return true
}

func (r *Runtime) nextFireLocked(now time.Time) (time.Time, bool) {
	if r.def.Options.MaxRuns > 0 && r.fires >= r.def.Options.MaxRuns {
		return time.Time{}, false
	}

	ref := now
	if r.def.Options.MinInterval > 0 && !r.previousRun.IsZero() {
		earliest := r.previousRun.Add(r.def.Options.MinInterval)
		if earliest.After(ref) {
			ref = earliest.Add(-time.Nanosecond)
		}
	}
	return r.schedule.Next(ref)
}

// fire starts a scheduled run unless the state changed since the fire time
// was computed or overlap protection refuses it.
func (r *Runtime) fire() {
	r.mu.Lock()
	if r.stopped || r.paused {
		r.mu.Unlock()
		return
	}
	if !r.def.Options.AllowOverlap && r.inFlight > 0 {
		r.mu.Unlock()
		r.logger.Warn("Previous run still in progress, skipping scheduled fire")
		return
	}
	if r.def.Options.MinInterval > 0 && !r.previousRun.IsZero() &&
		time.Since(r.previousRun) < r.def.Options.MinInterval {
		r.mu.Unlock()
		r.logger.Debug("Minimum interval since previous run not elapsed, skipping scheduled fire")
		return
	}
	r.fires++
	startedAt := r.beginLocked()
	r.mu.Unlock()

	go func() {
		defer r.runs.Done()
		r.execute(context.Background(), startedAt)
	}()
}

func (r *Runtime) beginLocked() time.Time {
	now := time.Now()
	r.inFlight++
	r.previousRun = now
	r.currentRun = now
	r.runs.Add(1)
	return now
}

// execute is the execution wrapper: pending record, handler, finalized
// record. The record reaches the history before the job stops being busy.
func (r *Runtime) execute(ctx context.Context, startedAt time.Time) Result {
	pending := newPendingRecord(r.def.Name, startedAt)

	r.logger.WithFields(logrus.Fields{
		"schedule":   r.schedule.Pattern.String(),
		"started_at": startedAt.Format(time.RFC3339),
	}).Info("Starting job execution")

	err := r.invoke(ctx)
	endedAt := time.Now()
	record := pending.finish(endedAt, err)

	if !r.history.Record(record) {
		r.logger.Debug("Job history closed, execution record dropped")
	}

	r.mu.Lock()
	r.inFlight--
	if r.inFlight == 0 {
		r.currentRun = time.Time{}
	}
	r.mu.Unlock()

	duration := utils.FormatElapsed(endedAt.Sub(startedAt))
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"error":    record.Error,
			"duration": duration,
		}).Error("Job execution failed")
	} else {
		r.logger.WithField("duration", duration).Info("Job execution completed successfully")
	}

	if r.notify != nil {
		r.notify(record)
	}

	return Result{Record: record, Err: err}
}

func (r *Runtime) invoke(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Job: r.def.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if herr := r.def.Handler(ctx, r); herr != nil {
		var handlerErr *HandlerError
		if errors.As(herr, &handlerErr) {
			return herr
		}
		return &HandlerError{Job: r.def.Name, Err: herr}
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
