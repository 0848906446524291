package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/cronkeeper/pkg/types"
)

// Handler is the unit of work a job runs. The runtime is passed so the
// handler can inspect its own fire times.
type Handler func(ctx context.Context, job *Runtime) error

// Options controls how a job executes.
type Options struct {
	// AllowOverlap lets a fire start while a previous run is still in
	// flight. By default such fires are skipped.
	AllowOverlap bool
	// MaxRuns ends the schedule after this many scheduled fires. Zero means
	// unlimited. Manual triggers do not count.
	MaxRuns int
	// Catch keeps handler errors out of Trigger's return value. They are
	// recorded in the history either way.
	Catch bool
	// StartAt and StopAt bound the fire times. Zero values are unbounded.
	StartAt time.Time
	StopAt  time.Time
	// MinInterval is the minimum spacing between the starts of two runs.
	MinInterval time.Duration
	// HistoryLimit overrides the manager's history cap for this job.
	HistoryLimit int
}

// Definition is the immutable description of a job supplied at registration.
type Definition struct {
	Name        string
	Description string
	Pattern     string
	// Timezone is an IANA name. Empty uses the manager default.
	Timezone string
	// Disabled jobs are registered paused and fire only after Resume.
	Disabled bool
	Options  Options
	Handler  Handler
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("job %s: handler is required", d.Name)
	}
	if d.Options.MaxRuns < 0 {
		return fmt.Errorf("job %s: max runs cannot be negative", d.Name)
	}
	if d.Options.MinInterval < 0 {
		return fmt.Errorf("job %s: min interval cannot be negative", d.Name)
	}
	if !d.Options.StartAt.IsZero() && !d.Options.StopAt.IsZero() && d.Options.StopAt.Before(d.Options.StartAt) {
		return fmt.Errorf("job %s: stop time cannot be before start time", d.Name)
	}
	return nil
}

// definitionFromConfig resolves a configured job against a task handler.
func definitionFromConfig(job types.Job, handler Handler) (Definition, error) {
	var minInterval time.Duration
	if job.Options.MinInterval != "" {
		d, err := time.ParseDuration(job.Options.MinInterval)
		if err != nil {
			return Definition{}, fmt.Errorf("job %s: invalid min interval %q: %w", job.Name, job.Options.MinInterval, err)
		}
		minInterval = d
	}

	return Definition{
		Name:        job.Name,
		Description: job.Description,
		Pattern:     job.Schedule,
		Timezone:    job.Timezone,
		Disabled:    !job.IsEnabled(),
		Options: Options{
			AllowOverlap: job.Options.AllowOverlap,
			MaxRuns:      job.Options.MaxRuns,
			Catch:        job.Options.Catch,
			StartAt:      job.Options.StartAt,
			StopAt:       job.Options.StopAt,
			MinInterval:  minInterval,
			HistoryLimit: job.Options.HistoryLimit,
		},
		Handler: handler,
	}, nil
}
