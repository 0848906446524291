package types

import "time"

// Job represents a scheduled job configuration
type Job struct {
	Name        string     `json:"name" yaml:"name"`
	Schedule    string     `json:"schedule" yaml:"schedule"`
	TaskName    string     `json:"task" yaml:"task"`
	Enabled     *bool      `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Description string     `json:"description" yaml:"description"`
	Timezone    string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Options     JobOptions `json:"options" yaml:"options"`
}

// IsEnabled reports whether the job should start firing on registration.
// An unset flag means enabled.
func (j Job) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// JobOptions mirrors the execution options of a job definition in a
// serializable form. Durations use Go duration syntax ("90s", "5m").
type JobOptions struct {
	AllowOverlap bool      `json:"allow_overlap" yaml:"allow_overlap"`
	MaxRuns      int       `json:"max_runs" yaml:"max_runs"`
	Catch        bool      `json:"catch" yaml:"catch"`
	StartAt      time.Time `json:"start_at,omitempty" yaml:"start_at,omitempty"`
	StopAt       time.Time `json:"stop_at,omitempty" yaml:"stop_at,omitempty"`
	MinInterval  string    `json:"min_interval,omitempty" yaml:"min_interval,omitempty"`
	HistoryLimit int       `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`
}

// JobConfig represents the predefined jobs section of the configuration
type JobConfig struct {
	File       string `json:"file" yaml:"-"`
	Predefined []Job  `json:"predefined" yaml:"jobs"`
}

// SchedulerConfig holds process-wide defaults handed to the job manager
type SchedulerConfig struct {
	Timezone     string `json:"timezone"`
	HistoryLimit int    `json:"history_limit"`
}
