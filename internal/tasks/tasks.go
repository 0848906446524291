package tasks

import (
	"context"
	"time"

	"github.com/0xPuncker/cronkeeper/internal/cron"
	"github.com/0xPuncker/cronkeeper/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	HeartbeatTask   = "heartbeat"
	StatsReportTask = "stats-report"
)

// TaskRegistry accepts named handlers for configured jobs.
type TaskRegistry interface {
	RegisterTask(name string, task cron.Handler)
}

// StatsSource exposes the scheduler state the report reads.
type StatsSource interface {
	GetStats() cron.ManagerStats
	GetAllJobs() []cron.JobSnapshot
}

// Register makes the built-in tasks available to the jobs file.
func Register(registry TaskRegistry, source StatsSource, logger *logrus.Logger) {
	registry.RegisterTask(HeartbeatTask, Heartbeat(logger))
	registry.RegisterTask(StatsReportTask, NewStatsReporter(source, logger).Run)
}

// Heartbeat logs that the scheduler is alive and when it will beat next.
func Heartbeat(logger *logrus.Logger) cron.Handler {
	return func(ctx context.Context, job *cron.Runtime) error {
		fields := logrus.Fields{"job_name": job.Name()}
		if next := job.NextRun(); next != nil {
			fields["next_run"] = next.Format(time.RFC3339)
			fields["next_in"] = utils.FormatDuration(time.Until(*next))
		}
		logger.WithFields(fields).Info("Heartbeat")
		return nil
	}
}

type StatsReporter struct {
	source StatsSource
	logger *logrus.Logger
}

func NewStatsReporter(source StatsSource, logger *logrus.Logger) *StatsReporter {
	return &StatsReporter{
		source: source,
		logger: logger,
	}
}

// Run logs the manager-wide statistics followed by every job whose latest
// run failed.
func (r *StatsReporter) Run(ctx context.Context, job *cron.Runtime) error {
	r.logger.Debug("Starting stats report cycle")

	stats := r.source.GetStats()
	r.logger.WithFields(logrus.Fields{
		"total_jobs":            stats.TotalJobs,
		"idle_jobs":             stats.IdleJobs,
		"running_jobs":          stats.RunningJobs,
		"paused_jobs":           stats.PausedJobs,
		"stopped_jobs":          stats.StoppedJobs,
		"total_executions":      stats.TotalExecutions,
		"successful_executions": stats.SuccessfulExecutions,
		"failed_executions":     stats.FailedExecutions,
	}).Info("Scheduler statistics")

	for _, snapshot := range r.source.GetAllJobs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(snapshot.RecentExecutions) == 0 {
			continue
		}
		latest := snapshot.RecentExecutions[0]
		if latest.Success {
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"job_name":   snapshot.Name,
			"started_at": latest.StartedAt.Format(time.RFC3339),
			"error":      latest.Error,
			"failed":     snapshot.Stats.FailedRuns,
			"total":      snapshot.Stats.TotalRuns,
		}).Warn("Latest run failed")
	}

	r.logger.Debug("Completed stats report cycle")
	return nil
}
