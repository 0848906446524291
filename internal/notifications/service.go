package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/cronkeeper/internal/cron"
	"github.com/0xPuncker/cronkeeper/pkg/calendar"
	"github.com/0xPuncker/cronkeeper/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// JobSource looks up the current view of a job.
type JobSource interface {
	GetJob(name string) (cron.JobSnapshot, error)
}

// NotificationService posts job outcomes to Slack. It implements
// cron.ExecutionListener; messages are sent in the background so the
// execution goroutine never waits on the webhook.
type NotificationService struct {
	slack         *SlackService
	jobs          JobSource
	logger        *logrus.Logger
	notifySuccess bool
	calendar      *calendar.CalendarService

	pending sync.WaitGroup
}

func NewNotificationService(slack *SlackService, jobs JobSource, logger *logrus.Logger, notifySuccess bool) *NotificationService {
	return &NotificationService{
		slack:         slack,
		jobs:          jobs,
		logger:        logger,
		notifySuccess: notifySuccess,
		calendar:      calendar.NewCalendarService(),
	}
}

func (s *NotificationService) OnExecution(record cron.ExecutionRecord) {
	if record.Success && !s.notifySuccess {
		return
	}

	var job *cron.JobSnapshot
	if s.jobs != nil {
		if snapshot, err := s.jobs.GetJob(record.JobName); err == nil {
			job = &snapshot
		}
	}
	message := s.formatJobNotification(record, job)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.slack.SendSlackMessage(message); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_name": record.JobName,
				"error":    err.Error(),
			}).Warn("Failed to send job notification")
		}
	}()
}

// Wait blocks until every queued notification has been sent or failed.
func (s *NotificationService) Wait() {
	s.pending.Wait()
}

func (s *NotificationService) formatJobNotification(record cron.ExecutionRecord, job *cron.JobSnapshot) *SlackMessage {
	status, color, icon := "success", "good", "✅"
	if !record.Success {
		status, color, icon = "failed", "danger", "❌"
	}

	fields := []Field{
		{
			Title: "Job Name",
			Value: record.JobName,
			Short: true,
		},
		{
			Title: "Status",
			Value: status,
			Short: true,
		},
		{
			Title: "Started At",
			Value: record.StartedAt.Format(time.RFC1123),
			Short: true,
		},
	}

	if record.DurationMs != nil {
		fields = append(fields, Field{
			Title: "Duration",
			Value: utils.FormatElapsed(time.Duration(*record.DurationMs) * time.Millisecond),
			Short: true,
		})
	}

	if job != nil && job.NextRun != nil {
		nextRun := *job.NextRun
		fields = append(fields, Field{
			Title: "Next Run",
			Value: fmt.Sprintf("%s (in %s)", nextRun.Format(time.RFC1123), utils.FormatDuration(time.Until(nextRun))),
			Short: false,
		})

		expected := time.Duration(job.Stats.AverageDurationMs * float64(time.Millisecond))
		if link, err := s.calendar.CreateJobRunEvent(job.Name, job.Pattern, nextRun, expected); err == nil {
			fields = append(fields, Field{
				Title: "Links",
				Value: fmt.Sprintf("📅 <%s|Add next run to calendar>", link),
				Short: false,
			})
		}
	}

	if record.Error != "" {
		fields = append(fields, Field{
			Title: "Error",
			Value: record.Error,
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s %s %s", icon, cases.Title(language.English).String(record.JobName), status),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Job: %s", record.JobName),
				Ts:     time.Now().Unix(),
			},
		},
	}
}
