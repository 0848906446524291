package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/cronkeeper/internal/cron"
	"github.com/0xPuncker/cronkeeper/pkg/utils"
	"github.com/sirupsen/logrus"
)

// JobLister lists the registered jobs.
type JobLister interface {
	GetAllJobs() []cron.JobSnapshot
}

// StartupNotifier announces the registered schedule once the service is up.
type StartupNotifier struct {
	jobs         JobLister
	slack        *SlackService
	logger       *logrus.Logger
	initialDelay time.Duration
}

func NewStartupNotifier(jobs JobLister, slack *SlackService, logger *logrus.Logger) *StartupNotifier {
	return &StartupNotifier{
		jobs:         jobs,
		slack:        slack,
		logger:       logger,
		initialDelay: 5 * time.Second,
	}
}

func (n *StartupNotifier) NotifyStartup() error {
	time.Sleep(n.initialDelay)

	jobs := n.jobs.GetAllJobs()
	n.logger.Infof("Announcing %d scheduled jobs", len(jobs))

	if err := n.slack.SendSlackMessage(n.formatStartup(jobs)); err != nil {
		return fmt.Errorf("failed to send startup notification: %w", err)
	}
	return nil
}

func (n *StartupNotifier) formatStartup(jobs []cron.JobSnapshot) *SlackMessage {
	lines := make([]string, 0, len(jobs))
	for _, job := range jobs {
		next := "not scheduled"
		if job.NextRun != nil {
			next = "in " + utils.FormatDuration(time.Until(*job.NextRun))
		}
		lines = append(lines, fmt.Sprintf("• %s `%s` (%s) next run %s", job.Name, job.Pattern, job.State, next))
	}

	return &SlackMessage{
		Text: fmt.Sprintf("🚀 Scheduler started with %d jobs", len(jobs)),
		Attachments: []Attachment{
			{
				Color:  "#36a64f",
				Text:   strings.Join(lines, "\n"),
				Footer: fmt.Sprintf("Started: %s", time.Now().Format("Mon, 02 Jan 2006 15:04:05 MST")),
				Ts:     time.Now().Unix(),
			},
		},
	}
}
