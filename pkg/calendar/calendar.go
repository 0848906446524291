package calendar

import (
	"fmt"
	"net/url"
	"time"
)

// maxTitleLength is the longest event title the calendar accepts.
const maxTitleLength = 1024

// CalendarService builds Google Calendar "add event" links. It holds no
// state and needs no credentials.
type CalendarService struct{}

// NewCalendarService returns a CalendarService.
func NewCalendarService() *CalendarService {
	return &CalendarService{}
}

// CreateEventURL returns a template link for an event between startTime and
// endTime. The title must be non-empty and at most maxTitleLength bytes.
func (s *CalendarService) CreateEventURL(title, description string, startTime, endTime time.Time, location string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("title cannot be empty")
	}

	if len(title) > maxTitleLength {
		return "", fmt.Errorf("title cannot exceed %d characters", maxTitleLength)
	}

	if endTime.Before(startTime) {
		return "", fmt.Errorf("end time cannot be before start time")
	}

	if startTime.Equal(endTime) {
		return "", fmt.Errorf("start time and end time cannot be the same")
	}

	start := startTime.UTC().Format("20060102T150405Z")
	end := endTime.UTC().Format("20060102T150405Z")

	u := url.URL{
		Scheme: "https",
		Host:   "calendar.google.com",
		Path:   "calendar/render",
	}

	params := url.Values{}
	params.Add("action", "TEMPLATE")
	params.Add("text", title)
	params.Add("details", description)
	params.Add("dates", fmt.Sprintf("%s/%s", start, end))
	params.Add("location", location)

	u.RawQuery = params.Encode()

	return u.String(), nil
}

// CreateJobRunEvent links a calendar event covering a job's next run. The
// event lasts for the expected duration, at least one minute.
func (s *CalendarService) CreateJobRunEvent(jobName, pattern string, nextRun time.Time, expected time.Duration) (string, error) {
	if jobName == "" {
		return "", fmt.Errorf("job name cannot be empty")
	}

	if nextRun.Before(time.Now()) {
		return "", fmt.Errorf("next run cannot be in the past")
	}

	if expected < time.Minute {
		expected = time.Minute
	}

	title := fmt.Sprintf("Scheduled run: %s", jobName)
	description := fmt.Sprintf("Job: %s\nSchedule: %s\nTimezone: %s", jobName, pattern, nextRun.Location())

	return s.CreateEventURL(title, description, nextRun, nextRun.Add(expected), "cronkeeper")
}
