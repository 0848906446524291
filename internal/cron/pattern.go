package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Macros expand to six-field patterns before parsing.
var macros = map[string]string{
	"@yearly":   "0 0 0 1 1 *",
	"@annually": "0 0 0 1 1 *",
	"@monthly":  "0 0 0 1 * *",
	"@weekly":   "0 0 0 * * 0",
	"@daily":    "0 0 0 * * *",
	"@midnight": "0 0 0 * * *",
	"@hourly":   "0 0 * * * *",
}

// Five-field patterns get second=0. Day-of-month and day-of-week are OR-ed
// when both are restricted.
var patternParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Pattern is a parsed cron expression.
type Pattern struct {
	source   string
	expanded string
	schedule cron.Schedule
}

// ParsePattern parses a cron expression. Supported syntax per field: "*",
// single values, ranges "a-b", steps "*/n" and "a-b/n", comma lists and
// three-letter month/weekday names. An optional leading seconds field makes
// six fields; the macros above are also accepted. Day-of-week runs 0-6 with
// 0 as Sunday, so 7 is rejected.
func ParsePattern(expr string) (*Pattern, error) {
	source := strings.TrimSpace(expr)
	if source == "" {
		return nil, &PatternError{Pattern: expr, Err: fmt.Errorf("empty pattern")}
	}

	// The job's timezone decides evaluation; the parser's inline zone
	// prefix would silently override it.
	if strings.HasPrefix(source, "CRON_TZ=") || strings.HasPrefix(source, "TZ=") {
		return nil, &PatternError{Pattern: expr, Err: fmt.Errorf("inline timezone prefix not supported, set the job timezone instead")}
	}

	expanded := source
	if strings.HasPrefix(source, "@") {
		six, ok := macros[strings.ToLower(source)]
		if !ok {
			return nil, &PatternError{Pattern: expr, Err: fmt.Errorf("unknown macro %s", source)}
		}
		expanded = six
	}

	schedule, err := patternParser.Parse(expanded)
	if err != nil {
		return nil, &PatternError{Pattern: expr, Err: err}
	}

	return &Pattern{
		source:   source,
		expanded: expanded,
		schedule: schedule,
	}, nil
}

// String returns the pattern as it was written.
func (p *Pattern) String() string {
	return p.source
}

// Expanded returns the pattern after macro expansion.
func (p *Pattern) Expanded() string {
	return p.expanded
}

// Next returns the earliest instant strictly after the reference that
// matches the pattern, with fields evaluated in loc. The boolean is false
// when the pattern cannot match again within the search horizon.
func (p *Pattern) Next(after time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	next := p.schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Schedule binds a pattern to a timezone and optional run boundaries.
type Schedule struct {
	Pattern  *Pattern
	Location *time.Location
	StartAt  time.Time
	StopAt   time.Time
}

// Next returns the next fire time strictly after the reference, honoring
// StartAt and StopAt. The boolean is false once no fire remains.
func (s Schedule) Next(after time.Time) (time.Time, bool) {
	ref := after
	if !s.StartAt.IsZero() && ref.Before(s.StartAt) {
		ref = s.StartAt.Add(-time.Nanosecond)
	}
	if !s.StopAt.IsZero() && !ref.Before(s.StopAt) {
		return time.Time{}, false
	}

	next, ok := s.Pattern.Next(ref, s.Location)
	if !ok {
		return time.Time{}, false
	}
	if !s.StopAt.IsZero() && next.After(s.StopAt) {
		return time.Time{}, false
	}
	return next, true
}
