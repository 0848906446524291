package cron

import (
	"errors"
	"sync"
	"time"
)

// DefaultHistoryLimit is the per-job record cap when none is configured.
const DefaultHistoryLimit = 50

// ExecutionRecord describes one run of a job. EndedAt and DurationMs stay
// nil while the run is in flight; Error is set only on failure.
type ExecutionRecord struct {
	JobName    string     `json:"job_name"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

func newPendingRecord(jobName string, startedAt time.Time) ExecutionRecord {
	return ExecutionRecord{
		JobName:   jobName,
		StartedAt: startedAt,
	}
}

func (r ExecutionRecord) finish(endedAt time.Time, err error) ExecutionRecord {
	duration := endedAt.Sub(r.StartedAt).Milliseconds()
	r.EndedAt = &endedAt
	r.DurationMs = &duration
	r.Success = err == nil
	if err != nil {
		r.Error = err.Error()
		var handlerErr *HandlerError
		if errors.As(err, &handlerErr) {
			r.Error = handlerErr.Err.Error()
		}
	}
	return r
}

// Pending reports whether the record has not been finalized yet.
func (r ExecutionRecord) Pending() bool {
	return r.EndedAt == nil
}

// Stats aggregates the retained history of one job.
type Stats struct {
	TotalRuns         int     `json:"total_runs"`
	SuccessfulRuns    int     `json:"successful_runs"`
	FailedRuns        int     `json:"failed_runs"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// ring keeps the newest records, overwriting the oldest on overflow.
type ring struct {
	buf  []ExecutionRecord
	head int // next write position
	size int
}

func newRing(limit int) *ring {
	return &ring{buf: make([]ExecutionRecord, limit)}
}

func (r *ring) push(rec ExecutionRecord) {
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// newest returns up to n records, most recent first.
func (r *ring) newest(n int) []ExecutionRecord {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]ExecutionRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring) stats() Stats {
	var (
		stats    Stats
		total    int64
		measured int
	)
	for i := 0; i < r.size; i++ {
		rec := r.buf[i]
		stats.TotalRuns++
		if rec.Success {
			stats.SuccessfulRuns++
		} else {
			stats.FailedRuns++
		}
		if rec.DurationMs != nil {
			total += *rec.DurationMs
			measured++
		}
	}
	if measured > 0 {
		stats.AverageDurationMs = float64(total) / float64(measured)
	}
	return stats
}

// Recorder keeps a bounded execution history per job.
type Recorder struct {
	mu        sync.RWMutex
	limit     int
	histories map[string]*ring
}

// NewRecorder creates a recorder whose histories hold at most limit records
// unless a job opens its history with its own limit.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Recorder{
		limit:     limit,
		histories: make(map[string]*ring),
	}
}

// Open creates an empty history for a job and returns the handle its
// runtime records into. A non-positive limit uses the recorder default.
// Opening an existing history resets it and detaches earlier handles.
func (r *Recorder) Open(jobName string, limit int) *History {
	if limit <= 0 {
		limit = r.limit
	}
	h := &History{
		recorder: r,
		jobName:  jobName,
		ring:     newRing(limit),
	}
	r.mu.Lock()
	r.histories[jobName] = h.ring
	r.mu.Unlock()
	return h
}

// Remove discards a job's history.
func (r *Recorder) Remove(jobName string) {
	r.mu.Lock()
	delete(r.histories, jobName)
	r.mu.Unlock()
}

// History is one job's view of the recorder. It stays attached until the
// job's history is removed or reopened under the same name.
type History struct {
	recorder *Recorder
	jobName  string
	ring     *ring
}

// Record appends a finalized record, evicting the oldest entry when the
// history is full. It reports false once the handle is detached, so a run
// that outlives its job never lands in a successor's history.
func (h *History) Record(rec ExecutionRecord) bool {
	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()

	if h.recorder.histories[h.jobName] != h.ring {
		return false
	}
	h.ring.push(rec)
	return true
}

// Query returns the most recent limit records, most recent first. A
// non-positive limit returns everything retained.
func (r *Recorder) Query(jobName string, limit int) []ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[jobName]
	if !ok {
		return []ExecutionRecord{}
	}
	return h.newest(limit)
}

// Stats aggregates every retained record of a job.
func (r *Recorder) Stats(jobName string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[jobName]
	if !ok {
		return Stats{}
	}
	return h.stats()
}

// Totals aggregates the retained records of every job.
func (r *Recorder) Totals() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		totals   Stats
		weighted float64
	)
	for _, h := range r.histories {
		s := h.stats()
		totals.TotalRuns += s.TotalRuns
		totals.SuccessfulRuns += s.SuccessfulRuns
		totals.FailedRuns += s.FailedRuns
		weighted += s.AverageDurationMs * float64(s.TotalRuns)
	}
	if totals.TotalRuns > 0 {
		totals.AverageDurationMs = weighted / float64(totals.TotalRuns)
	}
	return totals
}
