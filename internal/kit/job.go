package kit

import "time"

// Job is a named, persisted unit of recurring work.
//
// Schedule is either a cron-style expression (5 or 6 fields, or a robfig
// descriptor like "@daily") or empty, in which case IntervalSeconds applies.
// NextRunAt is nil while the job is disabled; re-enabling recomputes it.
type Job struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Schedule        string     `json:"schedule,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	Enabled         bool       `json:"enabled"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// JobRun is an immutable record of one execution. Appended at completion,
// never mutated, pruned only by an explicit clear-history operation.
type JobRun struct {
	ID         int64     `json:"id"`
	JobName    string    `json:"job_name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// RuntimeMetric is a process-local aggregate per job name. The canonical
// source is in-memory; it resets on restart.
type RuntimeMetric struct {
	JobName       string  `json:"job_name"`
	TotalRuns     uint64  `json:"total_runs"`
	SuccessRuns   uint64  `json:"success_runs"`
	FailedRuns    uint64  `json:"failed_runs"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}
