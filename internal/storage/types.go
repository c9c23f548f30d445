package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mediarr/internal/kit"
)

// Config selects and configures the persistence driver.
type Config struct {
	// Driver: "sqlite" (default) or "memory".
	Driver string
	// Path to the sqlite database file.
	Path string
	// BusyTimeout for sqlite lock contention.
	BusyTimeout time.Duration
}

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrNameTaken is returned when seeding or renaming collides with an
	// existing job name.
	ErrNameTaken = errors.New("storage: name already in use")
)

// RunPage is one page of job history.
type RunPage struct {
	Runs  []kit.JobRun `json:"runs"`
	Total int          `json:"total"`
}

// Store is the persistence contract the core depends on. It deliberately
// stays row-oriented: list/get/update for jobs, append/paginate/clear for
// history, CRUD for endpoints, list for user assignments.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Jobs. Jobs are seeded at bootstrap and never deleted.
	ListJobs(ctx context.Context) ([]kit.Job, error)
	GetJob(ctx context.Context, id int64) (kit.Job, error)
	GetJobByName(ctx context.Context, name string) (kit.Job, error)
	// SeedJob inserts the job if no row with its name exists yet and
	// returns the stored row either way.
	SeedJob(ctx context.Context, job kit.Job) (kit.Job, error)
	// UpdateJobSchedule persists schedule, interval and the freshly
	// computed next run in one statement.
	UpdateJobSchedule(ctx context.Context, id int64, schedule string, intervalSeconds int, nextRunAt time.Time) error
	// UpdateJobEnabled toggles the job; nextRunAt must be nil when
	// disabling and non-nil when enabling.
	UpdateJobEnabled(ctx context.Context, id int64, enabled bool, nextRunAt *time.Time) error
	// MarkJobRun records lastRunAt and the next due time after a run.
	MarkJobRun(ctx context.Context, id int64, lastRunAt time.Time, nextRunAt time.Time) error
	// ListDueJobs returns enabled jobs with next_run_at <= now.
	ListDueJobs(ctx context.Context, now time.Time) ([]kit.Job, error)

	// Run history.
	AppendRun(ctx context.Context, run kit.JobRun) (int64, error)
	// ListRuns pages newest-first; jobName "" means all jobs.
	ListRuns(ctx context.Context, jobName string, limit, offset int) (RunPage, error)
	// ClearRuns deletes history, optionally scoped to one job name.
	ClearRuns(ctx context.Context, jobName string) (int64, error)
	// PruneRuns deletes history entries that finished before the cutoff.
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Notification endpoints.
	ListEndpoints(ctx context.Context) ([]kit.Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (kit.Endpoint, error)
	CreateEndpoint(ctx context.Context, ep kit.Endpoint) error
	UpdateEndpoint(ctx context.Context, ep kit.Endpoint) error
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error

	// User-endpoint assignments.
	ListAssignments(ctx context.Context, userID int64) ([]uuid.UUID, error)
	Assign(ctx context.Context, userID int64, endpointID uuid.UUID) error
	Unassign(ctx context.Context, userID int64, endpointID uuid.UUID) error

	Close() error
}
