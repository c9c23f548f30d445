package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mediarr/internal/kit"
	logx "mediarr/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Jobs ----

const jobCols = `id, name, schedule, interval_seconds, enabled, next_run_at, last_run_at`

func (s *sqliteStore) scanJob(row interface{ Scan(...any) error }) (kit.Job, error) {
	var (
		j        kit.Job
		enabled  int
		nextRun  sql.NullString
		lastRun  sql.NullString
	)
	if err := row.Scan(&j.ID, &j.Name, &j.Schedule, &j.IntervalSeconds, &enabled, &nextRun, &lastRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kit.Job{}, ErrNotFound
		}
		return kit.Job{}, err
	}
	j.Enabled = enabled != 0
	j.NextRunAt = parseNullTime(nextRun)
	j.LastRunAt = parseNullTime(lastRun)
	return j, nil
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]kit.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kit.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetJob(ctx context.Context, id int64) (kit.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	return s.scanJob(row)
}

func (s *sqliteStore) GetJobByName(ctx context.Context, name string) (kit.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE name = ?`, name)
	return s.scanJob(row)
}

func (s *sqliteStore) SeedJob(ctx context.Context, job kit.Job) (kit.Job, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(name, schedule, interval_seconds, enabled, next_run_at, last_run_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(name) DO NOTHING`,
		job.Name, job.Schedule, job.IntervalSeconds, boolInt(job.Enabled),
		fmtNullTime(job.NextRunAt), fmtNullTime(job.LastRunAt),
	)
	if err != nil {
		return kit.Job{}, err
	}
	return s.GetJobByName(ctx, job.Name)
}

func (s *sqliteStore) UpdateJobSchedule(ctx context.Context, id int64, schedule string, intervalSeconds int, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET schedule = ?, interval_seconds = ?, next_run_at = ? WHERE id = ?`,
		schedule, intervalSeconds, fmtTime(nextRunAt), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) UpdateJobEnabled(ctx context.Context, id int64, enabled bool, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET enabled = ?, next_run_at = ? WHERE id = ?`,
		boolInt(enabled), fmtNullTime(nextRunAt), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) MarkJobRun(ctx context.Context, id int64, lastRunAt time.Time, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		fmtTime(lastRunAt), fmtTime(nextRunAt), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) ListDueJobs(ctx context.Context, now time.Time) ([]kit.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM jobs
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`,
		fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kit.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ---- Run history ----

func (s *sqliteStore) AppendRun(ctx context.Context, run kit.JobRun) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(job_name, started_at, finished_at, status, duration_ms, err)
		 VALUES(?,?,?,?,?,?)`,
		run.JobName, fmtTime(run.StartedAt), fmtTime(run.FinishedAt),
		string(run.Status), run.DurationMS, nullStr(run.Error),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListRuns(ctx context.Context, jobName string, limit, offset int) (RunPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if jobName != "" {
		where = ` WHERE job_name = ?`
		args = append(args, jobName)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_runs`+where, args...).Scan(&total); err != nil {
		return RunPage{}, err
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_name, started_at, finished_at, status, duration_ms, err
		 FROM job_runs`+where+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return RunPage{}, err
	}
	defer rows.Close()

	page := RunPage{Total: total}
	for rows.Next() {
		var (
			r       kit.JobRun
			started string
			fin     string
			status  string
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobName, &started, &fin, &status, &r.DurationMS, &errStr); err != nil {
			return RunPage{}, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, fin)
		r.Status = kit.RunStatus(status)
		if errStr.Valid {
			r.Error = errStr.String
		}
		page.Runs = append(page.Runs, r)
	}
	return page, rows.Err()
}

func (s *sqliteStore) ClearRuns(ctx context.Context, jobName string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if jobName == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM job_runs`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE job_name = ?`, jobName)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE finished_at < ?`, fmtTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Endpoints ----

func (s *sqliteStore) ListEndpoints(ctx context.Context) ([]kit.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, enabled, types, config, created_at, updated_at FROM endpoints ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kit.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetEndpoint(ctx context.Context, id uuid.UUID) (kit.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, enabled, types, config, created_at, updated_at FROM endpoints WHERE id = ?`,
		id.String(),
	)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return kit.Endpoint{}, ErrNotFound
	}
	return ep, err
}

func scanEndpoint(row interface{ Scan(...any) error }) (kit.Endpoint, error) {
	var (
		ep      kit.Endpoint
		idStr   string
		kind    string
		enabled int
		types   uint32
		cfgJSON string
		created string
		updated string
	)
	if err := row.Scan(&idStr, &ep.Name, &kind, &enabled, &types, &cfgJSON, &created, &updated); err != nil {
		return kit.Endpoint{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return kit.Endpoint{}, fmt.Errorf("endpoint id: %w", err)
	}
	ep.ID = id
	ep.Kind = kit.EndpointKind(kind)
	ep.Enabled = enabled != 0
	ep.Types = kit.EventMask(types)
	if err := json.Unmarshal([]byte(cfgJSON), &ep.Config); err != nil {
		return kit.Endpoint{}, fmt.Errorf("endpoint config: %w", err)
	}
	ep.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	ep.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return ep, nil
}

func (s *sqliteStore) CreateEndpoint(ctx context.Context, ep kit.Endpoint) error {
	cfgJSON, err := json.Marshal(ep.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoints(id, name, kind, enabled, types, config, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		ep.ID.String(), ep.Name, string(ep.Kind), boolInt(ep.Enabled), uint32(ep.Types),
		string(cfgJSON), fmtTime(ep.CreatedAt), fmtTime(ep.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) UpdateEndpoint(ctx context.Context, ep kit.Endpoint) error {
	cfgJSON, err := json.Marshal(ep.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, kind = ?, enabled = ?, types = ?, config = ?, updated_at = ? WHERE id = ?`,
		ep.Name, string(ep.Kind), boolInt(ep.Enabled), uint32(ep.Types),
		string(cfgJSON), fmtTime(ep.UpdatedAt), ep.ID.String(),
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if err := oneRow(res); err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM user_endpoints WHERE endpoint_id = ?`, id.String())
	return nil
}

// ---- Assignments ----

func (s *sqliteStore) ListAssignments(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_id FROM user_endpoints WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Assign(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_endpoints(user_id, endpoint_id) VALUES(?,?)
		 ON CONFLICT(user_id, endpoint_id) DO NOTHING`,
		userID, endpointID.String(),
	)
	return err
}

func (s *sqliteStore) Unassign(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_endpoints WHERE user_id = ? AND endpoint_id = ?`,
		userID, endpointID.String(),
	)
	return err
}

// ---- helpers ----

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
