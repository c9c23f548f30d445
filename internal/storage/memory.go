package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediarr/internal/kit"
)

// memoryStore keeps everything in maps. It backs tests and the "memory"
// driver; it honors the same contracts as the sqlite store.
type memoryStore struct {
	mu          sync.Mutex
	nextJobID   int64
	nextRunID   int64
	jobs        map[int64]kit.Job
	runs        []kit.JobRun
	endpoints   map[uuid.UUID]kit.Endpoint
	assignments map[int64][]uuid.UUID
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		jobs:        map[int64]kit.Job{},
		endpoints:   map[uuid.UUID]kit.Endpoint{},
		assignments: map[int64][]uuid.UUID{},
	}
}

func (m *memoryStore) Close() error { return nil }

// ---- Jobs ----

func (m *memoryStore) ListJobs(ctx context.Context) ([]kit.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kit.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (m *memoryStore) GetJob(ctx context.Context, id int64) (kit.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return kit.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *memoryStore) GetJobByName(ctx context.Context, name string) (kit.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getJobByNameLocked(name)
}

func (m *memoryStore) getJobByNameLocked(name string) (kit.Job, error) {
	for _, j := range m.jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return kit.Job{}, ErrNotFound
}

func (m *memoryStore) SeedJob(ctx context.Context, job kit.Job) (kit.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, err := m.getJobByNameLocked(job.Name); err == nil {
		return existing, nil
	}
	m.nextJobID++
	job.ID = m.nextJobID
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memoryStore) UpdateJobSchedule(ctx context.Context, id int64, schedule string, intervalSeconds int, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Schedule = schedule
	j.IntervalSeconds = intervalSeconds
	next := nextRunAt
	j.NextRunAt = &next
	m.jobs[id] = j
	return nil
}

func (m *memoryStore) UpdateJobEnabled(ctx context.Context, id int64, enabled bool, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Enabled = enabled
	j.NextRunAt = copyTime(nextRunAt)
	m.jobs[id] = j
	return nil
}

func (m *memoryStore) MarkJobRun(ctx context.Context, id int64, lastRunAt time.Time, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	last := lastRunAt
	next := nextRunAt
	j.LastRunAt = &last
	j.NextRunAt = &next
	m.jobs[id] = j
	return nil
}

func (m *memoryStore) ListDueJobs(ctx context.Context, now time.Time) ([]kit.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kit.Job
	for _, j := range m.jobs {
		if j.Enabled && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRunAt.Before(*out[k].NextRunAt) })
	return out, nil
}

// ---- Run history ----

func (m *memoryStore) AppendRun(ctx context.Context, run kit.JobRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRunID++
	run.ID = m.nextRunID
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *memoryStore) ListRuns(ctx context.Context, jobName string, limit, offset int) (RunPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var match []kit.JobRun
	for _, r := range m.runs {
		if jobName == "" || r.JobName == jobName {
			match = append(match, r)
		}
	}
	// newest first
	sort.Slice(match, func(i, k int) bool {
		if match[i].StartedAt.Equal(match[k].StartedAt) {
			return match[i].ID > match[k].ID
		}
		return match[i].StartedAt.After(match[k].StartedAt)
	})

	page := RunPage{Total: len(match)}
	if offset >= len(match) {
		return page, nil
	}
	end := offset + limit
	if end > len(match) {
		end = len(match)
	}
	page.Runs = append([]kit.JobRun(nil), match[offset:end]...)
	return page, nil
}

func (m *memoryStore) ClearRuns(ctx context.Context, jobName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jobName == "" {
		n := int64(len(m.runs))
		m.runs = nil
		return n, nil
	}
	var kept []kit.JobRun
	var removed int64
	for _, r := range m.runs {
		if r.JobName == jobName {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return removed, nil
}

func (m *memoryStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []kit.JobRun
	var removed int64
	for _, r := range m.runs {
		if r.FinishedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return removed, nil
}

// ---- Endpoints ----

func (m *memoryStore) ListEndpoints(ctx context.Context) ([]kit.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kit.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, cloneEndpoint(ep))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return strings.Compare(out[i].ID.String(), out[k].ID.String()) < 0
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

func (m *memoryStore) GetEndpoint(ctx context.Context, id uuid.UUID) (kit.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return kit.Endpoint{}, ErrNotFound
	}
	return cloneEndpoint(ep), nil
}

func (m *memoryStore) CreateEndpoint(ctx context.Context, ep kit.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (m *memoryStore) UpdateEndpoint(ctx context.Context, ep kit.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[ep.ID]; !ok {
		return ErrNotFound
	}
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (m *memoryStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return ErrNotFound
	}
	delete(m.endpoints, id)
	for uid, ids := range m.assignments {
		n := 0
		for _, eid := range ids {
			if eid == id {
				continue
			}
			ids[n] = eid
			n++
		}
		m.assignments[uid] = ids[:n]
	}
	return nil
}

// ---- Assignments ----

func (m *memoryStore) ListAssignments(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.assignments[userID]...), nil
}

func (m *memoryStore) Assign(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.assignments[userID] {
		if id == endpointID {
			return nil
		}
	}
	m.assignments[userID] = append(m.assignments[userID], endpointID)
	return nil
}

func (m *memoryStore) Unassign(ctx context.Context, userID int64, endpointID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.assignments[userID]
	n := 0
	for _, id := range ids {
		if id == endpointID {
			continue
		}
		ids[n] = id
		n++
	}
	m.assignments[userID] = ids[:n]
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneEndpoint(ep kit.Endpoint) kit.Endpoint {
	cfg := make(map[string]string, len(ep.Config))
	for k, v := range ep.Config {
		cfg[k] = v
	}
	ep.Config = cfg
	return ep
}
