// Package scheduler runs named recurring maintenance jobs with per-name
// exclusivity, persisted due times, run history, and in-memory runtime
// metrics.
//
// The tick loop and manual triggers share one rule: no two executions of
// the same job name ever overlap. A job already running is skipped by the
// tick (it stays due for the next one) and rejected for manual triggers
// with ErrAlreadyRunning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"mediarr/internal/eventbus"
	"mediarr/internal/kit"
	"mediarr/internal/metrics"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

var (
	// ErrAlreadyRunning is a contention condition, not an execution
	// failure: the caller may retry after the in-flight run finishes.
	ErrAlreadyRunning = errors.New("scheduler: job already running")
	ErrUnknownJob     = errors.New("scheduler: unknown job")
)

type Config struct {
	// TickInterval is the due-job polling cadence.
	TickInterval time.Duration
	// DefaultTimeout bounds job runs whose definition sets none.
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	return c
}

// WorkFunc is one job's unit of work. Errors mark the run failed; the
// schedule still advances so the job is never stuck.
type WorkFunc func(ctx context.Context) error

// JobDef is a registered job: the seed row written at bootstrap plus the
// work function and its timeout class.
type JobDef struct {
	Name            string
	Schedule        string
	IntervalSeconds int
	Timeout         time.Duration
	Run             WorkFunc
}

// runState is the per-name exclusivity flag. The lock is held only for the
// claim/release instant, never across the run itself, so readers are never
// blocked behind a long job.
type runState struct {
	mu      sync.Mutex
	running bool
}

// metricAgg accumulates per-name run counters; avg is derived on read.
type metricAgg struct {
	total      uint64
	success    uint64
	failed     uint64
	totalDurMS int64
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	defs   map[string]JobDef
	states map[string]*runState

	mmu  sync.Mutex
	aggs map[string]*metricAgg

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopDone chan struct{}

	// reload wakes the tick loop after Apply so a cadence change takes
	// effect immediately instead of after the old interval elapses.
	reload chan struct{}
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		store:  store,
		bus:    bus,
		log:    log,
		defs:   map[string]JobDef{},
		states: map[string]*runState{},
		aggs:   map[string]*metricAgg{},
		reload: make(chan struct{}, 1),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()

	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Service) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TickInterval
}

// Register adds a job definition. The schedule is validated here so a
// broken definition fails at wiring time, not on the first tick.
func (s *Service) Register(def JobDef) error {
	if def.Name == "" {
		return fmt.Errorf("scheduler: job definition without a name")
	}
	if def.Run == nil {
		return fmt.Errorf("scheduler: job %q has no work function", def.Name)
	}
	if _, err := ComputeNextRun(def.Schedule, def.IntervalSeconds, time.Now()); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", def.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.defs[def.Name]; dup {
		return fmt.Errorf("scheduler: job %q registered twice", def.Name)
	}
	s.defs[def.Name] = def
	s.states[def.Name] = &runState{}
	return nil
}

// Start seeds the registered jobs into the store and begins the tick loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh := s.stopCh
	cfg := s.cfg
	defs := make([]JobDef, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	s.mu.Unlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	now := time.Now().UTC()
	for _, d := range defs {
		next, err := ComputeNextRun(d.Schedule, d.IntervalSeconds, now)
		if err != nil {
			return err
		}
		if _, err := s.store.SeedJob(ctx, kit.Job{
			Name:            d.Name,
			Schedule:        d.Schedule,
			IntervalSeconds: d.IntervalSeconds,
			Enabled:         true,
			NextRunAt:       &next,
		}); err != nil {
			return fmt.Errorf("scheduler: seeding job %q: %w", d.Name, err)
		}
	}

	go s.loop(ctx, stopCh, cfg.TickInterval)
	s.log.Info("scheduler started",
		logx.Int("jobs", len(defs)),
		logx.Duration("tick", cfg.TickInterval),
	)
	return nil
}

// Stop halts the tick loop and waits for in-flight runs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	stopDone := s.stopDone
	s.mu.Unlock()

	<-stopDone

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stopped with jobs still in flight")
	}
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}, tick time.Duration) {
	defer close(s.stopDone)

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.reload:
			if cur := s.tickInterval(); cur != tick {
				tick = cur
				t.Reset(tick)
			}
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// tick triggers every due enabled job at most once. Jobs still running
// from a previous tick or a manual trigger stay due and are retried on the
// next tick.
func (s *Service) tick(ctx context.Context) {
	due, err := s.store.ListDueJobs(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("tick: listing due jobs failed", logx.Err(err))
		return
	}

	for _, job := range due {
		def, ok := s.definition(job.Name)
		if !ok {
			s.log.Warn("due job has no registered work function", logx.String("job", job.Name))
			continue
		}
		if !s.claim(job.Name) {
			metrics.RecordJobSkipped(job.Name)
			s.publish(eventbus.TopicJobSkipped, kit.JobRun{JobName: job.Name})
			s.log.Debug("skipping still-running job", logx.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go func(job kit.Job, def JobDef) {
			defer s.wg.Done()
			s.run(ctx, job, def)
		}(job, def)
	}
}

// RunNow triggers one job by name. The exclusivity claim happens
// synchronously so a second caller gets ErrAlreadyRunning immediately; the
// run itself proceeds concurrently with the tick loop.
func (s *Service) RunNow(ctx context.Context, name string) error {
	job, err := s.store.GetJobByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownJob, name)
		}
		return err
	}
	def, ok := s.definition(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if !s.claim(name) {
		return ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, job, def)
	}()
	return nil
}

// run executes one claimed job. The claim is released on every path; the
// schedule always advances, success or failure.
func (s *Service) run(ctx context.Context, job kit.Job, def JobDef) {
	defer s.release(job.Name)

	start := time.Now().UTC()
	metrics.JobStarted()
	defer metrics.JobFinished()
	s.publish(eventbus.TopicJobStarted, kit.JobRun{JobName: job.Name, StartedAt: start})

	timeout := def.Timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	err := s.invoke(runCtx, def)
	cancel()

	finished := time.Now().UTC()
	run := kit.JobRun{
		JobName:    job.Name,
		StartedAt:  start,
		FinishedAt: finished,
		Status:     kit.RunSuccess,
		DurationMS: finished.Sub(start).Milliseconds(),
	}
	if err != nil {
		run.Status = kit.RunFailed
		run.Error = err.Error()
	}

	s.recordAgg(run)
	metrics.RecordJobRun(job.Name, string(run.Status), finished.Sub(start))

	// A run finishing during shutdown outlives ctx; the history row and
	// the advanced due time must still land.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.store.AppendRun(persistCtx, run); err != nil {
		s.log.Error("appending job run failed", logx.String("job", job.Name), logx.Err(err))
	}
	s.advance(persistCtx, job, finished)

	if run.Status == kit.RunFailed {
		s.log.Warn("job failed",
			logx.String("job", job.Name),
			logx.String("err", run.Error),
			logx.Int64("duration_ms", run.DurationMS),
		)
		s.publish(eventbus.TopicJobFailed, run)
		return
	}
	s.log.Info("job completed",
		logx.String("job", job.Name),
		logx.Int64("duration_ms", run.DurationMS),
	)
	s.publish(eventbus.TopicJobFinished, run)
}

// invoke runs the work function with the panic boundary. A panicking job
// is a failed run, never a dead scheduler.
func (s *Service) invoke(ctx context.Context, def JobDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in job work function",
				logx.String("job", def.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return def.Run(ctx)
}

// advance recomputes the next due time from completion time and persists
// it together with lastRunAt. A job disabled mid-run keeps its cleared
// nextRunAt.
func (s *Service) advance(ctx context.Context, job kit.Job, finished time.Time) {
	next, err := ComputeNextRun(job.Schedule, job.IntervalSeconds, finished)
	if err != nil {
		s.log.Error("recomputing next run failed", logx.String("job", job.Name), logx.Err(err))
		return
	}
	if err := s.store.MarkJobRun(ctx, job.ID, finished, next); err != nil {
		s.log.Error("persisting job run mark failed", logx.String("job", job.Name), logx.Err(err))
		return
	}

	cur, err := s.store.GetJob(ctx, job.ID)
	if err == nil && !cur.Enabled {
		if err := s.store.UpdateJobEnabled(ctx, job.ID, false, nil); err != nil {
			s.log.Error("re-clearing next run for disabled job failed", logx.String("job", job.Name), logx.Err(err))
		}
	}
}

// ---- administrative operations ----

func (s *Service) Jobs(ctx context.Context) ([]kit.Job, error) {
	return s.store.ListJobs(ctx)
}

func (s *Service) Job(ctx context.Context, id int64) (kit.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return kit.Job{}, fmt.Errorf("%w: id %d", ErrUnknownJob, id)
	}
	return job, err
}

// UpdateSchedule validates the new schedule by computing a next run and
// persists both atomically. Invalid expressions are rejected here, at the
// mutation boundary.
func (s *Service) UpdateSchedule(ctx context.Context, id int64, schedule string, intervalSeconds int) (kit.Job, error) {
	next, err := ComputeNextRun(schedule, intervalSeconds, time.Now().UTC())
	if err != nil {
		return kit.Job{}, err
	}
	if err := s.store.UpdateJobSchedule(ctx, id, schedule, intervalSeconds, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kit.Job{}, fmt.Errorf("%w: id %d", ErrUnknownJob, id)
		}
		return kit.Job{}, err
	}
	return s.store.GetJob(ctx, id)
}

// SetEnabled toggles a job. Enabling recomputes nextRunAt from now with
// the stored schedule; disabling clears it so the tick loop never sees the
// job as due.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) (kit.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return kit.Job{}, fmt.Errorf("%w: id %d", ErrUnknownJob, id)
		}
		return kit.Job{}, err
	}

	var next *time.Time
	if enabled {
		n, err := ComputeNextRun(job.Schedule, job.IntervalSeconds, time.Now().UTC())
		if err != nil {
			return kit.Job{}, err
		}
		next = &n
	}
	if err := s.store.UpdateJobEnabled(ctx, id, enabled, next); err != nil {
		return kit.Job{}, err
	}
	return s.store.GetJob(ctx, id)
}

func (s *Service) History(ctx context.Context, jobName string, limit, offset int) (storage.RunPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRuns(ctx, jobName, limit, offset)
}

func (s *Service) ClearHistory(ctx context.Context, jobName string) (int64, error) {
	n, err := s.store.ClearRuns(ctx, jobName)
	if err == nil {
		s.log.Info("job history cleared", logx.String("job", jobName), logx.Int64("deleted", n))
	}
	return n, err
}

// RuntimeMetrics returns the in-memory per-name aggregates, sorted by job
// name. Resets on restart; the persisted history is the durable record.
func (s *Service) RuntimeMetrics() []kit.RuntimeMetric {
	s.mmu.Lock()
	out := make([]kit.RuntimeMetric, 0, len(s.aggs))
	for name, a := range s.aggs {
		m := kit.RuntimeMetric{
			JobName:     name,
			TotalRuns:   a.total,
			SuccessRuns: a.success,
			FailedRuns:  a.failed,
		}
		if a.total > 0 {
			m.AvgDurationMS = float64(a.totalDurMS) / float64(a.total)
		}
		out = append(out, m)
	}
	s.mmu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out
}

// RunningJobs lists names currently executing. The per-name locks are only
// ever held for a flag flip, so this never waits on a running job.
func (s *Service) RunningJobs() []string {
	s.mu.Lock()
	states := make(map[string]*runState, len(s.states))
	for name, st := range s.states {
		states[name] = st
	}
	s.mu.Unlock()

	var out []string
	for name, st := range states {
		st.mu.Lock()
		running := st.running
		st.mu.Unlock()
		if running {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ---- internals ----

func (s *Service) definition(name string) (JobDef, bool) {
	s.mu.Lock()
	def, ok := s.defs[name]
	s.mu.Unlock()
	return def, ok
}

func (s *Service) state(name string) *runState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &runState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) claim(name string) bool {
	st := s.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (s *Service) release(name string) {
	st := s.state(name)
	st.mu.Lock()
	st.running = false
	st.mu.Unlock()
}

func (s *Service) recordAgg(run kit.JobRun) {
	s.mmu.Lock()
	defer s.mmu.Unlock()
	a, ok := s.aggs[run.JobName]
	if !ok {
		a = &metricAgg{}
		s.aggs[run.JobName] = a
	}
	a.total++
	if run.Status == kit.RunSuccess {
		a.success++
	} else {
		a.failed++
	}
	a.totalDurMS += run.DurationMS
}

func (s *Service) publish(topic string, run kit.JobRun) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: run})
}
