// Package service runs workflow instances on behalf of the CLI and the HTTP
// API and records every instance in the run ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/runout/internal/adapters/mq/queue"
	workerpool "github.com/okian/runout/internal/adapters/mq/worker"
	"github.com/okian/runout/internal/adapters/repository"
	"github.com/okian/runout/internal/domain/dedupe"
	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/internal/engine"
	"github.com/okian/runout/internal/workflow"
	"github.com/okian/runout/pkg/logger"
	"github.com/okian/runout/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// Ledger states that are not workflow states.
const (
	StateQueued   = "queued"
	StateRejected = "rejected"
)

const stopTimeout = 30 * time.Second

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool           `json:"started"`
	Workers       int            `json:"workers"`
	QueueLength   int            `json:"queue_length"`
	QueueCapacity int            `json:"queue_capacity"`
	Schedule      string         `json:"schedule,omitempty"`
	Runs          map[string]int `json:"runs"`
}

// Service executes workflow plans. Synchronous entry points (Run, Sweep)
// work without Start; Submit needs the queue and workers Start creates.
type Service struct {
	mu       sync.RWMutex
	submitMu sync.Mutex

	planner *Planner
	engine  engine.Engine
	rasters raster.Store
	ledger  repository.Store
	// claims holds the work dirs of running instances.
	claims  dedupe.Claims

	queue queue.Queue
	pool  *workerpool.Pool
	cron  *cron.Cron

	workerCount int
	queueSize   int
	parallelism int
	jobTimeout  time.Duration
	schedule    string
	sweep       SweepSpec

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets how many instances serve mode runs concurrently.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending submissions.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithParallelism caps concurrent instances of a synchronous sweep.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithJobTimeout bounds each queued run. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.jobTimeout = d
		}
	}
}

// WithLedger sets the run ledger. The service does not close it.
func WithLedger(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.ledger = store
		}
	}
}

// WithClaims sets the work dir claim set, so services sharing a work dir
// can share claims.
func WithClaims(c dedupe.Claims) Option {
	return func(s *Service) {
		if c != nil {
			s.claims = c
		}
	}
}

// WithRasterStore sets where rasters are loaded from and saved to.
func WithRasterStore(store raster.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.rasters = store
		}
	}
}

// WithSchedule submits sweep every time the cron expression fires.
func WithSchedule(expr string, sweep SweepSpec) Option {
	return func(s *Service) {
		s.schedule = expr
		s.sweep = sweep
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Without options it keeps the ledger in memory
// and reads rasters from the local filesystem.
func New(planner *Planner, eng engine.Engine, opts ...Option) *Service {
	s := &Service{
		planner:     planner,
		engine:      eng,
		rasters:     raster.NewFileStore(""),
		ledger:      repository.NewMemoryStore(),
		claims:      dedupe.NewInMemory(),
		workerCount: runtime.NumCPU(),
		queueSize:   64,
		parallelism: runtime.NumCPU(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start creates the queue and worker pool and, when configured, the cron
// schedule. Starting twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, workerpool.RunnerFunc(s.execute),
		workerpool.WithLogger(s.logger.Named("worker")),
		workerpool.WithJobTimeout(s.jobTimeout))
	s.pool.Start(runCtx)

	if s.schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(s.schedule, func() {
			metrics.RecordScheduledSweep()
			runs, err := s.SubmitSweep(runCtx, s.sweep)
			if err != nil {
				s.logger.Error(runCtx, "scheduled sweep failed", logger.Error(err))
				return
			}
			s.logger.Info(runCtx, "scheduled sweep submitted", logger.Int("runs", len(runs)))
		})
		if err != nil {
			cancel()
			_ = s.queue.Close()
			return fmt.Errorf("schedule %q: %w", s.schedule, err)
		}
		c.Start()
		s.cron = c
	}

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule, cancels running instances and marks queued
// runs that never started as rejected.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	c, pool, q, cancel := s.cron, s.pool, s.queue, s.cancel
	s.cron = nil
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping service...")
	if c != nil {
		<-c.Stop().Done()
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(ctx, stopTimeout)
	defer stopCancel()
	err := pool.Shutdown(stopCtx)

	for job := range q.Dequeue(ctx) {
		s.reject(ctx, job, "service stopped before the run started")
	}

	s.logger.Info(ctx, "service stopped")
	return err
}

// Submit queues one instance. A request whose run id is already in the
// ledger returns the existing record and created=false.
func (s *Service) Submit(ctx context.Context, req Request) (run repository.Run, created bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return repository.Run{}, false, ErrNotStarted
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	existing, err := s.ledger.Get(ctx, req.RunID)
	switch {
	case err == nil:
		metrics.RecordRunDuplicate()
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return repository.Run{}, false, err
	}

	job, err := s.prepare(req)
	if err != nil {
		return repository.Run{}, false, err
	}
	run = queuedRun(job)
	if err := s.ledger.Put(ctx, run); err != nil {
		return repository.Run{}, false, err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		run = s.reject(ctx, job, err.Error())
		return run, false, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	metrics.RecordRunSubmitted()
	s.logger.Info(ctx, "run submitted", logger.String("run_id", job.RunID), logger.String("class", job.Class))
	return run, true, nil
}

// SubmitSweep submits every combination of spec.
func (s *Service) SubmitSweep(ctx context.Context, spec SweepSpec) ([]repository.Run, error) {
	reqs := spec.Requests(s.planner.Config())
	runs := make([]repository.Run, 0, len(reqs))
	for _, req := range reqs {
		run, _, err := s.Submit(ctx, req)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Get returns the ledger record for id.
func (s *Service) Get(ctx context.Context, id string) (repository.Run, error) {
	return s.ledger.Get(ctx, id)
}

// List returns up to limit records, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]repository.Run, error) {
	return s.ledger.List(ctx, limit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:       s.started,
		Workers:       s.workerCount,
		QueueCapacity: s.queueSize,
		Schedule:      s.schedule,
	}
	if s.started {
		stats.QueueLength = s.queue.Len(ctx)
	}
	runs, err := s.ledger.CountByState(ctx)
	if err != nil {
		return stats, err
	}
	stats.Runs = runs
	return stats, nil
}

// Ready reports whether Submit would be accepted.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// prepare plans req; the class is resolved here, before any engine call.
func (s *Service) prepare(req Request) (queue.Job, error) {
	plan, label, err := s.planner.Plan(req)
	if err != nil {
		return queue.Job{}, err
	}
	return queue.Job{RunID: req.RunID, Class: label, Plan: plan, SubmittedAt: s.now()}, nil
}

// execute is the worker pool's runner.
func (s *Service) execute(ctx context.Context, job queue.Job) error { //nolint:gocritic // hugeParam
	if err := s.claim(ctx, []queue.Job{job}); err != nil {
		s.reject(ctx, job, err.Error())
		return err
	}
	defer s.claims.Release(ctx, job.Plan.WorkDir)
	_, err := s.runJob(ctx, job)
	return err
}

// claim takes the work dirs of all jobs or none of them.
func (s *Service) claim(ctx context.Context, jobs []queue.Job) error {
	for i, job := range jobs {
		if s.claims.Claim(ctx, job.Plan.WorkDir) {
			continue
		}
		for _, held := range jobs[:i] {
			s.claims.Release(ctx, held.Plan.WorkDir)
		}
		return fmt.Errorf("%w: %s", ErrWorkDirBusy, job.Plan.WorkDir)
	}
	return nil
}

// runJob drives one instance to a terminal state, writing the ledger on
// every transition.
func (s *Service) runJob(ctx context.Context, job queue.Job) (workflow.Report, error) { //nolint:gocritic // hugeParam
	log := s.logger.Named("workflow")
	d, err := workflow.NewDriver(job.Plan, s.engine, s.rasters,
		workflow.WithLogger(log),
		workflow.WithClock(s.now),
		workflow.WithObserver(func(ctx context.Context, r workflow.Report) {
			s.record(ctx, job, r)
		}))
	if err != nil {
		s.reject(ctx, job, err.Error())
		return workflow.Report{RunID: job.RunID, State: workflow.Failed, Err: err}, err
	}
	return d.Run(ctx)
}

func (s *Service) record(ctx context.Context, job queue.Job, r workflow.Report) { //nolint:gocritic // hugeParam
	run := queuedRun(job)
	run.State = r.State.String()
	run.Volume = r.Volume
	run.ScaledVolume = r.ScaledVolume
	run.FootprintCells = r.FootprintCells
	run.DilatedCells = r.DilatedCells
	run.ClippedCells = r.ClippedCells
	run.FineFlowCells = r.FineFlowCells
	run.FineEdgeCells = r.FineEdgeCells
	run.EngineCalls = r.EngineCalls
	run.Extent = r.Extent
	run.FineMaxHeight = r.FineMaxHeight
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	run.UpdatedAt = s.now()
	s.put(ctx, run)
}

func (s *Service) reject(ctx context.Context, job queue.Job, reason string) repository.Run { //nolint:gocritic // hugeParam
	run := queuedRun(job)
	run.State = StateRejected
	run.Error = reason
	run.UpdatedAt = s.now()
	s.put(ctx, run)
	return run
}

// put writes even when ctx is cancelled so cancelled runs are recorded.
func (s *Service) put(ctx context.Context, run repository.Run) { //nolint:gocritic // hugeParam
	if err := s.ledger.Put(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error(ctx, "ledger write failed", logger.String("run_id", run.ID), logger.Error(err))
	}
}

func queuedRun(job queue.Job) repository.Run { //nolint:gocritic // hugeParam
	return repository.Run{
		ID:          job.RunID,
		State:       StateQueued,
		Class:       job.Class,
		Multiplier:  job.Plan.Multiplier,
		WorkDir:     job.Plan.WorkDir,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.SubmittedAt,
	}
}
