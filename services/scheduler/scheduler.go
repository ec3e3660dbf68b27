// Package scheduler runs analyses in the background. Jobs wait in a priority
// queue and are picked up by a fixed set of worker goroutines; each running
// job can be cancelled individually.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/services/runstore"
)

// ------------------------------------------------------------------
// Job Representation
// ------------------------------------------------------------------

type Priority int32

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityRealtime Priority = 3
)

type State int32

const (
	StateUnknown State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the job has finished one way or another.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobRequest describes a background analysis. The noise override is given as
// a synthetic kind so requests stay serializable.
type JobRequest struct {
	Circuit          *circuit.Circuit `json:"circuit"`
	Backend          string           `json:"backend"`
	Levels           []int            `json:"levels"`
	NoiseKind        string           `json:"noise_kind,omitempty"`
	NoiseProbability float64          `json:"noise_probability,omitempty"`
	Priority         Priority         `json:"priority"`
}

// Job is a snapshot of a submitted analysis.
type Job struct {
	ID           string            `json:"id"`
	State        State             `json:"state"`
	Priority     Priority          `json:"priority"`
	Backend      string            `json:"backend"`
	Position     int               `json:"position,omitempty"`
	Results      []analysis.Result `json:"results,omitempty"`
	RunID        string            `json:"run_id,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qtranspile",
	Subsystem: "scheduler",
	Name:      "jobs_total",
	Help:      "Background analysis jobs by final state",
}, []string{"state"})

// RunSaver persists finished analyses.
type RunSaver interface {
	Save(ctx context.Context, run *runstore.Run) (string, error)
}

// ------------------------------------------------------------------
// Scheduler
// ------------------------------------------------------------------

type job struct {
	Job
	req    analysis.Request
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	engine  *analysis.Engine
	queue   Queue
	store   RunSaver
	logger  *zap.Logger
	workers int
	poll    time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	wake chan struct{}

	stop context.CancelFunc
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithQueue(q Queue) Option {
	return func(s *Scheduler) {
		if q != nil {
			s.queue = q
		}
	}
}

func WithStore(st RunSaver) Option {
	return func(s *Scheduler) { s.store = st }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPollInterval bounds how long an idle worker sleeps before rechecking a
// queue shared with other processes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

func New(engine *analysis.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:  engine,
		queue:   NewMemoryQueue(),
		logger:  zap.NewNop(),
		workers: 1,
		poll:    time.Second,
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wake = make(chan struct{}, s.workers)
	return s
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(ctx, i)
	}
	s.logger.Info("scheduler started", zap.Int("workers", s.workers))
}

// Close stops the workers, cancelling running jobs, and waits for them.
func (s *Scheduler) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

// Submit validates and queues req.
func (s *Scheduler) Submit(ctx context.Context, req JobRequest) (Job, error) {
	if req.Circuit == nil {
		return Job{}, qerr.Invalid("job has no circuit")
	}
	if req.Backend == "" {
		return Job{}, qerr.Invalid("job has no backend")
	}
	if req.Priority < PriorityLow || req.Priority > PriorityRealtime {
		return Job{}, qerr.Invalid("job priority %d", req.Priority)
	}
	areq := analysis.Request{Circuit: req.Circuit.Clone(), Backend: req.Backend, Levels: append([]int(nil), req.Levels...)}
	if req.NoiseKind != "" {
		kind, err := noise.ParseKind(req.NoiseKind)
		if err != nil {
			return Job{}, err
		}
		if areq.Noise, err = noise.Synthetic(kind, req.NoiseProbability); err != nil {
			return Job{}, err
		}
	}
	if err := s.engine.Validate(areq); err != nil {
		return Job{}, err
	}

	j := &job{
		Job: Job{
			ID:          uuid.New().String(),
			State:       StateQueued,
			Priority:    req.Priority,
			Backend:     req.Backend,
			SubmittedAt: time.Now().UTC(),
		},
		req:  areq,
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	if err := s.queue.Push(ctx, j.ID, j.Priority); err != nil {
		s.mu.Lock()
		delete(s.jobs, j.ID)
		s.mu.Unlock()
		return Job{}, fmt.Errorf("submit: %w", err)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Info("job submitted",
		zap.String("job", j.ID),
		zap.String("backend", req.Backend),
		zap.Int("qubits", req.Circuit.NumQubits),
		zap.Int32("priority", int32(req.Priority)))
	return s.Status(ctx, j.ID)
}

// Status returns a snapshot of the job, with its queue position while queued.
func (s *Scheduler) Status(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	snap := j.snapshot()
	s.mu.Unlock()

	if snap.State == StateQueued {
		pos, err := s.queue.Position(ctx, id)
		if err != nil {
			return Job{}, err
		}
		snap.Position = pos
	}
	return snap, nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
		return s.Status(ctx, id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Cancel removes a queued job or stops a running one. It reports false when
// the job had already finished.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	switch j.State {
	case StateQueued:
		if _, err := s.queue.Remove(ctx, id); err != nil {
			return false, err
		}
		s.finishLocked(j, StateCancelled, "cancelled before start")
		return true, nil
	case StateRunning:
		j.cancel()
		return true, nil
	}
	return false, nil
}

// List returns snapshots of all known jobs, oldest first.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sortJobs(out)
	return out
}

// ------------------------------------------------------------------
// Background Job Processor
// ------------------------------------------------------------------

func (s *Scheduler) work(ctx context.Context, worker int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		for s.processNext(ctx, worker) {
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// processNext runs one queued job and reports whether one was found.
func (s *Scheduler) processNext(ctx context.Context, worker int) bool {
	if ctx.Err() != nil {
		return false
	}
	id, ok, err := s.queue.Pop(ctx)
	if err != nil {
		s.logger.Warn("queue pop failed", zap.Int("worker", worker), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	s.mu.Lock()
	j, known := s.jobs[id]
	if !known || j.State != StateQueued {
		s.mu.Unlock()
		return true
	}
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.State = StateRunning
	j.StartedAt = time.Now().UTC()
	j.cancel = cancel
	req := j.req
	s.mu.Unlock()

	s.logger.Info("processing job", zap.String("job", id), zap.Int("worker", worker), zap.String("backend", req.Backend))
	results, err := s.engine.Analyze(jobCtx, req)

	var runID string
	if err == nil && s.store != nil {
		runID, err = s.store.Save(ctx, &runstore.Run{
			Backend: req.Backend,
			Noise:   noiseSource(req.Noise),
			Levels:  levelsOf(results),
			Circuit: req.Circuit,
			Results: results,
		})
		if err != nil {
			err = fmt.Errorf("persist run: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		j.Results = results
		j.RunID = runID
		s.finishLocked(j, StateCompleted, "")
	case errors.Is(err, context.Canceled):
		s.finishLocked(j, StateCancelled, err.Error())
	default:
		s.finishLocked(j, StateFailed, err.Error())
	}
	s.logger.Info("job finished", zap.String("job", id), zap.Stringer("state", j.State))
	return true
}

func (s *Scheduler) finishLocked(j *job, state State, msg string) {
	j.State = state
	j.ErrorMessage = msg
	j.CompletedAt = time.Now().UTC()
	j.cancel = nil
	close(j.done)
	jobsTotal.WithLabelValues(state.String()).Inc()
}

func (j *job) snapshot() Job {
	snap := j.Job
	snap.Results = append([]analysis.Result(nil), j.Results...)
	return snap
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].SubmittedAt.Equal(jobs[b].SubmittedAt) {
			return jobs[a].SubmittedAt.Before(jobs[b].SubmittedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
}

func noiseSource(nm *noise.Model) string {
	if nm == nil {
		return "registry"
	}
	return nm.Source()
}

func levelsOf(results []analysis.Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Level
	}
	return out
}
