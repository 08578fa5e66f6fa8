// Package scheduler admits submissions, runs each job on its own goroutine
// behind a bounded set of slots and owns the per-job task handles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
)

var ErrClosed = fmt.Errorf("scheduler is shutting down: %w", common.ErrServiceUnavailable)

// Runner executes one job to a terminal state.
type Runner interface {
	Classify(sourceURL string) (job.Kind, error)
	Run(ctx context.Context, id uuid.UUID) error
}

// Reaper unloads an idle model. Implemented by gpu.Manager.
type Reaper interface {
	Reap(ctx context.Context, idle time.Duration) bool
}

type Options struct {
	MaxConcurrent  int
	MaxJobDuration time.Duration
	Retention      time.Duration
	ModelIdle      time.Duration
	Reaper         Reaper
}

type Stats struct {
	TotalJobs      int                `json:"total_jobs"`
	UnfinishedJobs int                `json:"unfinished_jobs"`
	ActiveJobs     int                `json:"active_jobs"`
	WaitingJobs    int                `json:"waiting_jobs"`
	MaxConcurrent  int                `json:"max_concurrent"`
	AvailableSlots int                `json:"available_slots"`
	Users          int                `json:"users"`
	ByStatus       map[job.Status]int `json:"jobs_by_status"`
}

// task is the handle for one admitted job.
type task struct {
	cancel context.CancelFunc
}

type Scheduler struct {
	store  *jobstore.Store
	runner Runner
	opts   Options

	slots   *semaphore.Weighted
	running atomic.Int32

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[uuid.UUID]*task
	closed bool

	maintenance singleflight.Group
}

func New(store *jobstore.Store, runner Runner, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.MaxJobDuration <= 0 {
		opts.MaxJobDuration = 15 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		store:  store,
		runner: runner,
		opts:   opts,
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		base:   base,
		stop:   stop,
		tasks:  make(map[uuid.UUID]*task),
	}
}

// Submit creates the job and returns its id without waiting for any stage.
// A URL that cannot be classified fails right away and never reaches a stage.
func (s *Scheduler) Submit(ctx context.Context, ownerID, sourceURL string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uuid.Nil, ErrClosed
	}

	j := s.store.Create(ownerID, sourceURL)
	if _, err := s.runner.Classify(sourceURL); err != nil {
		s.finish(j.ID, common.KindOf(err), common.MessageOf(err))
		slog.Info("job rejected", "job_id", j.ID, "owner", ownerID, "url", sourceURL, "err", err)
		return j.ID, nil
	}

	taskCtx, cancel := context.WithCancel(s.base)
	t := &task{cancel: cancel}
	s.tasks[j.ID] = t
	s.wg.Add(1)
	go s.execute(taskCtx, j.ID, t)

	slog.Info("job submitted", "job_id", j.ID, "owner", ownerID, "url", sourceURL)
	return j.ID, nil
}

func (s *Scheduler) execute(ctx context.Context, id uuid.UUID, t *task) {
	defer s.wg.Done()
	defer s.forget(id)
	defer t.cancel()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.finish(id, common.KindCancelled, "job was cancelled")
		return
	}
	defer s.slots.Release(1)
	if ctx.Err() != nil {
		s.finish(id, common.KindCancelled, "job was cancelled")
		return
	}
	s.running.Add(1)
	defer s.running.Add(-1)

	// The deadline marks the job as timed out before its context is
	// cancelled, so stages observe a job that is already finished.
	timer := time.AfterFunc(s.opts.MaxJobDuration, func() {
		s.finish(id, common.KindTimeout, "job took too long and was stopped")
		t.cancel()
	})
	defer timer.Stop()

	start := time.Now()
	err := s.runner.Run(ctx, id)
	if err != nil {
		s.finish(id, common.KindOf(err), common.MessageOf(err))
		slog.Warn("job ended with error", "job_id", id, "kind", common.KindOf(err), "took", time.Since(start).Round(time.Millisecond))
		return
	}
	slog.Info("job done", "job_id", id, "took", time.Since(start).Round(time.Millisecond))
}

// finish writes a failure unless the job is already terminal.
func (s *Scheduler) finish(id uuid.UUID, kind common.Kind, msg string) {
	_, err := s.store.Update(id, func(j *job.Job) error {
		return j.Fail(kind, msg)
	})
	if err != nil && !errors.Is(err, common.ErrJobTerminal) && !errors.Is(err, common.ErrJobNotFound) {
		slog.Error("failed to record job failure", "job_id", id, "err", err)
	}
}

func (s *Scheduler) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

func (s *Scheduler) Status(ownerID string, id uuid.UUID) (*job.Job, error) {
	return s.store.Get(ownerID, id)
}

func (s *Scheduler) List(ownerID string) []job.Summary {
	return s.store.List(ownerID)
}

// Delete removes a finished job. Jobs still running are refused with
// common.ErrJobActive; cancel them first.
func (s *Scheduler) Delete(ownerID string, id uuid.UUID) error {
	return s.store.Delete(ownerID, id)
}

// Cancel marks the job failed with the cancelled kind and tells its task
// to stop. An in-flight transcription still runs to completion and
// releases the model lock on its own.
func (s *Scheduler) Cancel(ownerID string, id uuid.UUID) (*job.Job, error) {
	if _, err := s.store.Get(ownerID, id); err != nil {
		return nil, err
	}
	snap, err := s.store.Update(id, func(j *job.Job) error {
		return j.Fail(common.KindCancelled, "job was cancelled")
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	t := s.tasks[id]
	s.mu.Unlock()
	if t != nil {
		t.cancel()
	}
	slog.Info("job cancelled", "job_id", id, "owner", ownerID)
	return snap, nil
}

// ClearFinished removes the owner's completed jobs, or every finished job
// when completedOnly is false.
func (s *Scheduler) ClearFinished(ownerID string, completedOnly bool) int {
	n := s.store.ClearOwner(ownerID, completedOnly)
	if n > 0 {
		slog.Info("jobs cleared", "owner", ownerID, "count", n, "completed_only", completedOnly)
	}
	return n
}

func (s *Scheduler) Stats() Stats {
	active := int(s.running.Load())
	s.mu.Lock()
	waiting := len(s.tasks) - active
	s.mu.Unlock()
	if waiting < 0 {
		waiting = 0
	}
	st := s.store.Stats()
	return Stats{
		TotalJobs:      st.Total,
		UnfinishedJobs: st.Active,
		ActiveJobs:     active,
		WaitingJobs:    waiting,
		MaxConcurrent:  s.opts.MaxConcurrent,
		AvailableSlots: s.opts.MaxConcurrent - active,
		Users:          st.Users,
		ByStatus:       st.ByStatus,
	}
}

// Maintenance evicts old finished jobs and unloads an idle model.
func (s *Scheduler) Maintenance(ctx context.Context) {
	if s.opts.Retention > 0 {
		if n := s.store.Evict(s.opts.Retention); n > 0 {
			slog.Info("evicted finished jobs", "count", n, "retention", s.opts.Retention)
		}
	}
	if s.opts.Reaper != nil && s.opts.ModelIdle > 0 {
		if s.opts.Reaper.Reap(ctx, s.opts.ModelIdle) {
			slog.Info("unloaded idle transcription model", "idle", s.opts.ModelIdle)
		}
	}
}

// Close stops admitting jobs, cancels the running ones and waits for them
// until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}
