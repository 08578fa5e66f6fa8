package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/pipeline"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

const videoURL = "https://vm.tiktok.com/ZMabc123/"

// blockingRunner moves each job to downloading, then waits for release.
type blockingRunner struct {
	store   *jobstore.Store
	release chan struct{}
	started chan uuid.UUID
	runs    atomic.Int32
	sites   []string
}

func newBlockingRunner(store *jobstore.Store) *blockingRunner {
	return &blockingRunner{
		store:   store,
		release: make(chan struct{}),
		started: make(chan uuid.UUID, 16),
	}
}

func (r *blockingRunner) Classify(u string) (job.Kind, error) {
	return pipeline.Classify(u, r.sites)
}

func (r *blockingRunner) Run(ctx context.Context, id uuid.UUID) error {
	r.runs.Add(1)
	if _, err := r.store.Update(id, func(j *job.Job) error {
		if err := j.Classify(job.KindMedia); err != nil {
			return err
		}
		return j.Advance(job.StatusDownloading, 20, "downloading video")
	}); err != nil {
		return err
	}
	r.started <- id

	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := r.store.Update(id, func(j *job.Job) error {
		return j.Complete(&job.Result{Recipe: &recipe.Recipe{Title: "Simple Cake"}})
	})
	return err
}

func waitStarted(t *testing.T, r *blockingRunner) uuid.UUID {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job to start")
		return uuid.Nil
	}
}

func waitStatus(t *testing.T, s *Scheduler, owner string, id uuid.UUID, want job.Status) *job.Job {
	t.Helper()
	var last *job.Job
	require.Eventually(t, func() bool {
		j, err := s.Status(owner, id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func newTestScheduler(t *testing.T, opts Options) (*Scheduler, *blockingRunner, *jobstore.Store) {
	t.Helper()
	store := jobstore.New(0)
	r := newBlockingRunner(store)
	s := New(store, r, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, r, store
}

func TestSubmit_ReturnsBeforeStagesAndCompletes(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{MaxConcurrent: 2})

	id, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	assert.Equal(t, id, waitStarted(t, r))
	close(r.release)

	j := waitStatus(t, s, "alice", id, job.StatusCompleted)
	assert.Equal(t, "Simple Cake", j.Result.Recipe.Title)
	assert.Nil(t, j.Failure)
}

func TestSubmit_UnsupportedFailsImmediately(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{})

	id, err := s.Submit(context.Background(), "alice", "https://example.com")
	require.NoError(t, err)

	j, err := s.Status("alice", id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Failure)
	assert.Equal(t, common.KindUnsupportedSource, j.Failure.Kind)
	assert.Nil(t, j.Result)
	assert.Zero(t, r.runs.Load())
}

func TestSubmit_UnknownDomainFailsImmediately(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{})
	r.sites = []string{"marmiton.org"}

	for _, u := range []string{
		"https://random-unknown-site.example/some/article",
		"https://bank.example/login",
	} {
		id, err := s.Submit(context.Background(), "alice", u)
		require.NoError(t, err)

		j, err := s.Status("alice", id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, j.Status, u)
		require.NotNil(t, j.Failure)
		assert.Equal(t, common.KindUnsupportedSource, j.Failure.Kind, u)
	}
	assert.Zero(t, r.runs.Load())

	id, err := s.Submit(context.Background(), "alice", "https://www.marmiton.org/recettes/crepes.aspx")
	require.NoError(t, err)
	assert.Equal(t, id, waitStarted(t, r))
	close(r.release)
	waitStatus(t, s, "alice", id, job.StatusCompleted)
}

func TestSubmit_BoundsConcurrentJobs(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{MaxConcurrent: 2})

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		id, err := s.Submit(context.Background(), "alice", videoURL)
		require.NoError(t, err)
		ids[i] = id
	}
	waitStarted(t, r)
	waitStarted(t, r)

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.ActiveJobs == 2 && st.WaitingJobs == 2
	}, time.Second, 5*time.Millisecond)
	st := s.Stats()
	assert.Equal(t, 0, st.AvailableSlots)
	assert.Equal(t, 2, st.MaxConcurrent)
	assert.Equal(t, 4, st.TotalJobs)
	assert.Equal(t, 1, st.Users)
	assert.Equal(t, int32(2), r.runs.Load())

	close(r.release)
	for _, id := range ids {
		waitStatus(t, s, "alice", id, job.StatusCompleted)
	}
	require.Eventually(t, func() bool { return s.Stats().ActiveJobs == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Stats().AvailableSlots)
}

func TestCancel_RunningJob(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{})

	id, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)

	j, err := s.Cancel("alice", id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, common.KindCancelled, j.Failure.Kind)

	require.Eventually(t, func() bool { return s.Stats().ActiveJobs == 0 }, time.Second, 5*time.Millisecond)
	got, err := s.Status("alice", id)
	require.NoError(t, err)
	assert.Equal(t, common.KindCancelled, got.Failure.Kind)
	assert.Nil(t, got.Result)

	_, err = s.Cancel("alice", id)
	assert.ErrorIs(t, err, common.ErrJobTerminal)
	_, err = s.Cancel("bob", id)
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestCancel_QueuedJobNeverRuns(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{MaxConcurrent: 1})

	first, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)
	second, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)

	_, err = s.Cancel("alice", second)
	require.NoError(t, err)
	close(r.release)

	waitStatus(t, s, "alice", first, job.StatusCompleted)
	got := waitStatus(t, s, "alice", second, job.StatusFailed)
	assert.Equal(t, common.KindCancelled, got.Failure.Kind)
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestDelete_MidDownloadIsConflict(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{})

	id, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)

	err = s.Delete("alice", id)
	assert.ErrorIs(t, err, common.ErrJobActive)
	assert.ErrorIs(t, err, common.ErrConflict)

	j, err := s.Status("alice", id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDownloading, j.Status)

	close(r.release)
	waitStatus(t, s, "alice", id, job.StatusCompleted)
	require.NoError(t, s.Delete("alice", id))
	_, err = s.Status("alice", id)
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestMaxJobDuration(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{MaxJobDuration: 30 * time.Millisecond})

	id, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)

	j := waitStatus(t, s, "alice", id, job.StatusFailed)
	assert.Equal(t, common.KindTimeout, j.Failure.Kind)
	assert.Equal(t, 20, j.Progress)
}

func TestListAndClearFinished(t *testing.T) {
	s, r, _ := newTestScheduler(t, Options{MaxConcurrent: 4})

	done, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)
	close(r.release)
	waitStatus(t, s, "alice", done, job.StatusCompleted)

	failed, err := s.Submit(context.Background(), "alice", "ftp://nope")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "bob", videoURL)
	require.NoError(t, err)

	list := s.List("alice")
	require.Len(t, list, 2)
	assert.Equal(t, failed, list[0].ID, "newest first")

	assert.Equal(t, 1, s.ClearFinished("alice", true))
	assert.Equal(t, 1, s.ClearFinished("alice", false))
	assert.Empty(t, s.List("alice"))
	assert.Len(t, s.List("bob"), 1)
}

type countingReaper struct{ calls atomic.Int32 }

func (c *countingReaper) Reap(ctx context.Context, idle time.Duration) bool {
	c.calls.Add(1)
	return true
}

// lockedBuffer is a log sink that tolerates writes from other goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestMaintenance(t *testing.T) {
	reaper := &countingReaper{}
	s, _, store := newTestScheduler(t, Options{Retention: time.Millisecond, ModelIdle: time.Minute, Reaper: reaper})

	id, err := s.Submit(context.Background(), "alice", "ftp://nope")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	logs := captureLogs(t)
	s.Maintenance(context.Background())
	assert.Equal(t, int32(1), reaper.calls.Load())
	_, err = store.Lookup(id)
	assert.ErrorIs(t, err, common.ErrJobNotFound)
	assert.Equal(t, 1, strings.Count(logs.String(), "evicted finished jobs"))
}

// gateReaper blocks in Reap until released.
type gateReaper struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateReaper) Reap(ctx context.Context, idle time.Duration) bool {
	g.entered <- struct{}{}
	<-g.release
	return false
}

func TestRunMaintenance_SchedulersRunIndependently(t *testing.T) {
	gate := &gateReaper{entered: make(chan struct{}, 1), release: make(chan struct{})}
	a, _, _ := newTestScheduler(t, Options{ModelIdle: time.Minute, Reaper: gate})
	other := &countingReaper{}
	b, _, _ := newTestScheduler(t, Options{ModelIdle: time.Minute, Reaper: other})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.runMaintenance(context.Background())
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for maintenance to start")
	}

	go b.runMaintenance(context.Background())
	assert.Eventually(t, func() bool { return other.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(gate.release)
	<-done
}

func TestScheduleMaintenance(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{})
	c := cron.New()

	require.NoError(t, s.ScheduleMaintenance(context.Background(), c, "@every 5m"))
	assert.Len(t, c.Entries(), 1)
	assert.Error(t, s.ScheduleMaintenance(context.Background(), c, "not a schedule"))
}

func TestClose_CancelsJobsAndRejectsSubmissions(t *testing.T) {
	store := jobstore.New(0)
	r := newBlockingRunner(store)
	s := New(store, r, Options{MaxConcurrent: 1})

	running, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)
	waitStarted(t, r)
	queued, err := s.Submit(context.Background(), "alice", videoURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	for _, id := range []uuid.UUID{running, queued} {
		j, err := s.Status("alice", id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, common.KindCancelled, j.Failure.Kind)
	}

	_, err = s.Submit(context.Background(), "alice", videoURL)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, common.ErrServiceUnavailable)
}
