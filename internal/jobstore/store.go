package jobstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
)

// Mutation changes a job in place. It runs under the store lock.
type Mutation func(j *job.Job) error

// Stats is a point-in-time view of the store.
type Stats struct {
	Total    int                `json:"total_jobs"`
	Active   int                `json:"active_jobs"`
	Users    int                `json:"users"`
	ByStatus map[job.Status]int `json:"jobs_by_status"`
}

// Store keeps jobs in memory. Every read returns a copy, so pollers never
// observe a partially applied mutation.
type Store struct {
	maxJobs int

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job.Job
}

// New creates a store. maxJobs <= 0 disables the cap.
func New(maxJobs int) *Store {
	return &Store{
		maxJobs: maxJobs,
		jobs:    make(map[uuid.UUID]*job.Job),
	}
}

// Create registers a queued job and returns a snapshot of it.
func (s *Store) Create(ownerID, sourceURL string) *job.Job {
	j := job.New(ownerID, sourceURL)

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.pruneLocked()
	out := j.Clone()
	s.mu.Unlock()

	return out
}

// Get returns the job if it exists and belongs to ownerID.
func (s *Store) Get(ownerID string, id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, common.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Lookup returns the job regardless of owner. Used by the pipeline, which
// only knows the job id.
func (s *Store) Lookup(id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	return j.Clone(), nil
}

// List returns ownerID's jobs, most recent first.
func (s *Store) List(ownerID string) []job.Summary {
	s.mu.RLock()
	out := make([]job.Summary, 0)
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			out = append(out, j.Summarize())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Delete removes a terminal job. Jobs still running are refused with
// ErrJobActive and left untouched.
func (s *Store) Delete(ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return common.ErrJobNotFound
	}
	if !j.Status.Terminal() {
		return common.ErrJobActive
	}
	delete(s.jobs, id)
	return nil
}

// Update applies fn atomically. If fn fails the job is left unchanged.
func (s *Store) Update(id uuid.UUID, fn Mutation) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	draft := j.Clone()
	if err := fn(draft); err != nil {
		return j.Clone(), err
	}
	s.jobs[id] = draft
	return draft.Clone(), nil
}

// ClearOwner removes ownerID's finished jobs. With completedOnly set, failed
// jobs are kept. Running jobs are never removed.
func (s *Store) ClearOwner(ownerID string, completedOnly bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.OwnerID != ownerID || !j.Status.Terminal() {
			continue
		}
		if completedOnly && j.Status != job.StatusCompleted {
			continue
		}
		delete(s.jobs, id)
		n++
	}
	return n
}

// Evict removes terminal jobs that finished more than olderThan ago.
func (s *Store) Evict(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Total:    len(s.jobs),
		ByStatus: make(map[job.Status]int),
	}
	users := make(map[string]struct{})
	for _, j := range s.jobs {
		st.ByStatus[j.Status]++
		users[j.OwnerID] = struct{}{}
		if !j.Status.Terminal() {
			st.Active++
		}
	}
	st.Users = len(users)
	return st
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// pruneLocked drops the oldest terminal jobs while the store is over its cap.
// Running jobs are never pruned, so the cap is soft.
func (s *Store) pruneLocked() {
	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return
	}
	finished := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.Status.Terminal() {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].UpdatedAt.Before(finished[b].UpdatedAt)
	})
	for _, j := range finished {
		if len(s.jobs) <= s.maxJobs {
			break
		}
		delete(s.jobs, j.ID)
	}
}
