package job

import (
	"fmt"
	"time"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

// Classify sets the pipeline branch. It can only be set once.
func (j *Job) Classify(kind Kind) error {
	if j.Kind != KindUnresolved && j.Kind != kind {
		return fmt.Errorf("%w: kind already %s", common.ErrInvalidTransition, j.Kind)
	}
	j.Kind = kind
	j.touch()
	return nil
}

// Advance moves the job to a non-terminal status and records progress.
// Status may stay the same or move forward; progress never decreases.
func (j *Job) Advance(status Status, progress int, step string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", common.ErrJobTerminal, j.Status)
	}
	if status.Terminal() {
		return fmt.Errorf("%w: use Complete or Fail for %s", common.ErrInvalidTransition, status)
	}
	if _, ok := rank[status]; !ok {
		return fmt.Errorf("%w: unknown status %q", common.ErrInvalidTransition, status)
	}
	if rank[status] < rank[j.Status] {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, j.Status, status)
	}
	if progress < j.Progress {
		return fmt.Errorf("%w: %d -> %d", common.ErrProgressRegression, j.Progress, progress)
	}
	if progress > 100 {
		progress = 100
	}
	if j.Status == StatusQueued && status != StatusQueued && j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	j.Status = status
	j.Progress = progress
	if step != "" {
		j.Step = step
	}
	j.touch()
	return nil
}

// Complete writes the result and moves the job to completed.
func (j *Job) Complete(res *Result) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", common.ErrJobTerminal, j.Status)
	}
	if res == nil || res.Recipe == nil {
		return fmt.Errorf("%w: completed job needs a recipe", common.ErrInvalidTransition)
	}
	j.Result = res
	j.Status = StatusCompleted
	j.Progress = 100
	j.Step = "done"
	j.finish()
	return nil
}

// Fail records the failure and moves the job to failed. Progress is kept
// as it was so the indicator stays monotonic.
func (j *Job) Fail(kind common.Kind, message string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", common.ErrJobTerminal, j.Status)
	}
	j.Failure = &Failure{Kind: kind, Message: message}
	j.Status = StatusFailed
	j.Step = "failed"
	j.finish()
	return nil
}

// Clone returns a deep copy safe to hand to pollers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Result != nil {
		res := *j.Result
		res.Recipe = j.Result.Recipe.Clone()
		out.Result = &res
	}
	if j.Failure != nil {
		f := *j.Failure
		out.Failure = &f
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// Summarize builds the list view.
func (j *Job) Summarize() Summary {
	s := Summary{
		ID:        j.ID,
		SourceURL: j.SourceURL,
		Kind:      j.Kind,
		Status:    j.Status,
		Progress:  j.Progress,
		Step:      j.Step,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil && j.Result.Recipe != nil {
		s.Title = j.Result.Recipe.Title
	}
	if j.Failure != nil {
		s.ErrorKind = string(j.Failure.Kind)
	}
	return s
}

func (j *Job) touch() {
	j.UpdatedAt = time.Now()
}

func (j *Job) finish() {
	now := time.Now()
	j.UpdatedAt = now
	j.FinishedAt = &now
}
