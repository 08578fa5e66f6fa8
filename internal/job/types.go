package job

import (
	"time"

	uuid "github.com/google/uuid"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

// Kind selects the pipeline branch. It is resolved once by classification.
type Kind string

const (
	KindUnresolved Kind = ""
	KindMedia      Kind = "media"
	KindRecipePage Kind = "recipe_page"
)

type Status string

const (
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusExtracting   Status = "extracting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// rank orders statuses; transitions may only move to a higher rank.
var rank = map[Status]int{
	StatusQueued:       0,
	StatusDownloading:  1,
	StatusTranscribing: 2,
	StatusExtracting:   3,
	StatusCompleted:    4,
	StatusFailed:       4,
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure is the user-visible description of why a job failed.
type Failure struct {
	Kind    common.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Result is written once when a job completes.
type Result struct {
	Recipe        *recipe.Recipe `json:"recipe"`
	FormattedText string         `json:"formatted_text,omitempty"`
	Cached        bool           `json:"cached,omitempty"`
}

type Job struct {
	ID         uuid.UUID  `json:"id"`
	OwnerID    string     `json:"owner_id"`
	SourceURL  string     `json:"source_url"`
	Kind       Kind       `json:"kind,omitempty"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Step       string     `json:"current_step,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Failure    *Failure   `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Summary is the list view of a job.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	SourceURL string    `json:"source_url"`
	Kind      Kind      `json:"kind,omitempty"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Step      string    `json:"current_step,omitempty"`
	Title     string    `json:"title,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a queued job with a fresh identity.
func New(ownerID, sourceURL string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		SourceURL: sourceURL,
		Status:    StatusQueued,
		Step:      "waiting",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
