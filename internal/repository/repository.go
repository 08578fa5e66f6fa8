package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/database"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

// ArchivedRecipe is a completed job as kept in Postgres.
type ArchivedRecipe struct {
	JobID         uuid.UUID      `json:"job_id"`
	OwnerID       string         `json:"owner_id"`
	SourceURL     string         `json:"source_url"`
	Kind          job.Kind       `json:"kind"`
	Recipe        *recipe.Recipe `json:"recipe"`
	FormattedText string         `json:"formatted_text,omitempty"`
	Cached        bool           `json:"cached"`
	CreatedAt     time.Time      `json:"created_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

type Repository struct {
	db database.Querier
}

func New(db database.Querier) *Repository {
	return &Repository{db: db}
}

// SaveRecipe archives a completed job. Saving the same job twice is a no-op.
func (r *Repository) SaveRecipe(ctx context.Context, j *job.Job) error {
	a, err := archiveOf(j)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(a.Recipe)
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}

	query := `
		INSERT INTO recipes (job_id, owner_id, source_url, kind, title, recipe, formatted_text, cached, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query,
		a.JobID,
		a.OwnerID,
		a.SourceURL,
		string(a.Kind),
		a.Recipe.Title,
		payload,
		a.FormattedText,
		a.Cached,
		a.CreatedAt,
		a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive recipe: %w", err)
	}
	return nil
}

func (r *Repository) GetRecipe(ctx context.Context, ownerID string, jobID uuid.UUID) (*ArchivedRecipe, error) {
	query := `
		SELECT job_id, owner_id, source_url, kind, recipe, formatted_text, cached, created_at, finished_at
		FROM recipes
		WHERE job_id = $1 AND owner_id = $2
	`
	a, err := scanArchived(r.db.QueryRow(ctx, query, jobID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.WrapNotFound("archived recipe", err)
	}
	return a, err
}

// ListRecipes returns the owner's archived recipes, newest first.
func (r *Repository) ListRecipes(ctx context.Context, ownerID string, limit int) ([]ArchivedRecipe, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT job_id, owner_id, source_url, kind, recipe, formatted_text, cached, created_at, finished_at
		FROM recipes
		WHERE owner_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedRecipe
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func archiveOf(j *job.Job) (*ArchivedRecipe, error) {
	if j == nil || j.Status != job.StatusCompleted || j.Result == nil || j.Result.Recipe == nil {
		return nil, fmt.Errorf("%w: only completed jobs are archived", common.ErrBadRequest)
	}
	finished := j.UpdatedAt
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	return &ArchivedRecipe{
		JobID:         j.ID,
		OwnerID:       j.OwnerID,
		SourceURL:     j.SourceURL,
		Kind:          j.Kind,
		Recipe:        j.Result.Recipe,
		FormattedText: j.Result.FormattedText,
		Cached:        j.Result.Cached,
		CreatedAt:     j.CreatedAt,
		FinishedAt:    finished,
	}, nil
}

func scanArchived(row pgx.Row) (*ArchivedRecipe, error) {
	var (
		a       ArchivedRecipe
		kind    string
		payload []byte
	)
	err := row.Scan(
		&a.JobID,
		&a.OwnerID,
		&a.SourceURL,
		&kind,
		&payload,
		&a.FormattedText,
		&a.Cached,
		&a.CreatedAt,
		&a.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = job.Kind(kind)
	a.Recipe = &recipe.Recipe{}
	if err := json.Unmarshal(payload, a.Recipe); err != nil {
		return nil, fmt.Errorf("failed to decode archived recipe: %w", err)
	}
	return &a, nil
}
