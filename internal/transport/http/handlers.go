package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/auth"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/config"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/repository"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/scheduler"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/storage"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/validation"
)

// Pinger is any dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecipeArchive is the read side of the Postgres recipe archive.
type RecipeArchive interface {
	ListRecipes(ctx context.Context, ownerID string, limit int) ([]repository.ArchivedRecipe, error)
	GetRecipe(ctx context.Context, ownerID string, jobID uuid.UUID) (*repository.ArchivedRecipe, error)
}

// RecipeCache lets an admin drop a cached recipe so the next job for that
// URL runs the pipeline again.
type RecipeCache interface {
	Forget(ctx context.Context, sourceURL string) error
}

const maxBodyBytes = 16 << 10

type Handlers struct {
	Jobs    *scheduler.Scheduler
	Archive RecipeArchive
	Cache   RecipeCache
	Storage storage.Storage
	Config  config.Config
	Version string

	// readiness dependencies; nil ones are reported as disabled
	DB      Pinger
	Redis   Pinger
	Whisper Pinger
	LLM     Pinger
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	// for static file serving for local storage
	if h.Storage != nil && (h.Config.StorageMode == "local" || h.Config.StorageMode == "filesystem") {
		r.Get("/files/*", h.serveFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.OwnerMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))

		submit := r.With(auth.RequirePerm(auth.PermJobSubmit))
		if h.Config.RateLimitPerMinute > 0 {
			submit = submit.With(httprate.Limit(
				h.Config.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(ownerKey),
			))
		}
		submit.Post("/v1/jobs", h.submitJob)

		r.With(auth.RequirePerm(auth.PermJobReadOwn)).Get("/v1/jobs", h.listJobs)
		r.With(auth.RequirePerm(auth.PermJobReadOwn)).Get("/v1/jobs/{id}", h.getJob)
		r.With(auth.RequirePerm(auth.PermJobSubmit)).Post("/v1/jobs/{id}/cancel", h.cancelJob)
		r.With(auth.RequirePerm(auth.PermJobSubmit)).Delete("/v1/jobs/{id}", h.deleteJob)
		r.With(auth.RequirePerm(auth.PermJobSubmit)).Delete("/v1/jobs", h.clearJobs)

		r.With(auth.RequirePerm(auth.PermStatsRead)).Get("/v1/stats", h.stats)

		if h.Cache != nil {
			r.With(auth.RequirePerm(auth.PermAdminAll)).Delete("/v1/cache", h.forgetCached)
		}
		if h.Archive != nil {
			r.With(auth.RequirePerm(auth.PermJobReadOwn)).Get("/v1/recipes", h.listRecipes)
			r.With(auth.RequirePerm(auth.PermJobReadOwn)).Get("/v1/recipes/{id}", h.getRecipe)
		}
	})
}

// ownerKey rate limits per job owner rather than per client address.
func ownerKey(r *http.Request) (string, error) {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.OwnerID, nil
	}
	return httprate.KeyByIP(r)
}

func (h *Handlers) submitJob(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req validation.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if errs := validation.ValidateSubmit(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": errs})
		return
	}

	jobID, err := h.Jobs.Submit(r.Context(), id.OwnerID, strings.TrimSpace(req.URL))
	if err != nil {
		writeError(w, "submit job", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  jobID,
		"status":  "queued",
		"message": "job accepted",
	})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, r)
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	j, err := h.Jobs.Status(id.OwnerID, jobID)
	if err != nil {
		writeError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	jobs := h.Jobs.List(id.OwnerID)
	if jobs == nil {
		jobs = []job.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (h *Handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, r)
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	j, err := h.Jobs.Cancel(id.OwnerID, jobID)
	if err != nil {
		writeError(w, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, r)
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	if err := h.Jobs.Delete(id.OwnerID, jobID); err != nil {
		writeError(w, "delete job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) clearJobs(w http.ResponseWriter, r *http.Request) {
	completedOnly, errs := validation.ParseBool("completed_only", r.URL.Query().Get("completed_only"), true)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": errs})
		return
	}
	id, _ := auth.FromContext(r.Context())

	n := h.Jobs.ClearFinished(id.OwnerID, completedOnly)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Jobs.Stats())
}

func (h *Handlers) forgetCached(w http.ResponseWriter, r *http.Request) {
	req := validation.SubmitRequest{URL: r.URL.Query().Get("url")}
	if errs := validation.ValidateSubmit(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": errs})
		return
	}
	if err := h.Cache.Forget(r.Context(), strings.TrimSpace(req.URL)); err != nil {
		writeError(w, "forget cached recipe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listRecipes(w http.ResponseWriter, r *http.Request) {
	limit, errs := validation.ParseLimit(r.URL.Query().Get("limit"), 50)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": errs})
		return
	}
	id, _ := auth.FromContext(r.Context())

	recipes, err := h.Archive.ListRecipes(r.Context(), id.OwnerID, limit)
	if err != nil {
		writeError(w, "list recipes", err)
		return
	}
	if recipes == nil {
		recipes = []repository.ArchivedRecipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipes": recipes,
		"total":   len(recipes),
	})
}

func (h *Handlers) getRecipe(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, r)
	if !ok {
		return
	}
	id, _ := auth.FromContext(r.Context())

	rec, err := h.Archive.GetRecipe(r.Context(), id.OwnerID, jobID)
	if err != nil {
		writeError(w, "get recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	if key == "" {
		http.Error(w, "file path required", http.StatusBadRequest)
		return
	}
	if strings.Contains(key, "..") {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}

	rc, contentType, err := h.Storage.GetFile(r.Context(), key)
	if err != nil {
		writeError(w, "serve file", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("copy file", "key", key, "err", err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case common.IsNotFound(err):
		return http.StatusNotFound
	case common.IsConflict(err):
		return http.StatusConflict
	case common.IsValidation(err), errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case common.IsUnauthorized(err):
		return http.StatusUnauthorized
	case common.IsForbidden(err):
		return http.StatusForbidden
	case errors.Is(err, common.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	msg := http.StatusText(code)
	switch code {
	case http.StatusInternalServerError:
		slog.Error(op+" failed", "err", err)
	case http.StatusConflict:
		msg = conflictMessage(err)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrJobActive):
		return "job is still running, cancel it first"
	case errors.Is(err, common.ErrJobTerminal):
		return "job already finished"
	default:
		return "conflict"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
