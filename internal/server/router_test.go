package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/auth"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/config"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/pipeline"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/scheduler"
	httpapi "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/transport/http"
)

type idleRunner struct{}

func (idleRunner) Classify(u string) (job.Kind, error)        { return pipeline.Classify(u, nil) }
func (idleRunner) Run(ctx context.Context, id uuid.UUID) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	sched := scheduler.New(jobstore.New(10), idleRunner{}, scheduler.Options{MaxConcurrent: 1})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Close(ctx)
	})
	return NewRouter(&httpapi.Handlers{
		Jobs: sched,
		Config: config.Config{
			CORSAllowedOrigins: []string{"http://localhost:5173"},
		},
	})
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", auth.OwnerHeader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_OwnerEcho(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(auth.OwnerHeader, "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get(auth.OwnerHeader))
	assert.JSONEq(t, `{"jobs":[],"total":0}`, rec.Body.String())
}
