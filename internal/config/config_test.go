package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := fromEnv()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
	assert.Equal(t, "eager", cfg.ModelReleasePolicy)
	assert.Contains(t, cfg.RecipeSites, "marmiton.org")
	assert.False(t, cfg.ScrapeAnySite)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "2")
	t.Setenv("TRANSCRIBE_TIMEOUT", "90s")
	t.Setenv("RECIPE_SITES", " a.com, ,b.org ")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")
	t.Setenv("SCRAPE_RATE_PER_SEC", "0.5")
	t.Setenv("SCRAPE_ANY_SITE", "true")

	cfg := fromEnv()
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, 90*time.Second, cfg.TranscribeTimeout)
	assert.Equal(t, []string{"a.com", "b.org"}, cfg.RecipeSites)
	assert.False(t, cfg.S3ForcePathStyle)
	assert.Equal(t, 0.5, cfg.ScrapeRatePerSec)
	assert.True(t, cfg.ScrapeAnySite)
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "lots")
	t.Setenv("LLM_TIMEOUT", "soon")

	cfg := fromEnv()
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
	assert.Equal(t, 3*time.Minute, cfg.LLMTimeout)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := fromEnv()
	cfg.MaxConcurrentJobs = 0
	cfg.ModelReleasePolicy = "forever"
	cfg.RecipeLanguage = "not a language tag!"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
	for _, field := range []string{"MAX_CONCURRENT_JOBS", "MODEL_RELEASE_POLICY", "RECIPE_LANGUAGE", "LOG_FORMAT"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	cfg.LogLevel = "nonsense"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
