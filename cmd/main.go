package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	appconfig "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/config"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/database"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/llm"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/pipeline"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/redis"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/repository"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/scheduler"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/server"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/stages"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/storage"
	httpapi "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/transport/http"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/whisper"
)

var version = "dev"

func main() {
	cfg := appconfig.Load()
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.Info("starting recette", "addr", cfg.HTTPAddr, "max_concurrent_jobs", cfg.MaxConcurrentJobs, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.Describe(cfg))

	policy, err := gpu.ParsePolicy(cfg.ModelReleasePolicy)
	if err != nil {
		slog.Error("invalid model release policy", "err", err)
		os.Exit(1)
	}

	whisperClient := whisper.NewClient(cfg.WhisperBaseURL, cfg.TranscribeTimeout)
	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.OllamaBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.OllamaModel,
	})

	// the LLM server shares the GPU, so its resident models go first
	manager := gpu.NewManager(whisperClient, gpu.Options{
		Policy:  policy,
		PreLoad: llmClient.EvictResident,
	})

	handlers := &httpapi.Handlers{
		Storage: storageService,
		Config:  cfg,
		Version: version,
		Whisper: whisperClient,
		LLM:     llmClient,
	}

	deps := pipeline.Deps{
		Media: stages.NewRetryingAcquirer(
			stages.NewMediaDownloader(stages.MediaDownloaderConfig{
				YtDlpPath:  cfg.YtDlpPath,
				FFmpegPath: cfg.FFmpegPath,
				WorkDir:    cfg.WorkDir,
				Timeout:    cfg.DownloadTimeout,
			}, storageService),
			cfg.AcquireMaxAttempts, cfg.AcquireBaseBackoff,
		),
		Pages: stages.NewRetryingAcquirer(
			stages.NewPageScraper(stages.PageScraperConfig{
				Timeout:      cfg.DownloadTimeout,
				RatePerSec:   cfg.ScrapeRatePerSec,
				UserAgent:    cfg.ScrapeUserAgent,
				MaxTextBytes: cfg.MaxPageTextLength,
			}),
			cfg.AcquireMaxAttempts, cfg.AcquireBaseBackoff,
		),
		Transcriber: stages.NewGPUTranscriber(manager, cfg.WhisperModel, cfg.TranscribeTimeout),
		Extractor:   stages.NewLLMExtractor(llmClient, language.MustParse(cfg.RecipeLanguage), cfg.LLMTimeout),
		Artifacts:   storageService,
		RecipeSites: cfg.RecipeSites,

		ScrapeAnySite: cfg.ScrapeAnySite,
	}

	if cfg.RedisURL != "" {
		redisService, err := redis.New(cfg.RedisURL, cfg.RecipeCacheTTL)
		if err != nil {
			slog.Error("failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisService.Close()
		deps.Cache = redisService
		handlers.Redis = redisService
		handlers.Cache = redisService
		slog.Info("recipe cache enabled", "ttl", cfg.RecipeCacheTTL)
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "err", err)
			os.Exit(1)
		}
		repo := repository.New(db.Pool())
		deps.Archive = repo
		handlers.Archive = repo
		handlers.DB = db
		slog.Info("recipe archive enabled")
	}

	store := jobstore.New(cfg.MaxJobs)
	deps.Store = store
	sched := scheduler.New(store, pipeline.New(deps), scheduler.Options{
		MaxConcurrent:  cfg.MaxConcurrentJobs,
		MaxJobDuration: cfg.JobMaxDuration,
		Retention:      cfg.JobRetention,
		ModelIdle:      cfg.ModelIdleTimeout,
		Reaper:         manager,
	})
	handlers.Jobs = sched

	c := cron.New()
	if err := sched.ScheduleMaintenance(ctx, c, cfg.MaintenanceSchedule); err != nil {
		slog.Error("failed to schedule maintenance", "err", err)
		os.Exit(1)
	}
	c.Start()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(handlers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	<-c.Stop().Done()
	if err := sched.Close(shCtx); err != nil {
		slog.Warn("scheduler shutdown", "err", err)
	}
	if err := manager.Shutdown(shCtx); err != nil {
		slog.Warn("model shutdown", "err", err)
	}
	cancel()
}

func setupLogger(cfg appconfig.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
