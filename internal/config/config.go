package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

type Config struct {
	HTTPAddr           string
	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	MaxConcurrentJobs int
	JobMaxDuration    time.Duration
	JobRetention      time.Duration
	MaxJobs           int

	DownloadTimeout    time.Duration
	TranscribeTimeout  time.Duration
	LLMTimeout         time.Duration
	AcquireMaxAttempts int
	AcquireBaseBackoff time.Duration

	WhisperBaseURL     string
	WhisperModel       string
	ModelReleasePolicy string
	ModelIdleTimeout   time.Duration

	OllamaBaseURL string
	OllamaModel   string
	LLMAPIKey     string

	RecipeLanguage    string
	RecipeSites       []string
	ScrapeAnySite     bool
	YtDlpPath         string
	FFmpegPath        string
	WorkDir           string
	ScrapeRatePerSec  float64
	ScrapeUserAgent   string
	MaxPageTextLength int

	StorageMode      string
	S3Bucket         string
	S3Endpoint       string
	S3Region         string
	AWSAccessKey     string
	AWSSecretKey     string
	S3ForcePathStyle bool
	LocalStorageDir  string
	LocalStorageURL  string

	RedisURL       string
	RecipeCacheTTL time.Duration
	DatabaseURL    string

	LogLevel            string
	LogFormat           string
	MaintenanceSchedule string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		slog.Warn("bad int env, using default", "key", key, "value", v)
	}
	return def
}

func mustFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		slog.Warn("bad float env, using default", "key", key, "value", v)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "true" || v == "1" {
			return true
		}
		if v == "false" || v == "0" {
			return false
		}
		slog.Warn("bad bool env, using default", "key", key, "value", v)
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		slog.Warn("bad duration env, using default", "key", key, "value", v)
	}
	return def
}

// getList splits a comma separated value, dropping blanks.
func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	currentDir, err := os.Getwd()
	if err != nil {
		slog.Debug("failed to get current directory", "error", err)
		return
	}

	// look in current directory and up to 3 parent directories
	searchDirs := []string{currentDir}
	for i := 0; i < 3; i++ {
		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			break
		}
		searchDirs = append(searchDirs, parent)
		currentDir = parent
	}

	loadedAny := false
	for _, dir := range searchDirs {
		for _, envFile := range envFiles {
			envPath := filepath.Join(dir, envFile)
			if _, err := os.Stat(envPath); err == nil {
				if err := godotenv.Load(envPath); err == nil {
					slog.Debug("loaded environment file", "path", envPath)
					loadedAny = true
				} else {
					slog.Debug("failed to load environment file", "path", envPath, "error", err)
				}
			}
		}
		if loadedAny {
			break
		}
	}

	if !loadedAny {
		slog.Debug("no .env files found, using system environment variables only")
	}
}

var defaultRecipeSites = []string{
	"marmiton.org",
	"750g.com",
	"cuisineaz.com",
	"journaldesfemmes.fr",
	"allrecipes.com",
	"bbcgoodfood.com",
	"seriouseats.com",
}

func Load() Config {
	loadEnvFiles()
	return fromEnv()
}

func fromEnv() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		JWTSecret:          getenv("JWT_SECRET", ""),
		JWTIssuer:          getenv("JWT_ISSUER", "recette"),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		RateLimitPerMinute: mustInt("RATE_LIMIT_PER_MINUTE", 30),

		MaxConcurrentJobs: mustInt("MAX_CONCURRENT_JOBS", 5),
		JobMaxDuration:    mustDuration("JOB_MAX_DURATION", 15*time.Minute),
		JobRetention:      mustDuration("JOB_RETENTION", 24*time.Hour),
		MaxJobs:           mustInt("MAX_JOBS", 1000),

		DownloadTimeout:    mustDuration("DOWNLOAD_TIMEOUT", 3*time.Minute),
		TranscribeTimeout:  mustDuration("TRANSCRIBE_TIMEOUT", 5*time.Minute),
		LLMTimeout:         mustDuration("LLM_TIMEOUT", 3*time.Minute),
		AcquireMaxAttempts: mustInt("ACQUIRE_MAX_ATTEMPTS", 3),
		AcquireBaseBackoff: mustDuration("ACQUIRE_BASE_BACKOFF", 2*time.Second),

		WhisperBaseURL:     getenv("WHISPER_BASE_URL", "http://localhost:9000"),
		WhisperModel:       getenv("WHISPER_MODEL", "medium"),
		ModelReleasePolicy: getenv("MODEL_RELEASE_POLICY", "eager"),
		ModelIdleTimeout:   mustDuration("MODEL_IDLE_TIMEOUT", 5*time.Minute),

		OllamaBaseURL: getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getenv("OLLAMA_MODEL_PRIMARY", "llama3.2"),
		LLMAPIKey:     getenv("LLM_API_KEY", ""),

		RecipeLanguage:    getenv("RECIPE_LANGUAGE", "fr"),
		RecipeSites:       getList("RECIPE_SITES", defaultRecipeSites),
		ScrapeAnySite:     getBool("SCRAPE_ANY_SITE", false),
		YtDlpPath:         getenv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:        getenv("FFMPEG_PATH", "ffmpeg"),
		WorkDir:           getenv("WORK_DIR", os.TempDir()),
		ScrapeRatePerSec:  mustFloat("SCRAPE_RATE_PER_SEC", 2),
		ScrapeUserAgent:   getenv("SCRAPE_USER_AGENT", "Mozilla/5.0 (compatible; RecetteBot/1.0)"),
		MaxPageTextLength: mustInt("MAX_PAGE_TEXT_LENGTH", 15000),

		StorageMode:      getenv("STORAGE_MODE", "local"),
		S3Bucket:         getenv("S3_BUCKET", "recette-audio"),
		S3Endpoint:       getenv("S3_ENDPOINT", ""),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		AWSAccessKey:     getenv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getenv("AWS_SECRET_ACCESS_KEY", ""),
		S3ForcePathStyle: getBool("S3_FORCE_PATH_STYLE", true),
		LocalStorageDir:  getenv("LOCAL_STORAGE_DIR", "./data/audio"),
		LocalStorageURL:  getenv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		RedisURL:       getenv("REDIS_URL", ""),
		RecipeCacheTTL: mustDuration("RECIPE_CACHE_TTL", 7*24*time.Hour),
		DatabaseURL:    getenv("DATABASE_URL", ""),

		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "text"),
		MaintenanceSchedule: getenv("MAINTENANCE_SCHEDULE", "@every 5m"),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, msg string) {
		errs = append(errs, common.ValidationError{Field: field, Message: msg})
	}

	if c.MaxConcurrentJobs < 1 {
		bad("MAX_CONCURRENT_JOBS", "must be at least 1")
	}
	if c.AcquireMaxAttempts < 1 {
		bad("ACQUIRE_MAX_ATTEMPTS", "must be at least 1")
	}
	for key, d := range map[string]time.Duration{
		"JOB_MAX_DURATION":   c.JobMaxDuration,
		"DOWNLOAD_TIMEOUT":   c.DownloadTimeout,
		"TRANSCRIBE_TIMEOUT": c.TranscribeTimeout,
		"LLM_TIMEOUT":        c.LLMTimeout,
	} {
		if d <= 0 {
			bad(key, "must be positive")
		}
	}
	switch c.ModelReleasePolicy {
	case "eager", "keep_warm":
	default:
		bad("MODEL_RELEASE_POLICY", fmt.Sprintf("unknown policy %q", c.ModelReleasePolicy))
	}
	if _, err := language.Parse(c.RecipeLanguage); err != nil {
		bad("RECIPE_LANGUAGE", err.Error())
	}
	switch c.StorageMode {
	case "local", "filesystem", "s3", "aws", "localstack":
	default:
		bad("STORAGE_MODE", fmt.Sprintf("unknown mode %q", c.StorageMode))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		bad("LOG_FORMAT", "must be text or json")
	}
	if c.ScrapeRatePerSec <= 0 {
		bad("SCRAPE_RATE_PER_SEC", "must be positive")
	}
	return errors.Join(errs...)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
