package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/storage"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

type MediaDownloaderConfig struct {
	YtDlpPath  string
	FFmpegPath string
	WorkDir    string
	Timeout    time.Duration
}

// MediaDownloader fetches a short video with yt-dlp and extracts a 16 kHz
// mono WAV track with ffmpeg. The WAV is kept in storage when one is set.
type MediaDownloader struct {
	cfg     MediaDownloaderConfig
	store   storage.Storage
	runner  commandRunner
	readDir func(name string) ([]os.DirEntry, error)
}

func NewMediaDownloader(cfg MediaDownloaderConfig, store storage.Storage) *MediaDownloader {
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &MediaDownloader{
		cfg:     cfg,
		store:   store,
		runner:  execRunner{},
		readDir: os.ReadDir,
	}
}

func (d *MediaDownloader) Fetch(ctx context.Context, sourceURL string) (*RawContent, error) {
	stageCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	tmp, err := os.MkdirTemp(d.cfg.WorkDir, "recette-*")
	if err != nil {
		return nil, common.NewStageError(common.KindInternal, "could not prepare work directory", err)
	}
	defer os.RemoveAll(tmp)

	start := time.Now()
	res, err := d.runner.Run(stageCtx, d.cfg.YtDlpPath,
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-progress",
		"--no-simulate",
		"--print", "%(title)s",
		"-o", filepath.Join(tmp, "media.%(ext)s"),
		sourceURL,
	)
	if err != nil {
		if cerr := common.FromContext(ctx, stageCtx, "download"); cerr != nil {
			return nil, cerr
		}
		return nil, classifyYtDlp(res.Stderr, err)
	}
	title := firstLine(res.Stdout)

	media, err := d.findMedia(tmp)
	if err != nil {
		return nil, err
	}

	wav := filepath.Join(tmp, "audio.wav")
	res, err = d.runner.Run(stageCtx, d.cfg.FFmpegPath,
		"-y", "-i", media,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		wav,
	)
	if err != nil {
		if cerr := common.FromContext(ctx, stageCtx, "audio extraction"); cerr != nil {
			return nil, cerr
		}
		slog.Error("ffmpeg failed", "url", sourceURL, "exit", res.ExitCode, "stderr", tail(res.Stderr, 500))
		return nil, common.NewStageError(common.KindContentUnavailable, "could not extract audio from the video", err)
	}

	data, err := os.ReadFile(wav)
	if err != nil || len(data) == 0 {
		return nil, common.NewStageError(common.KindContentUnavailable, "video has no audio track", err)
	}

	raw := &RawContent{
		SourceURL: sourceURL,
		Title:     title,
		Audio:     &gpu.Audio{Filename: "audio.wav", Data: data},
	}
	if d.store != nil {
		up, err := d.store.UploadFile(stageCtx, "audio.wav", bytes.NewReader(data), "")
		if err != nil {
			slog.Warn("failed to store audio artifact", "url", sourceURL, "err", err)
		} else {
			raw.AudioKey = up.Key
		}
	}

	slog.Info("media downloaded",
		"url", sourceURL,
		"title", title,
		"audio_bytes", len(data),
		"took", time.Since(start).Round(time.Millisecond))
	return raw, nil
}

func (d *MediaDownloader) findMedia(dir string) (string, error) {
	entries, err := d.readDir(dir)
	if err != nil {
		return "", common.NewStageError(common.KindInternal, "could not read work directory", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "media.") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", common.NewStageError(common.KindContentUnavailable, "downloader produced no media file", nil)
}

// classifyYtDlp maps yt-dlp's stderr to a failure kind.
func classifyYtDlp(stderr string, cause error) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "unsupported url"):
		return common.NewStageError(common.KindUnsupportedSource, "this link is not supported", cause)
	case strings.Contains(s, "http error 5"),
		strings.Contains(s, "http error 429"):
		return common.NewStageError(common.KindNetwork, "the video host is temporarily failing", cause)
	case strings.Contains(s, "private"),
		strings.Contains(s, "unavailable"),
		strings.Contains(s, "not available"),
		strings.Contains(s, "removed"),
		strings.Contains(s, "http error 404"),
		strings.Contains(s, "http error 410"),
		strings.Contains(s, "login required"):
		return common.NewStageError(common.KindContentUnavailable, "the video is unavailable", cause)
	case strings.Contains(s, "timed out"):
		return common.NewStageError(common.KindTimeout, "download timed out", cause)
	case strings.Contains(s, "unable to download"),
		strings.Contains(s, "connection"),
		strings.Contains(s, "temporary failure"):
		return common.NewStageError(common.KindNetwork, "could not reach the video host", cause)
	}
	if errors.Is(cause, exec.ErrNotFound) {
		return common.NewStageError(common.KindInternal, "downloader is not installed", cause)
	}
	return common.NewStageError(common.KindNetwork, fmt.Sprintf("download failed: %s", tail(stderr, 200)), cause)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
