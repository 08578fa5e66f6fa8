package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStorage) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error) {
	data, contentType, err := readAndDetect(content, contentType)
	if err != nil {
		return nil, err
	}

	key := generateKey(filename)
	filePath := filepath.Join(s.baseDir, key)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("file uploaded to local storage", "key", key, "path", filePath, "size", len(data), "content_type", contentType)

	return &UploadResult{
		Key:         key,
		URL:         fmt.Sprintf("%s/%s", s.baseURL, key),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

func (s *LocalStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	// local files are served directly, there is nothing to sign
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func (s *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	filePath := filepath.Join(s.baseDir, key)

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrFileNotFound, key)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted from local storage", "key", key, "path", filePath)
	return nil
}

func (s *LocalStorage) GetFile(ctx context.Context, key string) (io.ReadCloser, string, error) {
	filePath := filepath.Join(s.baseDir, key)

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", common.ErrFileNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.Size() == 0 {
		return nil, "", fmt.Errorf("file is empty: %s", key)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	contentType, r, err := detectReader(file)
	if err != nil {
		file.Close()
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}

	slog.Debug("file opened from local storage", "key", key, "size", fileInfo.Size(), "content_type", contentType)

	return readCloser{Reader: r, Closer: file}, contentType, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
