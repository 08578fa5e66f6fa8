package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Storage keeps pipeline artifacts such as extracted audio.
type Storage interface {
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadResult struct {
	Key         string
	URL         string
	ContentType string
	Size        int
}

// readAndDetect buffers content and fills in the content type from its
// magic bytes when the caller did not provide one.
func readAndDetect(content io.Reader, contentType string) ([]byte, string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file content: %w", err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return data, contentType, nil
}

// detectReader sniffs the content type of an opened file without consuming it.
func detectReader(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

func generateKey(filename string) string {
	ext := filepath.Ext(filename)
	basename := strings.TrimSuffix(filepath.Base(filename), ext)

	safeBasename := strings.ReplaceAll(basename, " ", "_")
	safeBasename = strings.ReplaceAll(safeBasename, "/", "_")

	timestamp := time.Now().Format("2006/01/02")
	uniqueID := uuid.New().String()[:8]

	return fmt.Sprintf("audio/%s/%s_%s%s", timestamp, safeBasename, uniqueID, ext)
}
