// Package whisper talks to the GPU transcription service over HTTP.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// HealthInfo is what the service reports about itself.
type HealthInfo struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Device  string `json:"device"`
	Mode    string `json:"mode"`
	GPUName string `json:"gpu_name,omitempty"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

var _ gpu.Backend = (*Client)(nil)

// Load asks the service to make model resident. Services running in cold
// start mode have no /load endpoint and load per request; for those a
// successful health probe counts as loaded.
func (c *Client) Load(ctx context.Context, model string) error {
	body, _ := json.Marshal(map[string]string{"model": model})
	status, err := c.post(ctx, "/load", body)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		_, err := c.Health(ctx)
		return err
	case status >= 300:
		return fmt.Errorf("load %s: unexpected status %d", model, status)
	}
	return nil
}

// Unload frees the model. A service without /unload frees memory on its own.
func (c *Client) Unload(ctx context.Context) error {
	status, err := c.post(ctx, "/unload", nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("unload: unexpected status %d", status)
	}
	return nil
}

// Transcribe uploads audio as multipart form data and returns the text.
func (c *Client) Transcribe(ctx context.Context, model string, audio gpu.Audio) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := audio.Filename
	if name == "" {
		name = "audio.wav"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	q := url.Values{}
	if audio.Language != "" {
		q.Set("language", audio.Language)
	}
	if model != "" {
		q.Set("model", model)
	}
	endpoint := c.baseURL + "/transcribe"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return "", common.NewStageError(common.KindTimeout, "transcription timed out", err)
		}
		return "", common.NewStageError(common.KindTranscription, "transcription service unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", common.NewStageError(common.KindTranscription, "failed to read transcription", err)
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		slog.Error("whisper service error", "status", resp.StatusCode, "detail", er.Detail)
		return "", common.NewStageError(common.KindTranscription,
			fmt.Sprintf("transcription service returned %d", resp.StatusCode), nil)
	}

	var out transcribeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", common.NewStageError(common.KindTranscription, "invalid transcription response", err)
	}
	slog.Info("audio transcribed",
		"file", name,
		"language", out.Language,
		"chars", len(out.Text),
		"took", time.Since(start).Round(time.Millisecond))
	return strings.TrimSpace(out.Text), nil
}

// Health returns the service's self description.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper health: status %d", resp.StatusCode)
	}
	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("whisper health: %w", err)
	}
	return &info, nil
}

// Ping satisfies the readiness checker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("whisper %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
