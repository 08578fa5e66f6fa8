package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type psResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Resident lists the models Ollama currently holds in memory.
func (c *Client) Resident(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama ps: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama ps: status %d", resp.StatusCode)
	}
	var ps psResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return nil, fmt.Errorf("ollama ps: %w", err)
	}
	names := make([]string, 0, len(ps.Models))
	for _, m := range ps.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// EvictResident asks Ollama to drop every resident model (keep_alive=0) so
// the transcription model can use the GPU memory.
func (c *Client) EvictResident(ctx context.Context) error {
	names, err := c.Resident(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	var firstErr error
	for _, name := range names {
		if err := c.evict(ctx, name); err != nil {
			slog.Warn("failed to evict ollama model", "model", name, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slog.Info("evicted ollama model", "model", name)
	}
	return firstErr
}

func (c *Client) evict(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]any{
		"model":      name,
		"prompt":     "",
		"keep_alive": 0,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
