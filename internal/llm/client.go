// Package llm wraps the OpenAI-compatible chat endpoint served by Ollama.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

type Config struct {
	// BaseURL is the Ollama root, e.g. http://localhost:11434.
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

type Client struct {
	openAI  *openai.Client
	http    *http.Client
	baseURL string
	model   string
	temp    float32
	maxTok  int
}

type Completion struct {
	Content          string
	Model            string
	TokensUsed       int
	ProcessingTimeMs int
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	key := cfg.APIKey
	if key == "" {
		// Ollama ignores the key but the client requires one.
		key = "ollama"
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = base + "/v1"

	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.2
	}
	maxTok := cfg.MaxTokens
	if maxTok == 0 {
		maxTok = 2000
	}
	return &Client{
		openAI:  openai.NewClientWithConfig(oc),
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: base,
		model:   cfg.Model,
		temp:    temp,
		maxTok:  maxTok,
	}
}

func (c *Client) Model() string {
	return c.model
}

// CompleteJSON sends a system and a user message and asks for a JSON object
// back. The returned content is the raw model output.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (*Completion, error) {
	start := time.Now()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}

	slog.Info("sending request to LLM",
		"model", c.model,
		"messages_count", len(messages),
		"prompt_length", len(user))

	resp, err := c.openAI.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTok,
		Temperature: c.temp,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("LLM API error", "error", err, "model", c.model)
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, common.NewStageError(common.KindMalformedOutput, "language model returned no choices", nil)
	}

	content := resp.Choices[0].Message.Content
	preview := content
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	slog.Info("received response from LLM",
		"model", resp.Model,
		"tokens_used", resp.Usage.TotalTokens,
		"response_length", len(content),
		"response_preview", preview)

	return &Completion{
		Content:          content,
		Model:            resp.Model,
		TokensUsed:       resp.Usage.TotalTokens,
		ProcessingTimeMs: int(time.Since(start).Milliseconds()),
	}, nil
}

// Models lists the models the server knows about.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	list, err := c.openAI.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

// Ping checks that the server answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	names, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == c.model || strings.TrimSuffix(n, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not available on LLM server", c.model)
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusRequestTimeout || apiErr.HTTPStatusCode == http.StatusGatewayTimeout:
			return common.NewStageError(common.KindTimeout, "language model timed out", err)
		case apiErr.HTTPStatusCode == http.StatusBadRequest:
			return common.NewStageError(common.KindLLMUnavailable, "language model rejected the request", err)
		}
	}
	return common.NewStageError(common.KindLLMUnavailable, "language model unavailable", err)
}
