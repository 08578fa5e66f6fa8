// Package stages holds the executors the pipeline runs for each job:
// acquisition, transcription and structured extraction.
package stages

import (
	"context"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

// RawContent is what an Acquirer hands to the next stage. Media sources
// fill Audio; recipe pages fill Text and, when the page embeds one,
// Structured.
type RawContent struct {
	SourceURL string
	Title     string

	Audio    *gpu.Audio
	AudioKey string

	Text       string
	Structured *recipe.Recipe
}

// Acquirer turns a source URL into raw content.
type Acquirer interface {
	Fetch(ctx context.Context, sourceURL string) (*RawContent, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio gpu.Audio) (string, error)
}

// Extractor turns text, or partially structured page content, into a recipe.
type Extractor interface {
	Structure(ctx context.Context, content *RawContent) (*recipe.Recipe, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, sourceURL string) (*RawContent, error)

func (f AcquirerFunc) Fetch(ctx context.Context, sourceURL string) (*RawContent, error) {
	return f(ctx, sourceURL)
}
