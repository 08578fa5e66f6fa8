package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/pipeline"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/stages"
)

// overlapBackend records the highest number of simultaneous transcriptions.
type overlapBackend struct {
	active    atomic.Int32
	maxActive atomic.Int32
	loads     atomic.Int32
}

func (b *overlapBackend) Load(ctx context.Context, model string) error {
	b.loads.Add(1)
	return nil
}

func (b *overlapBackend) Unload(ctx context.Context) error { return nil }

func (b *overlapBackend) Transcribe(ctx context.Context, model string, audio gpu.Audio) (string, error) {
	n := b.active.Add(1)
	for {
		cur := b.maxActive.Load()
		if n <= cur || b.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	b.active.Add(-1)
	return "mix flour and sugar, bake 20 minutes", nil
}

func TestConcurrentMediaJobsNeverOverlapOnGPU(t *testing.T) {
	store := jobstore.New(0)
	backend := &overlapBackend{}
	manager := gpu.NewManager(backend, gpu.Options{Policy: gpu.PolicyEager})

	p := pipeline.New(pipeline.Deps{
		Store: store,
		Media: stages.AcquirerFunc(func(ctx context.Context, u string) (*stages.RawContent, error) {
			return &stages.RawContent{SourceURL: u, Audio: &gpu.Audio{Filename: "audio.wav", Data: []byte("RIFF")}}, nil
		}),
		Transcriber: stages.NewGPUTranscriber(manager, "small", time.Second),
		Extractor: extractorFunc(func(ctx context.Context, c *stages.RawContent) (*recipe.Recipe, error) {
			return &recipe.Recipe{
				Title:       "Simple Cake",
				Ingredients: []string{"flour", "sugar"},
				Steps:       []string{"mix flour and sugar", "bake 20 minutes"},
			}, nil
		}),
	})
	s := New(store, p, Options{MaxConcurrent: 8})
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	const n = 8
	ids := make([]uuid.UUID, n)
	for i := range ids {
		id, err := s.Submit(context.Background(), "alice", videoURL)
		require.NoError(t, err)
		ids[i] = id
	}
	for _, id := range ids {
		j := waitStatus(t, s, "alice", id, job.StatusCompleted)
		assert.Equal(t, "Simple Cake", j.Result.Recipe.Title)
	}

	assert.Equal(t, int32(1), backend.maxActive.Load())
	assert.Equal(t, int32(n), backend.loads.Load(), "eager policy loads once per job")
	assert.False(t, manager.Slot().Loaded)
}

type extractorFunc func(ctx context.Context, c *stages.RawContent) (*recipe.Recipe, error)

func (f extractorFunc) Structure(ctx context.Context, c *stages.RawContent) (*recipe.Recipe, error) {
	return f(ctx, c)
}
