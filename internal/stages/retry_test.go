package stages

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

func flakyAcquirer(failures int, kind common.Kind, calls *atomic.Int32) Acquirer {
	return AcquirerFunc(func(ctx context.Context, sourceURL string) (*RawContent, error) {
		n := calls.Add(1)
		if int(n) <= failures {
			return nil, common.NewStageError(kind, "flaky", nil)
		}
		return &RawContent{SourceURL: sourceURL, Text: "ok"}, nil
	})
}

func TestRetryingAcquirer_RecoversFromTransientFailures(t *testing.T) {
	var calls atomic.Int32
	r := NewRetryingAcquirer(flakyAcquirer(2, common.KindNetwork, &calls), 3, time.Millisecond)

	raw, err := r.Fetch(context.Background(), "https://example.com/r")
	require.NoError(t, err)
	assert.Equal(t, "ok", raw.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingAcquirer_RetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	r := NewRetryingAcquirer(flakyAcquirer(1, common.KindTimeout, &calls), 2, time.Millisecond)

	_, err := r.Fetch(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryingAcquirer_GivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	r := NewRetryingAcquirer(flakyAcquirer(10, common.KindNetwork, &calls), 3, time.Millisecond)

	_, err := r.Fetch(context.Background(), "u")
	require.Error(t, err)
	assert.Equal(t, common.KindNetwork, common.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingAcquirer_DoesNotRetryPermanentFailures(t *testing.T) {
	for _, kind := range []common.Kind{common.KindContentUnavailable, common.KindUnsupportedSource, common.KindInternal} {
		t.Run(string(kind), func(t *testing.T) {
			var calls atomic.Int32
			r := NewRetryingAcquirer(flakyAcquirer(10, kind, &calls), 5, time.Millisecond)

			_, err := r.Fetch(context.Background(), "u")
			assert.Equal(t, kind, common.KindOf(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestRetryingAcquirer_StopsWhenCancelled(t *testing.T) {
	var calls atomic.Int32
	r := NewRetryingAcquirer(flakyAcquirer(10, common.KindNetwork, &calls), 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Fetch(ctx, "u")
	require.Error(t, err)
	assert.Equal(t, common.KindCancelled, common.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}
