package stages

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/gpu"
)

// GPUTranscriber runs transcription while holding the resource lock.
//
// Once the backend call has started it is not abandoned when the job is
// cancelled: it runs to completion under its own timeout, the lock is
// released, and only then is the cancellation reported.
type GPUTranscriber struct {
	manager *gpu.Manager
	model   string
	timeout time.Duration
}

func NewGPUTranscriber(manager *gpu.Manager, model string, timeout time.Duration) *GPUTranscriber {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GPUTranscriber{manager: manager, model: model, timeout: timeout}
}

func (t *GPUTranscriber) Transcribe(ctx context.Context, audio gpu.Audio) (string, error) {
	h, err := t.manager.Acquire(ctx, t.model)
	if err != nil {
		return "", err
	}
	defer h.Release()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	text, err := h.Transcribe(callCtx, audio)
	if ctx.Err() != nil {
		return "", common.NewStageError(common.KindCancelled, "job was cancelled", ctx.Err())
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", common.NewStageError(common.KindTimeout, "transcription timed out", err)
		}
		var se *common.StageError
		if errors.As(err, &se) {
			return "", err
		}
		return "", common.NewStageError(common.KindTranscription, "transcription failed", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", common.NewStageError(common.KindTranscription, "no speech was detected in the video", nil)
	}
	return text, nil
}
