package stages

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

// RetryingAcquirer retries transient acquisition failures (network errors
// and timeouts) with exponential backoff. Any other failure is returned on
// the first attempt.
type RetryingAcquirer struct {
	next        Acquirer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewRetryingAcquirer(next Acquirer, maxAttempts int, baseDelay time.Duration) *RetryingAcquirer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingAcquirer{
		next:        next,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    30 * time.Second,
	}
}

func (r *RetryingAcquirer) Fetch(ctx context.Context, sourceURL string) (*RawContent, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.baseDelay
	eb.MaxInterval = r.maxDelay
	eb.MaxElapsedTime = 0
	var policy backoff.BackOff = backoff.WithMaxRetries(eb, uint64(r.maxAttempts-1))
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	op := func() (*RawContent, error) {
		attempt++
		raw, err := r.next.Fetch(ctx, sourceURL)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil || !common.KindOf(err).Retryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("acquisition failed, retrying",
			"url", sourceURL,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"kind", common.KindOf(err),
			"retry_in", wait,
			"err", err)
	}

	raw, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if ctx.Err() != nil && common.KindOf(err) != common.KindCancelled {
			return nil, common.NewStageError(common.KindOf(ctx.Err()), "acquisition interrupted", err)
		}
		return nil, err
	}
	return raw, nil
}
