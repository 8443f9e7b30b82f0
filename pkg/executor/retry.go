package executor

import (
	"context"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Backoff returns the wait before the attempt following a failed one
type Backoff func(base time.Duration, attempt int) time.Duration

// LinearBackoff waits base*attempt
func LinearBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// ExponentialBackoff waits base*2^(attempt-1)
func ExponentialBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<uint(attempt-1))
}

type retryPolicy struct {
	chainID    int
	maxRetries int
	base       time.Duration
	backoff    Backoff
	logger     logger.Logger
}

// retry calls fn with attempt numbers starting at 1 until it succeeds, fails with
// a non-retryable error, or maxRetries attempts have been made.
func retry[T any](ctx context.Context, p retryPolicy, op string, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	maxRetries := p.maxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		out, err := fn(attempt)
		metrics.RecordExecutorAttempt(p.chainID, err)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !swaperr.Retryable(err) {
			p.logger.ErrorWithChain(p.chainID, "%s failed with non-retryable error: %v", op, err)
			return zero, err
		}
		if attempt == maxRetries {
			break
		}

		wait := p.backoff(p.base, attempt)
		p.logger.InfoWithChain(p.chainID, "%s attempt %d/%d failed, retrying in %s: %v", op, attempt, maxRetries, wait, err)
		if err := sleep(ctx, wait); err != nil {
			return zero, swaperr.Wrap(swaperr.KindTransport, op, err)
		}
	}

	return zero, &swaperr.Error{
		Kind: swaperr.KindMaxRetriesExceeded,
		Op:   op,
		Msg:  "attempts exhausted",
		Err:  lastErr,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
