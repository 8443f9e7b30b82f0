package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/events"
	"github.com/speedrun-hq/speedrun-resolver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/store"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const (
	refundExpired     = "expired"
	refundUnsupported = "unsupported_route"
	refundExhausted   = "max_retries"
)

// handle moves one intent through a single pass of its state machine
func (r *Resolver) handle(ctx context.Context, batchID string, intent *models.Intent) outcome {
	start := r.now()
	chainID := intent.SourceChainID

	if !intent.SourceChainType.Executable() {
		reason := swaperr.New(swaperr.KindChainUnsupported, "resolve", "source chain type %s is not supported", intent.SourceChainType).Error()
		r.logger.Error("Intent %s: %s", intent.IntentID, reason)
		return r.finalize(ctx, batchID, intent, start, store.Update{
			Status:      status(models.StatusFailed),
			ErrorReason: &reason,
		})
	}

	if r.breakers.IsOpen(chainID) {
		metrics.RecordDeferred(chainID)
		r.logger.DebugWithChain(chainID, "Intent %s deferred: circuit breaker open", intent.IntentID)
		return outcomeDeferred
	}

	if intent.Expired(start) {
		r.logger.InfoWithChain(chainID, "Intent %s expired at %s, refunding", intent.IntentID, intent.ExpiresAt.Format(time.RFC3339))
		return r.refund(ctx, batchID, intent, start, refundExpired, "intent expired", models.StatusExpired)
	}

	if intent.RetryCount >= r.cfg.MaxRetries {
		return r.refundFinal(ctx, batchID, intent, start, intent.RetryCount, intent.ErrorReason)
	}

	if err := r.processor.Supports(intent); err != nil {
		r.logger.InfoWithChain(chainID, "Intent %s has no route (%v), refunding", intent.IntentID, err)
		return r.refund(ctx, batchID, intent, start, refundUnsupported, err.Error(), models.StatusCancelled)
	}

	res := r.processor.Process(ctx, intent)
	r.recordChainHealth(chainID, res)

	if res.Success {
		now := r.now()
		r.logger.InfoWithChain(chainID, "Intent %s completed: tx %s, out %s", intent.IntentID, res.TxHash, res.ActualAmountOut)
		return r.finalize(ctx, batchID, intent, start, store.Update{
			Status:            status(models.StatusCompleted),
			ActualAmountOut:   &res.ActualAmountOut,
			TxHashSource:      &res.TxHash,
			BlockNumberSource: &res.BlockNumber,
			ExchangeRate:      &res.ExchangeRate,
			FeeAmount:         &res.FeeAmount,
			ExecutedAt:        &now,
			CompletedAt:       &now,
		})
	}

	retries := intent.RetryCount + 1
	if retries >= r.cfg.MaxRetries || res.ErrorKind == string(swaperr.KindMaxRetriesExceeded) {
		if retries > r.cfg.MaxRetries {
			retries = r.cfg.MaxRetries
		}
		return r.refundFinal(ctx, batchID, intent, start, retries, res.ErrorReason)
	}

	metrics.RecordRetry(chainID, res.ErrorKind)
	r.logger.NoticeWithChain(chainID, "Intent %s failed (attempt %d/%d): %s", intent.IntentID, retries, r.cfg.MaxRetries, res.ErrorReason)
	return r.finalize(ctx, batchID, intent, start, store.Update{
		RetryCount:  &retries,
		ErrorReason: &res.ErrorReason,
	})
}

// refund returns the funds of an intent that cannot be executed. On success the intent
// moves to onSuccess; a failed refund is retried on later passes until retries run out.
func (r *Resolver) refund(ctx context.Context, batchID string, intent *models.Intent, start time.Time, reason, errorReason string, onSuccess models.IntentStatus) outcome {
	res := r.processor.Refund(ctx, intent)
	r.recordChainHealth(intent.SourceChainID, res)
	metrics.RecordRefund(intent.SourceChainID, reason, res.Success)

	if res.Success {
		return r.finalize(ctx, batchID, intent, start, store.Update{
			Status:       status(onSuccess),
			ErrorReason:  &errorReason,
			RefundTxHash: &res.TxHash,
		})
	}

	retries := intent.RetryCount + 1
	u := store.Update{RetryCount: &retries, ErrorReason: &res.ErrorReason}
	if retries >= r.cfg.MaxRetries {
		retries = r.cfg.MaxRetries
		u.Status = status(models.StatusFailed)
	}
	return r.finalize(ctx, batchID, intent, start, u)
}

// refundFinal is the single refund attempt once execution retries are exhausted
func (r *Resolver) refundFinal(ctx context.Context, batchID string, intent *models.Intent, start time.Time, retries int, errorReason string) outcome {
	r.logger.NoticeWithChain(intent.SourceChainID, "Intent %s exhausted %d attempts, refunding", intent.IntentID, retries)
	res := r.processor.Refund(ctx, intent)
	r.recordChainHealth(intent.SourceChainID, res)
	metrics.RecordRefund(intent.SourceChainID, refundExhausted, res.Success)

	u := store.Update{RetryCount: &retries, ErrorReason: &errorReason}
	if res.Success {
		u.Status = status(models.StatusExpired)
		u.RefundTxHash = &res.TxHash
	} else {
		u.Status = status(models.StatusFailed)
		u.ErrorReason = &res.ErrorReason
	}
	return r.finalize(ctx, batchID, intent, start, u)
}

// finalize persists a transition and announces it. Persistence outlives the batch deadline
// so an intent is never left with an outcome that only existed in memory.
func (r *Resolver) finalize(ctx context.Context, batchID string, intent *models.Intent, start time.Time, u store.Update) outcome {
	ctx = context.WithoutCancel(ctx)
	previous := intent.Status

	updated, err := r.store.Update(ctx, intent.IntentID, u)
	if err != nil {
		status := previous
		if u.Status != nil {
			status = *u.Status
		}
		metrics.RecordPersistFailure(intent.SourceChainID, string(status))
		if hashes := onChainHashes(u); hashes != "" {
			// the transaction is on chain but the row still says otherwise
			r.logger.ErrorWithChain(intent.SourceChainID, "Intent %s: failed to persist %s after on-chain activity (%s), reconcile manually: %v",
				intent.IntentID, status, hashes, err)
		} else {
			r.logger.ErrorWithChain(intent.SourceChainID, "Intent %s: failed to persist update: %v", intent.IntentID, err)
		}
		return outcomeError
	}

	metrics.RecordIntent(updated.SourceChainID, string(updated.Status), r.now().Sub(start))

	if err := r.publisher.Publish(ctx, events.NewIntentEvent(batchID, previous, updated)); err != nil {
		r.logger.ErrorWithChain(updated.SourceChainID, "Intent %s: failed to publish event: %v", updated.IntentID, err)
	}

	switch updated.Status {
	case models.StatusCompleted:
		return outcomeCompleted
	case models.StatusFailed:
		return outcomeFailed
	case models.StatusExpired:
		return outcomeExpired
	case models.StatusCancelled:
		return outcomeCancelled
	}
	return outcomeRetried
}

// onChainHashes lists the transaction hashes carried by u
func onChainHashes(u store.Update) string {
	var parts []string
	for _, h := range []struct {
		label string
		value *string
	}{
		{"source tx", u.TxHashSource},
		{"dest tx", u.TxHashDest},
		{"refund tx", u.RefundTxHash},
	} {
		if h.value != nil && *h.value != "" {
			parts = append(parts, h.label+" "+*h.value)
		}
	}
	return strings.Join(parts, ", ")
}

// recordChainHealth feeds infrastructure failures to the chain's circuit breaker
func (r *Resolver) recordChainHealth(chainID int, res models.ProcessingResult) {
	if res.Success {
		r.breakers.RecordSuccess(chainID)
		return
	}
	switch swaperr.Kind(res.ErrorKind) {
	case swaperr.KindTransport, swaperr.KindTransactionDropped, swaperr.KindTransactionTimeout, swaperr.KindMaxRetriesExceeded:
		if r.breakers.RecordFailure(chainID) {
			r.logger.ErrorWithChain(chainID, "Chain paused after repeated failures")
		}
	}
}

func status(s models.IntentStatus) *models.IntentStatus {
	return &s
}
