// Package store persists intents. The store is the only source of truth for intent state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

var (
	// ErrNotFound is returned for unknown intent ids
	ErrNotFound = errors.New("intent not found")

	// ErrInvalidTransition is returned when an update would leave a terminal status
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the order store port
type Store interface {
	Get(ctx context.Context, id string) (*models.Intent, error)
	ListByStatus(ctx context.Context, status models.IntentStatus) ([]*models.Intent, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Intent, error)
	ListByResolver(ctx context.Context, resolverID string) ([]*models.Intent, error)
	Update(ctx context.Context, id string, u Update) (*models.Intent, error)
}

// Update lists the fields to write. Nil fields are left untouched.
type Update struct {
	Status            *models.IntentStatus
	RetryCount        *int
	ErrorReason       *string
	ActualAmountOut   *string
	ExecutedAt        *time.Time
	CompletedAt       *time.Time
	TxHashSource      *string
	TxHashDest        *string
	BlockNumberSource *uint64
	BlockNumberDest   *uint64
	ExchangeRate      *string
	FeeAmount         *string
	RefundTxHash      *string
}

// apply writes u onto intent, enforcing the status lifecycle
func apply(intent *models.Intent, u Update, now time.Time) error {
	if u.Status != nil && !models.CanTransition(intent.Status, *u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, intent.Status, *u.Status)
	}
	if u.Status == nil && intent.Status.Terminal() {
		return fmt.Errorf("%w: intent %s is %s", ErrInvalidTransition, intent.IntentID, intent.Status)
	}

	next := *intent
	if u.Status != nil {
		next.Status = *u.Status
	}
	setString(&next.ErrorReason, u.ErrorReason)
	setString(&next.ActualAmountOut, u.ActualAmountOut)
	setString(&next.TxHashSource, u.TxHashSource)
	setString(&next.TxHashDest, u.TxHashDest)
	setString(&next.ExchangeRate, u.ExchangeRate)
	setString(&next.FeeAmount, u.FeeAmount)
	setString(&next.RefundTxHash, u.RefundTxHash)
	if u.RetryCount != nil {
		next.RetryCount = *u.RetryCount
	}
	if u.ExecutedAt != nil {
		t := *u.ExecutedAt
		next.ExecutedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		next.CompletedAt = &t
	}
	if u.BlockNumberSource != nil {
		next.BlockNumberSource = *u.BlockNumberSource
	}
	if u.BlockNumberDest != nil {
		next.BlockNumberDest = *u.BlockNumberDest
	}

	if (next.Status == models.StatusCompleted) != (next.ActualAmountOut != "") {
		return fmt.Errorf("actualAmountOut must be written together with %s", models.StatusCompleted)
	}
	next.UpdatedAt = now
	*intent = next
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
