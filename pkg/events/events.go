// Package events publishes intent lifecycle transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

// SubjectPrefix is followed by the lowercased status
const SubjectPrefix = "resolver.intents."

// IntentEvent describes one persisted transition
type IntentEvent struct {
	ID             string              `json:"id"`
	BatchID        string              `json:"batch_id,omitempty"`
	IntentID       string              `json:"intent_id"`
	ChainID        int                 `json:"chain_id"`
	PreviousStatus models.IntentStatus `json:"previous_status"`
	Status         models.IntentStatus `json:"status"`
	RetryCount     int                 `json:"retry_count"`
	ErrorReason    string              `json:"error_reason,omitempty"`
	TxHash         string              `json:"tx_hash,omitempty"`
	RefundTxHash   string              `json:"refund_tx_hash,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// NewIntentEvent builds the event for intent after it moved from previous
func NewIntentEvent(batchID string, previous models.IntentStatus, intent *models.Intent) IntentEvent {
	return IntentEvent{
		ID:             uuid.NewString(),
		BatchID:        batchID,
		IntentID:       intent.IntentID,
		ChainID:        intent.SourceChainID,
		PreviousStatus: previous,
		Status:         intent.Status,
		RetryCount:     intent.RetryCount,
		ErrorReason:    intent.ErrorReason,
		TxHash:         intent.TxHashSource,
		RefundTxHash:   intent.RefundTxHash,
		OccurredAt:     intent.UpdatedAt,
	}
}

// Subject is the NATS subject the event is published on
func (e IntentEvent) Subject() string {
	return SubjectPrefix + strings.ToLower(string(e.Status))
}

// Publisher delivers lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event IntentEvent) error
	Close() error
}

// NoopPublisher drops events; used when NATS_URL is empty
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, IntentEvent) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// natsConn is the part of *nats.Conn the publisher uses
type natsConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes JSON events to core NATS subjects
type NATSPublisher struct {
	conn   natsConn
	logger logger.Logger
}

// NewNATSPublisher connects to url with unlimited reconnects
func NewNATSPublisher(url string, timeout time.Duration, log logger.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("speedrun-resolver"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Notice("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, logger: log}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event IntentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.conn.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Subject(), err)
	}
	p.logger.DebugWithChain(event.ChainID, "Published %s for intent %s", event.Subject(), event.IntentID)
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
