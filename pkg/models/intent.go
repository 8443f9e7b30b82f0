package models

import (
	"fmt"
	"math/big"
	"time"
)

// IntentStatus is the lifecycle state of an intent
type IntentStatus string

const (
	StatusPending   IntentStatus = "PENDING"
	StatusCompleted IntentStatus = "COMPLETED"
	StatusCancelled IntentStatus = "CANCELLED"
	StatusFailed    IntentStatus = "FAILED"
	StatusExpired   IntentStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s IntentStatus) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether an intent may move from one status to another.
// PENDING is the only state that can be re-entered.
func CanTransition(from, to IntentStatus) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusPending, StatusCompleted, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Token identifies a token on one side of a swap
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Intent is a user's request to swap AmountIn of SourceToken for at least MinAmountOut of DestToken
type Intent struct {
	IntentID   string `json:"intent_id"`
	UserID     string `json:"user_id"`
	ResolverID string `json:"resolver_id"`

	SenderAddress    string `json:"sender_address"`
	RecipientAddress string `json:"recipient_address"`

	SourceChainType ChainType `json:"source_chain_type"`
	SourceChainID   int       `json:"source_chain_id"`
	DestChainType   ChainType `json:"dest_chain_type"`
	DestChainID     int       `json:"dest_chain_id"`
	SourceToken     Token     `json:"source_token"`
	DestToken       Token     `json:"dest_token"`

	// amounts in the token's smallest unit
	AmountIn        string `json:"amount_in"`
	MinAmountOut    string `json:"min_amount_out"`
	ActualAmountOut string `json:"actual_amount_out,omitempty"`

	Status      IntentStatus `json:"status"`
	RetryCount  int          `json:"retry_count"`
	ErrorReason string       `json:"error_reason,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at"`
	ExecutedAt  *time.Time   `json:"executed_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`

	TxHashSource      string `json:"tx_hash_source,omitempty"`
	TxHashDest        string `json:"tx_hash_dest,omitempty"`
	BlockNumberSource uint64 `json:"block_number_source,omitempty"`
	BlockNumberDest   uint64 `json:"block_number_dest,omitempty"`
	ExchangeRate      string `json:"exchange_rate,omitempty"`
	FeeAmount         string `json:"fee_amount,omitempty"`
	RefundTxHash      string `json:"refund_tx_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the intent's deadline has passed at now.
func (i *Intent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// SameChain reports whether source and destination are the same chain.
func (i *Intent) SameChain() bool {
	return i.SourceChainType == i.DestChainType && i.SourceChainID == i.DestChainID
}

// AmountInBig parses AmountIn and checks it is strictly positive.
func (i *Intent) AmountInBig() (*big.Int, error) {
	return parsePositive("amountIn", i.AmountIn)
}

// MinAmountOutBig parses MinAmountOut. Zero is allowed.
func (i *Intent) MinAmountOutBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(i.MinAmountOut, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid minAmountOut: %q", i.MinAmountOut)
	}
	return v, nil
}

// Validate checks the structural invariants of an intent.
func (i *Intent) Validate() error {
	if i.IntentID == "" {
		return fmt.Errorf("intent id is required")
	}
	if _, err := i.AmountInBig(); err != nil {
		return err
	}
	if _, err := i.MinAmountOutBig(); err != nil {
		return err
	}
	if !i.SourceChainType.Valid() {
		return fmt.Errorf("invalid source chain type: %s", i.SourceChainType)
	}
	if !i.DestChainType.Valid() {
		return fmt.Errorf("invalid destination chain type: %s", i.DestChainType)
	}
	if (i.Status == StatusCompleted) != (i.ActualAmountOut != "") {
		return fmt.Errorf("actualAmountOut must be set if and only if status is COMPLETED")
	}
	return nil
}

func parsePositive(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", name, s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be greater than 0", name)
	}
	return v, nil
}
