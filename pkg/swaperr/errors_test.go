package swaperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindApplication, "GET /api/v5/dex/aggregator/quote", "code 50011: too many requests").
		WithContext("path", "/api/v5/dex/aggregator/quote").
		WithContext("method", "GET")

	assert.Equal(t,
		"ApplicationError [GET /api/v5/dex/aggregator/quote]: code 50011: too many requests (method=GET, path=/api/v5/dex/aggregator/quote)",
		err.Error())
}

func TestKindOfAndIs(t *testing.T) {
	inner := New(KindInsufficientFunds, "send", "not enough gas")
	outer := Wrap(KindApproval, "approve", inner)
	wrapped := fmt.Errorf("processing intent: %w", outer)

	assert.Equal(t, KindApproval, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindApproval))
	assert.True(t, Is(wrapped, KindInsufficientFunds))
	assert.False(t, Is(wrapped, KindTransport))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Nil(t, Wrap(KindTransport, "x", nil))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), true},
		{New(KindTransport, "", "reset"), true},
		{New(KindTransactionDropped, "", "gone"), true},
		{New(KindTransactionTimeout, "", "slow"), true},
		{New(KindValidation, "", "bad slippage"), false},
		{New(KindInsufficientFunds, "", "broke"), false},
		{New(KindNonceExpired, "", "old"), false},
		{Wrap(KindApproval, "approve", New(KindNonceExpired, "", "old")), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Retryable(tt.err), "%v", tt.err)
	}
}

func TestClassifyChainError(t *testing.T) {
	tests := []struct {
		msg  string
		kind Kind
	}{
		{"insufficient funds for gas * price + value", KindInsufficientFunds},
		{"nonce too low: next nonce 5, tx nonce 4", KindNonceExpired},
		{"execution reverted: INSUFFICIENT_OUTPUT_AMOUNT", KindTransactionReverted},
		{"Post \"http://node\": context deadline exceeded", KindTransport},
		{"something odd", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(ClassifyChainError("send", errors.New(tt.msg))))
		})
	}

	classified := New(KindTransactionDropped, "", "vanished")
	assert.Same(t, classified, ClassifyChainError("send", classified))
}
