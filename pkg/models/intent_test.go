package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIntent() *Intent {
	return &Intent{
		IntentID:        "0xabc",
		SourceChainType: ChainTypeEVM,
		SourceChainID:   8453,
		DestChainType:   ChainTypeEVM,
		DestChainID:     8453,
		AmountIn:        "1000000",
		MinAmountOut:    "990000",
		Status:          StatusPending,
	}
}

func TestIntentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(i *Intent)
		wantErr string
	}{
		{name: "valid", mutate: func(i *Intent) {}},
		{name: "zero amount", mutate: func(i *Intent) { i.AmountIn = "0" }, wantErr: "amountIn must be greater than 0"},
		{name: "negative amount", mutate: func(i *Intent) { i.AmountIn = "-5" }, wantErr: "amountIn must be greater than 0"},
		{name: "garbage amount", mutate: func(i *Intent) { i.AmountIn = "1.5" }, wantErr: "invalid amountIn"},
		{name: "missing id", mutate: func(i *Intent) { i.IntentID = "" }, wantErr: "intent id is required"},
		{name: "unknown chain", mutate: func(i *Intent) { i.SourceChainType = "COSMOS" }, wantErr: "invalid source chain type"},
		{
			name:    "completed without output",
			mutate:  func(i *Intent) { i.Status = StatusCompleted },
			wantErr: "actualAmountOut",
		},
		{
			name:    "output while pending",
			mutate:  func(i *Intent) { i.ActualAmountOut = "1" },
			wantErr: "actualAmountOut",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validIntent()
			tt.mutate(in)
			err := in.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusFailed, StatusExpired))
	assert.False(t, CanTransition(StatusPending, IntentStatus("UNKNOWN")))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	in := validIntent()
	assert.False(t, in.Expired(now), "zero deadline never expires")

	in.ExpiresAt = now.Add(-time.Second)
	assert.True(t, in.Expired(now))

	in.ExpiresAt = now.Add(time.Minute)
	assert.False(t, in.Expired(now))
}

func TestChainTypes(t *testing.T) {
	ct, err := ParseChainType("sui")
	require.NoError(t, err)
	assert.Equal(t, ChainTypeSUI, ct)

	_, err = ParseChainType("cosmos")
	assert.Error(t, err)

	for _, c := range []ChainType{ChainTypeSolana, ChainTypeAptos, ChainTypeBitcoin, ChainTypeMovement,
		ChainTypeUmi, ChainTypeIota, ChainTypeSupra, ChainTypeMassa} {
		assert.True(t, c.Valid(), c)
		assert.False(t, c.Executable(), c)
	}
	assert.True(t, ChainTypeEVM.Executable())
	assert.True(t, ChainTypeSUI.Executable())
}
