package processor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/approval"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/quote"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const (
	usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

// fakeQuoter quotes 1:1 unless told otherwise
type fakeQuoter struct {
	mu            sync.Mutex
	quoteOut      string
	payloadOut    string
	err           error
	quotes        int
	payloads      int
	lastSwap      quote.SwapParams
	lastCrossSide quote.CrossChainQuoteParams
}

func (f *fakeQuoter) out(override, amount string) string {
	if override != "" {
		return override
	}
	return amount
}

func (f *fakeQuoter) GetQuote(_ context.Context, chainID int, from, to, amount string, _ float64) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Quote{
		ChainID:   chainID,
		FromToken: models.QuoteToken{Address: from, Amount: amount, Decimals: 6},
		ToToken:   models.QuoteToken{Address: to, Amount: f.out(f.quoteOut, amount), Decimals: 6},
	}, nil
}

func (f *fakeQuoter) GetSwapPayload(_ context.Context, p quote.SwapParams) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads++
	f.lastSwap = p
	return &models.Quote{
		ChainID:   p.ChainID,
		FromToken: models.QuoteToken{Address: p.FromToken, Amount: p.Amount, Decimals: 6},
		ToToken:   models.QuoteToken{Address: p.ToToken, Amount: f.out(f.payloadOut, p.Amount), Decimals: 6},
		Tx:        &models.TxPayload{To: "0x1111111111111111111111111111111111111111", Data: "0x01"},
	}, nil
}

func (f *fakeQuoter) GetCrossChainQuote(_ context.Context, p quote.CrossChainQuoteParams) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes++
	f.lastCrossSide = p
	if f.err != nil {
		return nil, f.err
	}
	return &models.Quote{
		ChainID:   p.FromChainID,
		FromToken: models.QuoteToken{Address: p.FromToken, Amount: p.Amount, Decimals: 6},
		ToToken:   models.QuoteToken{Address: p.ToToken, Amount: f.out(f.quoteOut, p.Amount), Decimals: 6},
	}, nil
}

type fakeApprover struct {
	calls int
	err   error
}

func (f *fakeApprover) EnsureApproval(context.Context, int, common.Address, *big.Int) (*approval.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &approval.Result{Required: true}, nil
}

type fakeExecutor struct {
	chainID      int
	chainType    models.ChainType
	executeErr   error
	transferErr  error
	executes     int
	transfers    int
	lastTransfer executor.TransferRequest
}

func (f *fakeExecutor) ChainID() int                { return f.chainID }
func (f *fakeExecutor) ChainType() models.ChainType { return f.chainType }
func (f *fakeExecutor) Address() string             { return "0x9999999999999999999999999999999999999999" }

func (f *fakeExecutor) Execute(context.Context, *models.SwapPayload) (*models.SwapResult, error) {
	f.executes++
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &models.SwapResult{TxHash: "0xswap", BlockNumber: 42}, nil
}

func (f *fakeExecutor) Transfer(_ context.Context, req executor.TransferRequest) (*models.SwapResult, error) {
	f.transfers++
	f.lastTransfer = req
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return &models.SwapResult{TxHash: "0xrefund", BlockNumber: 43}, nil
}

type fakeExecutors map[int]*fakeExecutor

func (f fakeExecutors) Get(chainID int) (executor.Executor, error) {
	exec, ok := f[chainID]
	if !ok {
		return nil, swaperr.New(swaperr.KindChainUnsupported, "registry", "no executor for chain %d", chainID)
	}
	return exec, nil
}

type fixture struct {
	quotes    *fakeQuoter
	approvals *fakeApprover
	eth       *fakeExecutor
	sui       *fakeExecutor
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	networks, err := config.LoadNetworks("")
	require.NoError(t, err)

	f := &fixture{
		quotes:    &fakeQuoter{},
		approvals: &fakeApprover{},
		eth:       &fakeExecutor{chainID: 1, chainType: models.ChainTypeEVM},
		sui:       &fakeExecutor{chainID: 784, chainType: models.ChainTypeSUI},
	}
	f.deps = Deps{
		Quotes:     f.quotes,
		Approvals:  f.approvals,
		Executors:  fakeExecutors{1: f.eth, 784: f.sui},
		Networks:   networks,
		FeeRateBps: 30,
		Logger:     &logger.EmptyLogger{},
	}
	return f
}

func evmIntent() *models.Intent {
	return &models.Intent{
		IntentID:         "intent-1",
		SenderAddress:    "0x5555555555555555555555555555555555555555",
		RecipientAddress: "0x6666666666666666666666666666666666666666",
		SourceChainType:  models.ChainTypeEVM,
		SourceChainID:    1,
		DestChainType:    models.ChainTypeEVM,
		DestChainID:      1,
		SourceToken:      models.Token{Address: usdc, Symbol: "USDC", Decimals: 6},
		DestToken:        models.Token{Address: usdt, Symbol: "USDT", Decimals: 6},
		AmountIn:         "1000000",
		MinAmountOut:     "990000",
		Status:           models.StatusPending,
	}
}

func TestCalculateOutput(t *testing.T) {
	tests := []struct {
		amountIn int64
		bps      int64
		want     int64
	}{
		{1000000, 30, 997000},
		{10000, 30, 9970},
		{3333, 30, 3324},
		{1, 30, 1},
		{999, 0, 999},
		{1000000, 9999, 100},
	}
	for _, tt := range tests {
		got := CalculateOutput(big.NewInt(tt.amountIn), tt.bps)
		assert.Equal(t, tt.want, got.Int64(), "%d @ %d bps", tt.amountIn, tt.bps)
	}
}

func TestValidateMinimumOutput(t *testing.T) {
	assert.NoError(t, ValidateMinimumOutput(big.NewInt(998000), big.NewInt(998000)))

	err := ValidateMinimumOutput(big.NewInt(997000), big.NewInt(998000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "less than minimum required")
	assert.Equal(t, swaperr.KindInsufficientOutput, swaperr.KindOf(err))
}

func TestExchangeRate(t *testing.T) {
	assert.Equal(t, "1", exchangeRate(big.NewInt(1000000), 6, big.NewInt(1000000), 6))
	assert.Equal(t, "3.5", exchangeRate(big.NewInt(1_000_000_000), 9, big.NewInt(3_500_000), 6))
	assert.Equal(t, "", exchangeRate(big.NewInt(0), 6, big.NewInt(1), 6))
	assert.Equal(t, "0.33333333", exchangeRate(big.NewInt(3_000_000), 6, big.NewInt(1_000_000), 6))
	assert.Equal(t, "0.66666667", exchangeRate(big.NewInt(3), 0, big.NewInt(2), 0))
	assert.Equal(t, "", exchangeRate(nil, 6, big.NewInt(1), 6))
}

func TestRoute(t *testing.T) {
	tests := []struct {
		src, dst models.ChainType
		want     RouteKind
		wantErr  bool
	}{
		{models.ChainTypeEVM, models.ChainTypeEVM, RouteSameChain, false},
		{models.ChainTypeSUI, models.ChainTypeSUI, RouteSameChain, false},
		{models.ChainTypeEVM, models.ChainTypeSUI, RouteCrossChain, false},
		{models.ChainTypeSUI, models.ChainTypeEVM, RouteCrossChain, false},
		{models.ChainTypeSolana, models.ChainTypeSolana, 0, true},
		{models.ChainTypeEVM, models.ChainTypeAptos, 0, true},
	}
	for _, tt := range tests {
		got, err := Route(tt.src, tt.dst)
		if tt.wantErr {
			assert.True(t, swaperr.Is(err, swaperr.KindChainUnsupported), "%s -> %s", tt.src, tt.dst)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.src, tt.dst)
	}

	intent := evmIntent()
	intent.DestChainID = 8453
	_, err := RouteIntent(intent)
	assert.True(t, swaperr.Is(err, swaperr.KindChainUnsupported))
}

func TestSameChain_InsufficientOutputNeverExecutes(t *testing.T) {
	f := newFixture(t)
	intent := evmIntent()
	intent.MinAmountOut = "998000"

	res := NewSameChain(f.deps).Process(context.Background(), intent)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorReason, "less than minimum required")
	assert.Equal(t, string(swaperr.KindInsufficientOutput), res.ErrorKind)
	assert.Zero(t, f.eth.executes)
	assert.Zero(t, f.approvals.calls)
	assert.Zero(t, f.quotes.payloads)
}

func TestSameChain_MinimumCheckedAgainstQuote(t *testing.T) {
	f := newFixture(t)
	f.quotes.quoteOut = "999000"
	f.quotes.payloadOut = "999000"
	intent := evmIntent()
	intent.MinAmountOut = "998000"

	// the fee-deducted input alone would miss the minimum
	require.Equal(t, int64(997000), CalculateOutput(big.NewInt(1000000), 30).Int64())

	res := NewSameChain(f.deps).Process(context.Background(), intent)

	require.True(t, res.Success, res.ErrorReason)
	assert.Equal(t, 1, f.eth.executes)
	assert.Equal(t, "997000", f.quotes.lastSwap.Amount)
	assert.Equal(t, "3000", res.FeeAmount)
}

func TestSameChain_Success(t *testing.T) {
	f := newFixture(t)

	res := NewSameChain(f.deps).Process(context.Background(), evmIntent())

	require.True(t, res.Success, res.ErrorReason)
	assert.Equal(t, "0xswap", res.TxHash)
	assert.Equal(t, "997000", res.ActualAmountOut)
	assert.Equal(t, "3000", res.FeeAmount)
	assert.Equal(t, "1", res.ExchangeRate)
	assert.Equal(t, uint64(42), res.BlockNumber)

	assert.Equal(t, 1, f.approvals.calls)
	assert.Equal(t, 1, f.eth.executes)
	assert.Equal(t, "997000", f.quotes.lastSwap.Amount)
	assert.Equal(t, evmIntent().RecipientAddress, f.quotes.lastSwap.Receiver)
	require.NotNil(t, f.quotes.lastSwap.Slippage)
	assert.Equal(t, 0.005, *f.quotes.lastSwap.Slippage)
}

func TestSameChain_NativeTokenSkipsApproval(t *testing.T) {
	f := newFixture(t)
	intent := evmIntent()
	intent.SourceToken = models.Token{Address: "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE", Symbol: "ETH", Decimals: 18}

	res := NewSameChain(f.deps).Process(context.Background(), intent)
	require.True(t, res.Success, res.ErrorReason)
	assert.Zero(t, f.approvals.calls)
}

func TestSameChain_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *fixture, intent *models.Intent)
		kind     swaperr.Kind
		executes int
	}{
		{
			name:   "payload drifted below minimum",
			mutate: func(f *fixture, _ *models.Intent) { f.quotes.payloadOut = "980000" },
			kind:   swaperr.KindInsufficientOutput,
		},
		{
			name:   "quote failure",
			mutate: func(f *fixture, _ *models.Intent) { f.quotes.err = swaperr.New(swaperr.KindTransport, "quote", "down") },
			kind:   swaperr.KindTransport,
		},
		{
			name: "approval failure",
			mutate: func(f *fixture, _ *models.Intent) {
				f.approvals.err = swaperr.Wrap(swaperr.KindApproval, "approval", errors.New("reverted"))
			},
			kind: swaperr.KindApproval,
		},
		{
			name: "executor failure",
			mutate: func(f *fixture, _ *models.Intent) {
				f.eth.executeErr = swaperr.New(swaperr.KindTransactionDropped, "confirm", "dropped")
			},
			kind:     swaperr.KindTransactionDropped,
			executes: 1,
		},
		{
			name:   "no executor for chain",
			mutate: func(_ *fixture, intent *models.Intent) { intent.SourceChainID, intent.DestChainID = 10, 10 },
			kind:   swaperr.KindChainUnsupported,
		},
		{
			name:   "invalid amount",
			mutate: func(_ *fixture, intent *models.Intent) { intent.AmountIn = "0" },
			kind:   swaperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			intent := evmIntent()
			tt.mutate(f, intent)

			res := NewSameChain(f.deps).Process(context.Background(), intent)
			assert.False(t, res.Success)
			assert.Equal(t, string(tt.kind), res.ErrorKind, res.ErrorReason)
			assert.Equal(t, tt.executes, f.eth.executes)
		})
	}
}

type recordingBridge struct {
	requests []BridgeRequest
}

func (b *recordingBridge) Settle(_ context.Context, req BridgeRequest) (*models.SwapResult, error) {
	b.requests = append(b.requests, req)
	return &models.SwapResult{TxHash: "0xbridge", BlockNumber: 7}, nil
}

func crossIntent() *models.Intent {
	intent := evmIntent()
	intent.DestChainType = models.ChainTypeSUI
	intent.DestChainID = 784
	intent.DestToken = models.Token{Address: "0xdba3::usdc::USDC", Symbol: "USDC", Decimals: 6}
	intent.RecipientAddress = "0x" + "ab"
	return intent
}

func TestCrossChain(t *testing.T) {
	t.Run("default bridge is unavailable", func(t *testing.T) {
		f := newFixture(t)
		res := NewCrossChain(f.deps, nil).Process(context.Background(), crossIntent())

		assert.False(t, res.Success)
		assert.Equal(t, string(swaperr.KindBridgeUnavailable), res.ErrorKind)
		assert.Equal(t, 0.005, f.quotes.lastCrossSide.Slippage)
		assert.Zero(t, f.eth.executes)
		assert.Zero(t, f.sui.executes)
	})

	t.Run("settles through the bridge", func(t *testing.T) {
		f := newFixture(t)
		bridge := &recordingBridge{}
		res := NewCrossChain(f.deps, bridge).Process(context.Background(), crossIntent())

		require.True(t, res.Success, res.ErrorReason)
		assert.Equal(t, "0xbridge", res.TxHash)
		require.Len(t, bridge.requests, 1)
		assert.Equal(t, "997000", bridge.requests[0].SwapAmount)
		assert.Equal(t, 784, bridge.requests[0].Dest.ChainID())
	})

	t.Run("output check precedes settlement", func(t *testing.T) {
		f := newFixture(t)
		f.quotes.quoteOut = "1"
		bridge := &recordingBridge{}
		res := NewCrossChain(f.deps, bridge).Process(context.Background(), crossIntent())

		assert.Equal(t, string(swaperr.KindInsufficientOutput), res.ErrorKind)
		assert.Empty(t, bridge.requests)
	})

	t.Run("slippage is clamped to bridge bounds", func(t *testing.T) {
		assert.Equal(t, 0.002, bridgeSlippage(0))
		assert.Equal(t, 0.5, bridgeSlippage(0.9))
		assert.Equal(t, 0.01, bridgeSlippage(0.01))
	})
}

func TestRefund(t *testing.T) {
	t.Run("returns amountIn to the sender", func(t *testing.T) {
		f := newFixture(t)
		res := NewSameChain(f.deps).Refund(context.Background(), evmIntent())

		require.True(t, res.Success, res.ErrorReason)
		assert.Equal(t, "0xrefund", res.TxHash)
		assert.Equal(t, 1, f.eth.transfers)
		assert.Equal(t, evmIntent().SenderAddress, f.eth.lastTransfer.Recipient)
		assert.Equal(t, usdc, f.eth.lastTransfer.Token)
		assert.Equal(t, big.NewInt(1000000), f.eth.lastTransfer.Amount)
		assert.Zero(t, f.eth.executes)
	})

	t.Run("failure is a refund error", func(t *testing.T) {
		f := newFixture(t)
		f.eth.transferErr = swaperr.New(swaperr.KindInsufficientFunds, "send", "insufficient funds")
		res := NewCrossChain(f.deps, nil).Refund(context.Background(), crossIntent())

		assert.False(t, res.Success)
		assert.Equal(t, string(swaperr.KindRefund), res.ErrorKind)
		assert.Contains(t, res.ErrorReason, "insufficient funds")
	})
}

func TestDispatcher(t *testing.T) {
	f := newFixture(t)
	bridge := &recordingBridge{}
	d := NewDispatcher(NewSameChain(f.deps), NewCrossChain(f.deps, bridge))

	res := d.Process(context.Background(), evmIntent())
	require.True(t, res.Success, res.ErrorReason)
	assert.Equal(t, "0xswap", res.TxHash)

	res = d.Process(context.Background(), crossIntent())
	require.True(t, res.Success, res.ErrorReason)
	assert.Equal(t, "0xbridge", res.TxHash)

	unsupported := evmIntent()
	unsupported.DestChainType = models.ChainTypeSolana
	assert.Error(t, d.Supports(unsupported))
	res = d.Process(context.Background(), unsupported)
	assert.Equal(t, string(swaperr.KindChainUnsupported), res.ErrorKind)
}
