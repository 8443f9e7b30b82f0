package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const testChainID = 1337

var gwei = big.NewInt(1_000_000_000)

// fakeEVM is a scripted EVMClient
type fakeEVM struct {
	mu         sync.Mutex
	baseFee    *big.Int
	nonce      uint64
	sent       []*types.Transaction
	sendErr    error
	receipt    func(hash common.Hash, poll int) (*types.Receipt, error)
	byHash     func(hash common.Hash, poll int) (bool, error)
	polls      int
	byHashCall int
	estimated  int
}

func (f *fakeEVM) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeEVM) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeEVM) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(9), BaseFee: f.baseFee}, nil
}

func (f *fakeEVM) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Mul(gwei, big.NewInt(10)), nil
}

func (f *fakeEVM) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(gwei), nil
}

func (f *fakeEVM) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEVM) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated++
	return 60000, nil
}

func (f *fakeEVM) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEVM) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.polls++
	poll := f.polls
	f.mu.Unlock()
	if f.receipt == nil {
		return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10), GasUsed: 21000}, nil
	}
	return f.receipt(hash, poll)
}

func (f *fakeEVM) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	f.byHashCall++
	call := f.byHashCall
	f.mu.Unlock()
	if f.byHash == nil {
		return nil, false, ethereum.NotFound
	}
	pending, err := f.byHash(hash, call)
	return nil, pending, err
}

func testNetwork() config.NetworkConfig {
	return config.NetworkConfig{
		ChainID:             testChainID,
		ChainType:           models.ChainTypeEVM,
		Name:                "testnet",
		RPCURL:              "http://localhost:8545",
		ExplorerURL:         "https://explorer.test/tx",
		MaxSlippage:         0.5,
		ConfirmationTimeout: 5 * time.Millisecond,
		MaxRetries:          2,
		GasMultiplier:       1.2,
		PollInterval:        time.Millisecond,
		RetryBaseDelay:      time.Millisecond,
		ApprovalGasLimit:    100000,
	}
}

func newTestExecutor(t *testing.T, client EVMClient, network config.NetworkConfig) *EVMExecutor {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewEVMExecutor(network, client, key, blockchain.NewNonceManager(&logger.EmptyLogger{}), &logger.EmptyLogger{})
}

func swapPayload() *models.SwapPayload {
	return &models.SwapPayload{
		ChainID: testChainID,
		Quote: &models.Quote{
			FromToken:          models.QuoteToken{Amount: "1000000", Decimals: 6},
			ToToken:            models.QuoteToken{Amount: "997000", Decimals: 6},
			PriceImpactPercent: "0.12",
		},
		Tx: &models.TxPayload{
			To:    "0x1111111111111111111111111111111111111111",
			Data:  "0xabcdef",
			Value: "0",
			Gas:   250000,
		},
	}
}

func TestEVMExecutor_ExecuteSuccess(t *testing.T) {
	client := &fakeEVM{baseFee: gwei, nonce: 7}
	exec := newTestExecutor(t, client, testNetwork())

	result, err := exec.Execute(context.Background(), swapPayload())
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(250000), tx.Gas())
	assert.Equal(t, tx.Hash().Hex(), result.TxHash)
	assert.Equal(t, "https://explorer.test/tx/"+tx.Hash().Hex(), result.ExplorerURL)
	assert.Equal(t, uint64(10), result.BlockNumber)
	assert.Equal(t, "1", result.AmountIn)
	assert.Equal(t, "0.997", result.AmountOut)
	require.NotNil(t, result.PriceImpact)
	assert.Equal(t, "0.12", *result.PriceImpact)
}

func TestEVMExecutor_FeePricing(t *testing.T) {
	t.Run("dynamic fee", func(t *testing.T) {
		client := &fakeEVM{baseFee: gwei}
		exec := newTestExecutor(t, client, testNetwork())

		_, err := exec.Execute(context.Background(), swapPayload())
		require.NoError(t, err)

		tx := client.sent[0]
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		// tip 1 gwei * 1.2, fee cap 2 gwei * 1.2 + tip
		assert.Equal(t, big.NewInt(1_200_000_000), tx.GasTipCap())
		assert.Equal(t, big.NewInt(3_600_000_000), tx.GasFeeCap())
	})

	t.Run("legacy fallback without base fee", func(t *testing.T) {
		client := &fakeEVM{}
		exec := newTestExecutor(t, client, testNetwork())

		_, err := exec.Execute(context.Background(), swapPayload())
		require.NoError(t, err)

		tx := client.sent[0]
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, big.NewInt(12_000_000_000), tx.GasPrice())
	})
}

func TestEVMExecutor_ExecuteFailures(t *testing.T) {
	notFound := func(common.Hash, int) (*types.Receipt, error) { return nil, ethereum.NotFound }

	tests := []struct {
		name      string
		client    *fakeEVM
		kind      swaperr.Kind
		sends     int
		exhausted bool
	}{
		{
			name: "revert is not retried",
			client: &fakeEVM{baseFee: gwei, receipt: func(h common.Hash, _ int) (*types.Receipt, error) {
				return &types.Receipt{TxHash: h, Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)}, nil
			}},
			kind:  swaperr.KindTransactionReverted,
			sends: 1,
		},
		{
			name:   "insufficient funds is not retried",
			client: &fakeEVM{baseFee: gwei, sendErr: errors.New("insufficient funds for gas * price + value")},
			kind:   swaperr.KindInsufficientFunds,
			sends:  0,
		},
		{
			name: "dropped after pending",
			client: &fakeEVM{baseFee: gwei, receipt: notFound, byHash: func(_ common.Hash, call int) (bool, error) {
				if call%2 == 1 {
					return true, nil
				}
				return false, ethereum.NotFound
			}},
			kind:      swaperr.KindTransactionDropped,
			sends:     2,
			exhausted: true,
		},
		{
			name:      "never mined times out",
			client:    &fakeEVM{baseFee: gwei, receipt: notFound},
			kind:      swaperr.KindTransactionTimeout,
			sends:     2,
			exhausted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor(t, tt.client, testNetwork())

			_, err := exec.Execute(context.Background(), swapPayload())
			require.Error(t, err)
			assert.True(t, swaperr.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.exhausted, swaperr.Is(err, swaperr.KindMaxRetriesExceeded))
			assert.Len(t, tt.client.sent, tt.sends)
		})
	}
}

func TestEVMExecutor_RetryNonce(t *testing.T) {
	notFound := func(common.Hash, int) (*types.Receipt, error) { return nil, ethereum.NotFound }

	tests := []struct {
		name   string
		byHash func(common.Hash, int) (bool, error)
		want   []uint64
	}{
		{
			// the node no longer knows the transaction, so its nonce is free again
			name: "gone from pool reuses nonce",
			want: []uint64{3, 3, 3},
		},
		{
			name:   "still pending moves past it",
			byHash: func(common.Hash, int) (bool, error) { return true, nil },
			want:   []uint64{3, 4, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeEVM{baseFee: gwei, nonce: 3, receipt: notFound, byHash: tt.byHash}
			network := testNetwork()
			network.MaxRetries = 3
			exec := newTestExecutor(t, client, network)

			_, err := exec.Execute(context.Background(), swapPayload())
			require.Error(t, err)

			require.Len(t, client.sent, len(tt.want))
			for i, tx := range client.sent {
				assert.Equal(t, tt.want[i], tx.Nonce(), "attempt %d", i+1)
			}
		})
	}
}

func TestEVMExecutor_InvalidPayload(t *testing.T) {
	exec := newTestExecutor(t, &fakeEVM{}, testNetwork())

	bad := swapPayload()
	bad.Tx.To = "not-an-address"

	for _, payload := range []*models.SwapPayload{nil, {ChainID: testChainID}, bad} {
		_, err := exec.Execute(context.Background(), payload)
		assert.True(t, swaperr.Is(err, swaperr.KindValidation), "got %v", err)
	}
}

func TestEVMExecutor_TransferERC20(t *testing.T) {
	client := &fakeEVM{baseFee: gwei}
	exec := newTestExecutor(t, client, testNetwork())
	token := "0x2222222222222222222222222222222222222222"
	recipient := "0x3333333333333333333333333333333333333333"

	result, err := exec.Transfer(context.Background(), TransferRequest{
		Token:     token,
		Decimals:  6,
		Recipient: recipient,
		Amount:    big.NewInt(2_500_000),
	})
	require.NoError(t, err)
	assert.Equal(t, "2.5", result.AmountOut)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, common.HexToAddress(token), *tx.To())
	assert.Equal(t, 0, tx.Value().Sign())
	assert.Equal(t, uint64(60000), tx.Gas())
	assert.Equal(t, 1, client.estimated)

	args, err := blockchain.ParsedERC20ABI.Methods["transfer"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(recipient), args[0])
	assert.Equal(t, big.NewInt(2_500_000), args[1])
}

func TestEVMExecutor_SimulatedNativeTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	balance, _ := new(big.Int).SetString("10000000000000000000", 10)
	//nolint:SA1019
	sim := simulated.NewBackend(map[common.Address]core.GenesisAccount{from: {Balance: balance}})
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()

	network := testNetwork()
	network.ConfirmationTimeout = 5 * time.Second
	network.PollInterval = 10 * time.Millisecond
	exec := NewEVMExecutor(network, sim.Client(), key, blockchain.NewNonceManager(&logger.EmptyLogger{}), &logger.EmptyLogger{})

	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	result, err := exec.Transfer(ctx, TransferRequest{Recipient: recipient.Hex(), Decimals: 18, Amount: big.NewInt(12345)})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxHash)

	got, err := sim.Client().BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(12345), got)
}

// flakySendClient fails the first sends before they reach the node
type flakySendClient struct {
	simulated.Client
	mu       sync.Mutex
	failures int
}

func (c *flakySendClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return errors.New("dial tcp 127.0.0.1:8545: connection refused")
	}
	c.mu.Unlock()
	return c.Client.SendTransaction(ctx, tx)
}

func TestEVMExecutor_SimulatedRetryAfterFailedSend(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	balance, _ := new(big.Int).SetString("10000000000000000000", 10)
	//nolint:SA1019
	sim := simulated.NewBackend(map[common.Address]core.GenesisAccount{from: {Balance: balance}})
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()

	network := testNetwork()
	network.MaxRetries = 3
	network.ConfirmationTimeout = 2 * time.Second
	network.PollInterval = 10 * time.Millisecond
	nonces := blockchain.NewNonceManager(&logger.EmptyLogger{})
	client := &flakySendClient{Client: sim.Client(), failures: 1}
	exec := NewEVMExecutor(network, client, key, nonces, &logger.EmptyLogger{})

	recipient := common.HexToAddress("0x5555555555555555555555555555555555555555")
	result, err := exec.Transfer(ctx, TransferRequest{Recipient: recipient.Hex(), Decimals: 18, Amount: big.NewInt(777)})
	require.NoError(t, err)

	tx, pending, err := sim.Client().TransactionByHash(ctx, common.HexToHash(result.TxHash))
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, uint64(0), tx.Nonce())

	got, err := sim.Client().BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(777), got)
	assert.Zero(t, exec.PendingTransactions())
}

func TestParseWei(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1000", 1000, false},
		{"0x3e8", 1000, false},
		{"0x00ff", 255, false},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseWei(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Int64(), tt.in)
	}
}
