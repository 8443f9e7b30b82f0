package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
	"github.com/speedrun-hq/speedrun-resolver/pkg/units"
)

const nativeTransferGas = 21000

// EVMClient is the subset of ethclient.Client the EVM executor needs
type EVMClient interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Call is a contract call or value transfer to submit
type Call struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // zero means estimate
}

// EVMExecutor submits transactions on one EVM chain
type EVMExecutor struct {
	network config.NetworkConfig
	client  EVMClient
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	nonces  *blockchain.NonceManager
	logger  logger.Logger
}

var _ Executor = (*EVMExecutor)(nil)

// NewEVMExecutor creates an executor for network using key for signing
func NewEVMExecutor(network config.NetworkConfig, client EVMClient, key *ecdsa.PrivateKey, nonces *blockchain.NonceManager, log logger.Logger) *EVMExecutor {
	address := common.Address{}
	if key != nil {
		address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return &EVMExecutor{
		network: network,
		client:  client,
		key:     key,
		address: address,
		signer:  types.LatestSignerForChainID(big.NewInt(int64(network.ChainID))),
		nonces:  nonces,
		logger:  log,
	}
}

func (e *EVMExecutor) ChainID() int                  { return e.network.ChainID }
func (e *EVMExecutor) ChainType() models.ChainType   { return models.ChainTypeEVM }
func (e *EVMExecutor) Address() string               { return e.address.Hex() }
func (e *EVMExecutor) Network() config.NetworkConfig { return e.network }
func (e *EVMExecutor) Client() EVMClient             { return e.client }
func (e *EVMExecutor) SignerAddress() common.Address { return e.address }

// Execute submits the router transaction carried by the payload
func (e *EVMExecutor) Execute(ctx context.Context, payload *models.SwapPayload) (*models.SwapResult, error) {
	const op = "evm execute"
	if payload == nil || payload.Tx == nil {
		return nil, swaperr.New(swaperr.KindValidation, op, "swap payload has no transaction")
	}
	if !common.IsHexAddress(payload.Tx.To) {
		return nil, swaperr.New(swaperr.KindValidation, op, "invalid router address %q", payload.Tx.To)
	}
	data, err := hexutil.Decode(payload.Tx.Data)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, op, fmt.Errorf("invalid calldata: %w", err))
	}
	value, err := parseWei(payload.Tx.Value)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, op, err)
	}

	receipt, err := e.Submit(ctx, Call{
		To:       common.HexToAddress(payload.Tx.To),
		Data:     data,
		Value:    value,
		GasLimit: payload.Tx.Gas,
	})
	if err != nil {
		return nil, err
	}

	result := &models.SwapResult{
		TxHash:      receipt.TxHash.Hex(),
		ExplorerURL: e.network.ExplorerTxURL(receipt.TxHash.Hex()),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if q := payload.Quote; q != nil {
		result.AmountIn, _ = units.FromBaseUnitsString(q.FromToken.Amount, q.FromToken.Decimals)
		result.AmountOut, _ = units.FromBaseUnitsString(q.ToToken.Amount, q.ToToken.Decimals)
		if q.PriceImpactPercent != "" {
			impact := q.PriceImpactPercent
			result.PriceImpact = &impact
		}
	}
	return result, nil
}

// Transfer sends native value or an ERC20 transfer to the recipient
func (e *EVMExecutor) Transfer(ctx context.Context, req TransferRequest) (*models.SwapResult, error) {
	const op = "evm transfer"
	if !common.IsHexAddress(req.Recipient) {
		return nil, swaperr.New(swaperr.KindValidation, op, "invalid recipient %q", req.Recipient)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, swaperr.New(swaperr.KindValidation, op, "transfer amount must be positive")
	}
	recipient := common.HexToAddress(req.Recipient)

	call := Call{To: recipient, Value: new(big.Int).Set(req.Amount), GasLimit: nativeTransferGas}
	if !blockchain.IsNativeToken(req.Token) {
		if !common.IsHexAddress(req.Token) {
			return nil, swaperr.New(swaperr.KindValidation, op, "invalid token %q", req.Token)
		}
		data, err := blockchain.ParsedERC20ABI.Pack("transfer", recipient, req.Amount)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.KindValidation, op, err)
		}
		call = Call{To: common.HexToAddress(req.Token), Data: data, Value: big.NewInt(0)}
	}

	receipt, err := e.Submit(ctx, call)
	if err != nil {
		return nil, err
	}
	amount := units.FromBaseUnits(req.Amount, req.Decimals)
	return &models.SwapResult{
		TxHash:      receipt.TxHash.Hex(),
		ExplorerURL: e.network.ExplorerTxURL(receipt.TxHash.Hex()),
		AmountIn:    amount,
		AmountOut:   amount,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Submit signs and broadcasts call, retrying with linear backoff, and returns the
// receipt once mined. The signer is held for the whole cycle.
func (e *EVMExecutor) Submit(ctx context.Context, call Call) (*types.Receipt, error) {
	if e.key == nil {
		return nil, swaperr.New(swaperr.KindConfiguration, "evm submit", "no signing key for chain %d", e.network.ChainID)
	}

	release, err := e.nonces.Acquire(ctx, e.network.ChainID, e.address.Hex())
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindTransport, "evm submit", err)
	}
	defer release()

	policy := retryPolicy{
		chainID:    e.network.ChainID,
		maxRetries: e.network.MaxRetries,
		base:       e.network.RetryBaseDelay,
		backoff:    LinearBackoff,
		logger:     e.logger,
	}
	return retry(ctx, policy, "evm submit", func(attempt int) (*types.Receipt, error) {
		return e.submitOnce(ctx, call, attempt)
	})
}

func (e *EVMExecutor) submitOnce(ctx context.Context, call Call, attempt int) (*types.Receipt, error) {
	chainID := e.network.ChainID

	nonce, err := e.nonces.NextNonce(ctx, chainID, e.address.Hex(), func(ctx context.Context) (uint64, error) {
		return e.client.PendingNonceAt(ctx, e.address)
	})
	if err != nil {
		return nil, swaperr.ClassifyChainError("nonce", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		to := call.To
		gasLimit, err = e.client.EstimateGas(ctx, ethereum.CallMsg{From: e.address, To: &to, Value: value, Data: call.Data})
		if err != nil {
			return nil, swaperr.ClassifyChainError("estimate gas", err)
		}
	}

	tx, err := e.buildTx(ctx, call, value, nonce, gasLimit)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, "sign", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, swaperr.ClassifyChainError("send", err)
	}
	hash := signed.Hash()
	e.nonces.TrackTransaction(chainID, e.address.Hex(), hash.Hex(), nonce, attempt)
	e.logger.InfoWithChain(chainID, "Submitted transaction %s (nonce %d, attempt %d)", hash.Hex(), nonce, attempt)

	receipt, err := e.waitForReceipt(ctx, hash)
	if err != nil {
		// a transaction still in the pool keeps its nonce, so the retry goes out after it
		if !swaperr.Is(err, swaperr.KindTransactionTimeout) || !e.stillPending(ctx, hash) {
			e.nonces.MarkTransactionFailed(chainID, e.address.Hex(), hash.Hex())
		}
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		e.nonces.MarkTransactionFailed(chainID, e.address.Hex(), hash.Hex())
		return nil, swaperr.New(swaperr.KindTransactionReverted, "confirm", "transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber.Uint64()).
			WithContext("tx", hash.Hex())
	}

	e.nonces.MarkTransactionConfirmed(chainID, e.address.Hex(), hash.Hex())
	e.logger.InfoWithChain(chainID, "Transaction %s confirmed in block %d (gas used %d)", hash.Hex(), receipt.BlockNumber.Uint64(), receipt.GasUsed)
	return receipt, nil
}

// buildTx prices the transaction from current fee data scaled by the network multiplier
func (e *EVMExecutor) buildTx(ctx context.Context, call Call, value *big.Int, nonce, gasLimit uint64) (*types.Transaction, error) {
	to := call.To
	multiplier := e.network.GasMultiplier

	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, swaperr.ClassifyChainError("fee data", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := e.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, swaperr.ClassifyChainError("fee data", err)
		}
		gasPrice = blockchain.ScaleByMultiplier(gasPrice, multiplier)
		recordFee(e.network.ChainID, gasPrice)
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     call.Data,
		}), nil
	}

	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, swaperr.ClassifyChainError("fee data", err)
	}
	tipCap := blockchain.ScaleByMultiplier(tip, multiplier)
	feeCap := blockchain.ScaleByMultiplier(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), multiplier)
	feeCap.Add(feeCap, tipCap)
	recordFee(e.network.ChainID, feeCap)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(int64(e.network.ChainID)),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	}), nil
}

// waitForReceipt polls for the receipt at the network's poll interval. A
// transaction that was seen pending and later is unknown to the node has been dropped.
func (e *EVMExecutor) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	seenPending := false
	attempts := e.network.MaxPollAttempts()

	for i := 0; i < attempts; i++ {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.DebugWithChain(e.network.ChainID, "Receipt lookup for %s failed: %v", hash.Hex(), err)
		}

		_, isPending, txErr := e.client.TransactionByHash(ctx, hash)
		switch {
		case txErr == nil && isPending:
			seenPending = true
		case errors.Is(txErr, ethereum.NotFound) && seenPending:
			return nil, swaperr.New(swaperr.KindTransactionDropped, "confirm",
				"transaction %s left the pending pool without being mined", hash.Hex()).WithContext("tx", hash.Hex())
		}

		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, e.network.PollInterval); err != nil {
			return nil, swaperr.Wrap(swaperr.KindTransactionTimeout, "confirm", err)
		}
	}

	return nil, swaperr.New(swaperr.KindTransactionTimeout, "confirm",
		"transaction %s not mined after %d polls", hash.Hex(), attempts).WithContext("tx", hash.Hex())
}

// stillPending reports whether the node still holds hash in its pool
func (e *EVMExecutor) stillPending(ctx context.Context, hash common.Hash) bool {
	_, isPending, err := e.client.TransactionByHash(ctx, hash)
	return err == nil && isPending
}

// PendingTransactions is the number of broadcast transactions not yet confirmed or failed
func (e *EVMExecutor) PendingTransactions() int {
	return e.nonces.GetPendingTransactionsCount(e.network.ChainID, e.address.Hex())
}

// parseWei accepts a decimal or 0x-prefixed hex integer; empty means zero
func parseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid value %q", s)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

func recordFee(chainID int, wei *big.Int) {
	f, _ := new(big.Float).SetInt(wei).Float64()
	metrics.RecordGasPrice(chainID, f)
}
