package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
	"github.com/speedrun-hq/speedrun-resolver/pkg/units"
)

// SuiNativeCoin is the coin type of SUI itself
const SuiNativeCoin = "0x2::sui::SUI"

// SuiRPC is a JSON-RPC caller; *rpc.Client satisfies it
type SuiRPC interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// DialSui connects to a SUI full node
func DialSui(ctx context.Context, url string) (*rpc.Client, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SUI node: %w", err)
	}
	return client, nil
}

type suiStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type suiGasUsed struct {
	ComputationCost string `json:"computationCost"`
	StorageCost     string `json:"storageCost"`
	StorageRebate   string `json:"storageRebate"`
}

type suiEffects struct {
	Status  suiStatus  `json:"status"`
	GasUsed suiGasUsed `json:"gasUsed"`
}

type suiDryRun struct {
	Effects suiEffects `json:"effects"`
}

type suiExecution struct {
	Digest                  string     `json:"digest"`
	Effects                 suiEffects `json:"effects"`
	Checkpoint              string     `json:"checkpoint"`
	ConfirmedLocalExecution bool       `json:"confirmedLocalExecution"`
}

type suiCoin struct {
	CoinObjectID string `json:"coinObjectId"`
	Balance      string `json:"balance"`
}

type suiCoinPage struct {
	Data        []suiCoin `json:"data"`
	HasNextPage bool      `json:"hasNextPage"`
	NextCursor  *string   `json:"nextCursor"`
}

type suiTxBytes struct {
	TxBytes string `json:"txBytes"`
}

// SuiExecutor submits transactions on SUI
type SuiExecutor struct {
	network config.NetworkConfig
	client  SuiRPC
	signer  *SuiSigner
	nonces  *blockchain.NonceManager
	logger  logger.Logger
}

var _ Executor = (*SuiExecutor)(nil)

// NewSuiExecutor creates a SUI executor
func NewSuiExecutor(network config.NetworkConfig, client SuiRPC, signer *SuiSigner, nonces *blockchain.NonceManager, log logger.Logger) *SuiExecutor {
	return &SuiExecutor{network: network, client: client, signer: signer, nonces: nonces, logger: log}
}

func (s *SuiExecutor) ChainID() int                { return s.network.ChainID }
func (s *SuiExecutor) ChainType() models.ChainType { return models.ChainTypeSUI }
func (s *SuiExecutor) Address() string             { return s.signer.Address() }

// PendingTransactions is the number of executions awaiting their effects
func (s *SuiExecutor) PendingTransactions() int {
	return s.nonces.GetPendingTransactionsCount(s.network.ChainID, s.signer.Address())
}

// Execute submits the prebuilt transaction bytes of the payload
func (s *SuiExecutor) Execute(ctx context.Context, payload *models.SwapPayload) (*models.SwapResult, error) {
	const op = "sui execute"
	if payload == nil || payload.Tx == nil || payload.Tx.TxBytes == "" {
		return nil, swaperr.New(swaperr.KindValidation, op, "swap payload has no transaction bytes")
	}
	if _, err := base64.StdEncoding.DecodeString(payload.Tx.TxBytes); err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, op, fmt.Errorf("transaction bytes are not base64: %w", err))
	}

	exec, err := s.submit(ctx, op, func(ctx context.Context) (string, error) {
		return payload.Tx.TxBytes, nil
	})
	if err != nil {
		return nil, err
	}

	result := s.result(exec)
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

// Transfer pays Amount of the coin type in Token to the recipient
func (s *SuiExecutor) Transfer(ctx context.Context, req TransferRequest) (*models.SwapResult, error) {
	const op = "sui transfer"
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, swaperr.New(swaperr.KindValidation, op, "transfer amount must be positive")
	}
	if !strings.HasPrefix(req.Recipient, "0x") {
		return nil, swaperr.New(swaperr.KindValidation, op, "invalid recipient %q", req.Recipient)
	}
	coinType := req.Token
	if coinType == "" {
		coinType = SuiNativeCoin
	}

	exec, err := s.submit(ctx, op, func(ctx context.Context) (string, error) {
		return s.buildPay(ctx, coinType, req.Recipient, req.Amount)
	})
	if err != nil {
		return nil, err
	}
	result := s.result(exec)
	result.AmountIn = units.FromBaseUnits(req.Amount, req.Decimals)
	result.AmountOut = result.AmountIn
	return result, nil
}

// submit runs build, dry-run, sign and execute under the signer lock with exponential backoff
func (s *SuiExecutor) submit(ctx context.Context, op string, build func(ctx context.Context) (string, error)) (*suiExecution, error) {
	release, err := s.nonces.Acquire(ctx, s.network.ChainID, s.signer.Address())
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindTransport, op, err)
	}
	defer release()

	policy := retryPolicy{
		chainID:    s.network.ChainID,
		maxRetries: s.network.MaxRetries,
		base:       s.network.RetryBaseDelay,
		backoff:    ExponentialBackoff,
		logger:     s.logger,
	}
	return retry(ctx, policy, op, func(attempt int) (*suiExecution, error) {
		txBytes, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return s.executeOnce(ctx, txBytes, attempt)
	})
}

func (s *SuiExecutor) executeOnce(ctx context.Context, txB64 string, attempt int) (*suiExecution, error) {
	chainID := s.network.ChainID

	var dry suiDryRun
	if err := s.client.CallContext(ctx, &dry, "sui_dryRunTransactionBlock", txB64); err != nil {
		return nil, swaperr.ClassifyChainError("dry run", err)
	}
	if dry.Effects.Status.Status != "success" {
		return nil, statusError("dry run", dry.Effects.Status)
	}
	if cost := gasCost(dry.Effects.GasUsed); s.network.GasBudget > 0 && cost.Cmp(new(big.Int).SetUint64(s.network.GasBudget)) > 0 {
		return nil, swaperr.New(swaperr.KindInsufficientFunds, "gas budget",
			"estimated gas %s exceeds budget %d", cost, s.network.GasBudget)
	}

	txBytes, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, "decode", err)
	}
	signature := s.signer.Sign(txBytes)

	var exec suiExecution
	options := map[string]bool{"showEffects": true}
	err = s.client.CallContext(ctx, &exec, "sui_executeTransactionBlock", txB64, []string{signature}, options, "WaitForLocalExecution")
	if err != nil {
		return nil, swaperr.ClassifyChainError("execute", err)
	}
	s.nonces.TrackTransaction(chainID, s.signer.Address(), exec.Digest, 0, attempt)

	if exec.Effects.Status.Status != "success" {
		s.nonces.MarkTransactionFailed(chainID, s.signer.Address(), exec.Digest)
		return nil, statusError("execute", exec.Effects.Status).WithContext("digest", exec.Digest)
	}

	s.nonces.MarkTransactionConfirmed(chainID, s.signer.Address(), exec.Digest)
	s.logger.InfoWithChain(chainID, "Transaction %s executed (attempt %d)", exec.Digest, attempt)
	return &exec, nil
}

// buildPay asks the node to assemble a pay transaction from the signer's coins
func (s *SuiExecutor) buildPay(ctx context.Context, coinType, recipient string, amount *big.Int) (string, error) {
	coins, err := s.selectCoins(ctx, coinType, amount)
	if err != nil {
		return "", err
	}

	budget := strconv.FormatUint(s.network.GasBudget, 10)
	var out suiTxBytes
	if coinType == SuiNativeCoin {
		err = s.client.CallContext(ctx, &out, "unsafe_paySui",
			s.signer.Address(), coins, []string{recipient}, []string{amount.String()}, budget)
	} else {
		err = s.client.CallContext(ctx, &out, "unsafe_pay",
			s.signer.Address(), coins, []string{recipient}, []string{amount.String()}, nil, budget)
	}
	if err != nil {
		return "", swaperr.ClassifyChainError("build pay", err)
	}
	return out.TxBytes, nil
}

// selectCoins pages through the signer's coins until amount is covered
func (s *SuiExecutor) selectCoins(ctx context.Context, coinType string, amount *big.Int) ([]string, error) {
	var (
		ids    []string
		total  = new(big.Int)
		cursor *string
	)
	for {
		var page suiCoinPage
		if err := s.client.CallContext(ctx, &page, "suix_getCoins", s.signer.Address(), coinType, cursor, 50); err != nil {
			return nil, swaperr.ClassifyChainError("get coins", err)
		}
		for _, c := range page.Data {
			bal, ok := new(big.Int).SetString(c.Balance, 10)
			if !ok {
				continue
			}
			ids = append(ids, c.CoinObjectID)
			total.Add(total, bal)
			if total.Cmp(amount) >= 0 {
				return ids, nil
			}
		}
		if !page.HasNextPage || page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	return nil, swaperr.New(swaperr.KindInsufficientFunds, "get coins",
		"balance %s of %s is below %s", total, coinType, amount)
}

func (s *SuiExecutor) result(exec *suiExecution) *models.SwapResult {
	checkpoint, _ := strconv.ParseUint(exec.Checkpoint, 10, 64)
	return &models.SwapResult{
		TxHash:      exec.Digest,
		ExplorerURL: s.network.ExplorerTxURL(exec.Digest),
		BlockNumber: checkpoint,
	}
}

func gasCost(g suiGasUsed) *big.Int {
	parse := func(v string) *big.Int {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return new(big.Int)
		}
		return n
	}
	cost := new(big.Int).Add(parse(g.ComputationCost), parse(g.StorageCost))
	cost.Sub(cost, parse(g.StorageRebate))
	if cost.Sign() < 0 {
		return new(big.Int)
	}
	return cost
}

// statusError carries the node's reported status as the failure reason
func statusError(op string, st suiStatus) *swaperr.Error {
	reason := st.Status
	if st.Error != "" {
		reason = st.Error
	}
	kind := swaperr.KindOf(swaperr.ClassifyChainError(op, fmt.Errorf("%s", reason)))
	if kind == swaperr.KindUnknown || kind == swaperr.KindTransport {
		kind = swaperr.KindTransactionReverted
	}
	return swaperr.New(kind, op, "%s", reason)
}
