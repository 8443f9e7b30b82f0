// Package quote fetches prices and builds unsigned transaction payloads from the aggregator.
package quote

import (
	"context"
	"math/big"
	"strconv"

	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/okxclient"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Slippage bounds, as fractions
const (
	MinSameChainSlippage  = 0.0
	MaxSameChainSlippage  = 1.0
	MinCrossChainSlippage = 0.002
	MaxCrossChainSlippage = 0.5
)

// Service wraps the aggregator endpoints with local validation
type Service struct {
	client   *okxclient.Client
	networks *config.Networks
	logger   logger.Logger
}

// NewService creates a quote service
func NewService(client *okxclient.Client, networks *config.Networks, log logger.Logger) *Service {
	return &Service{client: client, networks: networks, logger: log}
}

// SwapParams describe a swap payload request. Exactly one of Slippage or
// AutoSlippage+MaxAutoSlippage must be provided.
type SwapParams struct {
	ChainID         int
	FromToken       string
	ToToken         string
	Amount          string
	UserWallet      string
	Receiver        string // defaults to UserWallet
	Slippage        *float64
	AutoSlippage    bool
	MaxAutoSlippage *float64
}

// CrossChainQuoteParams describe a bridge quote request
type CrossChainQuoteParams struct {
	FromChainID int
	ToChainID   int
	FromToken   string
	ToToken     string
	Amount      string
	Slippage    float64
}

// CrossChainTxParams extend a bridge quote with the wallets involved
type CrossChainTxParams struct {
	CrossChainQuoteParams
	UserWallet string
	Receiver   string
}

// GetQuote fetches a same-chain quote
func (s *Service) GetQuote(ctx context.Context, chainID int, fromToken, toToken, amount string, slippage float64) (*models.Quote, error) {
	const op = "getQuote"
	if err := validateSlippage(op, slippage, MinSameChainSlippage, MaxSameChainSlippage); err != nil {
		return nil, err
	}
	if err := validateAmount(op, amount); err != nil {
		return nil, err
	}

	rr, err := s.client.Quote(ctx, map[string]string{
		"chainId":          strconv.Itoa(chainID),
		"fromTokenAddress": fromToken,
		"toTokenAddress":   toToken,
		"amount":           amount,
		"slippage":         formatFloat(slippage),
	})
	if err != nil {
		return nil, err
	}

	q := toQuote(chainID, rr)
	s.logger.DebugWithChain(chainID, "Quote %s %s -> %s %s (impact %s%%)",
		q.FromToken.Amount, q.FromToken.Symbol, q.ToToken.Amount, q.ToToken.Symbol, q.PriceImpactPercent)
	return q, nil
}

// GetSwapPayload builds an unsigned swap transaction for the user wallet
func (s *Service) GetSwapPayload(ctx context.Context, p SwapParams) (*models.Quote, error) {
	const op = "getSwapPayload"
	if err := validateAmount(op, p.Amount); err != nil {
		return nil, err
	}
	if p.UserWallet == "" {
		return nil, swaperr.New(swaperr.KindValidation, op, "userWalletAddress is required")
	}

	params := map[string]string{
		"chainId":           strconv.Itoa(p.ChainID),
		"fromTokenAddress":  p.FromToken,
		"toTokenAddress":    p.ToToken,
		"amount":            p.Amount,
		"userWalletAddress": p.UserWallet,
	}
	if p.Receiver != "" && p.Receiver != p.UserWallet {
		params["swapReceiverAddress"] = p.Receiver
	}
	switch {
	case p.Slippage != nil:
		if err := validateSlippage(op, *p.Slippage, MinSameChainSlippage, MaxSameChainSlippage); err != nil {
			return nil, err
		}
		params["slippage"] = formatFloat(*p.Slippage)
	case p.AutoSlippage && p.MaxAutoSlippage != nil:
		if err := validateSlippage(op, *p.MaxAutoSlippage, MinSameChainSlippage, MaxSameChainSlippage); err != nil {
			return nil, err
		}
		params["autoSlippage"] = "true"
		params["maxAutoSlippage"] = formatFloat(*p.MaxAutoSlippage)
	default:
		return nil, swaperr.New(swaperr.KindValidation, op, "either slippage or autoSlippage with maxAutoSlippage is required")
	}

	sd, err := s.client.Swap(ctx, params)
	if err != nil {
		return nil, err
	}

	q := toQuote(p.ChainID, &sd.RouterResult)
	q.Tx = s.toPayload(p.ChainID, sd.Tx)
	return q, nil
}

// GetCrossChainQuote fetches a bridge quote using the best returned route
func (s *Service) GetCrossChainQuote(ctx context.Context, p CrossChainQuoteParams) (*models.Quote, error) {
	const op = "getCrossChainQuote"
	if err := validateCrossChain(op, p); err != nil {
		return nil, err
	}

	cq, err := s.client.CrossChainQuote(ctx, crossChainParams(p))
	if err != nil {
		return nil, err
	}
	if len(cq.RouterList) == 0 {
		return nil, swaperr.New(swaperr.KindApplication, op, "no bridge route from chain %d to chain %d", p.FromChainID, p.ToChainID)
	}

	best := cq.RouterList[0]
	q := &models.Quote{
		ChainID: p.FromChainID,
		FromToken: models.QuoteToken{
			Symbol:   cq.FromToken.TokenSymbol,
			Address:  cq.FromToken.TokenContractAddress,
			Amount:   cq.FromTokenAmount,
			Decimals: cq.FromToken.DecimalsInt(),
		},
		ToToken: models.QuoteToken{
			Symbol:   cq.ToToken.TokenSymbol,
			Address:  cq.ToToken.TokenContractAddress,
			Amount:   best.ToTokenAmount,
			Decimals: cq.ToToken.DecimalsInt(),
		},
		EstimateGasFee: best.EstimateGasFee,
	}
	for _, r := range cq.RouterList {
		q.Routes = append(q.Routes, models.VenueFee{Venue: r.BridgeName, Fee: r.CrossChainFee})
	}
	return q, nil
}

// BuildCrossChainTx builds an unsigned bridge transaction
func (s *Service) BuildCrossChainTx(ctx context.Context, p CrossChainTxParams) (*models.Quote, error) {
	const op = "buildCrossChainTx"
	if err := validateCrossChain(op, p.CrossChainQuoteParams); err != nil {
		return nil, err
	}
	if p.UserWallet == "" {
		return nil, swaperr.New(swaperr.KindValidation, op, "userWalletAddress is required")
	}

	params := crossChainParams(p.CrossChainQuoteParams)
	params["userWalletAddress"] = p.UserWallet
	if p.Receiver != "" {
		params["receiveAddress"] = p.Receiver
	}

	tx, err := s.client.CrossChainBuildTx(ctx, params)
	if err != nil {
		return nil, err
	}
	return &models.Quote{
		ChainID:        p.FromChainID,
		FromToken:      models.QuoteToken{Address: p.FromToken, Amount: tx.FromTokenAmount},
		ToToken:        models.QuoteToken{Address: p.ToToken, Amount: tx.ToTokenAmount},
		EstimateGasFee: tx.Router.EstimateGasFee,
		Routes:         []models.VenueFee{{Venue: tx.Router.BridgeName, Fee: tx.Router.CrossChainFee}},
		Tx:             s.toPayload(p.FromChainID, tx.Tx),
	}, nil
}

// GetApprovalTarget resolves the contract that must be approved to spend tokens on a chain
func (s *Service) GetApprovalTarget(ctx context.Context, chainID int) (string, error) {
	info, err := s.client.SupportedChain(ctx, chainID)
	if err != nil {
		return "", err
	}
	if info.DexTokenApproveAddress == "" {
		return "", swaperr.New(swaperr.KindApplication, "getApprovalTarget", "chain %d has no approval target", chainID)
	}
	return info.DexTokenApproveAddress, nil
}

// BuildApproval asks the aggregator for an approval payload
func (s *Service) BuildApproval(ctx context.Context, chainID int, token, amount string) (*okxclient.ApproveTxData, error) {
	return s.client.ApproveTransaction(ctx, chainID, token, amount)
}

// SimulateTransaction dry-runs a prepared transaction
func (s *Service) SimulateTransaction(ctx context.Context, chainID int, from string, tx *models.TxPayload) (*okxclient.SimulationResult, error) {
	return s.client.Simulate(ctx, preTx(chainID, from, tx))
}

// EstimateGasLimit asks the aggregator for a gas limit
func (s *Service) EstimateGasLimit(ctx context.Context, chainID int, from string, tx *models.TxPayload) (uint64, error) {
	return s.client.GasLimit(ctx, preTx(chainID, from, tx))
}

// BroadcastSignedTx submits a signed transaction through the aggregator
func (s *Service) BroadcastSignedTx(ctx context.Context, chainID int, address, signedTx string) (*okxclient.BroadcastResult, error) {
	return s.client.Broadcast(ctx, chainID, address, signedTx)
}

// GetTransactionHistory looks up a past swap
func (s *Service) GetTransactionHistory(ctx context.Context, chainID int, txHash string) (*okxclient.TxHistory, error) {
	return s.client.TxHistory(ctx, chainID, txHash)
}

// GetSupportedTokens lists bridgeable tokens
func (s *Service) GetSupportedTokens(ctx context.Context, chainID int) ([]okxclient.SupportedToken, error) {
	return s.client.SupportedTokens(ctx, chainID)
}

// GetSupportedBridges lists bridges serving a chain
func (s *Service) GetSupportedBridges(ctx context.Context, chainID int) ([]okxclient.Bridge, error) {
	return s.client.SupportedBridges(ctx, chainID)
}

func (s *Service) toPayload(chainID int, tx okxclient.SwapTx) *models.TxPayload {
	gas, _ := strconv.ParseUint(tx.Gas, 10, 64)
	p := &models.TxPayload{
		From:     tx.From,
		To:       tx.To,
		Value:    tx.Value,
		Gas:      gas,
		GasPrice: tx.GasPrice,
	}
	if s.networks != nil {
		if n, err := s.networks.Get(chainID); err == nil && n.ChainType == models.ChainTypeSUI {
			p.TxBytes = tx.Data
			return p
		}
	}
	p.Data = tx.Data
	return p
}

func toQuote(chainID int, rr *okxclient.RouterResult) *models.Quote {
	q := &models.Quote{
		ChainID: chainID,
		FromToken: models.QuoteToken{
			Symbol:    rr.FromToken.TokenSymbol,
			Address:   rr.FromToken.TokenContractAddress,
			Amount:    rr.FromTokenAmount,
			Decimals:  rr.FromToken.DecimalsInt(),
			UnitPrice: rr.FromToken.TokenUnitPrice,
		},
		ToToken: models.QuoteToken{
			Symbol:    rr.ToToken.TokenSymbol,
			Address:   rr.ToToken.TokenContractAddress,
			Amount:    rr.ToTokenAmount,
			Decimals:  rr.ToToken.DecimalsInt(),
			UnitPrice: rr.ToToken.TokenUnitPrice,
		},
		PriceImpactPercent: rr.PriceImpactPercentage,
		EstimateGasFee:     rr.EstimateGasFee,
	}

	fees := make(map[string]string, len(rr.QuoteCompareList))
	for _, c := range rr.QuoteCompareList {
		fees[c.DexName] = c.TradeFee
	}
	seen := make(map[string]bool)
	for _, router := range rr.DexRouterList {
		for _, sub := range router.SubRouterList {
			for _, dex := range sub.DexProtocol {
				if seen[dex.DexName] {
					continue
				}
				seen[dex.DexName] = true
				q.Routes = append(q.Routes, models.VenueFee{Venue: dex.DexName, Fee: fees[dex.DexName]})
			}
		}
	}
	return q
}

func preTx(chainID int, from string, tx *models.TxPayload) okxclient.PreTxRequest {
	data := tx.Data
	if data == "" {
		data = tx.TxBytes
	}
	return okxclient.PreTxRequest{
		ChainIndex:  strconv.Itoa(chainID),
		FromAddress: from,
		ToAddress:   tx.To,
		TxAmount:    tx.Value,
		ExtJSON:     map[string]string{"inputData": data},
	}
}

func crossChainParams(p CrossChainQuoteParams) map[string]string {
	return map[string]string{
		"fromChainId":      strconv.Itoa(p.FromChainID),
		"toChainId":        strconv.Itoa(p.ToChainID),
		"fromTokenAddress": p.FromToken,
		"toTokenAddress":   p.ToToken,
		"amount":           p.Amount,
		"slippage":         formatFloat(p.Slippage),
	}
}

func validateCrossChain(op string, p CrossChainQuoteParams) error {
	if err := validateSlippage(op, p.Slippage, MinCrossChainSlippage, MaxCrossChainSlippage); err != nil {
		return err
	}
	return validateAmount(op, p.Amount)
}

func validateSlippage(op string, slippage, min, max float64) error {
	if slippage < min || slippage > max {
		return swaperr.New(swaperr.KindValidation, op, "slippage %s out of range [%s, %s]",
			formatFloat(slippage), formatFloat(min), formatFloat(max))
	}
	return nil
}

func validateAmount(op, amount string) error {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok || v.Sign() <= 0 {
		return swaperr.New(swaperr.KindValidation, op, "amount must be a positive integer, got %q", amount)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
