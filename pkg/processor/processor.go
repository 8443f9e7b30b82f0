// Package processor turns a pending intent into an on-chain swap or a refund.
package processor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-resolver/pkg/approval"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/quote"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Processor executes or refunds one intent. Failures are reported in the result, never returned.
type Processor interface {
	Process(ctx context.Context, intent *models.Intent) models.ProcessingResult
	Refund(ctx context.Context, intent *models.Intent) models.ProcessingResult
}

// Quoter is the part of the quote service the processors use
type Quoter interface {
	GetQuote(ctx context.Context, chainID int, fromToken, toToken, amount string, slippage float64) (*models.Quote, error)
	GetSwapPayload(ctx context.Context, p quote.SwapParams) (*models.Quote, error)
	GetCrossChainQuote(ctx context.Context, p quote.CrossChainQuoteParams) (*models.Quote, error)
}

// Approver makes sure the router may spend an ERC20 token
type Approver interface {
	EnsureApproval(ctx context.Context, chainID int, token common.Address, amount *big.Int) (*approval.Result, error)
}

// Executors resolves the executor of a chain
type Executors interface {
	Get(chainID int) (executor.Executor, error)
}

// Deps are shared by both variants
type Deps struct {
	Quotes     Quoter
	Approvals  Approver
	Executors  Executors
	Networks   *config.Networks
	FeeRateBps int64
	Logger     logger.Logger
}

// refunder sends the escrowed input back to the sender on the source chain
type refunder struct {
	executors Executors
	logger    logger.Logger
}

func (r refunder) Refund(ctx context.Context, intent *models.Intent) models.ProcessingResult {
	res, err := r.refund(ctx, intent)
	if err != nil {
		err = swaperr.Wrap(swaperr.KindRefund, "refund", err)
		r.logger.ErrorWithChain(intent.SourceChainID, "Refund of intent %s failed: %v", intent.IntentID, err)
		return failure(err)
	}
	r.logger.InfoWithChain(intent.SourceChainID, "Refunded intent %s to %s: %s", intent.IntentID, intent.SenderAddress, res.TxHash)
	return models.ProcessingResult{
		Success:     true,
		TxHash:      res.TxHash,
		BlockNumber: res.BlockNumber,
	}
}

func (r refunder) refund(ctx context.Context, intent *models.Intent) (*models.SwapResult, error) {
	amount, err := intent.AmountInBig()
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, "refund", err)
	}
	exec, err := r.executors.Get(intent.SourceChainID)
	if err != nil {
		return nil, err
	}
	return exec.Transfer(ctx, executor.TransferRequest{
		Token:     intent.SourceToken.Address,
		Decimals:  intent.SourceToken.Decimals,
		Recipient: intent.SenderAddress,
		Amount:    amount,
	})
}

func failure(err error) models.ProcessingResult {
	return models.ProcessingResult{
		Success:     false,
		ErrorReason: err.Error(),
		ErrorKind:   string(swaperr.KindOf(err)),
	}
}

// amounts parses the intent amounts and splits off the resolver fee
func amounts(intent *models.Intent, feeRateBps int64) (swapAmount, fee, minOut *big.Int, err error) {
	amountIn, err := intent.AmountInBig()
	if err != nil {
		return nil, nil, nil, swaperr.Wrap(swaperr.KindValidation, "process", err)
	}
	minOut, err = intent.MinAmountOutBig()
	if err != nil {
		return nil, nil, nil, swaperr.Wrap(swaperr.KindValidation, "process", err)
	}
	fee = CalculateFee(amountIn, feeRateBps)
	return new(big.Int).Sub(amountIn, fee), fee, minOut, nil
}

// quotedOutput is the destination amount promised by a quote
func quotedOutput(q *models.Quote) (*big.Int, error) {
	if q == nil {
		return nil, swaperr.New(swaperr.KindApplication, "quote", "empty quote")
	}
	out, ok := new(big.Int).SetString(q.ToToken.Amount, 10)
	if !ok || out.Sign() < 0 {
		return nil, swaperr.New(swaperr.KindApplication, "quote", "invalid quoted output %q", q.ToToken.Amount)
	}
	return out, nil
}

// Dispatcher selects the variant for each intent
type Dispatcher struct {
	sameChain  Processor
	crossChain Processor
}

var _ Processor = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the two variants
func NewDispatcher(sameChain, crossChain Processor) *Dispatcher {
	return &Dispatcher{sameChain: sameChain, crossChain: crossChain}
}

// Supports reports whether the intent has a defined route
func (d *Dispatcher) Supports(intent *models.Intent) error {
	_, err := RouteIntent(intent)
	return err
}

func (d *Dispatcher) Process(ctx context.Context, intent *models.Intent) models.ProcessingResult {
	kind, err := RouteIntent(intent)
	if err != nil {
		return failure(err)
	}
	if kind == RouteCrossChain {
		return d.crossChain.Process(ctx, intent)
	}
	return d.sameChain.Process(ctx, intent)
}

// Refund always happens on the source chain, so both variants refund the same way
func (d *Dispatcher) Refund(ctx context.Context, intent *models.Intent) models.ProcessingResult {
	return d.sameChain.Refund(ctx, intent)
}
