package processor

import (
	"context"
	"math"

	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/quote"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// BridgeRequest is everything a settlement needs
type BridgeRequest struct {
	Intent     *models.Intent
	Quote      *models.Quote
	SwapAmount string
	Source     executor.Executor
	Dest       executor.Executor
}

// Bridge settles a quoted cross-chain swap
type Bridge interface {
	Settle(ctx context.Context, req BridgeRequest) (*models.SwapResult, error)
}

// UnavailableBridge is used until a settlement protocol is integrated
type UnavailableBridge struct{}

func (UnavailableBridge) Settle(_ context.Context, req BridgeRequest) (*models.SwapResult, error) {
	return nil, swaperr.New(swaperr.KindBridgeUnavailable, "bridge",
		"no bridge integration for %s %d -> %s %d", req.Intent.SourceChainType, req.Intent.SourceChainID,
		req.Intent.DestChainType, req.Intent.DestChainID)
}

// CrossChain quotes a bridge route and hands settlement to a Bridge
type CrossChain struct {
	refunder
	deps   Deps
	bridge Bridge
}

var _ Processor = (*CrossChain)(nil)

// NewCrossChain creates the cross-chain processor. A nil bridge is unavailable.
func NewCrossChain(deps Deps, bridge Bridge) *CrossChain {
	if bridge == nil {
		bridge = UnavailableBridge{}
	}
	return &CrossChain{
		refunder: refunder{executors: deps.Executors, logger: deps.Logger},
		deps:     deps,
		bridge:   bridge,
	}
}

func (p *CrossChain) Process(ctx context.Context, intent *models.Intent) models.ProcessingResult {
	res, err := p.process(ctx, intent)
	if err != nil {
		p.deps.Logger.ErrorWithChain(intent.SourceChainID, "Cross-chain intent %s failed: %v", intent.IntentID, err)
		return failure(err)
	}
	return res
}

func (p *CrossChain) process(ctx context.Context, intent *models.Intent) (models.ProcessingResult, error) {
	kind, err := RouteIntent(intent)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if kind != RouteCrossChain {
		return models.ProcessingResult{}, swaperr.New(swaperr.KindChainUnsupported, "route", "intent %s is not cross-chain", intent.IntentID)
	}

	network, err := p.deps.Networks.Get(intent.SourceChainID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	source, err := p.deps.Executors.Get(intent.SourceChainID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	dest, err := p.deps.Executors.Get(intent.DestChainID)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	swapAmount, fee, minOut, err := amounts(intent, p.deps.FeeRateBps)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	q, err := p.deps.Quotes.GetCrossChainQuote(ctx, quote.CrossChainQuoteParams{
		FromChainID: intent.SourceChainID,
		ToChainID:   intent.DestChainID,
		FromToken:   intent.SourceToken.Address,
		ToToken:     intent.DestToken.Address,
		Amount:      swapAmount.String(),
		Slippage:    bridgeSlippage(network.DefaultSlippage),
	})
	if err != nil {
		return models.ProcessingResult{}, err
	}
	out, err := quotedOutput(q)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if err := ValidateMinimumOutput(out, minOut); err != nil {
		return models.ProcessingResult{}, err
	}

	result, err := p.bridge.Settle(ctx, BridgeRequest{
		Intent:     intent,
		Quote:      q,
		SwapAmount: swapAmount.String(),
		Source:     source,
		Dest:       dest,
	})
	if err != nil {
		return models.ProcessingResult{}, err
	}

	return models.ProcessingResult{
		Success:         true,
		TxHash:          result.TxHash,
		ActualAmountOut: out.String(),
		BlockNumber:     result.BlockNumber,
		ExchangeRate:    exchangeRate(swapAmount, intent.SourceToken.Decimals, out, intent.DestToken.Decimals),
		FeeAmount:       fee.String(),
	}, nil
}

func bridgeSlippage(s float64) float64 {
	return math.Min(math.Max(s, quote.MinCrossChainSlippage), quote.MaxCrossChainSlippage)
}
