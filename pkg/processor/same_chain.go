package processor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/quote"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// SameChain swaps on the source chain and delivers to the recipient
type SameChain struct {
	refunder
	deps Deps
}

var _ Processor = (*SameChain)(nil)

// NewSameChain creates the same-chain processor
func NewSameChain(deps Deps) *SameChain {
	return &SameChain{
		refunder: refunder{executors: deps.Executors, logger: deps.Logger},
		deps:     deps,
	}
}

func (p *SameChain) Process(ctx context.Context, intent *models.Intent) models.ProcessingResult {
	res, err := p.process(ctx, intent)
	if err != nil {
		p.deps.Logger.ErrorWithChain(intent.SourceChainID, "Intent %s failed: %v", intent.IntentID, err)
		return failure(err)
	}
	return res
}

func (p *SameChain) process(ctx context.Context, intent *models.Intent) (models.ProcessingResult, error) {
	chainID := intent.SourceChainID
	network, err := p.deps.Networks.Get(chainID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	exec, err := p.deps.Executors.Get(chainID)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	swapAmount, fee, minOut, err := amounts(intent, p.deps.FeeRateBps)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	src, dst := intent.SourceToken.Address, intent.DestToken.Address
	slippage := network.DefaultSlippage

	q, err := p.deps.Quotes.GetQuote(ctx, chainID, src, dst, swapAmount.String(), slippage)
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

	if network.ChainType == models.ChainTypeEVM && !blockchain.IsNativeToken(src) {
		if p.deps.Approvals == nil {
			return models.ProcessingResult{}, swaperr.New(swaperr.KindConfiguration, "approval", "no approval manager for chain %d", chainID)
		}
		if _, err := p.deps.Approvals.EnsureApproval(ctx, chainID, common.HexToAddress(src), swapAmount); err != nil {
			return models.ProcessingResult{}, err
		}
	}

	payload, err := p.deps.Quotes.GetSwapPayload(ctx, quote.SwapParams{
		ChainID:    chainID,
		FromToken:  src,
		ToToken:    dst,
		Amount:     swapAmount.String(),
		UserWallet: exec.Address(),
		Receiver:   intent.RecipientAddress,
		Slippage:   &slippage,
	})
	if err != nil {
		return models.ProcessingResult{}, err
	}
	// the payload is priced again and may have drifted
	out, err = quotedOutput(payload)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if err := ValidateMinimumOutput(out, minOut); err != nil {
		return models.ProcessingResult{}, err
	}

	result, err := exec.Execute(ctx, &models.SwapPayload{ChainID: chainID, Quote: payload, Tx: payload.Tx})
	if err != nil {
		return models.ProcessingResult{}, err
	}

	p.deps.Logger.InfoWithChain(chainID, "Intent %s swapped %s -> %s: %s", intent.IntentID, swapAmount, out, result.TxHash)
	return models.ProcessingResult{
		Success:         true,
		TxHash:          result.TxHash,
		ActualAmountOut: out.String(),
		BlockNumber:     result.BlockNumber,
		ExchangeRate:    exchangeRate(swapAmount, intent.SourceToken.Decimals, out, intent.DestToken.Decimals),
		FeeAmount:       fee.String(),
	}, nil
}
