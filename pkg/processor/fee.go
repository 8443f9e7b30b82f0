package processor

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const bpsDenominator = 10000

// CalculateOutput deducts the resolver fee: amountIn - floor(amountIn*feeRateBps/10000)
func CalculateOutput(amountIn *big.Int, feeRateBps int64) *big.Int {
	return new(big.Int).Sub(amountIn, CalculateFee(amountIn, feeRateBps))
}

// CalculateFee is floor(amountIn*feeRateBps/10000)
func CalculateFee(amountIn *big.Int, feeRateBps int64) *big.Int {
	fee := new(big.Int).Mul(amountIn, big.NewInt(feeRateBps))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}

// ValidateMinimumOutput fails when output is below minAmountOut
func ValidateMinimumOutput(output, minAmountOut *big.Int) error {
	if output.Cmp(minAmountOut) < 0 {
		return swaperr.New(swaperr.KindInsufficientOutput, "validateMinimumOutput",
			"output amount %s is less than minimum required %s", output, minAmountOut)
	}
	return nil
}

// exchangeRate is out/in in whole-token terms, rounded to 8 places
func exchangeRate(in *big.Int, inDecimals int, out *big.Int, outDecimals int) string {
	if in == nil || out == nil || in.Sign() <= 0 {
		return ""
	}
	from := decimal.NewFromBigInt(in, -int32(inDecimals))
	to := decimal.NewFromBigInt(out, -int32(outDecimals))
	return to.DivRound(from, 8).String()
}
