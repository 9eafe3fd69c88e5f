package liquidity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/eligibility/internal/domain"
)

// ExecutionQuote is the downstream view of a route with slippage applied.
// Slippage never influences which venue the router picks.
type ExecutionQuote struct {
	Route        domain.LiquidityRoute `json:"route"`
	SlippagePct  float64               `json:"slippagePct"`
	MinAmountOut decimal.Decimal       `json:"minAmountOut"`
}

// Quote applies a slippage tolerance (percent) to a selected route
func Quote(route domain.LiquidityRoute, slippagePct float64) (ExecutionQuote, error) {
	if slippagePct < 0 || slippagePct >= 100 {
		return ExecutionQuote{}, fmt.Errorf("slippage must be in [0,100), got %f", slippagePct)
	}

	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippagePct).Div(hundred))
	return ExecutionQuote{
		Route:        route,
		SlippagePct:  slippagePct,
		MinAmountOut: route.AmountOut.Mul(keep),
	}, nil
}
