package liquidity

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

var (
	bpsScale = decimal.NewFromInt(10000)
	hundred  = decimal.NewFromInt(100)
)

// Gateway is the subset of the chain gateway the router needs
type Gateway interface {
	Venues(ctx context.Context, chainID int64, tokenIn, tokenOut string) ([]domain.Venue, error)
	GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error)
}

// Router selects the venue with the lowest price impact for a swap
type Router struct {
	gw  Gateway
	cfg config.RouterConfig
}

// NewRouter creates a router
func NewRouter(gw Gateway, cfg config.RouterConfig) *Router {
	return &Router{gw: gw, cfg: cfg}
}

// Route picks the best venue for swapping amount (tokenIn base units) of tokenIn into tokenOut
func (r *Router) Route(ctx context.Context, chainID int64, tokenIn, tokenOut string, amount decimal.Decimal) (domain.LiquidityRoute, error) {
	if !amount.IsPositive() {
		return domain.LiquidityRoute{}, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return r.route(ctx, chainID, tokenIn, tokenOut, func(v domain.Venue) (decimal.Decimal, bool, bool) {
		sized, capped := r.capAmount(amount, v.TokenInPriceUSD)
		return sized, capped, true
	})
}

// RouteUSD routes a trade sized in USD, converted per venue with the venue's tokenIn price.
// Venues without a price are skipped.
func (r *Router) RouteUSD(ctx context.Context, chainID int64, tokenIn, tokenOut string, usd decimal.Decimal) (domain.LiquidityRoute, error) {
	if !usd.IsPositive() {
		return domain.LiquidityRoute{}, fmt.Errorf("usd amount must be positive, got %s", usd)
	}
	return r.route(ctx, chainID, tokenIn, tokenOut, func(v domain.Venue) (decimal.Decimal, bool, bool) {
		if !v.TokenInPriceUSD.IsPositive() {
			return decimal.Zero, false, false
		}
		sized, capped := r.capAmount(usd.Div(v.TokenInPriceUSD), v.TokenInPriceUSD)
		return sized, capped, true
	})
}

func (r *Router) route(ctx context.Context, chainID int64, tokenIn, tokenOut string, sizeFor func(domain.Venue) (amount decimal.Decimal, capped, ok bool)) (domain.LiquidityRoute, error) {
	venues, err := r.gw.Venues(ctx, chainID, tokenIn, tokenOut)
	if err != nil {
		return domain.LiquidityRoute{}, fmt.Errorf("failed to fetch venues: %w", err)
	}
	if len(venues) == 0 {
		return domain.LiquidityRoute{}, &RouteError{Kind: KindNoVenue, ChainID: chainID, TokenIn: tokenIn, TokenOut: tokenOut}
	}

	gas, err := r.gw.GasPrice(ctx, chainID)
	if err != nil {
		return domain.LiquidityRoute{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	perGas := r.effectiveGasPrice(gas)
	r.checkGasAlert(chainID, perGas)

	floor := decimal.NewFromFloat(r.cfg.MinLiquidityUSD)
	var (
		candidates []domain.LiquidityRoute
		rejected   int
	)

	for _, v := range venues {
		if v.LiquidityUSD.LessThan(floor) {
			rejected++
			log.Debug().
				Int64("chain_id", chainID).
				Str("dex", v.Dex).
				Str("liquidity_usd", v.LiquidityUSD.StringFixed(2)).
				Msg("venue below liquidity floor")
			continue
		}

		amountIn, capped, ok := sizeFor(v)
		if !ok {
			continue
		}
		candidates = append(candidates, r.evaluate(v, amountIn, perGas, capped))
	}

	if len(candidates) == 0 {
		if rejected > 0 {
			return domain.LiquidityRoute{}, &RouteError{Kind: KindInsufficientLiquidity, ChainID: chainID, TokenIn: tokenIn, TokenOut: tokenOut, Rejected: rejected}
		}
		return domain.LiquidityRoute{}, &RouteError{Kind: KindNoVenue, ChainID: chainID, TokenIn: tokenIn, TokenOut: tokenOut}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.PriceImpact.Cmp(b.PriceImpact); c != 0 {
			return c < 0
		}
		if a.EstimatedGas != b.EstimatedGas {
			return a.EstimatedGas < b.EstimatedGas
		}
		return a.Dex < b.Dex
	})

	best := candidates[0]
	if best.HighImpact {
		log.Warn().
			Int64("chain_id", chainID).
			Str("dex", best.Dex).
			Str("price_impact", best.PriceImpact.StringFixed(4)).
			Msg("selected route exceeds price impact warning threshold")
	}
	return best, nil
}

func (r *Router) evaluate(v domain.Venue, amountIn decimal.Decimal, perGas decimal.Decimal, capped bool) domain.LiquidityRoute {
	gasUnits := v.GasUnits
	if gasUnits == 0 {
		gasUnits = r.cfg.GasLimit
	}

	impact := decimal.NewFromInt(1)
	amountOut := decimal.Zero
	if v.ReserveIn.IsPositive() {
		impact = amountIn.Div(v.ReserveIn.Add(amountIn))

		afterFee := amountIn.Mul(bpsScale.Sub(decimal.NewFromInt(v.FeeBps))).Div(bpsScale)
		amountOut = v.ReserveOut.Mul(afterFee).Div(v.ReserveIn.Add(afterFee))
	}

	warn := decimal.NewFromFloat(r.cfg.PriceImpactWarnPct).Div(hundred)

	return domain.LiquidityRoute{
		Dex:          v.Dex,
		Pool:         v.Pool,
		EstimatedGas: gasUnits,
		PriceImpact:  impact,
		GasCostWei:   decimal.NewFromInt(int64(gasUnits)).Mul(perGas),
		AmountIn:     amountIn,
		AmountOut:    amountOut,
		Capped:       capped,
		HighImpact:   impact.GreaterThan(warn),
	}
}

// capAmount bounds the simulated trade by MaxTransactionAmountUSD when the token price is known
func (r *Router) capAmount(amount, priceUSD decimal.Decimal) (decimal.Decimal, bool) {
	if !priceUSD.IsPositive() || r.cfg.MaxTransactionAmountUSD <= 0 {
		return amount, false
	}
	limit := decimal.NewFromFloat(r.cfg.MaxTransactionAmountUSD).Div(priceUSD)
	if amount.GreaterThan(limit) {
		return limit, true
	}
	return amount, false
}

// effectiveGasPrice is baseFee plus the configured priority fee, in wei
func (r *Router) effectiveGasPrice(gp domain.GasPrice) decimal.Decimal {
	base := gp.BaseFee
	if base.IsZero() {
		base = gp.Price
	}
	return base.Add(decimal.NewFromFloat(r.cfg.PriorityFeeGwei).Shift(9))
}

func (r *Router) checkGasAlert(chainID int64, perGas decimal.Decimal) {
	if r.cfg.HighGasAlertGwei <= 0 {
		return
	}
	alert := decimal.NewFromFloat(r.cfg.HighGasAlertGwei).Shift(9)
	if perGas.GreaterThan(alert) {
		log.Warn().
			Int64("chain_id", chainID).
			Str("gas_gwei", perGas.Shift(-9).StringFixed(2)).
			Float64("alert_gwei", r.cfg.HighGasAlertGwei).
			Msg("gas price above alert threshold")
	}
}
