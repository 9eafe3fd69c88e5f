package liquidity

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

type stubGateway struct {
	venues   []domain.Venue
	venueErr error
	gas      domain.GasPrice
}

func (s *stubGateway) Venues(ctx context.Context, chainID int64, tokenIn, tokenOut string) ([]domain.Venue, error) {
	return s.venues, s.venueErr
}

func (s *stubGateway) GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error) {
	return s.gas, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func gwei(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(9)
}

func newTestRouter(venues []domain.Venue) *Router {
	gw := &stubGateway{
		venues: venues,
		gas:    domain.GasPrice{ChainID: 1, Price: gwei(30), BaseFee: gwei(28), PriorityFee: gwei(2)},
	}
	return NewRouter(gw, config.Default().Router)
}

func TestRouteSelectsVenueAboveFloorDespiteHigherGas(t *testing.T) {
	router := newTestRouter([]domain.Venue{
		{Dex: "cheap-but-thin", LiquidityUSD: d("10000"), ReserveIn: d("1000000"), ReserveOut: d("1000000"), GasUnits: 90000},
		{Dex: "deep", LiquidityUSD: d("2000000"), ReserveIn: d("1000000"), ReserveOut: d("1000000"), GasUnits: 250000},
	})

	route, err := router.Route(context.Background(), 1, "0xa", "0xb", d("1000"))
	require.NoError(t, err)
	assert.Equal(t, "deep", route.Dex)
	assert.Equal(t, uint64(250000), route.EstimatedGas)
}

func TestRoutePrefersLowestImpactThenLowestGas(t *testing.T) {
	router := newTestRouter([]domain.Venue{
		{Dex: "small", LiquidityUSD: d("100000"), ReserveIn: d("10000"), ReserveOut: d("10000"), GasUnits: 100000},
		{Dex: "big-expensive", LiquidityUSD: d("900000"), ReserveIn: d("900000"), ReserveOut: d("900000"), GasUnits: 200000},
		{Dex: "big-cheap", LiquidityUSD: d("900000"), ReserveIn: d("900000"), ReserveOut: d("900000"), GasUnits: 150000},
	})

	route, err := router.Route(context.Background(), 1, "0xa", "0xb", d("100"))
	require.NoError(t, err)
	assert.Equal(t, "big-cheap", route.Dex)

	// 100 / (900000 + 100)
	expected := d("100").Div(d("900100"))
	assert.True(t, route.PriceImpact.Equal(expected), "impact %s", route.PriceImpact)
	assert.False(t, route.HighImpact)
}

func TestRouteGasCostUsesBaseFeePlusPriorityFee(t *testing.T) {
	router := newTestRouter([]domain.Venue{
		{Dex: "uni", LiquidityUSD: d("100000"), ReserveIn: d("1000000"), ReserveOut: d("1000000")},
	})

	route, err := router.Route(context.Background(), 1, "0xa", "0xb", d("10"))
	require.NoError(t, err)

	assert.Equal(t, uint64(300000), route.EstimatedGas, "default gas limit applies when venue reports none")
	// 300000 * (28 gwei + 2 gwei)
	assert.True(t, route.GasCostWei.Equal(decimal.NewFromInt(300000).Mul(gwei(30))), "gas cost %s", route.GasCostWei)
}

func TestRouteHighImpactIsFlaggedNotRejected(t *testing.T) {
	router := newTestRouter([]domain.Venue{
		{Dex: "shallow", LiquidityUSD: d("60000"), ReserveIn: d("1000"), ReserveOut: d("1000")},
	})

	route, err := router.Route(context.Background(), 1, "0xa", "0xb", d("100"))
	require.NoError(t, err)
	assert.True(t, route.HighImpact)
	assert.True(t, route.PriceImpact.GreaterThan(d("0.05")))
}

func TestRouteErrors(t *testing.T) {
	t.Run("no venues", func(t *testing.T) {
		_, err := newTestRouter(nil).Route(context.Background(), 1, "0xa", "0xb", d("1"))
		assert.ErrorIs(t, err, ErrNoVenue)
	})

	t.Run("all below floor", func(t *testing.T) {
		router := newTestRouter([]domain.Venue{
			{Dex: "a", LiquidityUSD: d("49999.99"), ReserveIn: d("1"), ReserveOut: d("1")},
			{Dex: "b", LiquidityUSD: d("100"), ReserveIn: d("1"), ReserveOut: d("1")},
		})
		_, err := router.Route(context.Background(), 1, "0xa", "0xb", d("1"))
		var rerr *RouteError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, KindInsufficientLiquidity, rerr.Kind)
		assert.Equal(t, 2, rerr.Rejected)
	})

	t.Run("gateway failure propagates", func(t *testing.T) {
		boom := errors.New("unavailable")
		router := NewRouter(&stubGateway{venueErr: boom}, config.Default().Router)
		_, err := router.Route(context.Background(), 1, "0xa", "0xb", d("1"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := newTestRouter(nil).Route(context.Background(), 1, "0xa", "0xb", decimal.Zero)
		assert.Error(t, err)
	})
}

func TestRouteCapsTradeAtMaxTransactionAmount(t *testing.T) {
	cfg := config.Default().Router
	cfg.MaxTransactionAmountUSD = 1000
	router := NewRouter(&stubGateway{
		venues: []domain.Venue{{Dex: "uni", LiquidityUSD: d("5000000"), ReserveIn: d("1000000"), ReserveOut: d("1000000"), TokenInPriceUSD: d("2")}},
		gas:    domain.GasPrice{Price: gwei(10)},
	}, cfg)

	route, err := router.Route(context.Background(), 1, "0xa", "0xb", d("5000"))
	require.NoError(t, err)
	assert.True(t, route.Capped)
	assert.True(t, route.AmountIn.Equal(d("500")), "amount in %s", route.AmountIn)

	route, err = router.Route(context.Background(), 1, "0xa", "0xb", d("100"))
	require.NoError(t, err)
	assert.False(t, route.Capped)
}

func TestRouteUSDSkipsUnpricedVenues(t *testing.T) {
	router := newTestRouter([]domain.Venue{
		{Dex: "unpriced", LiquidityUSD: d("5000000"), ReserveIn: d("100000000"), ReserveOut: d("1")},
		{Dex: "priced", LiquidityUSD: d("100000"), ReserveIn: d("50000"), ReserveOut: d("50000"), TokenInPriceUSD: d("1")},
	})

	route, err := router.RouteUSD(context.Background(), 1, "0xa", "0xb", d("1000"))
	require.NoError(t, err)
	assert.Equal(t, "priced", route.Dex)
	assert.True(t, route.AmountIn.Equal(d("1000")))
}

func TestQuoteAppliesSlippage(t *testing.T) {
	q, err := Quote(domain.LiquidityRoute{AmountOut: d("1000")}, 0.5)
	require.NoError(t, err)
	assert.True(t, q.MinAmountOut.Equal(d("995")), "min out %s", q.MinAmountOut)

	_, err = Quote(domain.LiquidityRoute{}, 100)
	assert.Error(t, err)
}
