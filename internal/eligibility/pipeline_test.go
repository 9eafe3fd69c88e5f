package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/chain"
	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/liquidity"
	"github.com/sawpanic/eligibility/internal/mev"
	"github.com/sawpanic/eligibility/internal/supply"
	"github.com/sawpanic/eligibility/internal/wallet"
)

// healthySource serves a small but complete wallet history
type healthySource struct{ now time.Time }

func (h healthySource) GasPrice(ctx context.Context) (domain.GasPrice, error) {
	return domain.GasPrice{
		ChainID: 1,
		Price:   decimal.NewFromInt(30_000_000_000),
		BaseFee: decimal.NewFromInt(28_000_000_000),
	}, nil
}

func (h healthySource) Balances(ctx context.Context, address string) ([]domain.TokenBalance, error) {
	created := h.now.AddDate(-1, 0, 0)
	return []domain.TokenBalance{
		{Token: domain.TokenInfo{Address: testToken, Decimals: 18}, ValueUSD: decimal.NewFromInt(5000), CreatedAt: created, HolderCount: 5000},
		{Token: domain.TokenInfo{Address: "0x4444444444444444444444444444444444444444", Decimals: 18}, ValueUSD: decimal.NewFromInt(4000), CreatedAt: created, HolderCount: 5000},
	}, nil
}

func (h healthySource) Transactions(ctx context.Context, address string) ([]domain.Transaction, error) {
	return []domain.Transaction{
		{Hash: "0x01", From: address, To: testToken, Timestamp: h.now.Add(-time.Hour), BlockNumber: 100},
		{Hash: "0x02", From: address, To: testToken, Timestamp: h.now.Add(-48 * time.Hour), BlockNumber: 90},
	}, nil
}

func (h healthySource) Venues(ctx context.Context, tokenIn, tokenOut string) ([]domain.Venue, error) {
	return []domain.Venue{{
		Dex:             "uniswap-v3",
		Pool:            "0x5555555555555555555555555555555555555555",
		LiquidityUSD:    decimal.NewFromInt(2_000_000),
		ReserveIn:       decimal.RequireFromString("1000000000000000000000000"),
		ReserveOut:      decimal.RequireFromString("1000000000000000000000000"),
		FeeBps:          30,
		TokenInPriceUSD: decimal.RequireFromString("0.000000000000001"),
	}}, nil
}

func (h healthySource) Supply(ctx context.Context, token string) (domain.SupplyRecord, error) {
	return domain.SupplyRecord{
		Token:       token,
		Total:       decimal.NewFromInt(1_000_000),
		Circulating: decimal.NewFromInt(600_000),
	}, nil
}

func (h healthySource) PriceSeries(ctx context.Context, token string, from, to time.Time) ([]domain.PricePoint, error) {
	return nil, nil
}

func (h healthySource) PoolTransactions(ctx context.Context, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	return nil, nil
}

// stalledSource never answers before the per-attempt timeout
type stalledSource struct{}

func (stalledSource) GasPrice(ctx context.Context) (domain.GasPrice, error) {
	<-ctx.Done()
	return domain.GasPrice{}, ctx.Err()
}

func (stalledSource) Balances(ctx context.Context, address string) ([]domain.TokenBalance, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSource) Transactions(ctx context.Context, address string) ([]domain.Transaction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSource) Venues(ctx context.Context, tokenIn, tokenOut string) ([]domain.Venue, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSource) Supply(ctx context.Context, token string) (domain.SupplyRecord, error) {
	<-ctx.Done()
	return domain.SupplyRecord{}, ctx.Err()
}

func (stalledSource) PriceSeries(ctx context.Context, token string, from, to time.Time) ([]domain.PricePoint, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSource) PoolTransactions(ctx context.Context, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func pipelineChain(id int64) config.ChainConfig {
	return config.ChainConfig{
		ChainInfo:     domain.ChainInfo{ID: id, Name: "net", QuoteToken: quoteToken},
		RPS:           1000,
		Burst:         1000,
		MaxConcurrent: 8,
	}
}

func TestPipelineTimeoutsOnOneChainLeaveOthersUnaffected(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway = config.GatewayConfig{
		TimeoutMS:     20,
		RetryAttempts: 3,
		BackoffMS:     config.BackoffConfig{Base: 1, Max: 5},
		Circuit:       config.CircuitConfig{FailureThreshold: 100, OpenTimeoutMS: 1000},
	}

	gw := chain.NewGateway(chain.Options{Config: cfg.Gateway},
		chain.Endpoint{Chain: pipelineChain(1), Source: healthySource{now: time.Now()}},
		chain.Endpoint{Chain: pipelineChain(137), Source: stalledSource{}},
	)

	engine := NewEngine(Deps{
		Chains:    gw,
		Wallet:    wallet.NewScorer(gw, cfg.Wallet),
		MEV:       mev.NewDetector(gw, cfg.MEV),
		Liquidity: liquidity.NewRouter(gw, cfg.Router),
		Supply:    supply.NewAnalyzer(gw, cfg.Supply),
	}, Options{Scoring: cfg.Scoring, ExitAmountUSD: cfg.Router.ExitAmountUSD})

	report, err := engine.Evaluate(context.Background(), testAddr, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)

	healthy := breakdownFor(t, report, 1)
	assert.Equal(t, StatusOK, healthy.Status)
	require.NotNil(t, healthy.Score)
	require.NotNil(t, healthy.Liquidity)
	assert.Equal(t, "uniswap-v3", healthy.Liquidity.Dex)
	require.NotNil(t, healthy.Supply)
	assert.Len(t, healthy.Supply.Supply, 2)

	stalled := breakdownFor(t, report, 137)
	assert.Equal(t, StatusUnavailable, stalled.Status)
	assert.Nil(t, stalled.Score)

	assert.InDelta(t, *healthy.Score, report.Score, 1e-9)
	assert.GreaterOrEqual(t, report.Score, 0.0)
	assert.LessOrEqual(t, report.Score, 100.0)

	require.Len(t, report.PartialFailures, 4)
	for _, f := range report.PartialFailures {
		assert.Equal(t, int64(137), f.ChainID)
		assert.Contains(t, f.Reason, "unavailable after 3 attempt(s)")
	}
}
