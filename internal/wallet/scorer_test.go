package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// matureHolding is an old, widely held token so it never triggers the token risk condition
func matureHolding(symbol string, usd int64) domain.TokenBalance {
	return domain.TokenBalance{
		Token:       domain.TokenInfo{Address: "0x" + symbol, Symbol: symbol, Decimals: 18},
		Balance:     decimal.NewFromInt(1),
		ValueUSD:    decimal.NewFromInt(usd),
		CreatedAt:   now.AddDate(-3, 0, 0),
		HolderCount: 50000,
	}
}

func equalHoldings(n int) []domain.TokenBalance {
	out := make([]domain.TokenBalance, n)
	for i := range out {
		out[i] = matureHolding(fmt.Sprintf("T%d", i), 1000)
	}
	return out
}

func TestSingleTokenLessDiverseThanTenEqualTokens(t *testing.T) {
	single := Diversity(equalHoldings(1), 10)
	ten := Diversity(equalHoldings(10), 10)

	assert.Equal(t, 0.0, single)
	assert.InDelta(t, 1.0, ten, 1e-9)
	assert.Less(t, single, ten)
}

func TestDiversityBounds(t *testing.T) {
	assert.Equal(t, 0.0, Diversity(nil, 10))

	// two equal tokens: ln2/ln10
	two := Diversity(equalHoldings(2), 10)
	assert.InDelta(t, 0.30103, two, 1e-4)

	// more tokens than the reference still caps at 1
	assert.InDelta(t, 1.0, Diversity(equalHoldings(25), 10), 1e-9)

	skewed := []domain.TokenBalance{matureHolding("A", 9900), matureHolding("B", 50), matureHolding("C", 50)}
	assert.Less(t, Diversity(skewed, 10), Diversity(equalHoldings(3), 10))

	zeroValue := []domain.TokenBalance{matureHolding("A", 0), matureHolding("B", 100)}
	assert.Equal(t, 0.0, Diversity(zeroValue, 10), "worthless holdings are ignored")
}

func TestActivityDecaysWithAge(t *testing.T) {
	recent := []domain.Transaction{{Timestamp: now.Add(-time.Hour)}}
	old := []domain.Transaction{{Timestamp: now.AddDate(0, 0, -300)}}

	assert.Greater(t, Activity(recent, now, 30, 10), Activity(old, now, 30, 10))
	assert.Equal(t, 0.0, Activity(nil, now, 30, 10))

	many := make([]domain.Transaction, 500)
	for i := range many {
		many[i] = domain.Transaction{Timestamp: now}
	}
	score := Activity(many, now, 30, 10)
	assert.LessOrEqual(t, score, 1.0)
	assert.Greater(t, score, 0.99)

	// a transaction exactly one half-life old counts half
	half := Activity([]domain.Transaction{{Timestamp: now.AddDate(0, 0, -30)}}, now, 30, 10)
	single := Activity([]domain.Transaction{{Timestamp: now}}, now, 30, 10)
	assert.InDelta(t, 1-0.951229, half, 1e-5)
	assert.Greater(t, single, half)
}

func TestRiskLevels(t *testing.T) {
	cfg := config.Default().Wallet

	young := matureHolding("NEW", 1000)
	young.CreatedAt = now.AddDate(0, 0, -10)

	thin := matureHolding("THIN", 1000)
	thin.HolderCount = 12

	tests := []struct {
		name     string
		balances []domain.TokenBalance
		want     domain.RiskLevel
	}{
		{"diverse and mature", equalHoldings(10), domain.RiskLow},
		{"concentrated only", equalHoldings(1), domain.RiskMedium},
		{"diverse with young token", append(equalHoldings(9), young), domain.RiskMedium},
		{"concentrated with young token", []domain.TokenBalance{young}, domain.RiskHigh},
		{"concentrated with thin token", []domain.TokenBalance{thin}, domain.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(cfg, tt.balances, nil, now)
			assert.Equal(t, tt.want, got.RiskLevel)
		})
	}
}

func TestComputeFlagsConcentration(t *testing.T) {
	cfg := config.Default().Wallet

	m := Compute(cfg, equalHoldings(3), nil, now)
	assert.True(t, m.Concentrated, "ln3/ln10 is below 0.7")

	m = Compute(cfg, equalHoldings(8), nil, now)
	assert.False(t, m.Concentrated)
}

type stubGateway struct {
	balances []domain.TokenBalance
	txs      []domain.Transaction
	txErr    error
}

func (s stubGateway) Balances(ctx context.Context, chainID int64, address string) ([]domain.TokenBalance, error) {
	return s.balances, nil
}

func (s stubGateway) Transactions(ctx context.Context, chainID int64, address string) ([]domain.Transaction, error) {
	return s.txs, s.txErr
}

func TestScoreUsesGatewayData(t *testing.T) {
	scorer := NewScorer(stubGateway{
		balances: equalHoldings(10),
		txs:      []domain.Transaction{{Timestamp: now}},
	}, config.Default().Wallet)
	scorer.now = func() time.Time { return now }

	m, err := scorer.Score(context.Background(), 1, "0xabc")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.DiversityScore, 1e-9)
	assert.Greater(t, m.ActivityScore, 0.0)
	assert.Equal(t, domain.RiskLow, m.RiskLevel)
}

func TestScoreFailsWhenFetchFails(t *testing.T) {
	boom := errors.New("unavailable")
	scorer := NewScorer(stubGateway{txErr: boom}, config.Default().Wallet)

	_, err := scorer.Score(context.Background(), 1, "0xabc")
	assert.ErrorIs(t, err, boom)
}
