package mev

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

const (
	attacker = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	victim   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	pool     = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func ether(s string) decimal.Decimal {
	return decimal.RequireFromString(s).Shift(18)
}

// sandwichTxs builds front/victim/back where the attacker spends 1 ETH and receives 1+profit back
func sandwichTxs(profit string, backBlock uint64) []domain.Transaction {
	t0 := time.Unix(1700000000, 0)
	return []domain.Transaction{
		{Hash: "0x03", From: attacker, Pool: pool, BlockNumber: backBlock, Timestamp: t0.Add(2 * time.Second), AmountOut: ether("1").Add(ether(profit))},
		{Hash: "0x01", From: attacker, Pool: pool, BlockNumber: 100, Timestamp: t0, Value: ether("1")},
		{Hash: "0x02", From: victim, Pool: pool, BlockNumber: 100, Timestamp: t0.Add(time.Second), Value: ether("5")},
	}
}

func TestDetectSandwichAboveThreshold(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	got := det.Detect(1, sandwichTxs("0.3", 100))
	assert.True(t, got.Detected)
	assert.Equal(t, domain.MEVSandwich, got.Type)
	assert.Equal(t, attacker, got.Attacker)
	assert.True(t, got.EstimatedProfit.Equal(decimal.RequireFromString("0.3")))
	assert.InDelta(t, 1.0, got.Probability, 1e-9, "0.3 profit against 0.1 threshold saturates")

	require.Len(t, got.Matches, 1)
	assert.Equal(t, "0x01", got.Matches[0].FrontTx)
	assert.Equal(t, "0x02", got.Matches[0].VictimTx)
	assert.Equal(t, "0x03", got.Matches[0].BackTx)
}

func TestDetectSandwichBelowThreshold(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	got := det.Detect(1, sandwichTxs("0.05", 100))
	assert.False(t, got.Detected)
	assert.Equal(t, 0.0, got.Probability)
	assert.Equal(t, domain.MEVNone, got.Type)
	assert.Len(t, got.Matches, 1, "the pattern is still reported for explainability")
}

func TestDetectProbabilityScalesWithProfit(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	got := det.Detect(1, sandwichTxs("0.15", 100))
	require.True(t, got.Detected)
	assert.InDelta(t, 0.75, got.Probability, 1e-9)
}

func TestDetectAdjacentBlockSandwich(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	got := det.Detect(1, sandwichTxs("0.5", 101))
	assert.True(t, got.Detected)
	assert.Equal(t, domain.MEVMultiBlockSandwich, got.Type)

	got = det.Detect(1, sandwichTxs("0.5", 102))
	assert.False(t, got.Detected, "blocks two apart are outside the span")
	assert.Empty(t, got.Matches)
}

func TestDetectNoPattern(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	t0 := time.Unix(1700000000, 0)
	txs := []domain.Transaction{
		{Hash: "0x01", From: attacker, Pool: pool, BlockNumber: 1, Timestamp: t0},
		{Hash: "0x02", From: attacker, Pool: pool, BlockNumber: 1, Timestamp: t0},
		{Hash: "0x03", From: attacker, Pool: pool, BlockNumber: 1, Timestamp: t0},
	}
	got := det.Detect(1, txs)
	assert.False(t, got.Detected)
	assert.Equal(t, 0.0, got.Probability)

	got = det.Detect(1, nil)
	assert.False(t, got.Detected)
}

func TestDetectIgnoresOtherPools(t *testing.T) {
	det := NewDetector(nil, config.Default().MEV)

	txs := sandwichTxs("1", 100)
	txs[2].Pool = "0xdddddddddddddddddddddddddddddddddddddddd" // victim traded elsewhere

	got := det.Detect(1, txs)
	assert.False(t, got.Detected)
}

type stubGateway struct {
	txs     []domain.Transaction
	err     error
	pool    []domain.Transaction
	poolErr error

	mu      sync.Mutex
	windows []blockWindow
}

func (s *stubGateway) Transactions(ctx context.Context, chainID int64, address string) ([]domain.Transaction, error) {
	return s.txs, s.err
}

func (s *stubGateway) PoolTransactions(ctx context.Context, chainID int64, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	s.mu.Lock()
	s.windows = append(s.windows, blockWindow{pool: pool, from: fromBlock, to: toBlock})
	s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.pool {
		if tx.BlockNumber >= fromBlock && tx.BlockNumber <= toBlock {
			out = append(out, tx)
		}
	}
	return out, s.poolErr
}

func TestAnalyzeOnlyCountsWalletAsAttacker(t *testing.T) {
	det := NewDetector(&stubGateway{txs: sandwichTxs("0.3", 100)}, config.Default().MEV)

	asAttacker, err := det.Analyze(context.Background(), 1, attacker)
	require.NoError(t, err)
	assert.True(t, asAttacker.Detected)

	asVictim, err := det.Analyze(context.Background(), 1, victim)
	require.NoError(t, err)
	assert.False(t, asVictim.Detected)
	assert.Equal(t, 0.0, asVictim.Probability)
}

func TestAnalyzePropagatesGatewayError(t *testing.T) {
	boom := errors.New("unavailable")
	det := NewDetector(&stubGateway{err: boom}, config.Default().MEV)

	_, err := det.Analyze(context.Background(), 1, attacker)
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeFindsVictimInPoolWindow(t *testing.T) {
	all := sandwichTxs("0.3", 100)
	// the wallet history only holds the attacker's own legs
	gw := &stubGateway{txs: []domain.Transaction{all[0], all[1]}, pool: all}
	det := NewDetector(gw, config.Default().MEV)

	got, err := det.Analyze(context.Background(), 1, attacker)
	require.NoError(t, err)
	assert.True(t, got.Detected)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, "0x02", got.Matches[0].VictimTx)
	assert.Equal(t, []blockWindow{{pool: pool, from: 99, to: 101}}, gw.windows)
}

func TestAnalyzeWithoutPoolWindowsMissesVictim(t *testing.T) {
	all := sandwichTxs("0.3", 100)
	cfg := config.Default().MEV
	cfg.MaxPoolWindows = 0
	gw := &stubGateway{txs: []domain.Transaction{all[0], all[1]}, pool: all}

	got, err := NewDetector(gw, cfg).Analyze(context.Background(), 1, attacker)
	require.NoError(t, err)
	assert.False(t, got.Detected)
	assert.Empty(t, gw.windows)
}

func TestAnalyzePropagatesPoolWindowError(t *testing.T) {
	boom := errors.New("indexer down")
	gw := &stubGateway{txs: sandwichTxs("0.3", 100), poolErr: boom}

	_, err := NewDetector(gw, config.Default().MEV).Analyze(context.Background(), 1, attacker)
	assert.ErrorIs(t, err, boom)
}

func TestPoolWindowsMergeAndCap(t *testing.T) {
	other := "0xdddddddddddddddddddddddddddddddddddddddd"
	txs := []domain.Transaction{
		{Hash: "0x1", From: attacker, Pool: pool, BlockNumber: 100},
		{Hash: "0x2", From: attacker, Pool: pool, BlockNumber: 102}, // touches [99,101]
		{Hash: "0x3", From: attacker, Pool: pool, BlockNumber: 200},
		{Hash: "0x4", From: attacker, Pool: other, BlockNumber: 0},
		{Hash: "0x5", From: victim, Pool: other, BlockNumber: 500}, // not sent by the wallet
	}
	det := NewDetector(nil, config.Default().MEV)

	got := det.poolWindows(attacker, txs)
	assert.Equal(t, []blockWindow{
		{pool: pool, from: 199, to: 201},
		{pool: pool, from: 99, to: 103},
		{pool: other, from: 0, to: 1},
	}, got)

	cfg := config.Default().MEV
	cfg.MaxPoolWindows = 1
	got = NewDetector(nil, cfg).poolWindows(attacker, txs)
	assert.Equal(t, []blockWindow{{pool: pool, from: 199, to: 201}}, got, "the most recent window is kept")
}

func TestMergeTransactionsDropsRepeatedHashes(t *testing.T) {
	a := []domain.Transaction{{Hash: "0xAA"}, {Hash: ""}}
	b := []domain.Transaction{{Hash: "0xaa"}, {Hash: "0xbb"}, {Hash: ""}}

	got := mergeTransactions(a, b)
	assert.Len(t, got, 4)
}
