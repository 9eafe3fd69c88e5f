package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ChainInfo identifies a supported network. Loaded once at process start.
type ChainInfo struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	NativeSymbol string `json:"native_symbol" yaml:"native_symbol"`
	// QuoteToken is the token exit liquidity is measured against (usually wrapped native or a stable)
	QuoteToken string `json:"quote_token" yaml:"quote_token"`
}

// GasPrice is a point-in-time gas quote for a chain, in wei
type GasPrice struct {
	ChainID     int64           `json:"chainId"`
	Price       decimal.Decimal `json:"price"`
	BaseFee     decimal.Decimal `json:"baseFee"`
	PriorityFee decimal.Decimal `json:"priorityFee"`
	ObservedAt  time.Time       `json:"observedAt"`
}

// TokenInfo is keyed by (chain, address) and immutable once resolved
type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// TokenBalance is a mapped indexer record of one holding
type TokenBalance struct {
	Token       TokenInfo       `json:"token"`
	Balance     decimal.Decimal `json:"balance"`
	ValueUSD    decimal.Decimal `json:"valueUsd"`
	CreatedAt   time.Time       `json:"createdAt"`
	HolderCount int             `json:"holderCount"`
}

// Transaction is an immutable historical fact. Value and AmountOut are in native base units.
type Transaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Value       decimal.Decimal `json:"value"`
	Timestamp   time.Time       `json:"timestamp"`
	BlockNumber uint64          `json:"blockNumber"`
	Pool        string          `json:"pool,omitempty"`
	AmountOut   decimal.Decimal `json:"amountOut"`
}

// PoolAddress returns the pool the transaction touched, falling back to the recipient
func (t Transaction) PoolAddress() string {
	if t.Pool != "" {
		return t.Pool
	}
	return t.To
}

// SortTransactions orders txs by block, then timestamp, then hash. The input is not modified.
func SortTransactions(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Hash < b.Hash
	})
	return out
}

// Venue is a candidate DEX pool for a token pair as reported by the gateway
type Venue struct {
	Dex          string          `json:"dex"`
	Pool         string          `json:"pool"`
	LiquidityUSD decimal.Decimal `json:"liquidityUsd"`
	ReserveIn    decimal.Decimal `json:"reserveIn"`
	ReserveOut   decimal.Decimal `json:"reserveOut"`
	GasUnits     uint64          `json:"gasUnits"`
	FeeBps       int64           `json:"feeBps"`
	// TokenInPriceUSD prices one base unit of tokenIn; used for the trade-size cap
	TokenInPriceUSD decimal.Decimal `json:"tokenInPriceUsd"`
}

// LiquidityRoute is the selected venue for a swap. Derived, never persisted.
type LiquidityRoute struct {
	Dex          string          `json:"dex"`
	Pool         string          `json:"pool"`
	EstimatedGas uint64          `json:"estimatedGas"`
	PriceImpact  decimal.Decimal `json:"priceImpact"`
	GasCostWei   decimal.Decimal `json:"gasCostWei"`
	AmountIn     decimal.Decimal `json:"amountIn"`
	AmountOut    decimal.Decimal `json:"amountOut"`
	Capped       bool            `json:"capped"`
	HighImpact   bool            `json:"highImpact"`
}

// SandwichMatch is one front/victim/back triplet found by the detector
type SandwichMatch struct {
	Pool     string          `json:"pool"`
	Attacker string          `json:"attacker"`
	Victim   string          `json:"victim"`
	FrontTx  string          `json:"frontTx"`
	VictimTx string          `json:"victimTx"`
	BackTx   string          `json:"backTx"`
	Profit   decimal.Decimal `json:"profit"`
	Type     MEVType         `json:"type"`
}

// MEVDetection is a calibrated confidence that MEV extraction took place
type MEVDetection struct {
	Detected        bool            `json:"detected"`
	Type            MEVType         `json:"type"`
	Probability     float64         `json:"probability"`
	EstimatedProfit decimal.Decimal `json:"estimatedProfit"`
	Attacker        string          `json:"attacker,omitempty"`
	Matches         []SandwichMatch `json:"matches,omitempty"`
}

// WalletMetrics is recomputed per wallet per chain
type WalletMetrics struct {
	DiversityScore float64   `json:"diversityScore"`
	ActivityScore  float64   `json:"activityScore"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	Concentrated   bool      `json:"concentrated"`
}

// CorrelationData is symmetric in Token1/Token2
type CorrelationData struct {
	Token1           string  `json:"token1"`
	Token2           string  `json:"token2"`
	Coefficient      float64 `json:"coefficient"`
	Samples          int     `json:"samples"`
	HighlyCorrelated bool    `json:"highlyCorrelated"`
}

// SupplyMetrics amounts are token base units. Locked+Circulating may fall short of Total
// because of unresolved holder balances.
type SupplyMetrics struct {
	Token           string          `json:"token"`
	Total           decimal.Decimal `json:"total"`
	Circulating     decimal.Decimal `json:"circulating"`
	Locked          decimal.Decimal `json:"locked"`
	EffectiveLocked decimal.Decimal `json:"effectiveLocked"`
	Suspicious      bool            `json:"suspicious"`
	Reasons         []string        `json:"reasons,omitempty"`
}

// TokenLock is one liquidity/team lock as reported by the indexer
type TokenLock struct {
	Amount          decimal.Decimal `json:"amount"`
	LockedAt        time.Time       `json:"lockedAt"`
	UnlockAt        time.Time       `json:"unlockAt"`
	ClaimedDuration time.Duration   `json:"claimedDuration"`
}

// SupplyRecord is the raw supply snapshot behind SupplyMetrics
type SupplyRecord struct {
	Token       string          `json:"token"`
	Total       decimal.Decimal `json:"total"`
	Circulating decimal.Decimal `json:"circulating"`
	Locks       []TokenLock     `json:"locks"`
}

// PricePoint is one sample of a token price series
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	PriceUSD  float64   `json:"priceUsd"`
}
