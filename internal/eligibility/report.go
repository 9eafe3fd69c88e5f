package eligibility

import (
	"sort"
	"time"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/supply"
)

// Analyzer names one of the four per-chain signal producers
type Analyzer string

const (
	AnalyzerWallet    Analyzer = "wallet"
	AnalyzerMEV       Analyzer = "mev"
	AnalyzerLiquidity Analyzer = "liquidity"
	AnalyzerSupply    Analyzer = "supply"
)

// ChainStatus summarizes how much of a chain's pipeline produced data
type ChainStatus string

const (
	StatusOK          ChainStatus = "ok"
	StatusPartial     ChainStatus = "partial"
	StatusUnavailable ChainStatus = "unavailable"
)

// Signals are the four inputs of the per-chain score after neutral substitution
type Signals struct {
	Diversity      float64 `json:"diversity"`
	Activity       float64 `json:"activity"`
	Risk           float64 `json:"risk"`
	MEVProbability float64 `json:"mevProbability"`
}

// ChainBreakdown is the explainable per-chain part of a report
type ChainBreakdown struct {
	ChainID   int64                  `json:"chainId"`
	Chain     string                 `json:"chain"`
	Status    ChainStatus            `json:"status"`
	Score     *float64               `json:"score,omitempty"`
	Signals   *Signals               `json:"signals,omitempty"`
	Defaulted []Analyzer             `json:"defaulted,omitempty"`
	Wallet    *domain.WalletMetrics  `json:"wallet,omitempty"`
	MEV       *domain.MEVDetection   `json:"mev,omitempty"`
	Liquidity *domain.LiquidityRoute `json:"liquidity,omitempty"`
	Supply    *supply.Findings       `json:"supply,omitempty"`
}

// PartialFailure records one failed analyzer, or a whole chain when Analyzer is empty
type PartialFailure struct {
	ChainID  int64    `json:"chainId"`
	Analyzer Analyzer `json:"analyzer,omitempty"`
	Reason   string   `json:"reason"`
}

// Report is the result of one evaluation
type Report struct {
	ID              string           `json:"reportId"`
	Address         string           `json:"address"`
	Success         bool             `json:"success"`
	Score           float64          `json:"score"`
	Breakdown       []ChainBreakdown `json:"breakdown"`
	PartialFailures []PartialFailure `json:"partialFailures"`
	Weights         config.Weights   `json:"weights"`
	Formula         string           `json:"formula"`
	EvaluatedAt     time.Time        `json:"evaluatedAt"`
	DurationMS      int64            `json:"durationMs"`
}

// FailedChains returns the ids of chains that produced no data, ascending
func (r Report) FailedChains() []int64 {
	var ids []int64
	for _, b := range r.Breakdown {
		if b.Status == StatusUnavailable {
			ids = append(ids, b.ChainID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PartialError describes the failed chains of a successful report, or nil when every chain answered
func (r Report) PartialError() error {
	if !r.Success {
		return nil
	}
	failed := r.FailedChains()
	if len(failed) == 0 && len(r.PartialFailures) == 0 {
		return nil
	}
	return &AggregationError{Kind: KindPartialFailure, Chains: failed}
}

// Result labels the report for metrics: success, partial or total_failure
func (r Report) Result() string {
	switch {
	case !r.Success:
		return "total_failure"
	case len(r.PartialFailures) > 0:
		return "partial"
	default:
		return "success"
	}
}
