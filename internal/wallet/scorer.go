package wallet

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

const day = 24 * time.Hour

// Gateway is the subset of the chain gateway the scorer needs
type Gateway interface {
	Balances(ctx context.Context, chainID int64, address string) ([]domain.TokenBalance, error)
	Transactions(ctx context.Context, chainID int64, address string) ([]domain.Transaction, error)
}

// Scorer computes diversity, activity and risk for a wallet on one chain
type Scorer struct {
	gw  Gateway
	cfg config.WalletConfig
	now func() time.Time
}

// NewScorer creates a scorer
func NewScorer(gw Gateway, cfg config.WalletConfig) *Scorer {
	return &Scorer{gw: gw, cfg: cfg, now: time.Now}
}

// Score fetches balances and transactions concurrently and computes the metrics
func (s *Scorer) Score(ctx context.Context, chainID int64, address string) (domain.WalletMetrics, error) {
	var (
		balances []domain.TokenBalance
		txs      []domain.Transaction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = s.gw.Balances(gctx, chainID, address)
		if err != nil {
			return fmt.Errorf("failed to fetch balances: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		txs, err = s.gw.Transactions(gctx, chainID, address)
		if err != nil {
			return fmt.Errorf("failed to fetch transactions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.WalletMetrics{}, err
	}

	return Compute(s.cfg, balances, txs, s.now()), nil
}

// Compute derives wallet metrics from already fetched data
func Compute(cfg config.WalletConfig, balances []domain.TokenBalance, txs []domain.Transaction, now time.Time) domain.WalletMetrics {
	diversity := Diversity(balances, cfg.ReferenceTokens)
	concentrated := diversity < cfg.DiversityThreshold

	return domain.WalletMetrics{
		DiversityScore: diversity,
		ActivityScore:  Activity(txs, now, cfg.ActivityHalfLifeDays, cfg.ActivitySaturation),
		RiskLevel:      riskLevel(concentrated, holdsRiskyToken(cfg, balances, now)),
		Concentrated:   concentrated,
	}
}

// Diversity is the Shannon entropy of USD value shares normalized by ln(max(n, reference)),
// clamped to [0,1]. A single holding scores 0; reference equal-value holdings score 1.
func Diversity(balances []domain.TokenBalance, reference int) float64 {
	var values []float64
	total := 0.0
	for _, b := range balances {
		v, _ := b.ValueUSD.Float64()
		if v > 0 {
			values = append(values, v)
			total += v
		}
	}
	if len(values) < 2 || total <= 0 {
		return 0
	}

	entropy := 0.0
	for _, v := range values {
		p := v / total
		entropy -= p * math.Log(p)
	}

	norm := math.Log(float64(max(len(values), reference)))
	if norm <= 0 {
		return 0
	}
	return clamp01(entropy / norm)
}

// Activity sums 0.5^(age/halfLife) over transactions and saturates with 1-exp(-sum/saturation)
func Activity(txs []domain.Transaction, now time.Time, halfLifeDays, saturation float64) float64 {
	if len(txs) == 0 || halfLifeDays <= 0 || saturation <= 0 {
		return 0
	}

	sum := 0.0
	for _, tx := range txs {
		age := now.Sub(tx.Timestamp)
		if age < 0 {
			age = 0
		}
		sum += math.Pow(0.5, age.Hours()/24/halfLifeDays)
	}

	return clamp01(1 - math.Exp(-sum/saturation))
}

// holdsRiskyToken reports a held token younger than the age threshold or with too few holders.
// Zero values mean the indexer did not report the field and are not held against the wallet.
func holdsRiskyToken(cfg config.WalletConfig, balances []domain.TokenBalance, now time.Time) bool {
	cutoff := now.Add(-time.Duration(cfg.TokenAgeThresholdDays) * day)
	for _, b := range balances {
		if !b.Balance.IsPositive() {
			continue
		}
		if !b.CreatedAt.IsZero() && b.CreatedAt.After(cutoff) {
			return true
		}
		if b.HolderCount > 0 && b.HolderCount < cfg.MinHolderCount {
			return true
		}
	}
	return false
}

func riskLevel(concentrated, riskyToken bool) domain.RiskLevel {
	switch {
	case concentrated && riskyToken:
		return domain.RiskHigh
	case concentrated || riskyToken:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
