package supply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

const day = 24 * time.Hour

// ErrInsufficientSamples is returned when two series share fewer than three returns
var ErrInsufficientSamples = errors.New("insufficient aligned samples")

// Gateway is the subset of the chain gateway the analyzer needs
type Gateway interface {
	Supply(ctx context.Context, chainID int64, token string) (domain.SupplyRecord, error)
	PriceSeries(ctx context.Context, chainID int64, token string, from, to time.Time) ([]domain.PricePoint, error)
}

// Analyzer computes supply metrics and pairwise price correlation
type Analyzer struct {
	gw  Gateway
	cfg config.SupplyConfig
	now func() time.Time
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(gw Gateway, cfg config.SupplyConfig) *Analyzer {
	return &Analyzer{gw: gw, cfg: cfg, now: time.Now}
}

// Findings is the per-chain supply/correlation signal attached to a report
type Findings struct {
	Supply      []domain.SupplyMetrics  `json:"supply,omitempty"`
	Correlation *domain.CorrelationData `json:"correlation,omitempty"`
	Flags       []string                `json:"flags,omitempty"`
}

// Supply fetches and evaluates the supply snapshot of a token
func (a *Analyzer) Supply(ctx context.Context, chainID int64, token string) (domain.SupplyMetrics, error) {
	rec, err := a.gw.Supply(ctx, chainID, token)
	if err != nil {
		return domain.SupplyMetrics{}, fmt.Errorf("failed to fetch supply: %w", err)
	}
	if rec.Token == "" {
		rec.Token = token
	}
	return EvaluateSupply(rec, a.now(), a.lockPeriod(), a.cfg.SupplyTolerance), nil
}

// EvaluateSupply derives metrics from a supply record. Locked counts active locks only;
// EffectiveLocked weights each by its remaining time over the lock period.
func EvaluateSupply(rec domain.SupplyRecord, now time.Time, lockPeriod time.Duration, tolerance float64) domain.SupplyMetrics {
	m := domain.SupplyMetrics{
		Token:           rec.Token,
		Total:           rec.Total,
		Circulating:     rec.Circulating,
		Locked:          decimal.Zero,
		EffectiveLocked: decimal.Zero,
	}

	for _, lock := range rec.Locks {
		if lock.ClaimedDuration >= lockPeriod && !lock.LockedAt.IsZero() {
			promised := lock.LockedAt.Add(lock.ClaimedDuration)
			if lock.UnlockAt.Before(promised) {
				m.Reasons = append(m.Reasons, fmt.Sprintf(
					"lock claims %d days but unlocks after %d days",
					int(lock.ClaimedDuration/day), int(lock.UnlockAt.Sub(lock.LockedAt)/day)))
			}
		}

		if !lock.UnlockAt.After(now) {
			continue
		}
		m.Locked = m.Locked.Add(lock.Amount)

		weight := decimal.NewFromInt(1)
		if remaining := lock.UnlockAt.Sub(now); remaining < lockPeriod {
			weight = decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(lockPeriod)))
		}
		m.EffectiveLocked = m.EffectiveLocked.Add(lock.Amount.Mul(weight))
	}

	limit := rec.Total.Mul(decimal.NewFromFloat(1 + tolerance))
	if rec.Total.IsPositive() && m.Locked.Add(m.Circulating).GreaterThan(limit) {
		m.Reasons = append(m.Reasons, "locked plus circulating exceeds total supply")
	}

	m.Suspicious = len(m.Reasons) > 0
	return m
}

// Correlate returns the Pearson coefficient of simple returns of two tokens' prices over window.
// The result is the same whichever order the tokens are given in.
func (a *Analyzer) Correlate(ctx context.Context, chainID int64, tokenA, tokenB string, window time.Duration) (domain.CorrelationData, error) {
	t1, t2 := canonicalPair(tokenA, tokenB)

	// hour-aligned bounds keep the cache key stable across requests
	to := a.now().UTC().Truncate(time.Hour)
	from := to.Add(-window)

	var s1, s2 []domain.PricePoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s1, err = a.gw.PriceSeries(gctx, chainID, t1, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		s2, err = a.gw.PriceSeries(gctx, chainID, t2, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.CorrelationData{}, fmt.Errorf("failed to fetch price series: %w", err)
	}

	coef, n, err := CorrelateSeries(s1, s2)
	if err != nil {
		return domain.CorrelationData{Token1: t1, Token2: t2, Samples: n}, err
	}

	return domain.CorrelationData{
		Token1:           t1,
		Token2:           t2,
		Coefficient:      coef,
		Samples:          n,
		HighlyCorrelated: coef > a.cfg.CorrelationThreshold,
	}, nil
}

// Analyze runs supply checks on the wallet's largest holdings and correlates the top two
func (a *Analyzer) Analyze(ctx context.Context, chainID int64, balances []domain.TokenBalance) (Findings, error) {
	top := topHoldings(balances, a.cfg.TopHoldings)
	if len(top) == 0 {
		return Findings{}, nil
	}

	var (
		mu       sync.Mutex
		findings Findings
		failures int
	)
	results := make([]*domain.SupplyMetrics, len(top))

	var g errgroup.Group
	for i, tok := range top {
		g.Go(func() error {
			m, err := a.Supply(ctx, chainID, tok)
			if err != nil {
				log.Debug().Int64("chain_id", chainID).Str("token", tok).Err(err).Msg("supply check failed")
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			results[i] = &m
			return nil
		})
	}

	var corrErr error
	if len(top) >= 2 {
		g.Go(func() error {
			window := time.Duration(a.cfg.CorrelationWindowHours) * time.Hour
			c, err := a.Correlate(ctx, chainID, top[0], top[1], window)
			if err != nil {
				corrErr = err
				return nil
			}
			findings.Correlation = &c
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range results {
		if m == nil {
			continue
		}
		findings.Supply = append(findings.Supply, *m)
		if m.Suspicious {
			findings.Flags = append(findings.Flags, "suspicious_supply:"+m.Token)
		}
	}
	if findings.Correlation != nil && findings.Correlation.HighlyCorrelated {
		findings.Flags = append(findings.Flags,
			"high_correlation:"+findings.Correlation.Token1+":"+findings.Correlation.Token2)
	}

	if failures == len(top) && findings.Correlation == nil {
		if corrErr != nil && !errors.Is(corrErr, ErrInsufficientSamples) {
			return findings, fmt.Errorf("all supply checks failed: %w", corrErr)
		}
		return findings, fmt.Errorf("all %d supply checks failed", failures)
	}
	return findings, nil
}

func (a *Analyzer) lockPeriod() time.Duration {
	return time.Duration(a.cfg.LiquidityLockPeriodDays) * day
}

// topHoldings returns up to n token addresses by descending USD value
func topHoldings(balances []domain.TokenBalance, n int) []string {
	held := make([]domain.TokenBalance, 0, len(balances))
	for _, b := range balances {
		if b.ValueUSD.IsPositive() && b.Token.Address != "" {
			held = append(held, b)
		}
	}
	sort.SliceStable(held, func(i, j int) bool {
		return held[i].ValueUSD.GreaterThan(held[j].ValueUSD)
	})

	out := make([]string, 0, n)
	for _, b := range held {
		if len(out) == n {
			break
		}
		out = append(out, strings.ToLower(b.Token.Address))
	}
	return out
}

func canonicalPair(a, b string) (string, string) {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		return b, a
	}
	return a, b
}
