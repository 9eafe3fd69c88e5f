// Package eligibility fans an address out across chains and analyzers and folds the
// results into one explainable 0-100 score.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/metrics"
	"github.com/sawpanic/eligibility/internal/supply"
)

// ChainSource is the slice of the gateway the engine needs directly
type ChainSource interface {
	Chains() []domain.ChainInfo
	Info(chainID int64) (domain.ChainInfo, bool)
	Balances(ctx context.Context, chainID int64, address string) ([]domain.TokenBalance, error)
}

type WalletScorer interface {
	Score(ctx context.Context, chainID int64, address string) (domain.WalletMetrics, error)
}

type MEVAnalyzer interface {
	Analyze(ctx context.Context, chainID int64, address string) (domain.MEVDetection, error)
}

type LiquidityRouter interface {
	RouteUSD(ctx context.Context, chainID int64, tokenIn, tokenOut string, usd decimal.Decimal) (domain.LiquidityRoute, error)
}

type SupplyAnalyzer interface {
	Analyze(ctx context.Context, chainID int64, balances []domain.TokenBalance) (supply.Findings, error)
}

// ReportStore persists finished reports
type ReportStore interface {
	Save(ctx context.Context, report Report) error
}

// Publisher emits finished reports to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, report Report) error
}

// Deps are the collaborators of the engine. Store, Publisher and Metrics are optional.
type Deps struct {
	Chains    ChainSource
	Wallet    WalletScorer
	MEV       MEVAnalyzer
	Liquidity LiquidityRouter
	Supply    SupplyAnalyzer

	Store     ReportStore
	Publisher Publisher
	Metrics   *metrics.Registry
}

// Options carry the scoring parameters
type Options struct {
	Scoring       config.ScoringConfig
	ExitAmountUSD float64
	// SinkTimeout bounds persisting and publishing a report
	SinkTimeout time.Duration
}

// Engine evaluates addresses. It is safe for concurrent use.
type Engine struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func NewEngine(deps Deps, opts Options) *Engine {
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	return &Engine{deps: deps, opts: opts, now: time.Now}
}

// chainResult is what one chain pipeline hands back to Evaluate
type chainResult struct {
	breakdown ChainBreakdown
	failures  []PartialFailure
}

// Evaluate scores an address across the requested chains, or all configured chains when none are given.
// A partial failure still yields a successful report; only a report without any chain data errors.
func (e *Engine) Evaluate(ctx context.Context, address string, chains []int64) (Report, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return Report{}, err
	}

	start := e.now()
	e.deps.Metrics.EvaluationStarted()

	ids := e.resolveChains(chains)

	if timeout := e.opts.Scoring.EvaluateTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	report := Report{
		ID:          uuid.NewString(),
		Address:     addr,
		Weights:     e.opts.Scoring.Weights,
		Formula:     Formula(e.opts.Scoring.Weights),
		EvaluatedAt: start.UTC(),
	}

	results := make(chan chainResult, len(ids))
	pending := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		info, ok := e.deps.Chains.Info(id)
		if !ok {
			report.Breakdown = append(report.Breakdown, ChainBreakdown{ChainID: id, Status: StatusUnavailable})
			report.PartialFailures = append(report.PartialFailures, PartialFailure{ChainID: id, Reason: "unsupported chain"})
			continue
		}
		pending[id] = struct{}{}
		go func() {
			results <- e.evaluateChain(ctx, info, addr)
		}()
	}

	collect(ctx, results, pending, &report)

	// Chains still running at the deadline are dropped; their goroutines exit on the cancelled context.
	for id := range pending {
		info, _ := e.deps.Chains.Info(id)
		report.Breakdown = append(report.Breakdown, ChainBreakdown{ChainID: id, Chain: info.Name, Status: StatusUnavailable})
		report.PartialFailures = append(report.PartialFailures, PartialFailure{ChainID: id, Reason: reasonOf(ctx.Err())})
	}

	sortReport(&report)

	var scores []float64
	for _, b := range report.Breakdown {
		if b.Status != StatusUnavailable && b.Score != nil {
			scores = append(scores, *b.Score)
		}
	}

	report.Success = len(scores) > 0
	report.Score = FinalScore(scores)
	report.DurationMS = e.now().Sub(start).Milliseconds()
	if report.PartialFailures == nil {
		report.PartialFailures = []PartialFailure{}
	}

	e.deps.Metrics.EvaluationFinished(report.Result(), report.Score)

	logEvent := log.Info()
	if !report.Success {
		logEvent = log.Warn()
	}
	logEvent.
		Str("report_id", report.ID).
		Str("address", addr).
		Int("chains", len(ids)).
		Int("partial_failures", len(report.PartialFailures)).
		Float64("score", report.Score).
		Int64("duration_ms", report.DurationMS).
		Msg("Eligibility evaluated")

	e.deliver(ctx, report)

	if !report.Success {
		return report, &AggregationError{Kind: KindTotalFailure, Chains: report.FailedChains()}
	}
	return report, nil
}

// collect gathers chain results until every pending chain reported or ctx is done.
// Results already delivered when ctx fires are still taken.
func collect(ctx context.Context, results <-chan chainResult, pending map[int64]struct{}, report *Report) {
	take := func(res chainResult) {
		delete(pending, res.breakdown.ChainID)
		report.Breakdown = append(report.Breakdown, res.breakdown)
		report.PartialFailures = append(report.PartialFailures, res.failures...)
	}

	for len(pending) > 0 {
		select {
		case res := <-results:
			take(res)
		case <-ctx.Done():
			for len(pending) > 0 {
				select {
				case res := <-results:
					take(res)
				default:
					return
				}
			}
			return
		}
	}
}

// resolveChains dedupes the requested chains, defaulting to every configured chain
func (e *Engine) resolveChains(chains []int64) []int64 {
	if len(chains) == 0 {
		all := e.deps.Chains.Chains()
		ids := make([]int64, 0, len(all))
		for _, c := range all {
			ids = append(ids, c.ID)
		}
		return ids
	}

	seen := make(map[int64]struct{}, len(chains))
	ids := make([]int64, 0, len(chains))
	for _, id := range chains {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// evaluateChain runs the four analyzers of one chain. A failing analyzer never cancels its siblings.
func (e *Engine) evaluateChain(ctx context.Context, info domain.ChainInfo, addr string) chainResult {
	var (
		mu       sync.Mutex
		failures []PartialFailure
		b        = ChainBreakdown{ChainID: info.ID, Chain: info.Name}
	)

	fail := func(a Analyzer, err error) {
		e.deps.Metrics.RecordAnalyzerFailure(info.ID, string(a))
		log.Warn().Err(err).Int64("chain_id", info.ID).Str("analyzer", string(a)).Msg("Analyzer degraded to neutral")

		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, PartialFailure{ChainID: info.ID, Analyzer: a, Reason: reasonOf(err)})
		b.Defaulted = append(b.Defaulted, a)
	}

	// A plain Group: errgroup.WithContext would cancel the siblings of the first failure.
	var g errgroup.Group

	g.Go(func() error {
		timer := e.deps.Metrics.StartStepTimer(string(AnalyzerWallet))
		m, err := e.deps.Wallet.Score(ctx, info.ID, addr)
		if err != nil {
			timer.Stop("error")
			fail(AnalyzerWallet, err)
			return nil
		}
		timer.Stop("ok")
		mu.Lock()
		b.Wallet = &m
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		timer := e.deps.Metrics.StartStepTimer(string(AnalyzerMEV))
		d, err := e.deps.MEV.Analyze(ctx, info.ID, addr)
		if err != nil {
			timer.Stop("error")
			fail(AnalyzerMEV, err)
			return nil
		}
		timer.Stop("ok")
		mu.Lock()
		b.MEV = &d
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		timer := e.deps.Metrics.StartStepTimer(string(AnalyzerLiquidity))
		route, ok, err := e.routeExit(ctx, info, addr)
		if err != nil {
			timer.Stop("error")
			fail(AnalyzerLiquidity, err)
			return nil
		}
		timer.Stop("ok")
		if ok {
			mu.Lock()
			b.Liquidity = &route
			mu.Unlock()
		}
		return nil
	})

	g.Go(func() error {
		timer := e.deps.Metrics.StartStepTimer(string(AnalyzerSupply))
		balances, err := e.deps.Chains.Balances(ctx, info.ID, addr)
		if err == nil {
			var f supply.Findings
			if f, err = e.deps.Supply.Analyze(ctx, info.ID, balances); err == nil {
				timer.Stop("ok")
				mu.Lock()
				b.Supply = &f
				mu.Unlock()
				return nil
			}
		}
		timer.Stop("error")
		fail(AnalyzerSupply, err)
		return nil
	})

	_ = g.Wait()

	sort.Slice(b.Defaulted, func(i, j int) bool { return b.Defaulted[i] < b.Defaulted[j] })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Analyzer < failures[j].Analyzer })

	switch len(b.Defaulted) {
	case 0:
		b.Status = StatusOK
	case 4:
		b.Status = StatusUnavailable
		return chainResult{breakdown: b, failures: failures}
	default:
		b.Status = StatusPartial
	}

	signals := e.signals(b)
	score := ChainScore(e.opts.Scoring.Weights, signals)
	b.Signals = &signals
	b.Score = &score

	return chainResult{breakdown: b, failures: failures}
}

// signals takes analyzer output where present and the configured neutral values otherwise
func (e *Engine) signals(b ChainBreakdown) Signals {
	n := e.opts.Scoring.Neutral
	s := Signals{
		Diversity:      n.Diversity,
		Activity:       n.Activity,
		Risk:           n.Risk.Value(),
		MEVProbability: n.MEVProbability,
	}
	if b.Wallet != nil {
		s.Diversity = b.Wallet.DiversityScore
		s.Activity = b.Wallet.ActivityScore
		s.Risk = b.Wallet.RiskLevel.Value()
	}
	if b.MEV != nil {
		s.MEVProbability = b.MEV.Probability
	}
	return s
}

// routeExit routes a fixed USD amount of the largest holding into the chain's quote token.
// ok is false when the wallet holds nothing routable.
func (e *Engine) routeExit(ctx context.Context, info domain.ChainInfo, addr string) (domain.LiquidityRoute, bool, error) {
	balances, err := e.deps.Chains.Balances(ctx, info.ID, addr)
	if err != nil {
		return domain.LiquidityRoute{}, false, err
	}
	token, ok := largestHolding(balances, info.QuoteToken)
	if !ok || info.QuoteToken == "" {
		return domain.LiquidityRoute{}, false, nil
	}
	route, err := e.deps.Liquidity.RouteUSD(ctx, info.ID, token, info.QuoteToken, decimal.NewFromFloat(e.opts.ExitAmountUSD))
	if err != nil {
		return domain.LiquidityRoute{}, false, err
	}
	return route, true, nil
}

func largestHolding(balances []domain.TokenBalance, exclude string) (string, bool) {
	var (
		best  string
		value decimal.Decimal
	)
	for _, bal := range balances {
		if !bal.ValueUSD.IsPositive() || strings.EqualFold(bal.Token.Address, exclude) {
			continue
		}
		if best == "" || bal.ValueUSD.GreaterThan(value) {
			best, value = bal.Token.Address, bal.ValueUSD
		}
	}
	return best, best != ""
}

// deliver hands the report to the optional sinks. Failures are logged, never returned.
func (e *Engine) deliver(ctx context.Context, report Report) {
	if e.deps.Store == nil && e.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SinkTimeout)
	defer cancel()

	if e.deps.Store != nil {
		if err := e.deps.Store.Save(ctx, report); err != nil {
			log.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to persist report")
		}
	}
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.Publish(ctx, report); err != nil {
			log.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to publish report")
		}
	}
}

func sortReport(r *Report) {
	sort.Slice(r.Breakdown, func(i, j int) bool { return r.Breakdown[i].ChainID < r.Breakdown[j].ChainID })
	sort.SliceStable(r.PartialFailures, func(i, j int) bool {
		return r.PartialFailures[i].ChainID < r.PartialFailures[j].ChainID
	})
}

func reasonOf(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, context.DeadlineExceeded):
		return "evaluation deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "evaluation cancelled"
	default:
		return fmt.Sprint(err)
	}
}
