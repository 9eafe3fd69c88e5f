// Package mev flags sandwich patterns in transaction sequences.
//
// The detector is a heuristic: a front/victim/back triplet in one pool with a shared
// outer sender is how sandwiches look, but arbitrage and market making can produce the
// same shape (false positives), and sandwiches routed through different senders or
// split across pools are missed (false negatives).
package mev

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

// Gateway is the subset of the chain gateway the detector needs
type Gateway interface {
	Transactions(ctx context.Context, chainID int64, address string) ([]domain.Transaction, error)
	PoolTransactions(ctx context.Context, chainID int64, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error)
}

// poolFetchLimit caps concurrent pool window requests of one analysis
const poolFetchLimit = 4

// Detector scans ordered transactions for sandwich triplets
type Detector struct {
	gw  Gateway
	cfg config.MEVConfig
}

// NewDetector creates a detector; gw may be nil when only Detect is used
func NewDetector(gw Gateway, cfg config.MEVConfig) *Detector {
	return &Detector{gw: gw, cfg: cfg}
}

// Analyze fetches a wallet's transactions and reports sandwiches the wallet executed.
// The victim leg of a sandwich is somebody else's transaction, so the history is widened
// with every transaction of the pools the wallet traded in, inside MaxBlockSpan of its trades.
// Being the victim of a sandwich does not count against the wallet.
func (d *Detector) Analyze(ctx context.Context, chainID int64, address string) (domain.MEVDetection, error) {
	if d.gw == nil {
		return domain.MEVDetection{}, fmt.Errorf("detector has no gateway")
	}
	txs, err := d.gw.Transactions(ctx, chainID, address)
	if err != nil {
		return domain.MEVDetection{}, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	windows := d.poolWindows(address, txs)
	fetched := make([][]domain.Transaction, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolFetchLimit)
	for i, w := range windows {
		g.Go(func() error {
			pool, err := d.gw.PoolTransactions(gctx, chainID, w.pool, w.from, w.to)
			if err != nil {
				return fmt.Errorf("failed to fetch pool %s blocks %d-%d: %w", w.pool, w.from, w.to, err)
			}
			fetched[i] = pool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.MEVDetection{}, err
	}

	all := d.Detect(chainID, mergeTransactions(txs, fetched...))
	var own []domain.SandwichMatch
	for _, m := range all.Matches {
		if strings.EqualFold(m.Attacker, address) {
			own = append(own, m)
		}
	}
	return d.summarize(own), nil
}

// blockWindow is an inclusive block range of one pool
type blockWindow struct {
	pool     string
	from, to uint64
}

// poolWindows covers every pool trade sent by address with [block-span, block+span].
// Overlapping or adjacent ranges of a pool are merged; the most recent MaxPoolWindows are kept.
func (d *Detector) poolWindows(address string, txs []domain.Transaction) []blockWindow {
	if d.cfg.MaxPoolWindows <= 0 {
		return nil
	}

	blocks := make(map[string][]uint64)
	for _, tx := range txs {
		pool := strings.ToLower(tx.PoolAddress())
		if pool == "" || !strings.EqualFold(tx.From, address) {
			continue
		}
		blocks[pool] = append(blocks[pool], tx.BlockNumber)
	}

	span := d.cfg.MaxBlockSpan
	var out []blockWindow
	for pool, bs := range blocks {
		sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
		first := len(out)
		for _, b := range bs {
			from := uint64(0)
			if b > span {
				from = b - span
			}
			to := b + span
			if last := len(out) - 1; last >= first && from <= out[last].to+1 {
				out[last].to = max(out[last].to, to)
				continue
			}
			out = append(out, blockWindow{pool: pool, from: from, to: to})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].to != out[j].to {
			return out[i].to > out[j].to
		}
		return out[i].pool < out[j].pool
	})
	if len(out) > d.cfg.MaxPoolWindows {
		out = out[:d.cfg.MaxPoolWindows]
	}
	return out
}

// mergeTransactions concatenates batches, dropping repeated hashes. Transactions without
// a hash cannot be matched and are always kept.
func mergeTransactions(base []domain.Transaction, batches ...[]domain.Transaction) []domain.Transaction {
	seen := make(map[string]struct{}, len(base))
	out := make([]domain.Transaction, 0, len(base))
	add := func(txs []domain.Transaction) {
		for _, tx := range txs {
			if tx.Hash != "" {
				h := strings.ToLower(tx.Hash)
				if _, dup := seen[h]; dup {
					continue
				}
				seen[h] = struct{}{}
			}
			out = append(out, tx)
		}
	}
	add(base)
	for _, b := range batches {
		add(b)
	}
	return out
}

// Detect scans txs (any order) for sandwich triplets. The input is not modified.
func (d *Detector) Detect(chainID int64, txs []domain.Transaction) domain.MEVDetection {
	ordered := domain.SortTransactions(txs)

	byPool := make(map[string][]domain.Transaction)
	for _, tx := range ordered {
		pool := strings.ToLower(tx.PoolAddress())
		if pool == "" {
			continue
		}
		byPool[pool] = append(byPool[pool], tx)
	}

	pools := make([]string, 0, len(byPool))
	for pool := range byPool {
		pools = append(pools, pool)
	}
	sort.Strings(pools)

	var matches []domain.SandwichMatch
	for _, pool := range pools {
		matches = append(matches, d.scanPool(pool, byPool[pool])...)
	}

	return d.summarize(matches)
}

func (d *Detector) scanPool(pool string, seq []domain.Transaction) []domain.SandwichMatch {
	var out []domain.SandwichMatch

	for i := 0; i+2 < len(seq); i++ {
		front, victim, back := seq[i], seq[i+1], seq[i+2]

		if front.From == "" || victim.From == "" || back.From == "" {
			continue
		}
		if !strings.EqualFold(front.From, back.From) || strings.EqualFold(front.From, victim.From) {
			continue
		}
		span := back.BlockNumber - front.BlockNumber
		if back.BlockNumber < front.BlockNumber || span > d.cfg.MaxBlockSpan {
			continue
		}

		kind := domain.MEVSandwich
		if span > 0 {
			kind = domain.MEVMultiBlockSandwich
		}

		out = append(out, domain.SandwichMatch{
			Pool:     pool,
			Attacker: strings.ToLower(front.From),
			Victim:   strings.ToLower(victim.From),
			FrontTx:  front.Hash,
			VictimTx: victim.Hash,
			BackTx:   back.Hash,
			Profit:   back.AmountOut.Sub(front.Value).Shift(-d.cfg.NativeDecimals),
			Type:     kind,
		})
		// consumed triplets are not reused for overlapping matches
		i += 2
	}

	return out
}

// summarize reports the most profitable match. Probability is profit/(2*threshold) capped at 1,
// so a profit just above the threshold scores a little over 0.5.
func (d *Detector) summarize(matches []domain.SandwichMatch) domain.MEVDetection {
	result := domain.MEVDetection{Type: domain.MEVNone, EstimatedProfit: decimal.Zero, Matches: matches}
	if len(matches) == 0 {
		return result
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Profit.GreaterThan(best.Profit) {
			best = m
		}
	}

	threshold := decimal.NewFromFloat(d.cfg.ProfitThreshold)
	result.EstimatedProfit = best.Profit
	result.Attacker = best.Attacker
	if !best.Profit.GreaterThan(threshold) {
		return result
	}

	ratio, _ := best.Profit.Div(threshold.Mul(decimal.NewFromInt(2))).Float64()
	result.Detected = true
	result.Type = best.Type
	result.Probability = math.Min(1, ratio)
	return result
}
