package chain

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/net/ratelimit"
)

// Observer receives per-call outcomes
type Observer interface {
	RecordGatewayCall(chainID int64, op, outcome string, elapsed time.Duration)
	RecordGatewayRetry(chainID int64, op string)
}

// Endpoint pairs a chain configuration with the source serving it
type Endpoint struct {
	Chain  config.ChainConfig
	Source Source
}

// Options configures a Gateway
type Options struct {
	Config   config.GatewayConfig
	Cache    *cache.Cache                     // optional
	TTL      func(class string) time.Duration // required when Cache is set
	Observer Observer                         // optional
}

// pool is the shared per-chain resource set every call goes through
type pool struct {
	info    domain.ChainInfo
	source  Source
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
}

// Gateway is the single entry point for remote chain data. The pool set is fixed
// at construction, so it is safe for concurrent use without locking.
type Gateway struct {
	cfg      config.GatewayConfig
	pools    map[int64]*pool
	order    []int64
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	ttl      func(class string) time.Duration
	observer Observer
}

// NewGateway builds one pool per endpoint
func NewGateway(opts Options, endpoints ...Endpoint) *Gateway {
	g := &Gateway{
		cfg:      opts.Config,
		pools:    make(map[int64]*pool, len(endpoints)),
		limiter:  ratelimit.NewLimiter(10, 20),
		cache:    opts.Cache,
		ttl:      opts.TTL,
		observer: opts.Observer,
	}
	if g.ttl == nil {
		g.ttl = func(string) time.Duration { return time.Minute }
	}

	for _, ep := range endpoints {
		ch := ep.Chain
		maxConcurrent := int64(ch.MaxConcurrent)
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		if ch.RPS > 0 && ch.Burst > 0 {
			g.limiter.Configure(ch.ID, ch.RPS, ch.Burst)
		}
		g.pools[ch.ID] = &pool{
			info:    ch.ChainInfo,
			source:  ep.Source,
			sem:     semaphore.NewWeighted(maxConcurrent),
			breaker: newBreaker(ch.ID, opts.Config.Circuit),
		}
		g.order = append(g.order, ch.ID)
	}

	return g
}

// Chains returns the supported chains in registration order
func (g *Gateway) Chains() []domain.ChainInfo {
	out := make([]domain.ChainInfo, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.pools[id].info)
	}
	return out
}

// Supported reports whether chainID has a registered endpoint
func (g *Gateway) Supported(chainID int64) bool {
	_, ok := g.pools[chainID]
	return ok
}

// Info returns the metadata of a supported chain
func (g *Gateway) Info(chainID int64) (domain.ChainInfo, bool) {
	p, ok := g.pools[chainID]
	if !ok {
		return domain.ChainInfo{}, false
	}
	return p.info, true
}

// BreakerStates reports the circuit state per chain, keyed by chain id
func (g *Gateway) BreakerStates() map[int64]string {
	ids := make([]int64, 0, len(g.pools))
	for id := range g.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		out[id] = g.pools[id].breaker.State().String()
	}
	return out
}

// Limiter exposes the per-chain rate limiter for diagnostics
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// GasPrice returns the current gas quote for a chain
func (g *Gateway) GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error) {
	return call(ctx, g, chainID, RequestGas, cache.Key(string(RequestGas), chainID),
		func(ctx context.Context, s Source) (domain.GasPrice, error) {
			return s.GasPrice(ctx)
		})
}

// Balances returns the mapped token holdings of a wallet
func (g *Gateway) Balances(ctx context.Context, chainID int64, address string) ([]domain.TokenBalance, error) {
	return call(ctx, g, chainID, RequestBalances, cache.Key(string(RequestBalances), chainID, address),
		func(ctx context.Context, s Source) ([]domain.TokenBalance, error) {
			return s.Balances(ctx, address)
		})
}

// Transactions returns the transaction history touching a wallet
func (g *Gateway) Transactions(ctx context.Context, chainID int64, address string) ([]domain.Transaction, error) {
	return call(ctx, g, chainID, RequestTransactions, cache.Key(string(RequestTransactions), chainID, address),
		func(ctx context.Context, s Source) ([]domain.Transaction, error) {
			return s.Transactions(ctx, address)
		})
}

// Venues returns the candidate pools for a token pair
func (g *Gateway) Venues(ctx context.Context, chainID int64, tokenIn, tokenOut string) ([]domain.Venue, error) {
	return call(ctx, g, chainID, RequestVenues, cache.Key(string(RequestVenues), chainID, tokenIn, tokenOut),
		func(ctx context.Context, s Source) ([]domain.Venue, error) {
			return s.Venues(ctx, tokenIn, tokenOut)
		})
}

// Supply returns the supply snapshot of a token
func (g *Gateway) Supply(ctx context.Context, chainID int64, token string) (domain.SupplyRecord, error) {
	return call(ctx, g, chainID, RequestSupply, cache.Key(string(RequestSupply), chainID, token),
		func(ctx context.Context, s Source) (domain.SupplyRecord, error) {
			return s.Supply(ctx, token)
		})
}

// PriceSeries returns price samples of a token inside [from, to]
func (g *Gateway) PriceSeries(ctx context.Context, chainID int64, token string, from, to time.Time) ([]domain.PricePoint, error) {
	key := cache.Key(string(RequestPrices), chainID, token, from.Unix(), to.Unix())
	return call(ctx, g, chainID, RequestPrices, key,
		func(ctx context.Context, s Source) ([]domain.PricePoint, error) {
			return s.PriceSeries(ctx, token, from, to)
		})
}

// PoolTransactions returns every transaction that touched a pool inside the inclusive block window
func (g *Gateway) PoolTransactions(ctx context.Context, chainID int64, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	key := cache.Key(string(RequestPoolTxs), chainID, pool, fromBlock, toBlock)
	return call(ctx, g, chainID, RequestPoolTxs, key,
		func(ctx context.Context, s Source) ([]domain.Transaction, error) {
			return s.PoolTransactions(ctx, pool, fromBlock, toBlock)
		})
}

// Invalidate drops a cached response from every cache tier so the next call refetches it
func (g *Gateway) Invalidate(ctx context.Context, key string) {
	if g.cache != nil {
		g.cache.Invalidate(ctx, key)
	}
}

func call[T any](ctx context.Context, g *Gateway, chainID int64, kind RequestKind, key string, fn func(context.Context, Source) (T, error)) (T, error) {
	var zero T

	p, ok := g.pools[chainID]
	if !ok {
		return zero, &GatewayError{Kind: KindUnsupportedChain, ChainID: chainID, Op: string(kind)}
	}

	return cache.Fetch(ctx, g.cache, key, g.ttl(string(kind)), func(ctx context.Context) (T, error) {
		v, err := g.execute(ctx, p, kind, func(ctx context.Context, s Source) (any, error) {
			return fn(ctx, s)
		})
		if err != nil {
			return zero, err
		}
		return v.(T), nil
	})
}

type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateFailed
	stateSucceeded
)

// execute drives one call through Attempting(n) -> Backoff(n) -> ... -> Succeeded | Failed
func (g *Gateway) execute(ctx context.Context, p *pool, kind RequestKind, fn func(context.Context, Source) (any, error)) (any, error) {
	chainID := p.info.ID
	op := string(kind)
	maxAttempts := g.cfg.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	state := stateAttempting
	attempt := 1

	var (
		result  any
		lastErr error
		errKind ErrorKind
	)

	for {
		switch state {
		case stateAttempting:
			v, err := g.attempt(ctx, p, fn)
			if err == nil {
				result = v
				state = stateSucceeded
				continue
			}

			lastErr = err
			var retryable bool
			errKind, retryable = classify(ctx, err)

			log.Debug().
				Int64("chain_id", chainID).
				Str("op", op).
				Int("attempt", attempt).
				Str("kind", errKind.String()).
				Err(err).
				Msg("gateway attempt failed")

			switch {
			case !retryable:
				state = stateFailed
			case attempt >= maxAttempts:
				errKind = KindUnavailable
				state = stateFailed
			default:
				state = stateBackoff
			}

		case stateBackoff:
			if g.observer != nil {
				g.observer.RecordGatewayRetry(chainID, op)
			}
			timer := time.NewTimer(g.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				errKind = KindUnavailable
				state = stateFailed
			case <-timer.C:
				attempt++
				state = stateAttempting
			}

		case stateSucceeded:
			g.observe(chainID, op, "success", start)
			return result, nil

		case stateFailed:
			g.observe(chainID, op, errKind.String(), start)
			if errKind == KindUnavailable && attempt >= maxAttempts {
				log.Warn().Int64("chain_id", chainID).Str("op", op).Int("attempts", attempt).Err(lastErr).Msg("gateway retries exhausted")
			}
			return nil, &GatewayError{Kind: errKind, ChainID: chainID, Op: op, Attempts: attempt, Err: lastErr}
		}
	}
}

func (g *Gateway) attempt(ctx context.Context, p *pool, fn func(context.Context, Source) (any, error)) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	if err := g.limiter.Wait(ctx, p.info.ID); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RPCTimeout())
	defer cancel()

	return p.breaker.Execute(func() (interface{}, error) {
		return fn(attemptCtx, p.source)
	})
}

// backoff returns the wait before attempt n+1: base*2^(n-1) capped at max, with full jitter
func (g *Gateway) backoff(attempt int) time.Duration {
	base := time.Duration(g.cfg.BackoffMS.Base) * time.Millisecond
	maxWait := time.Duration(g.cfg.BackoffMS.Max) * time.Millisecond
	if base <= 0 {
		return 0
	}

	d := base << uint(attempt-1)
	if d <= 0 || (maxWait > 0 && d > maxWait) {
		d = maxWait
	}
	if g.cfg.BackoffMS.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

func (g *Gateway) observe(chainID int64, op, outcome string, start time.Time) {
	if g.observer != nil {
		g.observer.RecordGatewayCall(chainID, op, outcome, time.Since(start))
	}
}

// classify maps a raw attempt error to a kind and whether it is worth retrying.
// parent is the caller's context: once it is done nothing is retried.
func classify(parent context.Context, err error) (ErrorKind, bool) {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse, false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindUnavailable, false
	case parent.Err() != nil:
		return KindUnavailable, false
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return KindUnavailable, se.StatusCode >= 500 || se.StatusCode == 429
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout, true
		}
		return KindUnavailable, true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindUnavailable, true
	}

	return KindUnavailable, false
}
