package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/chain"
	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/eligibility"
	"github.com/sawpanic/eligibility/internal/infrastructure/db"
	"github.com/sawpanic/eligibility/internal/infrastructure/httpclient"
	"github.com/sawpanic/eligibility/internal/liquidity"
	"github.com/sawpanic/eligibility/internal/metrics"
	"github.com/sawpanic/eligibility/internal/mev"
	"github.com/sawpanic/eligibility/internal/publish"
	"github.com/sawpanic/eligibility/internal/supply"
	"github.com/sawpanic/eligibility/internal/wallet"
)

// app owns every shared component for the lifetime of one command
type app struct {
	cfg      *config.Config
	metrics  *metrics.Registry
	cache    *cache.Cache
	pool     *httpclient.ClientPool
	gateway  *chain.Gateway
	heads    []*chain.HeadWatcher
	database *db.Manager
	producer *publish.Producer
	engine   *eligibility.Engine

	closers []func() error
}

// buildOptions.sinks connects the report store and publisher. The gas command skips them.
type buildOptions struct {
	sinks bool
}

func buildApp(ctx context.Context, cfg *config.Config, opts buildOptions) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	if cfg.GatewayOutlastsDeadline() {
		log.Warn().
			Dur("gateway_budget", cfg.Gateway.CallBudget()).
			Dur("evaluate_timeout", cfg.Scoring.EvaluateTimeout()).
			Msg("Hanging endpoints will hit the evaluation deadline before the gateway reports them unavailable")
	}

	cacheOpts := cache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: time.Duration(cfg.Cache.SweepIntervalSecs) * time.Second,
		Observer:      a.metrics,
		// the flight outlives its first caller, so bound it by the gateway's own budget
		ComputeTimeout: cfg.Gateway.CallBudget(),
	}
	if cfg.Cache.RedisAddr != "" {
		client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable, using in-process cache only")
		} else {
			cacheOpts.Remote = cache.NewRedisTier(client, cfg.Cache.RedisPrefix)
			a.closers = append(a.closers, client.Close)
		}
	}
	a.cache = cache.New(cacheOpts)
	a.closers = append(a.closers, func() error { a.cache.Stop(); return nil })

	a.pool = httpclient.NewClientPool(httpclient.DefaultConfig())
	a.closers = append(a.closers, func() error { a.pool.CloseIdleConnections(); return nil })
	client := a.pool.Client()

	endpoints := make([]chain.Endpoint, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		if ch.RPCURL == "" || ch.IndexerURL == "" {
			log.Warn().Int64("chain_id", ch.ID).Msg("Chain has no RPC or indexer endpoint; set RPC_URL_<id> and INDEXER_URL_<id>")
		}
		endpoints = append(endpoints, chain.Endpoint{
			Chain:  ch,
			Source: chain.NewHTTPSource(ch.ID, ch.RPCURL, ch.IndexerURL, client),
		})
	}
	a.gateway = chain.NewGateway(chain.Options{
		Config:   cfg.Gateway,
		Cache:    a.cache,
		TTL:      cfg.Cache.TTL,
		Observer: a.metrics,
	}, endpoints...)

	for _, ch := range cfg.Chains {
		if ch.WSURL != "" {
			a.heads = append(a.heads, chain.NewHeadWatcher(ch.ID, ch.WSURL, a.gateway))
		}
	}

	deps := eligibility.Deps{
		Chains:    a.gateway,
		Wallet:    wallet.NewScorer(a.gateway, cfg.Wallet),
		MEV:       mev.NewDetector(a.gateway, cfg.MEV),
		Liquidity: liquidity.NewRouter(a.gateway, cfg.Router),
		Supply:    supply.NewAnalyzer(a.gateway, cfg.Supply),
		Metrics:   a.metrics,
	}

	if opts.sinks {
		if err := a.connectSinks(ctx, &deps); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.engine = eligibility.NewEngine(deps, eligibility.Options{
		Scoring:       cfg.Scoring,
		ExitAmountUSD: cfg.Router.ExitAmountUSD,
	})
	return a, nil
}

func (a *app) connectSinks(ctx context.Context, deps *eligibility.Deps) error {
	manager, err := db.NewManager(db.FromSettings(a.cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect report store: %w", err)
	}
	a.database = manager
	a.closers = append(a.closers, manager.Close)

	if manager.IsEnabled() {
		if err := manager.Migrate(ctx); err != nil {
			return err
		}
		deps.Store = manager.Repository().Reports
	}

	if a.cfg.Kafka.Enabled {
		producer, err := publish.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("failed to create report publisher: %w", err)
		}
		a.producer = producer
		a.closers = append(a.closers, producer.Close)
		deps.Publisher = producer
	}
	return nil
}

// runHeadWatchers keeps gas caches fresh from websocket heads until ctx ends
func (a *app) runHeadWatchers(ctx context.Context) {
	for _, w := range a.heads {
		go func(w *chain.HeadWatcher) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Head watcher stopped")
			}
		}(w)
	}
}

// Close releases components in reverse construction order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
	a.closers = nil
}
