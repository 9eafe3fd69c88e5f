package config

import (
	"github.com/spf13/pflag"
)

// Overrides holds command-line values that take precedence over the YAML file.
// Only flags explicitly set on the command line are applied.
type Overrides struct {
	fs *pflag.FlagSet

	gasLimit           uint64
	priorityFeeGwei    float64
	rpcTimeoutMS       int
	retryAttempts      int
	cacheTTLSecs       int
	slippagePct        float64
	minLiquidityUSD    float64
	priceImpactWarnPct float64
	highGasAlertGwei   float64
	diversityThreshold float64
	mevProfitThreshold float64
	tokenAgeDays       int
	minHolderCount     int
	lockPeriodDays     int
	maxTxAmountUSD     float64
	evaluateTimeoutMS  int
	redisAddr          string
}

// BindFlags registers one flag per recognized configuration option
func BindFlags(fs *pflag.FlagSet) *Overrides {
	d := Default()
	o := &Overrides{fs: fs}

	fs.Uint64Var(&o.gasLimit, "gas-limit", d.Router.GasLimit, "Gas limit used for route cost estimates")
	fs.Float64Var(&o.priorityFeeGwei, "priority-fee-gwei", d.Router.PriorityFeeGwei, "Priority fee in gwei")
	fs.IntVar(&o.rpcTimeoutMS, "rpc-timeout-ms", d.Gateway.TimeoutMS, "Per-attempt RPC timeout in milliseconds")
	fs.IntVar(&o.retryAttempts, "retry-attempts", d.Gateway.RetryAttempts, "Gateway attempts per call")
	fs.IntVar(&o.cacheTTLSecs, "cache-ttl", d.Cache.DefaultTTLSecs, "Default cache TTL in seconds")
	fs.Float64Var(&o.slippagePct, "slippage-pct", d.Router.SlippagePct, "Slippage tolerance for execution quotes (percent)")
	fs.Float64Var(&o.minLiquidityUSD, "min-liquidity-usd", d.Router.MinLiquidityUSD, "Minimum venue liquidity in USD")
	fs.Float64Var(&o.priceImpactWarnPct, "price-impact-warn-pct", d.Router.PriceImpactWarnPct, "Price impact warning threshold (percent)")
	fs.Float64Var(&o.highGasAlertGwei, "high-gas-alert-gwei", d.Router.HighGasAlertGwei, "Gas price alert threshold in gwei")
	fs.Float64Var(&o.diversityThreshold, "diversity-threshold", d.Wallet.DiversityThreshold, "Wallet diversity threshold [0,1]")
	fs.Float64Var(&o.mevProfitThreshold, "mev-profit-threshold", d.MEV.ProfitThreshold, "MEV profit threshold in native token units")
	fs.IntVar(&o.tokenAgeDays, "token-age-days", d.Wallet.TokenAgeThresholdDays, "Token age threshold in days")
	fs.IntVar(&o.minHolderCount, "min-holders", d.Wallet.MinHolderCount, "Minimum token holder count")
	fs.IntVar(&o.lockPeriodDays, "lock-period-days", d.Supply.LiquidityLockPeriodDays, "Liquidity lock period in days")
	fs.Float64Var(&o.maxTxAmountUSD, "max-tx-usd", d.Router.MaxTransactionAmountUSD, "Upper bound on simulated trade size in USD")
	fs.IntVar(&o.evaluateTimeoutMS, "evaluate-timeout-ms", d.Scoring.EvaluateTimeoutMS, "Overall evaluation deadline in milliseconds")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "Optional Redis address for the shared cache tier")

	return o
}

// Apply copies every explicitly set flag into cfg and re-validates it
func (o *Overrides) Apply(cfg *Config) error {
	set := func(name string, fn func()) {
		if o.fs.Changed(name) {
			fn()
		}
	}

	set("gas-limit", func() { cfg.Router.GasLimit = o.gasLimit })
	set("priority-fee-gwei", func() { cfg.Router.PriorityFeeGwei = o.priorityFeeGwei })
	set("rpc-timeout-ms", func() { cfg.Gateway.TimeoutMS = o.rpcTimeoutMS })
	set("retry-attempts", func() { cfg.Gateway.RetryAttempts = o.retryAttempts })
	set("cache-ttl", func() { cfg.Cache.DefaultTTLSecs = o.cacheTTLSecs })
	set("slippage-pct", func() { cfg.Router.SlippagePct = o.slippagePct })
	set("min-liquidity-usd", func() { cfg.Router.MinLiquidityUSD = o.minLiquidityUSD })
	set("price-impact-warn-pct", func() { cfg.Router.PriceImpactWarnPct = o.priceImpactWarnPct })
	set("high-gas-alert-gwei", func() { cfg.Router.HighGasAlertGwei = o.highGasAlertGwei })
	set("diversity-threshold", func() { cfg.Wallet.DiversityThreshold = o.diversityThreshold })
	set("mev-profit-threshold", func() { cfg.MEV.ProfitThreshold = o.mevProfitThreshold })
	set("token-age-days", func() { cfg.Wallet.TokenAgeThresholdDays = o.tokenAgeDays })
	set("min-holders", func() { cfg.Wallet.MinHolderCount = o.minHolderCount })
	set("lock-period-days", func() { cfg.Supply.LiquidityLockPeriodDays = o.lockPeriodDays })
	set("max-tx-usd", func() { cfg.Router.MaxTransactionAmountUSD = o.maxTxAmountUSD })
	set("evaluate-timeout-ms", func() { cfg.Scoring.EvaluateTimeoutMS = o.evaluateTimeoutMS })
	set("redis-addr", func() { cfg.Cache.RedisAddr = o.redisAddr })

	return cfg.Validate()
}
