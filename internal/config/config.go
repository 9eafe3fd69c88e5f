package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/eligibility/internal/domain"
)

// Config is the complete engine configuration
type Config struct {
	Chains   []ChainConfig  `yaml:"chains"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Cache    CacheConfig    `yaml:"cache"`
	Router   RouterConfig   `yaml:"router"`
	MEV      MEVConfig      `yaml:"mev"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Supply   SupplyConfig   `yaml:"supply"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// ChainConfig describes one supported network and its endpoints
type ChainConfig struct {
	domain.ChainInfo `yaml:",inline"`
	RPCURL           string  `yaml:"rpc_url"`     // JSON-RPC endpoint for gas data
	IndexerURL       string  `yaml:"indexer_url"` // Mapped-record indexer endpoint
	WSURL            string  `yaml:"ws_url"`      // Optional websocket endpoint for new heads
	RPS              float64 `yaml:"rps"`         // Requests per second
	Burst            int     `yaml:"burst"`       // Burst capacity
	MaxConcurrent    int     `yaml:"max_concurrent"`
}

// GatewayConfig controls per-call timeout and retry policy
type GatewayConfig struct {
	TimeoutMS     int           `yaml:"timeout_ms"`
	RetryAttempts int           `yaml:"retry_attempts"`
	BackoffMS     BackoffConfig `yaml:"backoff_ms"`
	Circuit       CircuitConfig `yaml:"circuit"`
}

// BackoffConfig represents exponential backoff configuration
type BackoffConfig struct {
	Base   int  `yaml:"base"`   // Base backoff in milliseconds
	Max    int  `yaml:"max"`    // Maximum backoff in milliseconds
	Jitter bool `yaml:"jitter"` // Full jitter
}

// CircuitConfig represents circuit breaker configuration
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"` // Consecutive failed calls to open circuit
	OpenTimeoutMS    int `yaml:"open_timeout_ms"`   // Time before a half-open trial call
}

// CacheConfig controls TTLs per key class and the optional Redis tier
type CacheConfig struct {
	DefaultTTLSecs    int            `yaml:"default_ttl_secs"`
	TTLSecs           map[string]int `yaml:"ttl_secs"` // Per key class override
	SweepIntervalSecs int            `yaml:"sweep_interval_secs"`
	MaxEntries        int64          `yaml:"max_entries"`
	RedisAddr         string         `yaml:"redis_addr"`
	RedisPrefix       string         `yaml:"redis_prefix"`
}

// RouterConfig holds liquidity routing parameters
type RouterConfig struct {
	GasLimit                uint64  `yaml:"gas_limit"`
	PriorityFeeGwei         float64 `yaml:"priority_fee_gwei"`
	MinLiquidityUSD         float64 `yaml:"min_liquidity_usd"`
	PriceImpactWarnPct      float64 `yaml:"price_impact_warn_pct"`
	SlippagePct             float64 `yaml:"slippage_pct"`
	HighGasAlertGwei        float64 `yaml:"high_gas_alert_gwei"`
	MaxTransactionAmountUSD float64 `yaml:"max_transaction_amount_usd"`
	ExitAmountUSD           float64 `yaml:"exit_amount_usd"` // Exit-liquidity quote size used by the aggregator
}

// MEVConfig holds sandwich detection parameters
type MEVConfig struct {
	ProfitThreshold float64 `yaml:"profit_threshold"` // Native token units
	NativeDecimals  int32   `yaml:"native_decimals"`
	MaxBlockSpan    uint64  `yaml:"max_block_span"`
	MaxPoolWindows  int     `yaml:"max_pool_windows"` // Pool block windows fetched per analysis; 0 uses the wallet history only
}

// WalletConfig holds diversity/activity/risk parameters
type WalletConfig struct {
	DiversityThreshold    float64 `yaml:"diversity_threshold"`
	ReferenceTokens       int     `yaml:"reference_tokens"`
	TokenAgeThresholdDays int     `yaml:"token_age_threshold_days"`
	MinHolderCount        int     `yaml:"min_holder_count"`
	ActivityHalfLifeDays  float64 `yaml:"activity_half_life_days"`
	ActivitySaturation    float64 `yaml:"activity_saturation"`
}

// SupplyConfig holds supply and correlation parameters
type SupplyConfig struct {
	LiquidityLockPeriodDays int     `yaml:"liquidity_lock_period_days"`
	SupplyTolerance         float64 `yaml:"supply_tolerance"`
	CorrelationThreshold    float64 `yaml:"correlation_threshold"`
	CorrelationWindowHours  int     `yaml:"correlation_window_hours"`
	TopHoldings             int     `yaml:"top_holdings"`
}

// ScoringConfig holds the weighted-sum weights and the neutral values used for failed signals
type ScoringConfig struct {
	Weights           Weights       `yaml:"weights"`
	Neutral           NeutralValues `yaml:"neutral"`
	EvaluateTimeoutMS int           `yaml:"evaluate_timeout_ms"`
}

// Weights of the per-chain linear score
type Weights struct {
	Diversity float64 `yaml:"diversity"`
	Activity  float64 `yaml:"activity"`
	Risk      float64 `yaml:"risk"`
	MEV       float64 `yaml:"mev"`
}

// Sum returns the total weight
func (w Weights) Sum() float64 {
	return w.Diversity + w.Activity + w.Risk + w.MEV
}

// NeutralValues substitute for signals whose analyzer failed
type NeutralValues struct {
	Diversity      float64          `yaml:"diversity"`
	Activity       float64          `yaml:"activity"`
	Risk           domain.RiskLevel `yaml:"risk"`
	MEVProbability float64          `yaml:"mev_probability"`
}

// HTTPConfig holds server configuration
type HTTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// DatabaseConfig holds the optional report store connection settings
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	QueryTimeoutMS int    `yaml:"query_timeout_ms"`
}

// KafkaConfig holds the optional report publisher settings
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the engine defaults
func Default() Config {
	return Config{
		Chains: []ChainConfig{
			{ChainInfo: domain.ChainInfo{ID: 1, Name: "ethereum", NativeSymbol: "ETH", QuoteToken: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}, RPS: 10, Burst: 20, MaxConcurrent: 8},
			{ChainInfo: domain.ChainInfo{ID: 137, Name: "polygon", NativeSymbol: "POL", QuoteToken: "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"}, RPS: 10, Burst: 20, MaxConcurrent: 8},
			{ChainInfo: domain.ChainInfo{ID: 42161, Name: "arbitrum", NativeSymbol: "ETH", QuoteToken: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"}, RPS: 10, Burst: 20, MaxConcurrent: 8},
		},
		Gateway: GatewayConfig{
			TimeoutMS:     30000,
			RetryAttempts: 3,
			BackoffMS:     BackoffConfig{Base: 200, Max: 5000, Jitter: true},
			Circuit:       CircuitConfig{FailureThreshold: 5, OpenTimeoutMS: 30000},
		},
		Cache: CacheConfig{
			DefaultTTLSecs: 60,
			TTLSecs: map[string]int{
				"gas":    15,
				"supply": 600,
				"prices": 300,
			},
			SweepIntervalSecs: 60,
			MaxEntries:        10000,
			RedisPrefix:       "eligibility:",
		},
		Router: RouterConfig{
			GasLimit:                300000,
			PriorityFeeGwei:         2,
			MinLiquidityUSD:         50000,
			PriceImpactWarnPct:      5,
			SlippagePct:             0.5,
			HighGasAlertGwei:        100,
			MaxTransactionAmountUSD: 1000000,
			ExitAmountUSD:           1000,
		},
		MEV: MEVConfig{
			ProfitThreshold: 0.1,
			NativeDecimals:  18,
			MaxBlockSpan:    1,
			MaxPoolWindows:  32,
		},
		Wallet: WalletConfig{
			DiversityThreshold:    0.7,
			ReferenceTokens:       10,
			TokenAgeThresholdDays: 90,
			MinHolderCount:        100,
			ActivityHalfLifeDays:  30,
			ActivitySaturation:    10,
		},
		Supply: SupplyConfig{
			LiquidityLockPeriodDays: 365,
			SupplyTolerance:         0.01,
			CorrelationThreshold:    0.95,
			CorrelationWindowHours:  720,
			TopHoldings:             3,
		},
		Scoring: ScoringConfig{
			Weights:           Weights{Diversity: 0.30, Activity: 0.30, Risk: 0.25, MEV: 0.15},
			Neutral:           NeutralValues{Diversity: 0.5, Activity: 0.5, Risk: domain.RiskMedium, MEVProbability: 0.5},
			EvaluateTimeoutMS: 45000,
		},
		HTTP: HTTPConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeoutMS:  10000,
			WriteTimeoutMS: 60000,
		},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			QueryTimeoutMS: 5000,
		},
		Kafka: KafkaConfig{
			Topic: "eligibility-reports",
		},
	}
}

// Load reads a YAML file on top of the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.ApplyEnv()
		return &cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	seen := make(map[int64]bool)
	for _, ch := range c.Chains {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", ch.ID, err)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate chain id %d", ch.ID)
		}
		seen[ch.ID] = true
	}

	if c.Gateway.TimeoutMS <= 0 {
		return fmt.Errorf("gateway timeout_ms must be positive, got %d", c.Gateway.TimeoutMS)
	}
	if c.Gateway.RetryAttempts <= 0 {
		return fmt.Errorf("gateway retry_attempts must be positive, got %d", c.Gateway.RetryAttempts)
	}
	if err := c.Gateway.BackoffMS.Validate(); err != nil {
		return fmt.Errorf("gateway backoff_ms: %w", err)
	}
	if c.Cache.DefaultTTLSecs <= 0 {
		return fmt.Errorf("cache default_ttl_secs must be positive, got %d", c.Cache.DefaultTTLSecs)
	}
	for class, ttl := range c.Cache.TTLSecs {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl for %s must be positive, got %d", class, ttl)
		}
	}

	if c.Router.GasLimit == 0 {
		return fmt.Errorf("router gas_limit must be positive")
	}
	if c.Router.MinLiquidityUSD < 0 {
		return fmt.Errorf("router min_liquidity_usd cannot be negative")
	}
	if c.Router.SlippagePct < 0 || c.Router.SlippagePct >= 100 {
		return fmt.Errorf("router slippage_pct must be in [0,100), got %f", c.Router.SlippagePct)
	}
	if c.Router.MaxTransactionAmountUSD <= 0 {
		return fmt.Errorf("router max_transaction_amount_usd must be positive")
	}
	if c.MEV.MaxPoolWindows < 0 {
		return fmt.Errorf("mev max_pool_windows must not be negative, got %d", c.MEV.MaxPoolWindows)
	}
	if c.MEV.ProfitThreshold <= 0 {
		return fmt.Errorf("mev profit_threshold must be positive, got %f", c.MEV.ProfitThreshold)
	}
	if c.Wallet.DiversityThreshold < 0 || c.Wallet.DiversityThreshold > 1 {
		return fmt.Errorf("wallet diversity_threshold must be in [0,1], got %f", c.Wallet.DiversityThreshold)
	}
	if c.Wallet.ReferenceTokens < 2 {
		return fmt.Errorf("wallet reference_tokens must be at least 2, got %d", c.Wallet.ReferenceTokens)
	}
	if c.Wallet.ActivityHalfLifeDays <= 0 || c.Wallet.ActivitySaturation <= 0 {
		return fmt.Errorf("wallet activity parameters must be positive")
	}
	if c.Supply.LiquidityLockPeriodDays <= 0 {
		return fmt.Errorf("supply liquidity_lock_period_days must be positive")
	}

	w := c.Scoring.Weights
	if w.Diversity < 0 || w.Activity < 0 || w.Risk < 0 || w.MEV < 0 {
		return fmt.Errorf("scoring weights cannot be negative")
	}
	if w.Sum() <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value")
	}
	if c.Scoring.EvaluateTimeoutMS <= 0 {
		return fmt.Errorf("scoring evaluate_timeout_ms must be positive")
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required when enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when enabled")
	}

	return nil
}

// Validate ensures a chain configuration is valid
func (c *ChainConfig) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if c.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if c.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %f", c.RPS)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	return nil
}

// Validate ensures backoff configuration is valid
func (b *BackoffConfig) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base must be positive, got %d", b.Base)
	}
	if b.Max < b.Base {
		return fmt.Errorf("max (%d) must be >= base (%d)", b.Max, b.Base)
	}
	return nil
}

// RPCTimeout returns the per-attempt gateway timeout
func (g GatewayConfig) RPCTimeout() time.Duration {
	return time.Duration(g.TimeoutMS) * time.Millisecond
}

// CallBudget is the longest one gateway call can take: every attempt timing out plus
// the maximum backoff between attempts
func (g GatewayConfig) CallBudget() time.Duration {
	if g.RetryAttempts <= 0 {
		return g.RPCTimeout()
	}
	backoff := time.Duration(g.BackoffMS.Max) * time.Millisecond
	return time.Duration(g.RetryAttempts)*g.RPCTimeout() + time.Duration(g.RetryAttempts-1)*backoff
}

// GatewayOutlastsDeadline reports whether a hanging endpoint reaches the evaluation
// deadline before the gateway gives up on it. Pending chains are then reported as
// "evaluation deadline exceeded" rather than unavailable.
func (c *Config) GatewayOutlastsDeadline() bool {
	return c.Gateway.CallBudget() >= c.Scoring.EvaluateTimeout()
}

// TTL returns the cache TTL for a key class, falling back to the default
func (c CacheConfig) TTL(class string) time.Duration {
	if secs, ok := c.TTLSecs[class]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.DefaultTTLSecs) * time.Second
}

// EvaluateTimeout returns the overall evaluate deadline
func (s ScoringConfig) EvaluateTimeout() time.Duration {
	return time.Duration(s.EvaluateTimeoutMS) * time.Millisecond
}

// Chain returns the configuration for a chain id
func (c *Config) Chain(id int64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// ChainIDs returns the configured chain ids in configuration order
func (c *Config) ChainIDs() []int64 {
	ids := make([]int64, 0, len(c.Chains))
	for _, ch := range c.Chains {
		ids = append(ids, ch.ID)
	}
	return ids
}
