// Package config loads the control plane's configuration snapshot: the
// read-only bundle of risk limits, strategy weights, correlation groups,
// quarantine thresholds and starting capital that the Orchestrator threads
// into every agent at construction (spec §6). Grounded on the teacher's
// internal/config/config.go Load/setDefaults pattern (spf13/viper), kept
// as-is for the ambient sections (app, log, NATS, redis, monitoring) and
// re-targeted for the trading-domain ones.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/tradectl/controlplane/internal/allocation"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/risk"
	"github.com/tradectl/controlplane/internal/types"
)

// AppConfig holds process-identity and logging settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// BusConfig selects and configures the message bus transport.
type BusConfig struct {
	Driver        string `mapstructure:"driver"` // "memory" or "nats"
	SubjectPrefix string `mapstructure:"subject_prefix"`
	URL           string `mapstructure:"url"` // external nats-server, optional
}

// TelegramConfig configures an additional Telegram-bot alerter, layered
// on top of the always-on structured-log alerter rather than replacing it.
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// VaultConfig configures the optional Vault client used to resolve
// ${vault:path#key} placeholders in VenueAPIKeys before a live venue
// adapter is constructed (see vault.go's SecretResolver). Empty fields
// fall back to Vault's own VAULT_ADDR/VAULT_TOKEN environment handling.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
}

// RedisConfig configures the optional Redis-backed market cache warm store.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MCPServerConfig names one external MCP tool server a signal.mcpbridge
// plug-in can dial.
type MCPServerConfig struct {
	StrategyID string `mapstructure:"strategy_id"`
	ToolName   string `mapstructure:"tool_name"`
	Command    string `mapstructure:"command"`
	URL        string `mapstructure:"url"`
}

// MonitoringConfig configures the Prometheus metrics server.
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig selects the audit trail sink (spec §2.B).
type AuditConfig struct {
	Driver       string `mapstructure:"driver"` // "memory" or "postgres"
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	VaultAddress string `mapstructure:"vault_address"`
}

// RiskLimitsConfig mirrors risk.Limits in a viper/mapstructure-friendly
// shape (decimal.Decimal does not implement the mapstructure hooks viper
// ships by default, so amounts are read as float64 and converted).
type RiskLimitsConfig struct {
	MinConfidenceThreshold  float64 `mapstructure:"min_confidence_threshold"`
	MaxSingleTradeUSD       float64 `mapstructure:"max_single_trade_usd"`
	MaxPositionSizeUSD      float64 `mapstructure:"max_position_size_usd"`
	MaxPortfolioExposureUSD float64 `mapstructure:"max_portfolio_exposure_usd"`
	MaxDailyLossUSD         float64 `mapstructure:"max_daily_loss_usd"`
	MaxConcentrationPct     float64 `mapstructure:"max_concentration_pct"`
}

func (c RiskLimitsConfig) toLimits() risk.Limits {
	return risk.Limits{
		MinConfidenceThreshold:  c.MinConfidenceThreshold,
		MaxSingleTradeUSD:       decimal.NewFromFloat(c.MaxSingleTradeUSD),
		MaxPositionSizeUSD:      decimal.NewFromFloat(c.MaxPositionSizeUSD),
		MaxPortfolioExposureUSD: decimal.NewFromFloat(c.MaxPortfolioExposureUSD),
		MaxDailyLossUSD:         decimal.NewFromFloat(c.MaxDailyLossUSD),
		MaxConcentrationPct:     c.MaxConcentrationPct,
	}
}

// QuarantineThresholdsConfig mirrors allocation.QuarantineThresholds.
type QuarantineThresholdsConfig struct {
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct"`
	MaxLossStreak  int     `mapstructure:"max_loss_streak"`
	MinExpectancy  float64 `mapstructure:"min_expectancy"`
	MaxAvgSlippage float64 `mapstructure:"max_avg_slippage"`
	MinTradesForEV int     `mapstructure:"min_trades_for_ev"`
}

func (c QuarantineThresholdsConfig) toThresholds() allocation.QuarantineThresholds {
	return allocation.QuarantineThresholds{
		MaxDrawdownPct: c.MaxDrawdownPct,
		MaxLossStreak:  c.MaxLossStreak,
		MinExpectancy:  c.MinExpectancy,
		MaxAvgSlippage: c.MaxAvgSlippage,
		MinTradesForEV: c.MinTradesForEV,
	}
}

// TradingConfig is the spec §6 persisted-state bundle: base_strategy_weights,
// correlation_groups, quarantine_thresholds and total_capital, plus the
// regime multiplier table allocation.Agent needs to apply them.
type TradingConfig struct {
	TotalCapitalUSD         float64                      `mapstructure:"total_capital_usd"`
	CashReservePct          float64                      `mapstructure:"cash_reserve_pct"`
	BaseStrategyWeights     map[string]float64           `mapstructure:"base_strategy_weights"`
	RegimeMultipliers       map[string]float64           `mapstructure:"regime_multipliers"`
	CorrelationGroups       map[string][]string          `mapstructure:"correlation_groups"`
	CorrelationPairThreshold float64                     `mapstructure:"correlation_pair_threshold"`
	QuarantineThresholds    QuarantineThresholdsConfig    `mapstructure:"quarantine_thresholds"`
	ReallocationInterval    time.Duration                `mapstructure:"reallocation_interval"`
	VenueAPIKeys            map[string]string            `mapstructure:"venue_api_keys"`
}

// Config is the root of the loaded configuration file/environment.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Vault      VaultConfig       `mapstructure:"vault"`
	Telegram   TelegramConfig    `mapstructure:"telegram"`
	Bus        BusConfig         `mapstructure:"bus"`
	Redis      RedisConfig       `mapstructure:"redis"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
	Monitoring MonitoringConfig  `mapstructure:"monitoring"`
	Audit      AuditConfig       `mapstructure:"audit"`
	RiskLimits RiskLimitsConfig  `mapstructure:"risk_limits"`
	Trading    TradingConfig     `mapstructure:"trading"`
}

// Snapshot is the read-only, domain-typed view the Orchestrator hands to
// each agent constructor -- the spec §6 configuration snapshot
// ({risk_limits, base_strategy_weights, correlation_groups,
// quarantine_thresholds, total_capital}) converted out of the
// mapstructure-friendly Config into the exact types each agent expects.
type Snapshot struct {
	RiskLimits        risk.Limits
	AllocationConfig  allocation.Config
	CorrelationGroups marketcache.CorrelationGroups
}

// ToSnapshot converts the loaded Config into the domain snapshot the
// agents consume.
func (c Config) ToSnapshot() Snapshot {
	groups := marketcache.CorrelationGroups(c.Trading.CorrelationGroups)

	regimeMult := make(map[types.Regime]float64, len(c.Trading.RegimeMultipliers))
	for k, v := range c.Trading.RegimeMultipliers {
		regimeMult[types.Regime(k)] = v
	}

	reallocInterval := c.Trading.ReallocationInterval
	if reallocInterval <= 0 {
		reallocInterval = allocation.DefaultConfig().ReallocationInterval
	}

	allocCfg := allocation.Config{
		BaseWeights:                 c.Trading.BaseStrategyWeights,
		RegimeMultipliers:           regimeMult,
		ReallocationInterval:        reallocInterval,
		RiskBudgetFraction:          allocation.DefaultConfig().RiskBudgetFraction,
		ExposureCapLeverage:         allocation.DefaultConfig().ExposureCapLeverage,
		CorrelationGroups:          groups,
		CorrelationPenaltyPerMember: allocation.DefaultConfig().CorrelationPenaltyPerMember,
		MaxCorrelationPenalty:      allocation.DefaultConfig().MaxCorrelationPenalty,
		Thresholds:                 c.Trading.QuarantineThresholds.toThresholds(),
	}

	return Snapshot{
		RiskLimits:        c.RiskLimits.toLimits(),
		AllocationConfig:  allocCfg,
		CorrelationGroups: groups,
	}
}

// TotalCapital returns the configured starting capital as a decimal.
func (c Config) TotalCapital() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.TotalCapitalUSD)
}

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed TRADECTL_, and falls back to setDefaults for anything
// unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradectl")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.subject_prefix", "tradectl")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.port", 9090)

	v.SetDefault("audit.driver", "memory")

	v.SetDefault("risk_limits.min_confidence_threshold", 0.6)
	v.SetDefault("risk_limits.max_single_trade_usd", 10_000.0)
	v.SetDefault("risk_limits.max_position_size_usd", 50_000.0)
	v.SetDefault("risk_limits.max_portfolio_exposure_usd", 200_000.0)
	v.SetDefault("risk_limits.max_daily_loss_usd", 20_000.0)
	v.SetDefault("risk_limits.max_concentration_pct", 0.35)

	v.SetDefault("trading.total_capital_usd", 100_000.0)
	v.SetDefault("trading.cash_reserve_pct", 0.30)
	v.SetDefault("trading.base_strategy_weights", map[string]float64{
		"trend_following":   0.30,
		"mean_reversion":    0.25,
		"funding_arbitrage": 0.20,
		"momentum":          0.15,
		"breakout":          0.10,
	})
	v.SetDefault("trading.regime_multipliers", map[string]float64{
		"trending": 1.0,
		"ranging":  0.8,
		"choppy":   0.5,
		"volatile": 0.3,
		"crisis":   0.0,
	})
	v.SetDefault("trading.correlation_groups", map[string][]string{
		"trend_momentum_breakout": {"trend_following", "momentum", "breakout"},
	})
	v.SetDefault("trading.correlation_pair_threshold", 0.7)
	v.SetDefault("trading.reallocation_interval", 15*time.Minute)

	v.SetDefault("trading.quarantine_thresholds.max_drawdown_pct", 0.15)
	v.SetDefault("trading.quarantine_thresholds.max_loss_streak", 5)
	v.SetDefault("trading.quarantine_thresholds.min_expectancy", 0.0)
	v.SetDefault("trading.quarantine_thresholds.max_avg_slippage", 0.003)
	v.SetDefault("trading.quarantine_thresholds.min_trades_for_ev", 10)
}

// Validate checks the loaded configuration for internally-inconsistent
// values the zero-value defaults wouldn't catch.
func (c Config) Validate() error {
	if c.Trading.TotalCapitalUSD <= 0 {
		return fmt.Errorf("trading.total_capital_usd must be positive")
	}
	if c.Trading.CashReservePct < 0 || c.Trading.CashReservePct >= 1 {
		return fmt.Errorf("trading.cash_reserve_pct must be in [0,1)")
	}
	if len(c.Trading.BaseStrategyWeights) == 0 {
		return fmt.Errorf("trading.base_strategy_weights must not be empty")
	}
	sum := 0.0
	for _, w := range c.Trading.BaseStrategyWeights {
		if w < 0 {
			return fmt.Errorf("trading.base_strategy_weights must be non-negative")
		}
		sum += w
	}
	if sum > 1.0001 {
		return fmt.Errorf("trading.base_strategy_weights must sum to at most 1.0, got %.4f", sum)
	}
	if c.Monitoring.Enabled && c.Monitoring.Port <= 0 {
		return fmt.Errorf("monitoring.port must be positive when monitoring is enabled")
	}
	return nil
}
