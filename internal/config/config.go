// Package config defines all configuration for the paper-trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via KALSHI_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Exchange    ExchangeConfig  `mapstructure:"exchange"`
	Sports      SportsConfig    `mapstructure:"sports"`
	Intervals   IntervalsConfig `mapstructure:"intervals"`
	Discovery   DiscoveryConfig `mapstructure:"discovery"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Store       StoreConfig     `mapstructure:"store"`
	API         APIConfig       `mapstructure:"api"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ExchangeConfig holds prediction-market exchange endpoints and credentials.
// The private key is an RSA PEM used for RSA-PSS request signing; a key with
// literal "\n" sequences (as injected by most secret managers) is normalized
// before parsing.
type ExchangeConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	WSURL         string  `mapstructure:"ws_url"`
	APIKeyID      string  `mapstructure:"api_key_id"`
	PrivateKeyPEM string  `mapstructure:"private_key_pem"`
	RateLimit     float64 `mapstructure:"rate_limit"` // requests per second
	RateBurst     int     `mapstructure:"rate_burst"`
	UseWebsocket  bool    `mapstructure:"use_websocket"`
}

// SportsConfig holds the sports/odds provider endpoint and key.
type SportsConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	RateBurst int     `mapstructure:"rate_burst"`
}

// IntervalsConfig controls the polling cadences. The aggregator ticks at
// 1 Hz; sports and odds refreshes fire every N ticks for live games.
// Scheduled games poll sports at ScheduledMultiple x the sports interval.
type IntervalsConfig struct {
	SportsTicks       int           `mapstructure:"sports_ticks"`
	OddsTicks         int           `mapstructure:"odds_ticks"`
	ScheduledMultiple int           `mapstructure:"scheduled_multiple"`
	StrategyEval      time.Duration `mapstructure:"strategy_eval"`
	PnLRefresh        time.Duration `mapstructure:"pnl_refresh"`
}

// DiscoveryConfig controls periodic scanning of the exchange for NBA game
// events. Discovered games are persisted and, with AutoLoad set, loaded into
// the aggregator as they appear.
type DiscoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SeriesTickers []string      `mapstructure:"series_tickers"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	AutoLoad      bool          `mapstructure:"auto_load"`
	MinVolume     int64         `mapstructure:"min_volume"`
}

// RiskConfig sets the pre-trade gate limits. Monetary limits are in cents.
type RiskConfig struct {
	MaxContractsPerMarket int64 `mapstructure:"max_contracts_per_market"`
	MaxContractsPerGame   int64 `mapstructure:"max_contracts_per_game"`
	MaxTotalContracts     int64 `mapstructure:"max_total_contracts"`
	MaxDailyLoss          int64 `mapstructure:"max_daily_loss"`
	MaxWeeklyLoss         int64 `mapstructure:"max_weekly_loss"`
	MaxPerTradeRisk       int64 `mapstructure:"max_per_trade_risk"`
	MaxTotalExposure      int64 `mapstructure:"max_total_exposure"`
	MaxExposurePerGame    int64 `mapstructure:"max_exposure_per_game"`
	MaxExposurePerStrat   int64 `mapstructure:"max_exposure_per_strategy"`
	MaxOrdersPerDay       int64 `mapstructure:"max_orders_per_day"`
	MaxOrdersPerHour      int64 `mapstructure:"max_orders_per_hour"`
	LossStreakCooldown    int64 `mapstructure:"loss_streak_cooldown"`
}

// ExecutionConfig bounds the simulated fill pipeline independently of the
// risk gate.
type ExecutionConfig struct {
	MaxDailyOrders  int64 `mapstructure:"max_daily_orders"`
	MaxPositionSize int64 `mapstructure:"max_position_size"`
}

// StoreConfig sets the SQLite database location.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig controls the HTTP control surface.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Secrets use env vars: KALSHI_API_KEY_ID, KALSHI_PRIVATE_KEY_PEM,
// KALSHI_SPORTS_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KALSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("KALSHI_API_KEY_ID"); key != "" {
		cfg.Exchange.APIKeyID = key
	}
	if pem := os.Getenv("KALSHI_PRIVATE_KEY_PEM"); pem != "" {
		cfg.Exchange.PrivateKeyPEM = pem
	}
	if key := os.Getenv("KALSHI_SPORTS_API_KEY"); key != "" {
		cfg.Sports.APIKey = key
	}

	cfg.Exchange.PrivateKeyPEM = strings.ReplaceAll(cfg.Exchange.PrivateKeyPEM, `\n`, "\n")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("exchange.rate_limit", 8.0)
	v.SetDefault("exchange.rate_burst", 16)
	v.SetDefault("exchange.use_websocket", true)
	v.SetDefault("sports.rate_limit", 4.0)
	v.SetDefault("sports.rate_burst", 8)
	v.SetDefault("intervals.sports_ticks", 5)
	v.SetDefault("intervals.odds_ticks", 30)
	v.SetDefault("intervals.scheduled_multiple", 6)
	v.SetDefault("intervals.strategy_eval", 10*time.Second)
	v.SetDefault("intervals.pnl_refresh", 30*time.Second)
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.series_tickers", []string{"KXNBAGAME", "KXNBASPREAD", "KXNBATOTAL"})
	v.SetDefault("discovery.poll_interval", 5*time.Minute)
	v.SetDefault("discovery.auto_load", false)
	v.SetDefault("discovery.min_volume", 0)
	v.SetDefault("risk.max_contracts_per_market", 100)
	v.SetDefault("risk.max_contracts_per_game", 200)
	v.SetDefault("risk.max_total_contracts", 500)
	v.SetDefault("risk.max_daily_loss", 1000)
	v.SetDefault("risk.max_weekly_loss", 5000)
	v.SetDefault("risk.max_per_trade_risk", 500)
	v.SetDefault("risk.max_total_exposure", 10000)
	v.SetDefault("risk.max_exposure_per_game", 2000)
	v.SetDefault("risk.max_exposure_per_strategy", 3000)
	v.SetDefault("risk.max_orders_per_day", 50)
	v.SetDefault("risk.max_orders_per_hour", 20)
	v.SetDefault("risk.loss_streak_cooldown", 3)
	v.SetDefault("execution.max_daily_orders", 50)
	v.SetDefault("execution.max_position_size", 100)
	v.SetDefault("store.path", "data/kalshi-nba.db")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Exchange.APIKeyID == "" {
		return fmt.Errorf("exchange.api_key_id is required (set KALSHI_API_KEY_ID)")
	}
	if c.Exchange.PrivateKeyPEM == "" {
		return fmt.Errorf("exchange.private_key_pem is required (set KALSHI_PRIVATE_KEY_PEM)")
	}
	if c.Exchange.UseWebsocket && c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required when exchange.use_websocket is true")
	}
	if c.Sports.BaseURL == "" {
		return fmt.Errorf("sports.base_url is required")
	}
	if c.Sports.APIKey == "" {
		return fmt.Errorf("sports.api_key is required (set KALSHI_SPORTS_API_KEY)")
	}
	if c.Intervals.SportsTicks <= 0 || c.Intervals.OddsTicks <= 0 {
		return fmt.Errorf("intervals.sports_ticks and intervals.odds_ticks must be > 0")
	}
	if c.Intervals.ScheduledMultiple <= 0 {
		return fmt.Errorf("intervals.scheduled_multiple must be > 0")
	}
	if c.Intervals.StrategyEval <= 0 {
		return fmt.Errorf("intervals.strategy_eval must be > 0")
	}
	if c.Discovery.Enabled && c.Discovery.PollInterval <= 0 {
		return fmt.Errorf("discovery.poll_interval must be > 0 when discovery is enabled")
	}
	if c.Risk.MaxContractsPerMarket <= 0 {
		return fmt.Errorf("risk.max_contracts_per_market must be > 0")
	}
	if c.Risk.LossStreakCooldown <= 0 {
		return fmt.Errorf("risk.loss_streak_cooldown must be > 0")
	}
	if c.Execution.MaxPositionSize <= 0 {
		return fmt.Errorf("execution.max_position_size must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
