// Package config defines the top-level configuration for tradeguard and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/tradeguard/internal/clock"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by TRADEGUARD_* environment
// variables.
type Config struct {
	Policy   PolicyConfig   `toml:"policy" yaml:"policy"`
	Market   MarketConfig   `toml:"market" yaml:"market"`
	Account  AccountConfig  `toml:"account" yaml:"account"`
	Storage  string         `toml:"storage" yaml:"storage"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Broker   BrokerConfig   `toml:"broker" yaml:"broker"`
	Feed     FeedConfig     `toml:"feed" yaml:"feed"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// PolicyConfig holds the trading discipline parameters.
type PolicyConfig struct {
	RiskPercentPerTrade        float64 `toml:"risk_percent_per_trade" yaml:"risk_percent_per_trade"`
	MaxConsecutiveLosses       int     `toml:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	DailyLossCap               float64 `toml:"daily_loss_cap" yaml:"daily_loss_cap"`
	NoTradeZoneDurationMinutes int     `toml:"no_trade_zone_duration_minutes" yaml:"no_trade_zone_duration_minutes"`
	ScaleOutRatio              float64 `toml:"scale_out_ratio" yaml:"scale_out_ratio"`
	RewardRiskMultiple         float64 `toml:"reward_risk_multiple" yaml:"reward_risk_multiple"`
}

// MarketConfig describes the exchange calendar.
type MarketConfig struct {
	Timezone      string            `toml:"timezone" yaml:"timezone"`
	PreMarketOpen string            `toml:"pre_market_open" yaml:"pre_market_open"`
	RegularOpen   string            `toml:"regular_open" yaml:"regular_open"`
	RegularClose  string            `toml:"regular_close" yaml:"regular_close"`
	Holidays      []string          `toml:"holidays" yaml:"holidays"`
	EarlyCloses   map[string]string `toml:"early_closes" yaml:"early_closes"`
}

// AccountConfig holds the equity used for sizing when the broker cannot
// report it.
type AccountConfig struct {
	Equity float64 `toml:"equity" yaml:"equity"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the local journal database path.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// BrokerConfig selects and configures the order router.
type BrokerConfig struct {
	Kind    string   `toml:"kind" yaml:"kind"`
	BaseURL string   `toml:"base_url" yaml:"base_url"`
	APIKey  string   `toml:"api_key" yaml:"api_key"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
	// APISecret signs requests. SealedSecretPath/SecretPassword is the
	// encrypted-at-rest alternative written by "tradeguard secret seal".
	APISecret        string `toml:"api_secret" yaml:"api_secret"`
	SealedSecretPath string `toml:"sealed_secret_path" yaml:"sealed_secret_path"`
	SecretPassword   string `toml:"secret_password" yaml:"secret_password"`
	// PaperSlippageBps is applied against the trader on paper fills.
	PaperSlippageBps float64 `toml:"paper_slippage_bps" yaml:"paper_slippage_bps"`
}

// FeedConfig configures where prices come from.
type FeedConfig struct {
	QuotesURL   string   `toml:"quotes_url" yaml:"quotes_url"`
	Symbols     []string `toml:"symbols" yaml:"symbols"`
	BusChannel  string   `toml:"bus_channel" yaml:"bus_channel"`
	MaxPriceAge Duration `toml:"max_price_age" yaml:"max_price_age"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`

	// RateLimitPerMinute caps requests per client; 0 disables. Needs Redis.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// AuthConfig holds API credentials. APIKeys maps a static key to a trader ID.
type AuthConfig struct {
	JWTSecret string            `toml:"jwt_secret" yaml:"jwt_secret"`
	APIKeys   map[string]string `toml:"api_keys" yaml:"api_keys"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// ArchiveConfig schedules the end-of-day session export.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Cron    string `toml:"cron" yaml:"cron"`
	Prefix  string `toml:"prefix" yaml:"prefix"`
}

// Duration wraps time.Duration so it can be written as "30s" in TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Policy: PolicyConfig{
			RiskPercentPerTrade:        0.02,
			MaxConsecutiveLosses:       2,
			DailyLossCap:               500,
			NoTradeZoneDurationMinutes: 15,
			ScaleOutRatio:              0.5,
			RewardRiskMultiple:         1.0,
		},
		Market: MarketConfig{
			Timezone:      "America/New_York",
			PreMarketOpen: "04:00",
			RegularOpen:   "09:30",
			RegularClose:  "16:00",
			Holidays: []string{
				"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
				"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
			},
			EarlyCloses: map[string]string{
				"2026-11-27": "13:00",
				"2026-12-24": "13:00",
			},
		},
		Account: AccountConfig{
			Equity: 10000,
		},
		Storage: "memory",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "tradeguard.db",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeguard-archive",
			ForcePathStyle: true,
		},
		Broker: BrokerConfig{
			Kind:    "paper",
			Timeout: Duration{10 * time.Second},
		},
		Feed: FeedConfig{
			BusChannel:  "prices",
			MaxPriceAge: Duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Auth: AuthConfig{
			APIKeys: map[string]string{},
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_locked", "execution_submitted", "execution_failed", "trade_closed"},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 30 16 * * 1-5",
			Prefix:  "archive/sessions",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"worker": true,
}

var validStorage = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validBrokers = map[string]bool{
	"paper": true,
	"http":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for logical errors and returns all of them
// joined in one error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	p := c.Policy
	if p.RiskPercentPerTrade <= 0 || p.RiskPercentPerTrade > 1 {
		errs = append(errs, fmt.Sprintf("policy: risk_percent_per_trade must be in (0, 1], got %g", p.RiskPercentPerTrade))
	}
	if p.MaxConsecutiveLosses < 1 {
		errs = append(errs, "policy: max_consecutive_losses must be >= 1")
	}
	if p.DailyLossCap <= 0 {
		errs = append(errs, "policy: daily_loss_cap must be positive")
	}
	if p.NoTradeZoneDurationMinutes < 0 {
		errs = append(errs, "policy: no_trade_zone_duration_minutes must be >= 0")
	}
	if p.ScaleOutRatio < 0 || p.ScaleOutRatio > 1 {
		errs = append(errs, fmt.Sprintf("policy: scale_out_ratio must be in [0, 1], got %g", p.ScaleOutRatio))
	}
	if p.RewardRiskMultiple <= 0 {
		errs = append(errs, "policy: reward_risk_multiple must be positive")
	}

	if _, err := c.Calendar(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Account.Equity <= 0 && c.Broker.Kind != "http" {
		errs = append(errs, "account: equity must be positive")
	}

	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, sqlite, postgres)", c.Storage))
	}
	if c.Storage == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Storage == "postgres" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Storage == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Mode == "worker" && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled in worker mode (events arrive over the bus)")
	}

	if !validBrokers[strings.ToLower(c.Broker.Kind)] {
		errs = append(errs, fmt.Sprintf("unknown broker kind %q (valid: paper, http)", c.Broker.Kind))
	}
	if c.Broker.Kind == "http" && c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url is required for the http broker")
	}
	if c.Broker.SealedSecretPath != "" && c.Broker.SecretPassword == "" {
		errs = append(errs, "broker: secret_password is required with sealed_secret_path")
	}
	if c.Broker.Timeout.Duration <= 0 {
		errs = append(errs, "broker: timeout must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must not be negative")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archive is enabled")
		}
		if c.Storage == "memory" {
			errs = append(errs, "archive: requires sqlite or postgres storage")
		}
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NoTradeZone returns the settling window as a duration.
func (c *Config) NoTradeZone() time.Duration {
	return time.Duration(c.Policy.NoTradeZoneDurationMinutes) * time.Minute
}

// Calendar builds the exchange calendar from the market section.
func (c *Config) Calendar() (clock.Calendar, error) {
	cal := clock.NYSE()
	if c.Market.Timezone != "" {
		cal.Location = clock.LoadLocation(c.Market.Timezone)
	}

	var err error
	if c.Market.PreMarketOpen != "" {
		if cal.PreMarketOpen, err = clock.ParseTimeOfDay(c.Market.PreMarketOpen); err != nil {
			return cal, fmt.Errorf("market: pre_market_open: %w", err)
		}
	}
	if c.Market.RegularOpen != "" {
		if cal.RegularOpen, err = clock.ParseTimeOfDay(c.Market.RegularOpen); err != nil {
			return cal, fmt.Errorf("market: regular_open: %w", err)
		}
	}
	if c.Market.RegularClose != "" {
		if cal.RegularClose, err = clock.ParseTimeOfDay(c.Market.RegularClose); err != nil {
			return cal, fmt.Errorf("market: regular_close: %w", err)
		}
	}

	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return cal, fmt.Errorf("market: holiday %q: %w", h, err)
		}
		cal.Holidays[h] = true
	}
	for day, at := range c.Market.EarlyCloses {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return cal, fmt.Errorf("market: early close date %q: %w", day, err)
		}
		tod, err := clock.ParseTimeOfDay(at)
		if err != nil {
			return cal, fmt.Errorf("market: early close %s: %w", day, err)
		}
		cal.EarlyCloses[day] = tod
	}
	return cal, nil
}
