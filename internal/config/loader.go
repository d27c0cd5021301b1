package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML configuration file at path (chosen by extension),
// merges it on top of the built-in defaults, applies TRADEGUARD_* environment
// variable overrides, and returns the final Config. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml %s: %w", path, err)
			}
		default:
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return nil, fmt.Errorf("config: parse toml %s: %w", path, err)
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// SaveToFile writes cfg to path as TOML or YAML depending on the extension.
func SaveToFile(cfg *Config, path string) error {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("config: encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("config: encode yaml: %w", err)
		}
	default:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("config: encode toml: %w", err)
		}
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads well-known TRADEGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Policy ──
	setFloat64(&cfg.Policy.RiskPercentPerTrade, "TRADEGUARD_POLICY_RISK_PERCENT_PER_TRADE")
	setInt(&cfg.Policy.MaxConsecutiveLosses, "TRADEGUARD_POLICY_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Policy.DailyLossCap, "TRADEGUARD_POLICY_DAILY_LOSS_CAP")
	setInt(&cfg.Policy.NoTradeZoneDurationMinutes, "TRADEGUARD_POLICY_NO_TRADE_ZONE_DURATION_MINUTES")
	setFloat64(&cfg.Policy.ScaleOutRatio, "TRADEGUARD_POLICY_SCALE_OUT_RATIO")
	setFloat64(&cfg.Policy.RewardRiskMultiple, "TRADEGUARD_POLICY_REWARD_RISK_MULTIPLE")

	// ── Market ──
	setStr(&cfg.Market.Timezone, "TRADEGUARD_MARKET_TIMEZONE")
	setStringSlice(&cfg.Market.Holidays, "TRADEGUARD_MARKET_HOLIDAYS")

	// ── Account ──
	setFloat64(&cfg.Account.Equity, "TRADEGUARD_ACCOUNT_EQUITY")

	// ── Storage ──
	setStr(&cfg.Storage, "TRADEGUARD_STORAGE")
	setStr(&cfg.Postgres.DSN, "TRADEGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEGUARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEGUARD_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "TRADEGUARD_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEGUARD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGUARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEGUARD_S3_FORCE_PATH_STYLE")

	// ── Broker ──
	setStr(&cfg.Broker.Kind, "TRADEGUARD_BROKER_KIND")
	setStr(&cfg.Broker.BaseURL, "TRADEGUARD_BROKER_BASE_URL")
	setStr(&cfg.Broker.APIKey, "TRADEGUARD_BROKER_API_KEY")
	setStr(&cfg.Broker.APISecret, "TRADEGUARD_BROKER_API_SECRET")
	setStr(&cfg.Broker.SealedSecretPath, "TRADEGUARD_BROKER_SEALED_SECRET_PATH")
	setStr(&cfg.Broker.SecretPassword, "TRADEGUARD_BROKER_SECRET_PASSWORD")
	setDuration(&cfg.Broker.Timeout, "TRADEGUARD_BROKER_TIMEOUT")
	setFloat64(&cfg.Broker.PaperSlippageBps, "TRADEGUARD_BROKER_PAPER_SLIPPAGE_BPS")

	// ── Feed ──
	setStr(&cfg.Feed.QuotesURL, "TRADEGUARD_FEED_QUOTES_URL")
	setStringSlice(&cfg.Feed.Symbols, "TRADEGUARD_FEED_SYMBOLS")
	setStr(&cfg.Feed.BusChannel, "TRADEGUARD_FEED_BUS_CHANNEL")
	setDuration(&cfg.Feed.MaxPriceAge, "TRADEGUARD_FEED_MAX_PRICE_AGE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEGUARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEGUARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEGUARD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "TRADEGUARD_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "TRADEGUARD_AUTH_JWT_SECRET")
	setKeyMap(&cfg.Auth.APIKeys, "TRADEGUARD_AUTH_API_KEYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEGUARD_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEGUARD_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "TRADEGUARD_ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "TRADEGUARD_ARCHIVE_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEGUARD_MODE")
	setStr(&cfg.LogLevel, "TRADEGUARD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setKeyMap parses "key1:trader1,key2:trader2".
func setKeyMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		k, trader, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && k != "" && trader != "" {
			out[k] = trader
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
