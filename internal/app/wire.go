package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/tradeguard/internal/blob/s3"
	"github.com/alanyoungcy/tradeguard/internal/breaker"
	"github.com/alanyoungcy/tradeguard/internal/broker"
	"github.com/alanyoungcy/tradeguard/internal/cache/redis"
	"github.com/alanyoungcy/tradeguard/internal/clock"
	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/crypto"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/events"
	"github.com/alanyoungcy/tradeguard/internal/executor"
	"github.com/alanyoungcy/tradeguard/internal/feed"
	"github.com/alanyoungcy/tradeguard/internal/notify"
	"github.com/alanyoungcy/tradeguard/internal/risk"
	"github.com/alanyoungcy/tradeguard/internal/scheduler"
	"github.com/alanyoungcy/tradeguard/internal/server/handler"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
	"github.com/alanyoungcy/tradeguard/internal/service"
	"github.com/alanyoungcy/tradeguard/internal/store/memory"
	"github.com/alanyoungcy/tradeguard/internal/store/postgres"
	"github.com/alanyoungcy/tradeguard/internal/store/sqlite"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	SessionStore domain.SessionStore
	Journal      domain.TradeJournal
	AuditStore   domain.AuditStore

	// Caches and messaging. Redis-backed when redis.enabled, in-process
	// otherwise; SessionCache, LockManager and RateLimiter stay nil without
	// Redis.
	SessionCache domain.SessionCache
	PriceCache   domain.PriceCache
	LockManager  domain.LockManager
	RateLimiter  middleware.Limiter
	SignalBus    domain.SignalBus
	Distributed  bool

	// Trading
	Clock    *clock.Clock
	Feed     domain.MarketDataFeed
	Broker   domain.BrokerAdapter
	Sessions *service.SessionService

	// Blob storage, set only when archiving is enabled. The CLI reads
	// existing archives through BlobReader.
	BlobReader *s3blob.Reader
	Archiver   domain.Archiver

	Scheduler *scheduler.Scheduler
	Notifier  *notify.Notifier

	// HealthChecks are reported by GET /api/health.
	HealthChecks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: map[string]handler.Pinger{}}

	// --- Storage ---
	switch strings.ToLower(cfg.Storage) {
	case "postgres":
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.SessionStore = postgres.NewSessionStore(pool)
		deps.Journal = postgres.NewTradeJournal(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.SessionStore = db.Sessions()
		deps.Journal = db.Journal()
		deps.AuditStore = db.Audit()
	default:
		deps.SessionStore = memory.NewSessionStore()
		deps.Journal = memory.NewTradeJournal()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SessionCache = redis.NewSessionCache(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Feed.MaxPriceAge.Duration*4)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		if cfg.Server.RateLimitPerMinute > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
		deps.Distributed = true
		deps.HealthChecks["redis"] = redisClient
	} else {
		deps.PriceCache = feed.NewStaticFeed(time.Now)
		deps.SignalBus = events.NewLocalBus(logger)
	}

	// --- Market clock and prices ---
	cal, err := cfg.Calendar()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Clock = clock.New(cal, cfg.NoTradeZone())
	deps.Feed = feed.NewCacheFeed(deps.PriceCache, cfg.Feed.MaxPriceAge.Duration, time.Now)

	// --- Broker ---
	equity := decimal.NewFromFloat(cfg.Account.Equity)
	switch strings.ToLower(cfg.Broker.Kind) {
	case "http":
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:        cfg.Broker.APISecret,
			SealedPath: cfg.Broker.SealedSecretPath,
			Password:   cfg.Broker.SecretPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: broker secret: %w", err))
		}
		deps.Broker = broker.NewHTTP(cfg.Broker.BaseURL, cfg.Broker.APIKey, secret, cfg.Broker.Timeout.Duration)
	default:
		deps.Broker = broker.NewPaper(deps.Feed, equity, cfg.Broker.PaperSlippageBps)
	}

	// --- Discipline engine ---
	calc, err := risk.NewCalculator(PolicyFromConfig(cfg.Policy))
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	brk, err := breaker.New(breaker.Config{
		MaxConsecutiveLosses: cfg.Policy.MaxConsecutiveLosses,
		DailyLossCap:         decimal.NewFromFloat(cfg.Policy.DailyLossCap),
	}, deps.Clock.EndOfTradingDay)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	guard := executor.NewGuard(deps.Broker, logger)
	if deps.LockManager != nil {
		guard.SetLockManager(deps.LockManager, 2*cfg.Broker.Timeout.Duration)
	}

	deps.Sessions = service.NewSessionService(service.SessionDeps{
		Store:         deps.SessionStore,
		Cache:         deps.SessionCache,
		Audit:         deps.AuditStore,
		Journal:       deps.Journal,
		Bus:           deps.SignalBus,
		Feed:          deps.Feed,
		Broker:        deps.Broker,
		Clock:         deps.Clock,
		Calc:          calc,
		Breaker:       brk,
		Guard:         guard,
		AccountEquity: equity,
	}, logger)

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverDeps{
			Writer:  s3blob.NewWriter(s3Client),
			Store:   deps.SessionStore,
			Journal: deps.Journal,
			Audit:   deps.AuditStore,
			Bus:     deps.SignalBus,
			Prefix:  cfg.Archive.Prefix,
		}, logger)
		deps.HealthChecks["s3"] = s3Client
	}

	sched := scheduler.Config{Locks: deps.LockManager}
	if deps.Archiver != nil {
		sched.ArchiveSpec = cfg.Archive.Cron
		sched.Archiver = deps.Archiver
	}
	deps.Scheduler, err = scheduler.New(sched, deps.Clock, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// PolicyFromConfig converts the policy section to calculator inputs.
func PolicyFromConfig(p config.PolicyConfig) risk.Policy {
	return risk.Policy{
		RiskPercentPerTrade: decimal.NewFromFloat(p.RiskPercentPerTrade),
		ScaleOutRatio:       decimal.NewFromFloat(p.ScaleOutRatio),
		RewardRiskMultiple:  decimal.NewFromFloat(p.RewardRiskMultiple),
	}
}
