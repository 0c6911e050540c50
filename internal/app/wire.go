package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/oakline/wealthcore/internal/blob/s3"
	"github.com/oakline/wealthcore/internal/cache/redis"
	"github.com/oakline/wealthcore/internal/config"
	"github.com/oakline/wealthcore/internal/domain"
	"github.com/oakline/wealthcore/internal/marketdata"
	"github.com/oakline/wealthcore/internal/notify"
	"github.com/oakline/wealthcore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Portfolios   domain.PortfolioStore
	Transactions domain.TransactionStore
	Ledger       domain.LedgerStore
	Audit        domain.AuditStore

	// Redis
	QuoteCache domain.QuoteCache
	SignalBus  domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// External market data provider (nil unless the mode needs it)
	MarketData *marketdata.Client

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that archive snapshots to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "backup", "full":
		return true
	default:
		return false
	}
}

// needsMarketData returns true for modes that fetch quotes from the
// external provider. Serve mode accepts prices over the API only.
func needsMarketData(mode string) bool {
	switch mode {
	case "refresh", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists state) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Portfolios = postgres.NewPortfolioStore(pool)
	deps.Transactions = postgres.NewTransactionStore(pool)
	deps.Ledger = postgres.NewLedgerStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive snapshots) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Market data provider ---
	if needsMarketData(cfg.Mode) {
		deps.MarketData = marketdata.NewClient(
			cfg.MarketData.BaseURL,
			cfg.MarketData.APIKey,
			time.Duration(cfg.MarketData.FetchTimeoutSeconds)*time.Second,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
