package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classifieds-scraper/config"
	"classifieds-scraper/scraper/yad2"
	"classifieds-scraper/services"
	"classifieds-scraper/storage"
	"classifieds-scraper/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	startURL := cfg.StartURL
	if len(os.Args) > 1 {
		startURL = os.Args[1]
	}
	if startURL == "" {
		logger.Error("No start URL: pass one as the first argument or set SCRAPE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Classifieds scraper starting ===")
	logger.Info("Config: pages ≤ %d | inter-page %v-%v | evasion wait %v-%v | headless %v",
		cfg.MaxPages, cfg.InterPageDelay.Min, cfg.InterPageDelay.Max, cfg.EvasionWait.Min, cfg.EvasionWait.Max, cfg.Headless)

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: logger}
	store, err := storage.NewPostgresStore(ctx, cfg.DSN(), retry, logger.With("component", "storage"))
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	opts := yad2.Options{}
	if cfg.MemcacheAddr != "" {
		opts.Cooldown = storage.NewBlockMarker(storage.NewMemcacheService(cfg.MemcacheAddr), cfg.BlockCooldown)
		logger.Info("Block cooldown enabled via memcache at %s (%v)", cfg.MemcacheAddr, cfg.BlockCooldown)
	}

	s, err := yad2.New(cfg, logger, opts)
	if err != nil {
		logger.Error("Failed to create scraper: %v", err)
		os.Exit(1)
	}

	res := s.Run(ctx, startURL)
	if !res.Success {
		logger.Warn("Run %s ended early (%s): %s", res.RunID, res.StopReason, res.ErrorReason)
	}

	insightSvc := services.NewInsightService(logger)
	cleaned := services.NewCleaner(logger).Clean(res.Records)
	insightSvc.PrintRun(res, insightSvc.Generate(cleaned))

	saved, err := store.Save(ctx, cleaned)
	if err != nil {
		logger.Error("PostgreSQL write failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Stored run %s: %d inserted, %d updated, %d skipped", res.RunID, saved.Inserted, saved.Updated, saved.Skipped)

	if cfg.RedisAddr != "" {
		announce(ctx, cfg, store, logger)
	}

	purged, err := store.PurgeOlderThan(ctx, cfg.RetentionDays)
	if err != nil {
		logger.Error("Retention purge failed: %v", err)
	}

	stats, err := store.Stats(ctx, cfg.StatsTopN)
	if err != nil {
		logger.Error("Failed to read store statistics: %v", err)
		os.Exit(1)
	}
	insightSvc.PrintStore(saved, purged, stats)

	fmt.Printf("  Done. %d listings scraped over %d pages | PostgreSQL total: %d\n\n",
		res.TotalCount, res.PagesVisited, stats.Total)
}

// announce pushes listings not yet announced to the Redis stream. Failures
// are logged; the listings stay pending for the next run.
func announce(ctx context.Context, cfg *config.Config, store *storage.PostgresStore, logger *utils.Logger) {
	pub := services.NewRedisPublisher(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLen, logger.With("component", "publisher"))
	defer pub.Close()

	n, err := services.NewAnnouncer(store, pub, logger).Announce(ctx)
	if err != nil {
		logger.Warn("Announcing new listings failed after %d sent: %v", n, err)
		return
	}
	if n == 0 {
		logger.Info("No new listings to announce")
	}
}
