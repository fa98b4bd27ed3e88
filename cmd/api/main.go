package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/api"
	"github.com/pollpulse/backend/internal/cache"
	"github.com/pollpulse/backend/internal/jobs"
	"github.com/pollpulse/backend/internal/metrics"
	"github.com/pollpulse/backend/internal/middleware/ratelimit"
	"github.com/pollpulse/backend/internal/notify"
	"github.com/pollpulse/backend/internal/poll"
	"github.com/pollpulse/backend/pkg/config"
	appLogger "github.com/pollpulse/backend/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(appLogger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	log := appLogger.GetLogger()
	appLogger.Info("Starting poll API server", zap.String("env", cfg.Env))

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	store, err := openStore(startupCtx, cfg.Store)
	if err != nil {
		appLogger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	backing := openCache(startupCtx, cfg.Cache)
	defer backing.Close()

	registry := metrics.New()
	advisory := cache.NewAdvisory(backing, cfg.Cache.OpTimeout(), log.Named("cache"), registry)

	chat := notify.NewSlackWebhook(cfg.Notify.Chat.WebhookURL, cfg.Notify.SendTimeout())
	if _, ok := chat.(notify.NopChat); ok {
		appLogger.Warn("Chat alerts disabled: SLACK_WEBHOOK_URL not set")
	}
	mailer := notify.NewMailer(cfg.Notify.Email, cfg.Notify.SendTimeout(), log.Named("email"))

	dispatcher := notify.NewDispatcher(chat, mailer, advisory, registry, notify.Config{
		Channel:     cfg.Notify.Chat.Channel,
		SendTimeout: cfg.Notify.SendTimeout(),
		Logger:      log.Named("notify"),
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               log.Named("ratelimit"),
	})
	defer limiter.Stop()

	app := api.NewApp(api.Deps{
		Config:       cfg,
		Submissions:  poll.NewSubmissionService(store, advisory, dispatcher, registry, log.Named("submissions")),
		Interactions: poll.NewInteractionService(store, registry, log.Named("interactions")),
		Analytics:    poll.NewAnalyticsReader(store, advisory, log.Named("analytics")),
		Store:        store,
		Cache:        advisory,
		Metrics:      registry,
		RateLimiter:  limiter,
		Logger:       log,
	})

	scheduler := jobs.NewScheduler(time.Minute, log.Named("jobs"))
	summary := jobs.NewDailySummary(advisory, store, chat, cfg.Notify.Chat.Channel, log.Named("jobs"))
	if err := scheduler.Add(cfg.Jobs.DailySummarySchedule, summary); err != nil {
		appLogger.Fatal("Failed to schedule daily summary", zap.Error(err))
	}
	scheduler.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	scheduler.Stop()
	dispatcher.Close()

	appLogger.Info("Server stopped")
}
