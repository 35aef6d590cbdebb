package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/inquiry-dispatch/internal/config"
	"github.com/kursadbilgin/inquiry-dispatch/internal/handler"
	"github.com/kursadbilgin/inquiry-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/inquiry-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/inquiry-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/provider"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"github.com/kursadbilgin/inquiry-dispatch/internal/retry"
	"github.com/kursadbilgin/inquiry-dispatch/internal/service"
	"github.com/kursadbilgin/inquiry-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	retryScanLimit  = 100
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger("inquiry-worker", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	telegram, err := provider.NewTelegramProvider(provider.TelegramConfig{
		APIURL:   cfg.TelegramAPIURL,
		Token:    cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		ThreadID: cfg.TelegramThreadID,
	})
	if err != nil {
		return fmt.Errorf("telegram provider init failed: %w", err)
	}
	email, err := provider.NewEmailProvider(provider.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		AdminEmail: cfg.AdminEmail,
	})
	if err != nil {
		return fmt.Errorf("email provider init failed: %w", err)
	}

	limiter, err := infraredis.NewChannelRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}

	metrics := observability.NewMetrics()
	notifications := repository.NewGormNotificationRepo(db)
	policy := retry.NewPolicy(cfg.RetryBaseDelay(), cfg.RetryMultiplier, cfg.RetryMaxAttempts, 0, cfg.RetryMaxJitter())

	worker, err := service.NewWorkerService(
		notifications,
		repository.NewGormAttemptRepo(db),
		repository.NewGormInquiryRepo(db),
		consumer,
		[]provider.Provider{email, telegram},
		limiter,
		policy,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("worker service init failed: %w", err)
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewRetryScanner(notifications, publisher, cfg.RetryScanInterval(), cfg.RedispatchAfter(), retryScanLimit, logger)
	if err != nil {
		return fmt.Errorf("retry scanner init failed: %w", err)
	}
	scanner.SetMetrics(metrics)

	reaper, err := service.NewReaper(notifications, cfg.ReaperSchedule, cfg.StaleJobAfter(), logger)
	if err != nil {
		return fmt.Errorf("reaper init failed: %w", err)
	}
	reaper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "inquiry-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": rabbit.Ping,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return reaper.Start(groupCtx) })
	g.Go(func() error {
		err := app.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
		if err != nil && groupCtx.Err() == nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.MetricsPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
