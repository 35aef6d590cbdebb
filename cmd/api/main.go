package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/inquiry-dispatch/internal/config"
	"github.com/kursadbilgin/inquiry-dispatch/internal/handler"
	"github.com/kursadbilgin/inquiry-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/inquiry-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/inquiry-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"github.com/kursadbilgin/inquiry-dispatch/internal/service"
	"github.com/kursadbilgin/inquiry-dispatch/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is fine; the process environment wins anyway.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger("inquiry-api", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	notificationSvc, err := service.NewNotificationService(
		repository.NewGormNotificationRepo(db),
		repository.NewGormAttemptRepo(db),
		publisher,
		cfg.RetryMaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("notification service init failed", zap.Error(err))
	}

	inquirySvc, err := service.NewInquiryService(repository.NewGormInquiryRepo(db), notificationSvc, logger)
	if err != nil {
		logger.Fatal("inquiry service init failed", zap.Error(err))
	}
	inquirySvc.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "inquiry-api",
		ErrorHandler: transport.ErrorHandler(logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": rabbit.Ping,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterInquiryRoutes(app, inquirySvc, notificationSvc); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("inquiry api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("inquiry api stopped")
}
