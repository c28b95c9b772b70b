package billing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	service "git.platform.alem.school/amibragim/order-intake/internal/app/billing"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/config"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/health"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/httpserver"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
	pg "git.platform.alem.school/amibragim/order-intake/internal/shared/postgres"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/telemetry"
)

const serviceName = "billing"

// Run wires the billing consumer and read API and blocks until ctx is cancelled.
// Shutdown order: drain HTTP, close the subscription and broker client (in-flight
// inserts finish), close the Postgres pool, flush telemetry.
func Run(ctx context.Context, configPath string) error {
	logger := logger.NewLogger(serviceName)
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg, serviceName)
	if err != nil {
		logger.Error(ctx, "telemetry_setup_failed", "Failed to initialize telemetry", err)
		return err
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			logger.Error(ctx, "telemetry_shutdown_failed", "Failed to flush telemetry", err)
		}
	}()

	// set up a Postgres connection pool (waits for the database to come up)
	pool, err := pg.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool); err != nil {
		logger.Error(ctx, "db_migration_failed", "Failed to apply schema", err)
		return err
	}

	// set up repositories, unit of work, and application service
	uow := pg.NewUnitOfWork(pool)
	repo := pg.NewOrdersRepo()
	svc := service.New(uow, repo, logger)

	consumer, err := service.NewConsumer(svc, otel.Meter("git.platform.alem.school/amibragim/order-intake/billing"), logger, cfg.RabbitMQ.DeadLetter)
	if err != nil {
		return err
	}

	mq := rabbitmq.Connect(ctx, cfg, logger)
	defer mq.Close()
	mq.Subscribe(serviceName, consumer.Handle)

	mux := http.NewServeMux()
	service.NewHTTPHandler(svc, logger).Register(mux)
	health.NewGate(mq, pool).Register(mux)

	srv := httpserver.New(ctx, cfg.HTTP.Port, cfg.HTTP.MaxConcurrent, serviceName, mux, logger)

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Billing started on port %d", cfg.HTTP.Port),
		map[string]any{"port": cfg.HTTP.Port, "queue": cfg.RabbitMQ.Queue, "prefetch": cfg.RabbitMQ.Prefetch, "dead_letter": cfg.RabbitMQ.DeadLetter},
	)

	if err := httpserver.Serve(ctx, srv, logger); err != nil {
		logger.Error(ctx, "http_server_failed", "HTTP server stopped with error", err)
		return err
	}

	logger.Info(ctx, "graceful_shutdown", "Billing shutting down", nil)
	return nil
}
