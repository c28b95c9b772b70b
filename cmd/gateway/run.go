package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	service "git.platform.alem.school/amibragim/order-intake/internal/app/gateway"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/config"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/health"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/httpserver"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/telemetry"
)

const serviceName = "gateway"

// Run wires the order intake service and blocks until ctx is cancelled.
// Shutdown order: drain HTTP, close the broker client, flush telemetry.
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

	// the broker client connects in the background; /ready reports when it is usable
	mq := rabbitmq.Connect(ctx, cfg, logger)
	defer mq.Close()

	svc, err := service.New(mq, otel.Meter("git.platform.alem.school/amibragim/order-intake/gateway"), logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	service.NewHTTPHandler(svc, logger).Register(mux)
	health.NewGate(mq, nil).Register(mux)

	srv := httpserver.New(ctx, cfg.HTTP.Port, cfg.HTTP.MaxConcurrent, serviceName, mux, logger)

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Gateway started on port %d", cfg.HTTP.Port),
		map[string]any{"port": cfg.HTTP.Port, "max_concurrent": cfg.HTTP.MaxConcurrent, "queue": cfg.RabbitMQ.Queue},
	)

	if err := httpserver.Serve(ctx, srv, logger); err != nil {
		logger.Error(ctx, "http_server_failed", "HTTP server stopped with error", err)
		return err
	}

	logger.Info(ctx, "graceful_shutdown", "Gateway shutting down", nil)
	return nil
}
