package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
)

// Service implements ports.IntakeService.
type Service struct {
	publisher ports.Publisher
	logger    *logger.Logger
	now       func() time.Time

	published metric.Int64Counter
	rejected  metric.Int64Counter
}

// Ensure Service implements the interface at compile time.
var _ ports.IntakeService = (*Service)(nil)

// New creates the intake service. Instruments come from meter.
func New(publisher ports.Publisher, meter metric.Meter, logger *logger.Logger) (*Service, error) {
	published, err := meter.Int64Counter("gateway.orders.published",
		metric.WithDescription("Order messages handed to the broker"))
	if err != nil {
		return nil, fmt.Errorf("gateway.orders.published: %w", err)
	}
	rejected, err := meter.Int64Counter("gateway.orders.rejected",
		metric.WithDescription("Order submissions refused before publishing"))
	if err != nil {
		return nil, fmt.Errorf("gateway.orders.rejected: %w", err)
	}

	return &Service{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		published: published,
		rejected:  rejected,
	}, nil
}

// SubmitOrder validates the payload, stamps submitted_at and publishes it. It never
// buffers or retries: a broker outage surfaces as rabbitmq.ErrUnavailable.
func (service *Service) SubmitOrder(ctx context.Context, body []byte) (contracts.OrderMessage, error) {
	msg, err := contracts.DecodeOrder(body)
	if err != nil {
		service.rejected.Add(ctx, 1)
		return contracts.OrderMessage{}, err
	}
	msg.SubmittedAt = service.now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		return contracts.OrderMessage{}, fmt.Errorf("encode order message: %w", err)
	}

	if err := service.publisher.Publish(ctx, payload); err != nil {
		service.rejected.Add(ctx, 1)
		return contracts.OrderMessage{}, fmt.Errorf("publish order: %w", err)
	}
	service.published.Add(ctx, 1)

	service.logger.Debug(ctx, "order_queued", "Order message published", map[string]any{
		"user_id":         msg.UserID,
		"number_of_items": msg.NumberOfItems,
		"total_amount":    msg.TotalAmount.String(),
	})

	return msg, nil
}
