package billing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

// Consumer turns deliveries from the billing queue into persisted orders.
type Consumer struct {
	svc        ports.BillingService
	logger     *logger.Logger
	deadLetter bool

	persisted    metric.Int64Counter
	requeued     metric.Int64Counter
	deadLettered metric.Int64Counter
}

// NewConsumer builds the consumer. deadLetter reports whether the queue has a
// dead-letter route, which only changes how poison messages are logged.
func NewConsumer(svc ports.BillingService, meter metric.Meter, logger *logger.Logger, deadLetter bool) (*Consumer, error) {
	c := &Consumer{svc: svc, logger: logger, deadLetter: deadLetter}

	var err error
	if c.persisted, err = meter.Int64Counter("billing.messages.persisted",
		metric.WithDescription("Order messages inserted into the store")); err != nil {
		return nil, fmt.Errorf("billing.messages.persisted: %w", err)
	}
	if c.requeued, err = meter.Int64Counter("billing.messages.requeued",
		metric.WithDescription("Order messages returned to the queue after a store failure")); err != nil {
		return nil, fmt.Errorf("billing.messages.requeued: %w", err)
	}
	if c.deadLettered, err = meter.Int64Counter("billing.messages.dead_lettered",
		metric.WithDescription("Malformed order messages rejected without requeue")); err != nil {
		return nil, fmt.Errorf("billing.messages.dead_lettered: %w", err)
	}

	return c, nil
}

// Handle decodes and persists one message. Malformed payloads are poison; every
// store failure, fatal ones included, goes back to the queue.
func (c *Consumer) Handle(ctx context.Context, m rabbitmq.Message) rabbitmq.Outcome {
	msg, err := contracts.DecodeOrder(m.Body)
	if err != nil {
		return c.poison(ctx, m, err)
	}

	order, err := c.svc.RecordOrder(ctx, msg, m.ID)
	if err != nil {
		var verr *contracts.ValidationError
		if errors.As(err, &verr) {
			return c.poison(ctx, m, err)
		}

		kind := "retryable"
		action := "persist_failed"
		if IsFatal(err) {
			kind = "fatal"
			action = "store_rejected_message"
		}
		c.requeued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		c.logger.Error(ctx, action, "Failed to persist order; message requeued", err)
		return rabbitmq.RetryableFailure
	}

	c.persisted.Add(ctx, 1)
	c.logger.Info(ctx, "order_persisted", "Order persisted", map[string]any{
		"id":           order.ID,
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount.String(),
		"redelivered":  m.Redelivered,
	})

	return rabbitmq.Processed
}

func (c *Consumer) poison(ctx context.Context, m rabbitmq.Message, err error) rabbitmq.Outcome {
	c.deadLettered.Add(ctx, 1)

	if c.deadLetter {
		c.logger.Error(ctx, "message_dead_lettered", "Malformed order message moved to the dead-letter queue", err)
	} else {
		c.logger.Error(ctx, "message_dropped", fmt.Sprintf("Malformed order message dropped (%d bytes)", len(m.Body)), err)
	}

	return rabbitmq.PoisonMessage
}
