package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome tells the client how to settle a delivery.
type Outcome int

const (
	// Processed acks the delivery.
	Processed Outcome = iota
	// RetryableFailure nacks with requeue so the broker redelivers it.
	RetryableFailure
	// PoisonMessage nacks without requeue. With a dead-letter queue declared the
	// broker moves it there, otherwise it is discarded.
	PoisonMessage
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case RetryableFailure:
		return "retryable_failure"
	case PoisonMessage:
		return "poison_message"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Message is one delivery as seen by a Handler.
type Message struct {
	ID          string
	Body        []byte
	Redelivered bool
	Timestamp   time.Time
}

// Handler processes one message at a time and decides its Outcome.
// ctx carries the publisher's trace and the message id as request_id.
type Handler func(ctx context.Context, m Message) Outcome

type subscription struct {
	name    string
	handler Handler
}

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Subscribe registers h for the queue. The subscription starts immediately when the
// client is ready and is re-established after every reconnect without further calls.
func (c *Client) Subscribe(name string, h Handler) {
	sub := &subscription{name: name, handler: h}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	if c.session != nil {
		c.start(c.session, sub)
	}
	c.mu.Unlock()
}

// start must be called with c.mu held.
func (c *Client) start(s *session, sub *subscription) {
	s.wg.Add(1)
	go c.serve(s, sub)
}

// serve keeps a consumer channel open for the lifetime of the session.
func (c *Client) serve(s *session, sub *subscription) {
	defer s.wg.Done()

	for {
		err := c.consume(s, sub)
		if s.ctx.Err() != nil {
			return
		}

		c.logger.Error(s.ctx, "rabbitmq_consumer_interrupted",
			fmt.Sprintf("Consumer %s stopped; reopening channel in %s", sub.name, c.interval), err)

		if !sleepWithContext(s.ctx, c.interval) {
			return
		}
	}
}

// consume opens a channel, drains deliveries sequentially and returns when the
// channel closes or the session ends.
func (c *Client) consume(s *session, sub *subscription) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	tag := sub.name + "-" + uuid.NewString()
	deliveries, err := ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info(s.ctx, "rabbitmq_subscribed", "Consuming from queue", map[string]any{
		"queue":    c.queue,
		"consumer": tag,
		"prefetch": c.prefetch,
	})

	for {
		// finish nothing new once the session is over
		if s.ctx.Err() != nil {
			return c.stopConsumer(ch, tag)
		}

		select {
		case <-s.ctx.Done():
			return c.stopConsumer(ch, tag)

		case amqpErr := <-closed:
			return fmt.Errorf("consumer channel closed: %w", closeErr(amqpErr))

		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(s.ctx, sub, d)
		}
	}
}

// stopConsumer cancels the consumer and closes its channel; unacked deliveries go back to the queue.
func (c *Client) stopConsumer(ch Channel, tag string) error {
	_ = ch.Cancel(tag, false)
	_ = ch.Close()
	return nil
}

// dispatch runs the handler for one delivery and settles it. The handler context
// outlives session cancellation so an in-flight insert is never aborted.
func (c *Client) dispatch(base context.Context, sub *subscription, d amqp.Delivery) {
	ctx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(base), headerCarrier(d.Headers))
	ctx = c.logger.WithRequestID(ctx, d.MessageId)

	ctx, span := c.tracer.Start(ctx, c.queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", c.queue),
			attribute.String("messaging.message.id", d.MessageId),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		))
	defer span.End()

	outcome := sub.handler(ctx, Message{
		ID:          d.MessageId,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		Timestamp:   d.Timestamp,
	})
	span.SetAttributes(attribute.String("messaging.outcome", outcome.String()))

	var err error
	switch outcome {
	case Processed:
		err = d.Ack(false)
	case PoisonMessage:
		err = d.Nack(false, false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		c.logger.Error(ctx, "rabbitmq_settle_failed",
			fmt.Sprintf("Failed to settle message as %s", outcome), err)
	}
}

// sleepWithContext waits for d or ctx cancellation; false means ctx ended.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
