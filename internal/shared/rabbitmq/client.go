package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"git.platform.alem.school/amibragim/order-intake/internal/shared/config"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
)

// ErrUnavailable is returned by Publish while the client is not ready.
var ErrUnavailable = errors.New("rabbitmq: broker unavailable")

const (
	publishTimeout = 5 * time.Second
	tracerName     = "git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

// Client keeps one logical broker connection alive, retrying forever at a fixed interval,
// and re-establishes registered subscriptions after every reconnect.
type Client struct {
	url        string
	queue      string
	prefetch   int
	deadLetter bool
	interval   time.Duration
	dial       Dialer
	logger     *logger.Logger
	tracer     trace.Tracer

	state atomic.Int32

	mu      sync.RWMutex
	session *session
	subs    []*subscription

	ctx       context.Context // lives until Close, never cancelled by the caller's ctx
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithDialer replaces the AMQP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithRetryInterval overrides rabbitmq.retry_interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// session is everything bound to one physical connection.
type session struct {
	conn Connection
	pub  Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connClosed chan *amqp.Error
	pubClosed  chan *amqp.Error
}

// URL returns rabbitmq.url or builds one from the host/port/user/password keys.
func URL(cfg *config.Config) string {
	if cfg.RabbitMQ.URL != "" {
		return cfg.RabbitMQ.URL
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.RabbitMQ.User, cfg.RabbitMQ.Password),
		Host:   net.JoinHostPort(cfg.RabbitMQ.Host, strconv.Itoa(cfg.RabbitMQ.Port)),
		Path:   "/",
	}
	return u.String()
}

// DeadLetterQueue names the queue that receives poison messages from queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

// Connect starts the background connection loop and returns immediately.
// The client reports StateReady once the first attempt succeeds.
func Connect(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) *Client {
	client := &Client{
		url:        URL(cfg),
		queue:      cfg.RabbitMQ.Queue,
		prefetch:   cfg.RabbitMQ.Prefetch,
		deadLetter: cfg.RabbitMQ.DeadLetter,
		interval:   cfg.RabbitMQ.RetryInterval,
		dial:       DialAMQP,
		logger:     log,
		tracer:     otel.Tracer(tracerName),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.interval <= 0 {
		client.interval = 3 * time.Second
	}
	client.ctx, client.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go client.run()

	return client
}

// State returns the current connection state without blocking.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Ready reports whether Publish can currently succeed.
func (c *Client) Ready() bool {
	return c.State() == StateReady
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.logger.Debug(c.ctx, "rabbitmq_state_changed", "RabbitMQ connection state changed", map[string]any{"state": s.String()})
	}
}

// Publish sends body to the queue as a persistent JSON message. It fails fast with
// ErrUnavailable when the client is not ready or the connection drops mid-publish,
// and never retries on its own. Any other broker error is returned as is.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	if c.State() != StateReady {
		return ErrUnavailable
	}

	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s == nil {
		return ErrUnavailable
	}

	ctx, span := c.tracer.Start(ctx, c.queue+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", c.queue),
		))
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: logger.RequestIDFrom(ctx),
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	span.SetAttributes(attribute.String("messaging.message.id", msg.MessageId))

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.pub.PublishWithContext(pubCtx, "", c.queue, false, false, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		if connectionLost(err) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("publish to %s: %w", c.queue, err)
	}

	return nil
}

// connectionLost reports whether a publish error means the broker link is gone
// or stalled, as opposed to the broker refusing this particular message.
func connectionLost(err error) bool {
	var amqpErr *amqp.Error
	return errors.Is(err, amqp.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &amqpErr)
}

// Close stops the connection loop, closes every subscription after its in-flight
// message finishes, and releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(c.cancel)
	<-c.done
}

// --- internals ---

// run owns the connection: connect, serve until the connection drops, repeat.
func (c *Client) run() {
	defer close(c.done)

	for {
		conn, pub, err := c.connectWithRetry()
		if err != nil {
			c.setState(StateDisconnected)
			return
		}

		s := c.install(conn, pub)
		lost := c.wait(s)
		if lost {
			c.setState(StateDisconnected)
		}
		c.teardown(s)

		if !lost {
			c.setState(StateDisconnected)
			c.logger.Info(c.ctx, "rabbitmq_closed", "RabbitMQ client closed", nil)
			return
		}
	}
}

// connectWithRetry tries connectOnce at a fixed interval until it succeeds or Close is called.
func (c *Client) connectWithRetry() (Connection, Channel, error) {
	var (
		conn    Connection
		pub     Channel
		attempt int
		start   = time.Now()
	)

	op := func() error {
		attempt++
		c.setState(StateConnecting)

		var err error
		conn, pub, err = c.connectOnce()
		if err != nil {
			c.setState(StateFailed)
			return err
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Error(c.ctx, "rabbitmq_connect_failed",
			fmt.Sprintf("RabbitMQ connect attempt %d failed; retrying in %s", attempt, next), err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.interval), c.ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, nil, err
	}

	// Close may land between a successful dial and here.
	if c.ctx.Err() != nil {
		_ = pub.Close()
		_ = conn.Close()
		return nil, nil, c.ctx.Err()
	}

	c.logger.Info(c.ctx, "rabbitmq_connected", "Connected to RabbitMQ", map[string]any{
		"queue":       c.queue,
		"attempts":    attempt,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return conn, pub, nil
}

// connectOnce dials, opens the publish channel and declares the queue topology.
func (c *Client) connectOnce() (Connection, Channel, error) {
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := c.declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

// declareTopology declares the durable queue and, when enabled, its dead-letter queue.
func (c *Client) declareTopology(ch Channel) error {
	var args amqp.Table

	if c.deadLetter {
		dlq := DeadLetterQueue(c.queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlq, err)
		}
		// default exchange routes by queue name
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", c.queue, err)
	}

	return nil
}

// install publishes a fresh session and starts every registered subscription on it.
func (c *Client) install(conn Connection, pub Channel) *session {
	s := &session{
		conn:       conn,
		pub:        pub,
		connClosed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		pubClosed:  pub.NotifyClose(make(chan *amqp.Error, 1)),
	}
	s.ctx, s.cancel = context.WithCancel(c.ctx)

	c.mu.Lock()
	c.session = s
	for _, sub := range c.subs {
		c.start(s, sub)
	}
	c.mu.Unlock()

	c.setState(StateReady)

	return s
}

// wait blocks until the connection drops (true) or the client is closed (false).
func (c *Client) wait(s *session) bool {
	select {
	case <-c.ctx.Done():
		return false
	case amqpErr := <-s.connClosed:
		c.logger.Error(c.ctx, "rabbitmq_connection_lost", "RabbitMQ connection closed; reconnecting", closeErr(amqpErr))
		return true
	case amqpErr := <-s.pubClosed:
		c.logger.Error(c.ctx, "rabbitmq_connection_lost", "RabbitMQ publish channel closed; reconnecting", closeErr(amqpErr))
		return true
	}
}

// teardown stops the session's subscriptions, waits for in-flight handlers and closes the connection.
func (c *Client) teardown(s *session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	_ = s.pub.Close()
	_ = s.conn.Close()
}

func closeErr(amqpErr *amqp.Error) error {
	if amqpErr == nil {
		return errors.New("closed without error")
	}
	return amqpErr
}
