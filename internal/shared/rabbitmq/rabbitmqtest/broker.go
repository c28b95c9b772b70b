// Package rabbitmqtest is an in-memory stand-in for a RabbitMQ broker, reached through
// rabbitmq.WithDialer. It models the parts the client relies on: durable queues on the
// default exchange, prefetch, manual acks, requeue with the redelivered flag, dead-letter
// routing and forced connection loss.
package rabbitmqtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

// ErrRefused is returned by Dial while the broker is unavailable.
var ErrRefused = errors.New("dial tcp: connection refused")

// bufferSize bounds deliveries handed to one consumer before they are settled.
const bufferSize = 256

// Broker holds every queue and connection. The zero value is not usable; call NewBroker.
type Broker struct {
	mu          sync.Mutex
	queues      map[string]*Queue
	conns       map[*connection]struct{}
	failDials   int
	unavailable bool
	dials       int
	publishErr  error
}

// NewBroker returns an empty, reachable broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*Queue),
		conns:  make(map[*connection]struct{}),
	}
}

// Dial satisfies rabbitmq.Dialer.
func (b *Broker) Dial(string) (rabbitmq.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.unavailable {
		return nil, ErrRefused
	}
	if b.failDials > 0 {
		b.failDials--
		return nil, ErrRefused
	}

	c := &connection{broker: b, channels: make(map[*channel]struct{})}
	b.conns[c] = struct{}{}
	return c, nil
}

// FailDials makes the next n dials fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

// FailNextPublish makes the next publish on any channel return err.
func (b *Broker) FailNextPublish(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// SetUnavailable makes every dial fail until reset.
func (b *Broker) SetUnavailable(v bool) {
	b.mu.Lock()
	b.unavailable = v
	b.mu.Unlock()
}

// Dials counts dial attempts, failed ones included.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DropConnections closes every open connection with CONNECTION_FORCED, as a broker restart does.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.conns {
		c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true})
	}
}

// Inject puts a raw message straight onto a queue, bypassing any client.
func (b *Broker) Inject(queue, messageID string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("queue %s not declared", queue)
	}
	q.push(&message{id: messageID, body: body, timestamp: time.Now().UTC()})
	b.dispatch()
	return nil
}

// Queue returns the named queue, or nil when it was never declared.
func (b *Broker) Queue(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

// Queue is a FIFO of ready messages plus the consumers attached to it.
type Queue struct {
	broker    *Broker
	name      string
	args      amqp.Table
	ready     []*message
	consumers []*consumer
	next      int
	published int
}

// Len is the number of ready (undelivered) messages.
func (q *Queue) Len() int {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()
	return len(q.ready)
}

// Published counts messages ever routed to the queue, dead-lettered ones included.
func (q *Queue) Published() int {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()
	return q.published
}

// Bodies returns the ready messages' bodies in queue order.
func (q *Queue) Bodies() [][]byte {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	out := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.body)
	}
	return out
}

// Args returns the arguments the queue was declared with.
func (q *Queue) Args() amqp.Table {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()
	return q.args
}

// Unacked counts messages delivered from the queue and not yet settled.
func (q *Queue) Unacked() int {
	q.broker.mu.Lock()
	defer q.broker.mu.Unlock()

	n := 0
	for c := range q.broker.conns {
		for ch := range c.channels {
			for _, p := range ch.unacked {
				if p.queue == q {
					n++
				}
			}
		}
	}
	return n
}

func (q *Queue) push(m *message) {
	q.published++
	q.ready = append(q.ready, m)
}

type message struct {
	id          string
	body        []byte
	headers     amqp.Table
	contentType string
	mode        uint8
	timestamp   time.Time
	redelivered bool
}

type consumer struct {
	tag        string
	queue      *Queue
	ch         *channel
	deliveries chan amqp.Delivery
}

type pending struct {
	msg   *message
	queue *Queue
}

// dispatch hands ready messages to consumers with spare prefetch. Callers hold b.mu.
func (b *Broker) dispatch() {
	for _, q := range b.queues {
		for len(q.ready) > 0 && len(q.consumers) > 0 {
			c := q.pickConsumer()
			if c == nil {
				break
			}

			m := q.ready[0]
			q.ready = q.ready[1:]

			c.ch.nextTag++
			tag := c.ch.nextTag
			c.ch.unacked[tag] = pending{msg: m, queue: q}

			c.deliveries <- amqp.Delivery{
				Acknowledger: c.ch,
				Headers:      m.headers,
				ContentType:  m.contentType,
				DeliveryMode: m.mode,
				MessageId:    m.id,
				Timestamp:    m.timestamp,
				ConsumerTag:  c.tag,
				DeliveryTag:  tag,
				Redelivered:  m.redelivered,
				RoutingKey:   q.name,
				Body:         m.body,
			}
		}
	}
}

// pickConsumer round-robins over consumers whose channel is under its prefetch limit.
func (q *Queue) pickConsumer() *consumer {
	for i := 0; i < len(q.consumers); i++ {
		c := q.consumers[(q.next+i)%len(q.consumers)]
		if len(c.ch.unacked) < c.ch.limit() {
			q.next = (q.next + i + 1) % len(q.consumers)
			return c
		}
	}
	return nil
}

// --- connection ---

type connection struct {
	broker   *Broker
	channels map[*channel]struct{}
	notify   []chan *amqp.Error
	closed   bool
}

func (c *connection) Channel() (rabbitmq.Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &channel{conn: c, unacked: make(map[uint64]pending)}
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *connection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

// shutdown closes the connection and its channels. Callers hold broker.mu.
func (c *connection) shutdown(reason *amqp.Error) {
	if c.closed {
		return
	}
	for ch := range c.channels {
		ch.shutdown(reason)
	}
	c.closed = true
	notifyAndClose(c.notify, reason)
	c.notify = nil
	delete(c.broker.conns, c)
	c.broker.dispatch()
}

// --- channel ---

type channel struct {
	conn      *connection
	prefetch  int
	consumers map[string]*consumer
	unacked   map[uint64]pending
	nextTag   uint64
	notify    []chan *amqp.Error
	closed    bool
}

func (ch *channel) broker() *Broker { return ch.conn.broker }

func (ch *channel) limit() int {
	if ch.prefetch <= 0 || ch.prefetch > bufferSize {
		return bufferSize
	}
	return ch.prefetch
}

func (ch *channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		q = &Queue{broker: b, name: name, args: args}
		b.queues[name] = q
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if err := b.publishErr; err != nil {
		b.publishErr = nil
		return err
	}
	if exchange != "" {
		return fmt.Errorf("exchange %q not supported", exchange)
	}

	q, ok := b.queues[key]
	if !ok {
		return nil // unroutable on the default exchange is dropped silently
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	q.push(&message{
		id:          msg.MessageId,
		body:        append([]byte(nil), msg.Body...),
		headers:     headers,
		contentType: msg.ContentType,
		mode:        msg.DeliveryMode,
		timestamp:   msg.Timestamp,
	})
	b.dispatch()
	return nil
}

func (ch *channel) Consume(queue, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, errors.New("autoAck not supported")
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'"}
	}

	c := &consumer{tag: consumerTag, queue: q, ch: ch, deliveries: make(chan amqp.Delivery, bufferSize)}
	if ch.consumers == nil {
		ch.consumers = make(map[string]*consumer)
	}
	ch.consumers[consumerTag] = c
	q.consumers = append(q.consumers, c)

	b.dispatch()
	return c.deliveries, nil
}

func (ch *channel) Cancel(consumerTag string, noWait bool) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if c, ok := ch.consumers[consumerTag]; ok {
		ch.detach(c)
	}
	return nil
}

func (ch *channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *channel) Close() error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.shutdown(nil)
	delete(ch.conn.channels, ch)
	b.dispatch()
	return nil
}

// shutdown requeues unacked messages and stops consumers. Callers hold broker.mu.
func (ch *channel) shutdown(reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	for _, c := range ch.consumers {
		ch.detach(c)
	}
	ch.requeueAll()
	notifyAndClose(ch.notify, reason)
	ch.notify = nil
}

func (ch *channel) detach(c *consumer) {
	delete(ch.consumers, c.tag)
	for i, other := range c.queue.consumers {
		if other == c {
			c.queue.consumers = append(c.queue.consumers[:i], c.queue.consumers[i+1:]...)
			break
		}
	}
	close(c.deliveries)
}

// requeueAll returns every unacked message to the head of its queue in delivery order.
func (ch *channel) requeueAll() {
	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	byQueue := make(map[*Queue][]*message)
	for _, tag := range tags {
		p := ch.unacked[tag]
		p.msg.redelivered = true
		byQueue[p.queue] = append(byQueue[p.queue], p.msg)
		delete(ch.unacked, tag)
	}
	for q, msgs := range byQueue {
		q.ready = append(msgs, q.ready...)
	}
}

// --- amqp.Acknowledger ---

func (ch *channel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(p pending) {})
}

func (ch *channel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, func(p pending) { ch.reject(p, requeue) })
}

func (ch *channel) Reject(tag uint64, requeue bool) error {
	return ch.settle(tag, false, func(p pending) { ch.reject(p, requeue) })
}

func (ch *channel) settle(tag uint64, multiple bool, fn func(pending)) error {
	b := ch.broker()
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	p, ok := ch.unacked[tag]
	if !ok {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag)}
	}

	settled := []uint64{tag}
	if multiple {
		for t := range ch.unacked {
			if t < tag {
				settled = append(settled, t)
			}
		}
		slices.Sort(settled)
	}
	for _, t := range settled {
		p = ch.unacked[t]
		delete(ch.unacked, t)
		fn(p)
	}

	b.dispatch()
	return nil
}

// reject requeues or dead-letters one message. Callers hold broker.mu.
func (ch *channel) reject(p pending, requeue bool) {
	if requeue {
		p.msg.redelivered = true
		p.queue.ready = append([]*message{p.msg}, p.queue.ready...)
		return
	}

	key, _ := p.queue.args["x-dead-letter-routing-key"].(string)
	if key == "" {
		return
	}
	if dlq, ok := ch.broker().queues[key]; ok {
		dead := *p.msg
		dead.redelivered = false
		dlq.push(&dead)
	}
}

func notifyAndClose(receivers []chan *amqp.Error, reason *amqp.Error) {
	for _, r := range receivers {
		if reason != nil {
			select {
			case r <- reason:
			default:
			}
		}
		close(r)
	}
}
