package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

type consumerFixture struct {
	consumer *Consumer
	store    *memoryStore
	reader   *sdkmetric.ManualReader
	logs     *observer.ObservedLogs
}

func newConsumerFixture(t *testing.T, deadLetter bool) *consumerFixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.New("billing", core)

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	store := &memoryStore{}
	consumer, err := NewConsumer(New(store, store, log), meter, log, deadLetter)
	require.NoError(t, err)

	return &consumerFixture{consumer: consumer, store: store, reader: reader, logs: logs}
}

// counters sums every data point per instrument, keyed by name plus the "kind" attribute when present.
func counters(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if kind, ok := dp.Attributes.Value(attribute.Key("kind")); ok {
					key += "{" + kind.AsString() + "}"
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func message(body string) rabbitmq.Message {
	return rabbitmq.Message{ID: "msg-1", Body: []byte(body)}
}

func TestConsumer_Processed(t *testing.T) {
	f := newConsumerFixture(t, true)

	outcome := f.consumer.Handle(context.Background(), message(`{"user_id":1,"number_of_items":2,"total_amount":19.99,"submitted_at":"2026-10-19T08:00:00Z"}`))

	assert.Equal(t, rabbitmq.Processed, outcome)
	rows := f.store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "msg-1", rows[0].MessageID)
	assert.Equal(t, "19.99", rows[0].TotalAmount.String())
	assert.Equal(t, int64(1), counters(t, f.reader)["billing.messages.persisted"])
}

func TestConsumer_MalformedIsPoison(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"user_id":1}`,
		`{"user_id":1,"number_of_items":0,"total_amount":1}`,
		`{"user_id":1,"number_of_items":1,"total_amount":-1}`,
		`{"user_id":1,"number_of_items":3000000000,"total_amount":1}`,
		`{"user_id":1,"number_of_items":1,"total_amount":"123456789012.50"}`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			f := newConsumerFixture(t, true)

			assert.Equal(t, rabbitmq.PoisonMessage, f.consumer.Handle(context.Background(), message(body)))
			assert.Zero(t, f.store.insertCount(), "store is never touched")
			assert.Equal(t, int64(1), counters(t, f.reader)["billing.messages.dead_lettered"])
			assert.Equal(t, 1, f.logs.FilterMessageSnippet("dead-letter queue").Len())
		})
	}
}

func TestConsumer_MalformedWithoutDeadLetterIsLoggedAsDropped(t *testing.T) {
	f := newConsumerFixture(t, false)

	assert.Equal(t, rabbitmq.PoisonMessage, f.consumer.Handle(context.Background(), message(`{}`)))
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("dropped").Len())
	assert.Equal(t, int64(1), counters(t, f.reader)["billing.messages.dead_lettered"])
}

func TestConsumer_StoreFailuresRequeue(t *testing.T) {
	f := newConsumerFixture(t, true)
	f.store.failNext(errors.New("connection refused"), &pgconn.PgError{Code: "42P01", Message: `relation "orders" does not exist`})

	body := `{"user_id":1,"number_of_items":2,"total_amount":19.99}`
	assert.Equal(t, rabbitmq.RetryableFailure, f.consumer.Handle(context.Background(), message(body)))
	assert.Equal(t, rabbitmq.RetryableFailure, f.consumer.Handle(context.Background(), message(body)))
	assert.Equal(t, rabbitmq.Processed, f.consumer.Handle(context.Background(), message(body)))

	got := counters(t, f.reader)
	assert.Equal(t, int64(1), got["billing.messages.requeued{retryable}"])
	assert.Equal(t, int64(1), got["billing.messages.requeued{fatal}"])
	assert.Equal(t, int64(1), got["billing.messages.persisted"])
	assert.Equal(t, 1, f.logs.FilterField(zapcore.Field{Key: "action", Type: zapcore.StringType, String: "store_rejected_message"}).Len())
	assert.Len(t, f.store.all(), 1)
}
