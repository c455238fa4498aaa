package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigNoz/storefront-api/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

// stalledWriter never delivers and returns once the caller gives up
type stalledWriter struct{}

func (stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledWriter) Close() error { return nil }

func sampleOrder() *models.Order {
	return &models.Order{
		ID:              42,
		UserID:          7,
		Status:          models.OrderStatusPending,
		ShippingAddress: "1 Main St",
		Items: []models.OrderItem{
			{ID: 1, OrderID: 42, ProductID: models.NewProductID(), Quantity: 3, Price: decimal.RequireFromString("10.00")},
		},
	}
}

func TestNewOrderCreated(t *testing.T) {
	evt := NewOrderCreated(sampleOrder(), 5)

	assert.Equal(t, TypeOrderCreated, evt.Type)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, int64(42), evt.Order.ID)
	assert.Equal(t, int64(5), evt.Order.CartID)
	assert.Equal(t, "30.00", evt.Order.TotalPrice.StringFixed(2))
	require.Len(t, evt.Order.Items, 1)
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	evt := NewOrderCreated(sampleOrder(), 5)

	require.NoError(t, p.PublishOrderCreated(context.Background(), evt))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "order.created", decoded["type"])
	assert.Equal(t, "30.00", decoded["order"].(map[string]any)["total_price"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{w: &fakeWriter{err: boom}}

	err := p.PublishOrderCreated(context.Background(), NewOrderCreated(sampleOrder(), 1))
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherRequiresConfig(t *testing.T) {
	_, err := NewKafkaPublisher(" , ", "orders")
	assert.Error(t, err)

	_, err = NewKafkaPublisher("localhost:9092", "")
	assert.Error(t, err)

	p, err := NewKafkaPublisher("localhost:9092", "orders")
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestNewKafkaPublisherFlushesSingleEvents(t *testing.T) {
	p, err := NewKafkaPublisher("localhost:9092, localhost:9093", "orders")
	require.NoError(t, err)
	defer p.Close()

	w, ok := p.w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "orders", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.LessOrEqual(t, w.BatchTimeout, 50*time.Millisecond)
	assert.Greater(t, w.BatchTimeout, time.Duration(0))
}

func TestKafkaPublisherHonoursDeadline(t *testing.T) {
	p := &KafkaPublisher{w: stalledWriter{}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.PublishOrderCreated(ctx, NewOrderCreated(sampleOrder(), 9))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}
