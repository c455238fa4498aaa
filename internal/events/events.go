// Package events publishes domain events about committed orders.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/SigNoz/storefront-api/internal/models"
)

const TypeOrderCreated = "order.created"

// OrderCreated is emitted once an order transaction has committed
type OrderCreated struct {
	EventID    string              `json:"event_id"`
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Order      OrderCreatedPayload `json:"order"`
}

type OrderCreatedPayload struct {
	ID         int64                  `json:"id"`
	UserID     int64                  `json:"user_id"`
	CartID     int64                  `json:"cart_id"`
	Status     models.OrderStatus     `json:"status"`
	TotalPrice models.Money           `json:"total_price"`
	Items      []models.OrderItemView `json:"items"`
}

// NewOrderCreated builds the event for o, converted from cartID
func NewOrderCreated(o *models.Order, cartID int64) OrderCreated {
	view := models.NewOrderView(o, nil)
	return OrderCreated{
		EventID:    uuid.NewString(),
		Type:       TypeOrderCreated,
		OccurredAt: time.Now().UTC(),
		Order: OrderCreatedPayload{
			ID:         o.ID,
			UserID:     o.UserID,
			CartID:     cartID,
			Status:     o.Status,
			TotalPrice: view.TotalPrice,
			Items:      view.Items,
		},
	}
}

// Publisher delivers order events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, evt OrderCreated) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishOrderCreated(context.Context, OrderCreated) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}

// messageWriter is the subset of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by order id, so all events of
// one order land on the same partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher returns a publisher for the comma separated broker list
func NewKafkaPublisher(brokersCSV, topic string) (*KafkaPublisher, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		// one event per checkout; do not hold it back waiting for a fuller batch
		BatchTimeout: 10 * time.Millisecond,
	}}, nil
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, evt OrderCreated) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.Order.ID, 10)),
		Value: data,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.EventID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// ParseBrokers splits a comma separated broker list, dropping blanks
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
