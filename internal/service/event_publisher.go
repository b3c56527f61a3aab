package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	"github.com/prohmpiriya/rail-reservation/pkg/kafka"
)

// EventPublisher defines the interface for publishing booking events
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, booking *domain.Booking) error
	PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error
	PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error
	PublishPassengerStatusChanged(ctx context.Context, booking *domain.Booking, index int, status domain.TicketStatus) error
	PublishPaymentStatusChanged(ctx context.Context, booking *domain.Booking) error
	PublishRefundSettled(ctx context.Context, booking *domain.Booking) error

	// Close closes the event publisher
	Close() error
}

// MessageProducer is the part of kafka.Producer the publisher needs
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	Close()
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    MessageProducer
	topic       string
	serviceName string
	now         func() time.Time
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	TopicPrefix string
	ServiceName string
	ClientID    string
}

const defaultBookingTopic = "booking-events"

// NewKafkaEventPublisher connects a franz-go producer and wraps it
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, errors.New("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "reservation-api-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:            cfg.Brokers,
		ClientID:           clientID,
		TopicPrefix:        cfg.TopicPrefix,
		MaxRetries:         3,
		RetryInterval:      2 * time.Second,
		MaxBufferedRecords: 1000,
		Linger:             10 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewEventPublisherWithProducer(producer, cfg.Topic, cfg.ServiceName), nil
}

// NewEventPublisherWithProducer builds a publisher over an existing producer
func NewEventPublisherWithProducer(producer MessageProducer, topic, serviceName string) *KafkaEventPublisher {
	if topic == "" {
		topic = defaultBookingTopic
	}
	if serviceName == "" {
		serviceName = "reservation-api"
	}
	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
		now:         time.Now,
	}
}

func (p *KafkaEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return p.publish(ctx, p.event(domain.BookingEventCreated, booking))
}

func (p *KafkaEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return p.publish(ctx, p.event(domain.BookingEventCancelled, booking))
}

func (p *KafkaEventPublisher) PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error {
	return p.publish(ctx, p.event(domain.BookingEventCompleted, booking))
}

func (p *KafkaEventPublisher) PublishPassengerStatusChanged(ctx context.Context, booking *domain.Booking, index int, status domain.TicketStatus) error {
	return p.publish(ctx, p.event(domain.BookingEventPassengerChanged, booking).WithPassenger(index, status))
}

func (p *KafkaEventPublisher) PublishPaymentStatusChanged(ctx context.Context, booking *domain.Booking) error {
	return p.publish(ctx, p.event(domain.BookingEventPaymentStatusChanged, booking))
}

func (p *KafkaEventPublisher) PublishRefundSettled(ctx context.Context, booking *domain.Booking) error {
	return p.publish(ctx, p.event(domain.BookingEventRefundSettled, booking))
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

func (p *KafkaEventPublisher) event(eventType domain.BookingEventType, booking *domain.Booking) *domain.BookingEvent {
	return domain.NewBookingEvent(eventType, booking, uuid.New().String(), p.now())
}

func (p *KafkaEventPublisher) publish(ctx context.Context, event *domain.BookingEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(event.EventType),
			"event_id":     event.EventID,
			"source":       p.serviceName,
			"content_type": "application/json",
		},
		Timestamp: event.OccurredAt,
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}
	return nil
}

// NoOpEventPublisher is used when Kafka is disabled
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

func (p *NoOpEventPublisher) PublishBookingCreated(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingCancelled(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishBookingCompleted(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishPassengerStatusChanged(ctx context.Context, booking *domain.Booking, index int, status domain.TicketStatus) error {
	return nil
}

func (p *NoOpEventPublisher) PublishPaymentStatusChanged(ctx context.Context, booking *domain.Booking) error {
	return nil
}

func (p *NoOpEventPublisher) PublishRefundSettled(ctx context.Context, booking *domain.Booking) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}

var (
	_ EventPublisher = (*KafkaEventPublisher)(nil)
	_ EventPublisher = (*NoOpEventPublisher)(nil)
)
