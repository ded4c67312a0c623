package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

const (
	OutcomeSuccess = "success"
	OutcomeStale   = "stale"
	OutcomeError   = "error"
)

// FetchEvent describes how one weather fetch ended.
type FetchEvent struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Units     string    `json:"units"`
	Outcome   string    `json:"outcome"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	AutoLoad  bool      `json:"auto_load"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event FetchEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, FetchEvent) error { return nil }
func (Nop) Close() error                              { return nil }

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish keys messages by location so one location's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, event FetchEvent) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode fetch event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Location),
		Value: sarama.ByteEncoder(bytes),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send fetch event: %w", err)
	}

	p.logger.Debug("Fetch event sent",
		"location", event.Location,
		"outcome", event.Outcome,
		"partition", partition,
		"offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Decode parses a message value produced by KafkaPublisher.
func Decode(value []byte) (FetchEvent, error) {
	var event FetchEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return FetchEvent{}, fmt.Errorf("decode fetch event: %w", err)
	}
	return event, nil
}
