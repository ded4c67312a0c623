package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/gometeo/skycast/internal/app"
	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/events"
	"github.com/gometeo/skycast/internal/logging"
	"github.com/gometeo/skycast/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("Starting fetch event aggregator...")

	if !cfg.KafkaEnabled() {
		logger.Error("KAFKA_BROKERS is not set")
		os.Exit(1)
	}

	driver, dsn := app.SQLTarget(cfg)

	// 1. Database, retried while it comes up
	var store *storage.SQLStore
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		store, err = storage.Open(driver, dsn, logger)
		if err == nil {
			break
		}
		logger.Warn("Could not connect to database, retrying in 3s...",
			"attempt", i+1, "of", maxRetries, "error", err)
		time.Sleep(3 * time.Second)
	}

	if store == nil {
		logger.Error("Could not connect to database after all attempts", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Connected to database", "driver", driver)

	// 2. Kafka consumer group
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaGroup, saramaCfg)
	if err != nil {
		logger.Error("Could not create Kafka consumer", "error", err)
		os.Exit(1)
	}

	// 3. Consume loop
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		handler := &ConsumerHandler{logger: logger, sink: store}
		for {
			if err := consumer.Consume(ctx, []string{cfg.KafkaTopic}, handler); err != nil {
				logger.Error("Kafka consume failed", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range consumer.Errors() {
			logger.Error("Kafka consumer error", "error", err)
		}
	}()

	// 4. Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Stopping aggregator...")
	cancel()
	wg.Wait()
	consumer.Close()
}

type eventSink interface {
	SaveEvent(ctx context.Context, e events.FetchEvent) error
}

// ConsumerHandler archives every FetchEvent it reads.
type ConsumerHandler struct {
	logger *slog.Logger
	sink   eventSink
}

func (h *ConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *ConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *ConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if h.handle(sess.Context(), msg.Value) {
			sess.MarkMessage(msg, "")
		}
	}
	return nil
}

// handle reports whether the message may be committed. A database failure
// leaves it uncommitted so Kafka redelivers it.
func (h *ConsumerHandler) handle(ctx context.Context, value []byte) bool {
	event, err := events.Decode(value)
	if err != nil {
		h.logger.Error("Dropping malformed event", "error", err)
		return true
	}

	if err := h.sink.SaveEvent(ctx, event); err != nil {
		h.logger.Error("Could not store event", "id", event.ID, "location", event.Location, "error", err)
		return false
	}

	h.logger.Info("Event stored",
		"id", event.ID,
		"location", event.Location,
		"outcome", event.Outcome)
	return true
}
