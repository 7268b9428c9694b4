package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/metrics"
)

// Publisher announces payment lifecycle events. Publishing is best effort: a failure is
// logged and counted, it never fails the transition that produced the event.
type Publisher interface {
	Publish(ctx context.Context, evt *domain.PaymentEvent)
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Async   bool
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        cfg.Async,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish keys messages by payment id so that every event of one payment lands on the same
// partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, evt *domain.PaymentEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal payment event",
			zap.String("payment_id", evt.PaymentID),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
		metrics.EventPublishErrors.Inc()
		return
	}

	msg := kafka.Message{
		Key:   []byte(evt.PaymentID),
		Value: data,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish payment event to Kafka",
			zap.String("payment_id", evt.PaymentID),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
		metrics.EventPublishErrors.Inc()
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.PaymentEvent) {}

func (NoopPublisher) Close() error { return nil }
