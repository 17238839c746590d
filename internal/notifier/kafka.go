package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes lifecycle events keyed by payment id so all events
// for one payment land on the same partition.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, ev domain.LifecycleEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("KafkaNotifier.Notify: marshal: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.PaymentID.String()),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "tenant_id", Value: []byte(ev.TenantID.String())},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("KafkaNotifier.Notify: %w", err)
	}
	return nil
}
