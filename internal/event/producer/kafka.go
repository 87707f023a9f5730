// Package producer emits security events to Kafka for downstream monitoring.
package producer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"authguard/core/internal/event/domain"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a
	// goroutine if needed. Errors are write failures; callers typically log and ignore.
	Emit(ctx context.Context, event *domain.SecurityEvent) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaProducer creates a Kafka producer that writes security events to the
// given topic. Returns nil when brokers or topic are unset, so wiring stays
// optional. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaProducer{writer: writer, topic: topic}
}

// Emit serializes the event as JSON keyed by account so per-account ordering
// survives partitioning, and writes it to the topic.
func (p *KafkaProducer) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if p == nil || p.writer == nil || event == nil {
		return nil
	}
	payload, err := json.Marshal(wireEvent{
		EventID:           event.EventID,
		AccountID:         event.AccountID,
		EventType:         string(event.Type),
		OccurredAt:        event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Success:           event.Success,
		OriginFingerprint: event.OriginFingerprint,
		Detail:            event.Detail,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: payload,
	})
	if err != nil {
		slog.Warn("security event kafka emit failed", "event_type", event.Type, "error", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// wireEvent is the JSON shape written to Kafka. Field names are part of the
// stream contract consumed by cmd/worker.
type wireEvent struct {
	EventID           string         `json:"eventId"`
	AccountID         string         `json:"accountId,omitempty"`
	EventType         string         `json:"eventType"`
	OccurredAt        string         `json:"occurredAt"`
	Success           bool           `json:"success"`
	OriginFingerprint string         `json:"originFingerprint,omitempty"`
	Detail            map[string]any `json:"detail,omitempty"`
}
