// Package kafka provides the event bus producer and consumer for pipeline
// events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// ProducerConfig holds producer settings
type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// Producer publishes pipeline events
type Producer struct {
	writer *kafkago.Writer
	logger ectologger.Logger
}

// NewProducer creates a kafka producer for the event topic
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.LeastBytes{},
		Compression:            kafkago.Snappy,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, logger: logger}
}

// Publish writes one event keyed by tenant so per-tenant ordering holds
func (p *Producer) Publish(ctx context.Context, eventType, tenantID string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := kafkago.Message{
		Key:   []byte(tenantID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "traceparent", Value: []byte(tracing.GetTraceParent(ctx))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"tenant_id":  tenantID,
		}).Error("failed to publish event")
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	return nil
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
