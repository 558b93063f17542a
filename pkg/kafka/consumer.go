package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// ConsumerConfig holds consumer settings
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Handler processes one message. Returning an error leaves the offset
// uncommitted so the message is redelivered.
type Handler func(ctx context.Context, msg kafkago.Message) error

// Consumer reads pipeline events in a consumer group
type Consumer struct {
	reader  *kafkago.Reader
	handler Handler
	logger  ectologger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer. Offsets are committed only after the
// handler succeeds, so processing is at-least-once.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger ectologger.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
	})
	return &Consumer{reader: reader, handler: handler, logger: logger}
}

// Start begins consuming in the background
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consumeLoop(ctx)
}

// Stop halts consumption and closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("failed to fetch message")
			continue
		}

		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafkago.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	if err := c.handler(ctx, msg); err != nil {
		// offset stays uncommitted; the message comes back around
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("failed to process message")
		return
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("failed to commit offset")
	}
}

// EventType extracts the event_type header of a message
func EventType(msg kafkago.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
