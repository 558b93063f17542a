package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultJobQueue is the stream sync jobs are published to
const DefaultJobQueue = "bramble:jobs"

// JobMessage is the payload placed on the sync job stream. Payload carries
// job-type specific data.
type JobMessage struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

// StreamMessage is a raw message read from a stream
type StreamMessage struct {
	ID     string
	Values map[string]any
}

// Streams provides Redis Streams operations for the job queue
type Streams struct {
	client *Client
}

// NewStreams creates a Streams helper on the given client
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish appends a job to the stream. The message is stored as json under
// the "data" field.
func (s *Streams) Publish(ctx context.Context, stream string, msg *JobMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job message: %w", err)
	}

	id, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	return id, nil
}

// CreateConsumerGroup creates the consumer group if it doesn't exist yet
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume blocks up to the given duration reading new messages for the
// consumer. Returns an empty slice on timeout.
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	var messages []StreamMessage
	for _, sr := range res {
		for _, m := range sr.Messages {
			messages = append(messages, StreamMessage{ID: m.ID, Values: m.Values})
		}
	}
	return messages, nil
}

// Ack acknowledges processed messages
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// PendingEntry describes an unacknowledged message
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// Pending lists unacknowledged messages idle for at least minIdle
func (s *Streams) Pending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	res, err := s.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending entries for %s: %w", stream, err)
	}

	entries := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		entries = append(entries, PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			RetryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// Claim transfers ownership of pending messages to the given consumer
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	res, err := s.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages on %s: %w", stream, err)
	}

	messages := make([]StreamMessage, 0, len(res))
	for _, m := range res {
		messages = append(messages, StreamMessage{ID: m.ID, Values: m.Values})
	}
	return messages, nil
}

// Len returns the stream length
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

// Trim caps the stream at approximately maxLen entries
func (s *Streams) Trim(ctx context.Context, stream string, maxLen int64) error {
	return s.client.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
}
