package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dlqMaxLen caps the dead letter stream size
const dlqMaxLen = 10000

// DLQEntry is a job that exhausted its retries
type DLQEntry struct {
	StreamID   string      `json:"stream_id"`
	Job        *JobMessage `json:"job"`
	Reason     string      `json:"reason"`
	FailedAt   time.Time   `json:"failed_at"`
	TraceID    string      `json:"trace_id,omitempty"`
	SourceID   string      `json:"source_id"`
	RetryCount int64       `json:"retry_count"`
}

// DLQ is a dead letter queue backed by a Redis Stream
type DLQ struct {
	client *Client
	stream string
}

// NewDLQ creates a DLQ on the given stream name
func NewDLQ(client *Client, stream string) *DLQ {
	return &DLQ{client: client, stream: stream}
}

// Add appends a failed job to the dead letter stream
func (d *DLQ) Add(ctx context.Context, entry *DLQEntry) error {
	entry.FailedAt = time.Now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq entry: %w", err)
	}

	err = d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add dlq entry: %w", err)
	}

	return nil
}

// List returns the newest entries first, up to count
func (d *DLQ) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	res, err := d.client.rdb.XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dlq entries: %w", err)
	}
	return d.parseMessages(res), nil
}

// ListByTenant returns the newest entries for a tenant, up to count
func (d *DLQ) ListByTenant(ctx context.Context, tenantID string, count int64) ([]DLQEntry, error) {
	res, err := d.client.rdb.XRevRangeN(ctx, d.stream, "+", "-", dlqMaxLen).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dlq entries: %w", err)
	}

	var entries []DLQEntry
	for _, entry := range d.parseMessages(res) {
		if entry.Job != nil && entry.Job.TenantID == tenantID {
			entries = append(entries, entry)
			if int64(len(entries)) >= count {
				break
			}
		}
	}
	return entries, nil
}

// Count returns the number of entries in the dead letter stream
func (d *DLQ) Count(ctx context.Context) (int64, error) {
	return d.client.rdb.XLen(ctx, d.stream).Result()
}

// Delete removes entries by stream id
func (d *DLQ) Delete(ctx context.Context, ids ...string) error {
	return d.client.rdb.XDel(ctx, d.stream, ids...).Err()
}

// Retry re-publishes a dead letter entry to the given job stream and removes
// it from the DLQ. Attempts are reset so the job gets a fresh retry budget.
func (d *DLQ) Retry(ctx context.Context, streams *Streams, jobStream, id string) error {
	res, err := d.client.rdb.XRange(ctx, d.stream, id, id).Result()
	if err != nil {
		return fmt.Errorf("failed to read dlq entry %s: %w", id, err)
	}
	if len(res) == 0 {
		return fmt.Errorf("dlq entry %s not found", id)
	}

	entries := d.parseMessages(res)
	if len(entries) == 0 || entries[0].Job == nil {
		return fmt.Errorf("dlq entry %s has no job payload", id)
	}

	job := entries[0].Job
	job.Attempts = 0
	if _, err := streams.Publish(ctx, jobStream, job); err != nil {
		return fmt.Errorf("failed to re-publish dlq entry %s: %w", id, err)
	}

	return d.Delete(ctx, id)
}

func (d *DLQ) parseMessages(msgs []redis.XMessage) []DLQEntry {
	entries := make([]DLQEntry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entry.SourceID = m.ID
		entries = append(entries, entry)
	}
	return entries
}
