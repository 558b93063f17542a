// Package worker consumes the job queue and runs the sync pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/bramble/pkg/context"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// JobHandler processes one job. Returning an error leaves the message
// pending for redelivery; exhausted retries go to the DLQ.
type JobHandler func(ctx context.Context, job *redis.JobMessage) error

// ProcessorConfig holds queue processor settings
type ProcessorConfig struct {
	JobQueue      string
	ConsumerGroup string
	ConsumerName  string
	DLQStream     string
	WorkerCount   int
	MaxRetries    int
	BlockTime     time.Duration
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
}

// DefaultProcessorConfig fills in sane defaults, using the hostname as the
// consumer name
func DefaultProcessorConfig() ProcessorConfig {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "bramble-worker"
	}
	return ProcessorConfig{
		JobQueue:      redis.DefaultJobQueue,
		ConsumerGroup: "bramble-workers",
		ConsumerName:  hostname,
		DLQStream:     "bramble:dlq",
		WorkerCount:   4,
		MaxRetries:    3,
		BlockTime:     5 * time.Second,
		ClaimInterval: 30 * time.Second,
		ClaimMinIdle:  time.Minute,
	}
}

type jobItem struct {
	streamID   string
	job        *redis.JobMessage
	retryCount int64
}

// Processor pulls jobs from the stream and hands them to the handler
type Processor struct {
	streams *redis.Streams
	dlq     *redis.DLQ
	handler JobHandler
	logger  ectologger.Logger
	config  ProcessorConfig

	jobsCh chan jobItem
	wg     sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// NewProcessor creates a queue processor
func NewProcessor(streams *redis.Streams, dlq *redis.DLQ, handler JobHandler, logger ectologger.Logger, config ProcessorConfig) *Processor {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.BlockTime <= 0 {
		config.BlockTime = 5 * time.Second
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = 30 * time.Second
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = time.Minute
	}
	return &Processor{
		streams: streams,
		dlq:     dlq,
		handler: handler,
		logger:  logger,
		config:  config,
	}
}

// Start creates the consumer group and launches the consume, claim, and
// worker goroutines
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedC = make(chan struct{})
	p.jobsCh = make(chan jobItem)
	p.mu.Unlock()

	if err := p.streams.CreateConsumerGroup(ctx, p.config.JobQueue, p.config.ConsumerGroup); err != nil {
		return err
	}

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		p.consumeLoop(ctx)
	}()
	go func() {
		defer loops.Done()
		p.claimLoop(ctx)
	}()

	go func() {
		loops.Wait()
		close(p.jobsCh)
		p.wg.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"queue":    p.config.JobQueue,
		"group":    p.config.ConsumerGroup,
		"consumer": p.config.ConsumerName,
		"workers":  p.config.WorkerCount,
	}).Info("queue processor started")

	return nil
}

// Stop drains the loops and waits for in-flight jobs to finish
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.stoppedC
}

// IsRunning reports whether the processor is active
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := p.streams.Consume(ctx, p.config.JobQueue, p.config.ConsumerGroup, p.config.ConsumerName, int64(p.config.WorkerCount), p.config.BlockTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Error("failed to consume jobs")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			p.enqueue(ctx, msg, 0)
		}

		if depth, err := p.streams.Len(ctx, p.config.JobQueue); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}

// claimLoop takes over messages another consumer fetched but never acked,
// sending retry-exhausted ones to the DLQ
func (p *Processor) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := p.streams.Pending(ctx, p.config.JobQueue, p.config.ConsumerGroup, p.config.ClaimMinIdle, int64(p.config.WorkerCount))
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Error("failed to read pending jobs")
			continue
		}

		for _, entry := range pending {
			claimed, err := p.streams.Claim(ctx, p.config.JobQueue, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, entry.ID)
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).Error("failed to claim job")
				continue
			}
			for _, msg := range claimed {
				if entry.RetryCount > int64(p.config.MaxRetries) {
					p.moveToDLQ(ctx, msg, entry.RetryCount, "max retries exceeded")
					continue
				}
				p.enqueue(ctx, msg, entry.RetryCount)
			}
		}
	}
}

func (p *Processor) enqueue(ctx context.Context, msg redis.StreamMessage, retryCount int64) {
	job, err := parseJobMessage(msg)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"stream_id": msg.ID,
		}).Error("dropping malformed job")
		_ = p.streams.Ack(ctx, p.config.JobQueue, p.config.ConsumerGroup, msg.ID)
		return
	}

	select {
	case p.jobsCh <- jobItem{streamID: msg.ID, job: job, retryCount: retryCount}:
	case <-p.stopCh:
	case <-ctx.Done():
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.jobsCh {
		p.processJob(ctx, item)
	}
}

func (p *Processor) processJob(ctx context.Context, item jobItem) {
	ctx, span := tracing.StartSpan(ctx, "worker.Processor.processJob")
	defer span.End()

	ctx = appctx.SetTenantID(ctx, item.job.TenantID)
	ctx = appctx.SetRequestID(ctx, item.job.ID)

	if err := p.handler(ctx, item.job); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id":   item.job.ID,
			"job_type": item.job.Type,
			"attempts": item.retryCount,
		}).Error("job failed")
		// no ack: the message stays pending and claimLoop retries it
		return
	}

	if err := p.streams.Ack(ctx, p.config.JobQueue, p.config.ConsumerGroup, item.streamID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("failed to ack job")
	}
}

func (p *Processor) moveToDLQ(ctx context.Context, msg redis.StreamMessage, retryCount int64, reason string) {
	job, err := parseJobMessage(msg)
	if err != nil {
		job = nil
	}

	entry := &redis.DLQEntry{
		StreamID:   msg.ID,
		Job:        job,
		Reason:     reason,
		TraceID:    tracing.GetTraceID(ctx),
		RetryCount: retryCount,
	}
	if err := p.dlq.Add(ctx, entry); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("failed to move job to dlq")
		return
	}

	if err := p.streams.Ack(ctx, p.config.JobQueue, p.config.ConsumerGroup, msg.ID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("failed to ack dlq job")
	}

	if depth, err := p.dlq.Count(ctx); err == nil {
		metrics.DLQDepth.Set(float64(depth))
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"stream_id": msg.ID,
		"reason":    reason,
	}).Warn("job moved to dlq")
}

func parseJobMessage(msg redis.StreamMessage) (*redis.JobMessage, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}
	var job redis.JobMessage
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to parse job message %s: %w", msg.ID, err)
	}
	return &job, nil
}
