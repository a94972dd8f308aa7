package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/conductor/internal/conductor/exec"
	"github.com/dreamware/conductor/internal/logging"
	"github.com/dreamware/conductor/internal/metrics"
	"github.com/dreamware/conductor/internal/topology"
)

// BatchSize is the number of messages leased per poll, matching the
// outbox worker's per-tick batch cap.
const BatchSize = 10

// PollInterval is how often the Consumer checks the Queue for new work.
const PollInterval = 200 * time.Millisecond

// Consumer drains a Queue, running each batch's handlers with
// bounded-parallel settlement and routing exhausted-retry messages to a
// DeadLetterSink — generalizing mycelian-memory's outbox Worker's
// lease/process/settle loop from a fixed embed-and-index job to this
// package's build_index/maintain_index_events pair.
type Consumer struct {
	queue        Queue
	store        topology.Store
	client       exec.ShardClient
	dlq          DeadLetterSink
	shardTimeout time.Duration
	log          zerolog.Logger
}

// NewConsumer builds a Consumer. client is used only by the build_index
// handler to scan shards; it may be nil for a Consumer that only ever
// sees maintain_index_events messages.
func NewConsumer(queue Queue, store topology.Store, client exec.ShardClient, dlq DeadLetterSink) *Consumer {
	return &Consumer{
		queue:        queue,
		store:        store,
		client:       client,
		dlq:          dlq,
		shardTimeout: exec.DefaultShardTimeout,
		log:          logging.WithComponent("maintenance"),
	}
}

// Run polls the queue until ctx is cancelled, processing batches of up to
// BatchSize messages at a time.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.DrainOnce(ctx); err != nil {
				c.log.Warn().Err(err).Msg("maintenance: drain failed")
			}
		}
	}
}

// DrainOnce leases and settles up to one batch. It's exported so tests (and
// a one-shot `conductorctl maintenance drain` admin command) can process
// exactly one round without a running poll loop.
func (c *Consumer) DrainOnce(ctx context.Context) error {
	msgs, err := c.queue.Lease(ctx, BatchSize)
	if err != nil {
		return err
	}
	if depth, derr := c.queue.Depth(ctx); derr == nil {
		metrics.MaintenanceQueueDepth.Set(float64(depth))
	}
	if len(msgs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			c.settle(gctx, msg)
			return nil
		})
	}
	return g.Wait()
}

// settle runs one message's handler and acks, nacks, or dead-letters it.
// It never returns an error itself — one message's outcome must never
// cancel its siblings in the same batch.
func (c *Consumer) settle(ctx context.Context, msg Message) {
	err := c.handle(ctx, msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MaintenanceJobsTotal.WithLabelValues(string(msg.Type), outcome).Inc()

	if err == nil {
		if ackErr := c.queue.Ack(ctx, msg.ID); ackErr != nil {
			c.log.Warn().Err(ackErr).Str("message_id", msg.ID).Msg("ack failed")
		}
		return
	}

	c.log.Warn().Err(err).Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("maintenance job failed")
	requeued, nackErr := c.queue.Nack(ctx, msg.ID)
	if nackErr != nil {
		c.log.Error().Err(nackErr).Str("message_id", msg.ID).Msg("nack failed")
		return
	}
	if requeued {
		return
	}

	metrics.MaintenanceDLQTotal.Inc()
	if dlqErr := c.dlq.Record(ctx, msg, err); dlqErr != nil {
		c.log.Error().Err(dlqErr).Str("message_id", msg.ID).Msg("dead-letter record failed")
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case JobBuildIndex:
		return handleBuildIndex(ctx, c.store, c.client, c.shardTimeout, msg)
	case JobMaintainIndexEvents:
		return handleMaintainIndexEvents(ctx, c.store, msg)
	default:
		return fmt.Errorf("maintenance: unknown job type %q", msg.Type)
	}
}
