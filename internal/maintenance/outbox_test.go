package maintenance

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestOutbox(t *testing.T) *OutboxQueue {
	t.Helper()
	q, err := OpenOutboxQueue(filepath.Join(t.TempDir(), "maintenance.db"))
	if err != nil {
		t.Fatalf("OpenOutboxQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestOutboxQueueEnqueueLeaseAck(t *testing.T) {
	ctx := context.Background()
	q := openTestOutbox(t)

	if err := q.Enqueue(ctx, Message{Type: JobBuildIndex, TableName: "users"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if depth, err := q.Depth(ctx); err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d, %v", depth, err)
	}

	msgs, err := q.Lease(ctx, 10)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID == "" {
		t.Fatalf("expected one leased message with an assigned ID, got %+v", msgs)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected leased message to leave the pending bucket, got depth %d", depth)
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestOutboxQueueNackRequeuesThenExhausts(t *testing.T) {
	ctx := context.Background()
	q := openTestOutbox(t)
	q.Enqueue(ctx, Message{ID: "m1", Type: JobMaintainIndexEvents})

	for i := 0; i < MaxAttempts-1; i++ {
		msgs, err := q.Lease(ctx, 10)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("attempt %d: Lease: %v %+v", i, err, msgs)
		}
		requeued, err := q.Nack(ctx, "m1")
		if err != nil || !requeued {
			t.Fatalf("attempt %d: expected requeue, got %v %v", i, requeued, err)
		}
	}

	msgs, err := q.Lease(ctx, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("final Lease: %v %+v", err, msgs)
	}
	requeued, err := q.Nack(ctx, "m1")
	if err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if requeued {
		t.Fatal("expected requeued=false once MaxAttempts is exhausted")
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected exhausted message off the pending bucket, got depth %d", depth)
	}
}

func TestOutboxQueuePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "maintenance.db")

	q, err := OpenOutboxQueue(path)
	if err != nil {
		t.Fatalf("OpenOutboxQueue: %v", err)
	}
	q.Enqueue(ctx, Message{ID: "durable", Type: JobBuildIndex})
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenOutboxQueue(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if depth, err := reopened.Depth(ctx); err != nil || depth != 1 {
		t.Fatalf("expected the enqueued message to survive reopen, got depth %d, %v", depth, err)
	}
}
