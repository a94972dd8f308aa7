package maintenance

import (
	"context"
	"fmt"
	"sync"
)

// MaxAttempts is the number of times the Consumer attempts a message before
// routing it to the DeadLetterSink (§4.6).
const MaxAttempts = 3

// Queue is the durable or in-process transport between the conductor's
// write path and the maintenance Consumer.
type Queue interface {
	// Enqueue appends msg, assigning it an ID if msg.ID is empty.
	Enqueue(ctx context.Context, msg Message) error

	// Lease returns up to max pending messages and marks them in-flight,
	// so a concurrent Lease call never returns the same message twice.
	Lease(ctx context.Context, max int) ([]Message, error)

	// Ack permanently removes a successfully processed message.
	Ack(ctx context.Context, id string) error

	// Nack returns a failed message to the pending set with Attempts
	// incremented, or reports requeued=false once MaxAttempts is already
	// exhausted — the caller must then hand it to a DeadLetterSink itself,
	// since Nack never discards a message silently.
	Nack(ctx context.Context, id string) (requeued bool, err error)

	// Depth reports the current number of pending (not in-flight)
	// messages, for the conductor_maintenance_queue_depth gauge.
	Depth(ctx context.Context) (int, error)
}

// ChannelQueue is an in-process, non-durable Queue backed by a slice under
// a mutex plus a leased-set map — messages do not survive a process
// restart. This is the default for a single-process deployment or for
// tests that don't need to exercise crash recovery.
type ChannelQueue struct {
	mu      sync.Mutex
	seq     int
	pending []Message
	leased  map[string]Message
}

// NewChannelQueue builds an empty ChannelQueue.
func NewChannelQueue() *ChannelQueue {
	return &ChannelQueue{leased: make(map[string]Message)}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msg.ID == "" {
		q.seq++
		msg.ID = fmt.Sprintf("msg-%d", q.seq)
	}
	q.pending = append(q.pending, msg)
	return nil
}

func (q *ChannelQueue) Lease(ctx context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.pending) {
		max = len(q.pending)
	}
	out := make([]Message, max)
	copy(out, q.pending[:max])
	q.pending = q.pending[max:]
	for _, m := range out {
		q.leased[m.ID] = m
	}
	return out, nil
}

func (q *ChannelQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, id)
	return nil
}

func (q *ChannelQueue) Nack(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.leased[id]
	if !ok {
		return false, fmt.Errorf("maintenance: nack of unknown message %q", id)
	}
	delete(q.leased, id)
	msg.Attempts++
	if msg.Attempts >= MaxAttempts {
		return false, nil
	}
	q.pending = append(q.pending, msg)
	return true, nil
}

func (q *ChannelQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}
