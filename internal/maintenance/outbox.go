package maintenance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketPending = []byte("pending")
	bucketLeased  = []byte("leased")
)

// OutboxQueue is a bbolt-backed durable Queue: Enqueue/Lease/Ack/Nack are
// each a single bolt transaction, so a crash mid-lease leaves a message in
// exactly one of the pending or leased buckets — never lost, never
// duplicated — matching cuemby-warren's boltdb.go shape of one bucket per
// entity kind with a JSON value per key. Use this in front of
// Config.Conductor.MaintenanceDBPath when maintenance messages must
// survive a conductor restart.
type OutboxQueue struct {
	db *bolt.DB
}

// OpenOutboxQueue opens (creating if needed) a durable queue at path.
func OpenOutboxQueue(path string) (*OutboxQueue, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("maintenance: open outbox %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPending); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLeased)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &OutboxQueue{db: db}, nil
}

// DB exposes the underlying bolt database so a BoltDeadLetterSink can be
// opened against the same file, under its own "dead" bucket.
func (q *OutboxQueue) DB() *bolt.DB { return q.db }

// Close releases the underlying bolt file.
func (q *OutboxQueue) Close() error { return q.db.Close() }

func (q *OutboxQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("maintenance: marshal message: %w", err)
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Put([]byte(msg.ID), data)
	})
}

func (q *OutboxQueue) Lease(ctx context.Context, max int) ([]Message, error) {
	var out []Message
	err := q.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		leased := tx.Bucket(bucketLeased)
		c := pending.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil && len(out) < max; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("maintenance: unmarshal pending %q: %w", k, err)
			}
			if err := leased.Put(k, v); err != nil {
				return err
			}
			out = append(out, msg)
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := pending.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *OutboxQueue) Ack(ctx context.Context, id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLeased).Delete([]byte(id))
	})
}

func (q *OutboxQueue) Nack(ctx context.Context, id string) (bool, error) {
	requeued := false
	err := q.db.Update(func(tx *bolt.Tx) error {
		leased := tx.Bucket(bucketLeased)
		data := leased.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("maintenance: nack of unknown message %q", id)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if err := leased.Delete([]byte(id)); err != nil {
			return err
		}
		msg.Attempts++
		if msg.Attempts >= MaxAttempts {
			return nil
		}
		out, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		requeued = true
		return tx.Bucket(bucketPending).Put([]byte(id), out)
	})
	if err != nil {
		return false, err
	}
	return requeued, nil
}

func (q *OutboxQueue) Depth(ctx context.Context) (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}
