package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// DeadLetterSink records a message that exhausted MaxAttempts, for later
// operator inspection (§4.6's dead bucket).
type DeadLetterSink interface {
	Record(ctx context.Context, msg Message, cause error) error
}

// MemoryDeadLetterSink is an in-memory recorder: tests use it to assert on
// exactly what got dead-lettered, and any single-process deployment that
// doesn't need the list to survive a restart can use it directly.
type MemoryDeadLetterSink struct {
	mu      sync.Mutex
	Entries []Message
}

// NewMemoryDeadLetterSink builds an empty MemoryDeadLetterSink.
func NewMemoryDeadLetterSink() *MemoryDeadLetterSink { return &MemoryDeadLetterSink{} }

func (s *MemoryDeadLetterSink) Record(ctx context.Context, msg Message, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, msg)
	return nil
}

var bucketDead = []byte("dead")

// BoltDeadLetterSink persists dead-lettered messages in the same bbolt
// file as an OutboxQueue's pending/leased buckets, under a third "dead"
// bucket, so an operator inspecting one maintenance database file sees a
// job's full lifecycle.
type BoltDeadLetterSink struct {
	db *bolt.DB
}

// NewBoltDeadLetterSink builds a sink over db, creating the dead bucket if
// it doesn't already exist. Pass an OutboxQueue's DB() to share one file.
func NewBoltDeadLetterSink(db *bolt.DB) (*BoltDeadLetterSink, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDead)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltDeadLetterSink{db: db}, nil
}

func (s *BoltDeadLetterSink) Record(ctx context.Context, msg Message, cause error) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("maintenance: marshal dead message: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDead).Put([]byte(msg.ID), data)
	})
}
