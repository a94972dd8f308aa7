// Package boltstore is a durable topology.Store backed by bbolt, for a
// conductor process that must survive a restart without losing its
// cluster catalog. It mirrors cuemby-warren's boltdb.go shape — one bucket
// per entity kind, a JSON value per key, db.Update/db.View transactions —
// generalized from that package's node/service registry to topology's
// six entity kinds and the exact invariants topology.MemoryStore
// enforces (valid index-status transitions, idempotent entry upserts,
// monotonic version counter).
//
// bbolt serializes every Update against every other Update as a single
// writer transaction, so — unlike MemoryStore, which takes a per-(index,
// key) stripe lock in ApplyIndexDelta before its store-wide mutex — there
// is nothing to stripe here: every mutation already runs one at a time.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/dreamware/conductor/internal/topology"
)

var (
	bucketMeta    = []byte("meta")
	bucketNodes   = []byte("nodes")
	bucketTables  = []byte("tables")
	bucketShards  = []byte("shards")
	bucketIndexes = []byte("indexes")
	bucketEntries = []byte("entries")
	bucketJobs    = []byte("jobs")

	keyCreated = []byte("created")
	keyVersion = []byte("version")
)

// Store is a durable topology.Store. The zero value is not usable; build
// one with Open.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) a durable catalog at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %q: %w", path, err)
	}
	buckets := [][]byte{bucketMeta, bucketNodes, bucketTables, bucketShards, bucketIndexes, bucketEntries, bucketJobs}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bolt file.
func (s *Store) Close() error { return s.db.Close() }

func shardKey(table string, shardID int) []byte {
	return []byte(fmt.Sprintf("%s\x00%08d", table, shardID))
}

func entryKey(index, keyValue string) []byte {
	return []byte(fmt.Sprintf("%s\x00%s", index, keyValue))
}

func newErr(kind string, format string, args ...any) error {
	// topology.newErr is unexported outside its package; boltstore mirrors
	// the same *topology.Error shape through the exported constructors
	// topology's errors.go doesn't provide, so it builds the struct
	// literal directly instead.
	return &topology.Error{Kind: topology.ErrorKind(kind), Message: fmt.Sprintf(format, args...)}
}

func readVersion(tx *bolt.Tx) uint64 {
	v := tx.Bucket(bucketMeta).Get(keyVersion)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func bumpVersion(tx *bolt.Tx) error {
	next := readVersion(tx) + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	return tx.Bucket(bucketMeta).Put(keyVersion, buf)
}

func isCreated(tx *bolt.Tx) bool {
	return tx.Bucket(bucketMeta).Get(keyCreated) != nil
}

func requireCreated(tx *bolt.Tx) error {
	if !isCreated(tx) {
		return newErr(string(topology.ErrNotCreated), "topology not created")
	}
	return nil
}

func (s *Store) Create(ctx context.Context, numNodes int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if isCreated(tx) {
			return newErr(string(topology.ErrAlreadyCreated), "topology already created")
		}
		if numNodes < 1 {
			return newErr(string(topology.ErrInvalidArgument), "numNodes must be >= 1, got %d", numNodes)
		}
		nodes := tx.Bucket(bucketNodes)
		for i := 0; i < numNodes; i++ {
			id := fmt.Sprintf("node-%d", i)
			node := topology.StorageNode{ID: id, Status: topology.NodeActive}
			data, err := json.Marshal(node)
			if err != nil {
				return err
			}
			if err := nodes.Put([]byte(id), data); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketMeta).Put(keyCreated, []byte{1}); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

func (s *Store) GetTopology(ctx context.Context) (topology.Snapshot, error) {
	var snap topology.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := requireCreated(tx); err != nil {
			return err
		}
		snap.Version = readVersion(tx)

		if err := tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n topology.StorageNode
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			snap.Nodes = append(snap.Nodes, n)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTables).ForEach(func(_, v []byte) error {
			var t topology.Table
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			snap.Tables = append(snap.Tables, t)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketShards).ForEach(func(_, v []byte) error {
			var ts topology.TableShard
			if err := json.Unmarshal(v, &ts); err != nil {
				return err
			}
			snap.TableShards = append(snap.TableShards, ts)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndexes).ForEach(func(_, v []byte) error {
			var idx topology.VirtualIndex
			if err := json.Unmarshal(v, &idx); err != nil {
				return err
			}
			snap.VirtualIndexes = append(snap.VirtualIndexes, idx)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e topology.VirtualIndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			snap.VirtualIndexEntries = append(snap.VirtualIndexEntries, e)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j topology.AsyncJob
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			snap.AsyncJobs = append(snap.AsyncJobs, j)
			return nil
		})
	})
	if err != nil {
		return topology.Snapshot{}, err
	}
	sortSnapshot(&snap)
	return snap, nil
}

func sortSnapshot(s *topology.Snapshot) {
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	sort.Slice(s.TableShards, func(i, j int) bool {
		if s.TableShards[i].TableName != s.TableShards[j].TableName {
			return s.TableShards[i].TableName < s.TableShards[j].TableName
		}
		return s.TableShards[i].ShardID < s.TableShards[j].ShardID
	})
	sort.Slice(s.VirtualIndexes, func(i, j int) bool { return s.VirtualIndexes[i].Name < s.VirtualIndexes[j].Name })
	sort.Slice(s.VirtualIndexEntries, func(i, j int) bool {
		if s.VirtualIndexEntries[i].IndexName != s.VirtualIndexEntries[j].IndexName {
			return s.VirtualIndexEntries[i].IndexName < s.VirtualIndexEntries[j].IndexName
		}
		return s.VirtualIndexEntries[i].KeyValue < s.VirtualIndexEntries[j].KeyValue
	})
	sort.Slice(s.AsyncJobs, func(i, j int) bool { return s.AsyncJobs[i].ID < s.AsyncJobs[j].ID })
}

func (s *Store) UpdateTopology(ctx context.Context, delta topology.TableDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := requireCreated(tx); err != nil {
			return err
		}
		nodes := tx.Bucket(bucketNodes)
		var nodeIDs []string
		if err := nodes.ForEach(func(k, _ []byte) error {
			nodeIDs = append(nodeIDs, string(k))
			return nil
		}); err != nil {
			return err
		}
		sort.Strings(nodeIDs)
		if len(nodeIDs) == 0 {
			return newErr(string(topology.ErrInvalidArgument), "no nodes registered")
		}

		tables := tx.Bucket(bucketTables)
		shards := tx.Bucket(bucketShards)
		for _, t := range delta.Add {
			if tables.Get([]byte(t.Name)) != nil {
				return newErr(string(topology.ErrAlreadyExists), "table %q already exists", t.Name)
			}
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := tables.Put([]byte(t.Name), data); err != nil {
				return err
			}
			for shardID := 0; shardID < t.NumShards; shardID++ {
				node := nodeIDs[shardID%len(nodeIDs)]
				ts := topology.TableShard{TableName: t.Name, ShardID: shardID, NodeID: node}
				tsData, err := json.Marshal(ts)
				if err != nil {
					return err
				}
				if err := shards.Put(shardKey(t.Name, shardID), tsData); err != nil {
					return err
				}
			}
		}
		for _, t := range delta.Update {
			if tables.Get([]byte(t.Name)) == nil {
				return newErr(string(topology.ErrNotFound), "table %q not found", t.Name)
			}
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := tables.Put([]byte(t.Name), data); err != nil {
				return err
			}
		}
		for _, name := range delta.Remove {
			if err := tables.Delete([]byte(name)); err != nil {
				return err
			}
			if err := deletePrefix(shards, []byte(name+"\x00")); err != nil {
				return err
			}
		}
		return bumpVersion(tx)
	})
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

func (s *Store) SetNodeAddr(ctx context.Context, nodeID, addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nodes := tx.Bucket(bucketNodes)
		data := nodes.Get([]byte(nodeID))
		if data == nil {
			return newErr(string(topology.ErrNotFound), "node %q not found", nodeID)
		}
		var node topology.StorageNode
		if err := json.Unmarshal(data, &node); err != nil {
			return err
		}
		node.Addr = addr
		out, err := json.Marshal(node)
		if err != nil {
			return err
		}
		if err := nodes.Put([]byte(nodeID), out); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

func (s *Store) CreateVirtualIndex(ctx context.Context, idx topology.VirtualIndex) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := requireCreated(tx); err != nil {
			return err
		}
		indexes := tx.Bucket(bucketIndexes)
		if indexes.Get([]byte(idx.Name)) != nil {
			return newErr(string(topology.ErrAlreadyExists), "index %q already exists", idx.Name)
		}
		if idx.Status == "" {
			idx.Status = topology.IndexBuilding
		}
		data, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		if err := indexes.Put([]byte(idx.Name), data); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

var validIndexTransitions = map[topology.IndexStatus]map[topology.IndexStatus]bool{
	topology.IndexBuilding:   {topology.IndexReady: true, topology.IndexFailed: true},
	topology.IndexReady:      {topology.IndexRebuilding: true},
	topology.IndexRebuilding: {topology.IndexReady: true, topology.IndexFailed: true},
}

func (s *Store) UpdateIndexStatus(ctx context.Context, name string, status topology.IndexStatus, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		data := indexes.Get([]byte(name))
		if data == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		var idx topology.VirtualIndex
		if err := json.Unmarshal(data, &idx); err != nil {
			return err
		}
		if !validIndexTransitions[idx.Status][status] {
			return newErr(string(topology.ErrInvalidTransition), "index %q: %s -> %s not allowed", name, idx.Status, status)
		}
		idx.Status = status
		idx.ErrorMessage = errMsg
		out, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		if err := indexes.Put([]byte(name), out); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

func (s *Store) BatchUpsertIndexEntries(ctx context.Context, name string, newEntries []topology.VirtualIndexEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		if indexes.Get([]byte(name)) == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		entries := tx.Bucket(bucketEntries)
		for _, e := range newEntries {
			key := entryKey(name, e.KeyValue)
			if len(e.ShardIDs) == 0 {
				if err := entries.Delete(key); err != nil {
					return err
				}
				continue
			}
			e.ShardIDs = topology.DedupSortShardIDs(e.ShardIDs)
			e.IndexName = name
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := entries.Put(key, data); err != nil {
				return err
			}
		}
		return bumpVersion(tx)
	})
}

func (s *Store) ApplyIndexDelta(ctx context.Context, name string, shardID int, keyValue string, op topology.IndexOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		if indexes.Get([]byte(name)) == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		entries := tx.Bucket(bucketEntries)
		key := entryKey(name, keyValue)

		var entry topology.VirtualIndexEntry
		if data := entries.Get(key); data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return err
			}
		} else {
			entry = topology.VirtualIndexEntry{IndexName: name, KeyValue: keyValue}
		}

		set := make(map[int]struct{}, len(entry.ShardIDs))
		for _, id := range entry.ShardIDs {
			set[id] = struct{}{}
		}
		switch op {
		case topology.IndexOpAdd:
			set[shardID] = struct{}{}
		case topology.IndexOpRemove:
			delete(set, shardID)
		}
		if len(set) == 0 {
			if err := entries.Delete(key); err != nil {
				return err
			}
			return bumpVersion(tx)
		}
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		entry.ShardIDs = topology.SortShardIDs(ids)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := entries.Put(key, data); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

func (s *Store) GetIndexedShards(ctx context.Context, name, keyValue string) ([]int, error) {
	var out []int
	err := s.db.View(func(tx *bolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		if indexes.Get([]byte(name)) == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		data := tx.Bucket(bucketEntries).Get(entryKey(name, keyValue))
		if data == nil {
			return nil
		}
		var entry topology.VirtualIndexEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		out = make([]int, len(entry.ShardIDs))
		copy(out, entry.ShardIDs)
		return nil
	})
	return out, err
}

func (s *Store) DropVirtualIndex(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		if indexes.Get([]byte(name)) == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		if err := indexes.Delete([]byte(name)); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketEntries), []byte(name+"\x00")); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}

func (s *Store) GetVirtualIndex(ctx context.Context, name string) (topology.VirtualIndex, error) {
	var idx topology.VirtualIndex
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIndexes).Get([]byte(name))
		if data == nil {
			return newErr(string(topology.ErrNotFound), "index %q not found", name)
		}
		return json.Unmarshal(data, &idx)
	})
	if err != nil {
		return topology.VirtualIndex{}, err
	}
	return idx, nil
}

func (s *Store) CreateAsyncJob(ctx context.Context, job topology.AsyncJob) (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		id = job.ID
		now := time.Now()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		if job.Status == "" {
			job.Status = topology.JobPending
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateAsyncJob(ctx context.Context, id string, status topology.JobStatus, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		data := jobs.Get([]byte(id))
		if data == nil {
			return newErr(string(topology.ErrNotFound), "job %q not found", id)
		}
		var job topology.AsyncJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		job.Status = status
		job.Error = errMsg
		job.UpdatedAt = time.Now()
		out, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(id), out); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
}
