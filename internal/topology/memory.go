package topology

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stripes is the number of ApplyIndexDelta lock stripes. ApplyIndexDelta
// takes its (index, key) tuple's stripe and then the store-wide write lock,
// so deltas to the same tuple are linearized and deltas to different tuples
// also run one at a time.
const stripes = 32

// MemoryStore is an in-memory Store, generalized from
// johnjansen-torua/internal/storage.MemoryStore (RWMutex-guarded map, copy-
// out accessors) and internal/coordinator.ShardRegistry (assignment
// materialization, round-robin node placement) into the six-entity
// catalog this system needs. All mutations, ApplyIndexDelta included, share
// a single mutex — table/index/job mutation rates are low enough that one
// writer at a time (§5: "Topology mutations are serialized per database")
// costs nothing, and it keeps every other invariant trivially atomic.
type MemoryStore struct {
	mu      sync.RWMutex
	created bool
	version uint64

	nodes   map[string]StorageNode
	tables  map[string]Table
	shards  map[string]map[int]TableShard // table -> shardID -> TableShard
	indexes map[string]VirtualIndex
	entries map[string]map[string]VirtualIndexEntry // index name -> keyValue -> entry
	jobs    map[string]AsyncJob

	deltaStripes [stripes]sync.Mutex
}

// NewMemoryStore creates an empty, uncreated catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]StorageNode),
		tables:  make(map[string]Table),
		shards:  make(map[string]map[int]TableShard),
		indexes: make(map[string]VirtualIndex),
		entries: make(map[string]map[string]VirtualIndexEntry),
		jobs:    make(map[string]AsyncJob),
	}
}

func (s *MemoryStore) bumpVersion() { s.version++ }

func (s *MemoryStore) Create(ctx context.Context, numNodes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return newErr(ErrAlreadyCreated, "topology already created")
	}
	if numNodes < 1 {
		return newErr(ErrInvalidArgument, "numNodes must be >= 1, got %d", numNodes)
	}
	for i := 0; i < numNodes; i++ {
		id := fmt.Sprintf("node-%d", i)
		s.nodes[id] = StorageNode{ID: id, Status: NodeActive}
	}
	s.created = true
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) requireCreated() error {
	if !s.created {
		return newErr(ErrNotCreated, "topology not created")
	}
	return nil
}

func (s *MemoryStore) GetTopology(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireCreated(); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Version: s.version}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, t := range s.tables {
		snap.Tables = append(snap.Tables, t)
	}
	for _, byShard := range s.shards {
		for _, ts := range byShard {
			snap.TableShards = append(snap.TableShards, ts)
		}
	}
	for _, idx := range s.indexes {
		snap.VirtualIndexes = append(snap.VirtualIndexes, idx)
	}
	for _, byKey := range s.entries {
		for _, e := range byKey {
			snap.VirtualIndexEntries = append(snap.VirtualIndexEntries, e)
		}
	}
	for _, j := range s.jobs {
		snap.AsyncJobs = append(snap.AsyncJobs, j)
	}
	sortSnapshot(&snap)
	return snap, nil
}

func sortSnapshot(s *Snapshot) {
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

func (s *MemoryStore) UpdateTopology(ctx context.Context, delta TableDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireCreated(); err != nil {
		return err
	}

	nodeIDs := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	if len(nodeIDs) == 0 {
		return newErr(ErrInvalidArgument, "no nodes registered")
	}

	for _, t := range delta.Add {
		if _, exists := s.tables[t.Name]; exists {
			return newErr(ErrAlreadyExists, "table %q already exists", t.Name)
		}
		s.tables[t.Name] = t
		byShard := make(map[int]TableShard, t.NumShards)
		for shardID := 0; shardID < t.NumShards; shardID++ {
			node := nodeIDs[shardID%len(nodeIDs)]
			byShard[shardID] = TableShard{TableName: t.Name, ShardID: shardID, NodeID: node}
		}
		s.shards[t.Name] = byShard
	}
	for _, t := range delta.Update {
		if _, exists := s.tables[t.Name]; !exists {
			return newErr(ErrNotFound, "table %q not found", t.Name)
		}
		s.tables[t.Name] = t
	}
	for _, name := range delta.Remove {
		delete(s.tables, name)
		delete(s.shards, name)
	}
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) SetNodeAddr(ctx context.Context, nodeID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return newErr(ErrNotFound, "node %q not found", nodeID)
	}
	node.Addr = addr
	s.nodes[nodeID] = node
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) CreateVirtualIndex(ctx context.Context, idx VirtualIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireCreated(); err != nil {
		return err
	}
	if _, exists := s.indexes[idx.Name]; exists {
		return newErr(ErrAlreadyExists, "index %q already exists", idx.Name)
	}
	if idx.Status == "" {
		idx.Status = IndexBuilding
	}
	s.indexes[idx.Name] = idx
	s.entries[idx.Name] = make(map[string]VirtualIndexEntry)
	s.bumpVersion()
	return nil
}

var validIndexTransitions = map[IndexStatus]map[IndexStatus]bool{
	IndexBuilding:   {IndexReady: true, IndexFailed: true},
	IndexReady:      {IndexRebuilding: true},
	IndexRebuilding: {IndexReady: true, IndexFailed: true},
}

func (s *MemoryStore) UpdateIndexStatus(ctx context.Context, name string, status IndexStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return newErr(ErrNotFound, "index %q not found", name)
	}
	if !validIndexTransitions[idx.Status][status] {
		return newErr(ErrInvalidTransition, "index %q: %s -> %s not allowed", name, idx.Status, status)
	}
	idx.Status = status
	idx.ErrorMessage = errMsg
	s.indexes[name] = idx
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) BatchUpsertIndexEntries(ctx context.Context, name string, newEntries []VirtualIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.entries[name]
	if !ok {
		return newErr(ErrNotFound, "index %q not found", name)
	}
	for _, e := range newEntries {
		if len(e.ShardIDs) == 0 {
			delete(byKey, e.KeyValue)
			continue
		}
		e.ShardIDs = DedupSortShardIDs(e.ShardIDs)
		e.IndexName = name
		byKey[e.KeyValue] = e
	}
	s.bumpVersion()
	return nil
}

func stripeFor(name, keyValue string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(keyValue))
	return int(h.Sum32() % stripes)
}

func (s *MemoryStore) ApplyIndexDelta(ctx context.Context, name string, shardID int, keyValue string, op IndexOp) error {
	stripe := &s.deltaStripes[stripeFor(name, keyValue)]
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.entries[name]
	if !ok {
		return newErr(ErrNotFound, "index %q not found", name)
	}
	entry, exists := byKey[keyValue]
	if !exists {
		entry = VirtualIndexEntry{IndexName: name, KeyValue: keyValue}
	}
	set := make(map[int]struct{}, len(entry.ShardIDs))
	for _, id := range entry.ShardIDs {
		set[id] = struct{}{}
	}
	switch op {
	case IndexOpAdd:
		set[shardID] = struct{}{}
	case IndexOpRemove:
		delete(set, shardID)
	}
	if len(set) == 0 {
		delete(byKey, keyValue)
		s.bumpVersion()
		return nil
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	entry.ShardIDs = SortShardIDs(ids)
	byKey[keyValue] = entry
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) GetIndexedShards(ctx context.Context, name, keyValue string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey, ok := s.entries[name]
	if !ok {
		return nil, newErr(ErrNotFound, "index %q not found", name)
	}
	entry, exists := byKey[keyValue]
	if !exists {
		return nil, nil
	}
	out := make([]int, len(entry.ShardIDs))
	copy(out, entry.ShardIDs)
	return out, nil
}

func (s *MemoryStore) DropVirtualIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return newErr(ErrNotFound, "index %q not found", name)
	}
	delete(s.indexes, name)
	delete(s.entries, name)
	s.bumpVersion()
	return nil
}

func (s *MemoryStore) GetVirtualIndex(ctx context.Context, name string) (VirtualIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return VirtualIndex{}, newErr(ErrNotFound, "index %q not found", name)
	}
	return idx, nil
}

func (s *MemoryStore) CreateAsyncJob(ctx context.Context, job AsyncJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobPending
	}
	s.jobs[job.ID] = job
	s.bumpVersion()
	return job.ID, nil
}

func (s *MemoryStore) UpdateAsyncJob(ctx context.Context, id string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return newErr(ErrNotFound, "job %q not found", id)
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	s.bumpVersion()
	return nil
}
