package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dreamware/conductor/internal/conductor/exec"
	"github.com/dreamware/conductor/internal/topology"
)

// handleBuildIndex implements the build_index job: scan every shard
// hosting msg.TableName for msg.ColumnName's distinct values, group the
// resulting value -> shard-set mapping, and upsert it as the index's
// entries in one call, then flip the index to ready. Any failure marks
// the index failed with the error message instead of leaving it stuck in
// building forever.
func handleBuildIndex(ctx context.Context, store topology.Store, client exec.ShardClient, timeout time.Duration, msg Message) error {
	if client == nil {
		err := fmt.Errorf("maintenance: build_index requires a shard client")
		markIndexFailed(ctx, store, msg.IndexName, err)
		return err
	}
	snap, err := store.GetTopology(ctx)
	if err != nil {
		markIndexFailed(ctx, store, msg.IndexName, err)
		return err
	}
	nodeAddrs := make(map[string]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodeAddrs[n.ID] = n.Addr
	}

	byValue := make(map[string]map[int]bool)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", msg.ColumnName, msg.TableName)
	for _, ts := range snap.TableShards {
		if ts.TableName != msg.TableName {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := client.Execute(reqCtx, nodeAddrs[ts.NodeID], exec.ShardRequest{Query: query, QueryType: "read"})
		cancel()
		if err != nil {
			markIndexFailed(ctx, store, msg.IndexName, err)
			return fmt.Errorf("maintenance: build_index scan shard %d: %w", ts.ShardID, err)
		}
		for _, row := range resp.Rows {
			key, ok := topology.CanonicalKey([]any{row[msg.ColumnName]})
			if !ok {
				continue
			}
			if byValue[key] == nil {
				byValue[key] = make(map[int]bool)
			}
			byValue[key][ts.ShardID] = true
		}
	}

	entries := make([]topology.VirtualIndexEntry, 0, len(byValue))
	for key, shards := range byValue {
		ids := make([]int, 0, len(shards))
		for id := range shards {
			ids = append(ids, id)
		}
		entries = append(entries, topology.VirtualIndexEntry{
			IndexName: msg.IndexName,
			KeyValue:  key,
			ShardIDs:  topology.DedupSortShardIDs(ids),
		})
	}
	if err := store.BatchUpsertIndexEntries(ctx, msg.IndexName, entries); err != nil {
		markIndexFailed(ctx, store, msg.IndexName, err)
		return err
	}
	return store.UpdateIndexStatus(ctx, msg.IndexName, topology.IndexReady, "")
}

func markIndexFailed(ctx context.Context, store topology.Store, indexName string, cause error) {
	_ = store.UpdateIndexStatus(ctx, indexName, topology.IndexFailed, cause.Error())
}

// handleMaintainIndexEvents implements the maintain_index_events job:
// apply every event's membership delta to Topology. Each ApplyIndexDelta
// call is independently linearized per (index, key) by the Store, so
// events from different messages touching the same key never race.
func handleMaintainIndexEvents(ctx context.Context, store topology.Store, msg Message) error {
	for _, ev := range msg.Events {
		op := topology.IndexOpAdd
		if strings.EqualFold(ev.Operation, "remove") {
			op = topology.IndexOpRemove
		}
		if err := store.ApplyIndexDelta(ctx, ev.IndexName, ev.ShardID, ev.KeyValue, op); err != nil {
			return err
		}
	}
	return nil
}
