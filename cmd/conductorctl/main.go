// Command conductorctl is the administrative CLI for a running conductor
// process: cluster bootstrap, node/table registration, ad hoc queries, and
// a one-shot maintenance drain. Grounded on cuemby-warren/cmd/warren/main.go's
// cobra command-tree shape (a root command with a persistent `--conductor`
// address flag, one subcommand tree per concern, table-formatted output via
// padded fmt.Printf) rather than its own RPC client package, since
// conductorctl talks to a single HTTP admin surface instead of a raft
// manager API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/conductor/internal/rpc"
	"github.com/dreamware/conductor/internal/topology"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conductorctl",
	Short: "administer a conductor cluster",
}

func init() {
	rootCmd.PersistentFlags().String("conductor", "127.0.0.1:8080", "conductor admin/query API address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(clusterCmd, nodeCmd, tableCmd, sqlCmd, maintenanceCmd)
	clusterCmd.AddCommand(clusterInitCmd, clusterStatusCmd)
	nodeCmd.AddCommand(nodeRegisterCmd)
	tableCmd.AddCommand(tableCreateCmd)
	maintenanceCmd.AddCommand(maintenanceDrainCmd)
}

func conductorAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("conductor")
	return addr
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(context.Background(), timeout)
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "manage cluster bootstrap and status",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "bootstrap a brand-new cluster's topology catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		numNodes, _ := cmd.Flags().GetInt("nodes")
		ctx, cancel := requestContext(cmd)
		defer cancel()

		url := fmt.Sprintf("http://%s/admin/create", conductorAddr(cmd))
		if err := rpc.PostJSON(ctx, url, map[string]any{"num_nodes": numNodes}, nil); err != nil {
			return fmt.Errorf("cluster init: %w", err)
		}
		fmt.Printf("cluster initialized with %d storage nodes\n", numNodes)
		return nil
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the current topology snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		var snap topology.Snapshot
		url := fmt.Sprintf("http://%s/admin/topology", conductorAddr(cmd))
		if err := rpc.GetJSON(ctx, url, &snap); err != nil {
			return fmt.Errorf("cluster status: %w", err)
		}

		fmt.Printf("version: %d\n\n", snap.Version)

		fmt.Printf("%-20s %-22s %-10s\n", "NODE ID", "ADDR", "STATUS")
		for _, n := range snap.Nodes {
			fmt.Printf("%-20s %-22s %-10s\n", truncate(n.ID, 20), n.Addr, n.Status)
		}

		fmt.Println()
		fmt.Printf("%-20s %-12s %-10s %-10s\n", "TABLE", "SHARD KEY", "SHARDS", "RESHARD")
		for _, t := range snap.Tables {
			fmt.Printf("%-20s %-12s %-10d %-10t\n", truncate(t.Name, 20), t.ShardKeyCol, t.NumShards, t.Resharding)
		}

		if len(snap.VirtualIndexes) > 0 {
			fmt.Println()
			fmt.Printf("%-20s %-16s %-10s\n", "INDEX", "TABLE", "STATUS")
			for _, idx := range snap.VirtualIndexes {
				fmt.Printf("%-20s %-16s %-10s\n", truncate(idx.Name, 20), truncate(idx.Table, 16), idx.Status)
			}
		}
		return nil
	},
}

func init() {
	clusterInitCmd.Flags().Int("nodes", 3, "number of storage nodes to bootstrap with")
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "manage storage node registration",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "record a storage node's reachable address",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		addr, _ := cmd.Flags().GetString("addr")
		if id == "" || addr == "" {
			return fmt.Errorf("both --id and --addr are required")
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		url := fmt.Sprintf("http://%s/admin/nodes/register", conductorAddr(cmd))
		body := map[string]string{"node_id": id, "addr": addr}
		if err := rpc.PostJSON(ctx, url, body, nil); err != nil {
			return fmt.Errorf("node register: %w", err)
		}
		fmt.Printf("node %s registered at %s\n", id, addr)
		return nil
	},
}

func init() {
	nodeRegisterCmd.Flags().String("id", "", "node ID assigned during cluster init")
	nodeRegisterCmd.Flags().String("addr", "", "host:port this node's shard process listens on")
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "manage sharded table metadata",
}

var tableCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "register a new sharded table",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		pkCol, _ := cmd.Flags().GetString("pk-col")
		pkType, _ := cmd.Flags().GetString("pk-type")
		shardKey, _ := cmd.Flags().GetString("shard-key")
		numShards, _ := cmd.Flags().GetInt("num-shards")
		blockSize, _ := cmd.Flags().GetInt("block-size")
		if name == "" || pkCol == "" || shardKey == "" {
			return fmt.Errorf("--name, --pk-col, and --shard-key are required")
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		delta := topology.TableDelta{
			Add: []topology.Table{{
				Name:           name,
				PrimaryKeyCol:  pkCol,
				PrimaryKeyType: pkType,
				ShardKeyCol:    shardKey,
				NumShards:      numShards,
				BlockSize:      blockSize,
				HashAlgo:       "foldv1",
			}},
		}
		url := fmt.Sprintf("http://%s/admin/tables", conductorAddr(cmd))
		if err := rpc.PostJSON(ctx, url, delta, nil); err != nil {
			return fmt.Errorf("table create: %w", err)
		}
		fmt.Printf("table %q registered across %d shards\n", name, numShards)
		return nil
	},
}

func init() {
	tableCreateCmd.Flags().String("name", "", "table name")
	tableCreateCmd.Flags().String("pk-col", "id", "primary key column name")
	tableCreateCmd.Flags().String("pk-type", "TEXT", "primary key SQL type")
	tableCreateCmd.Flags().String("shard-key", "", "column the hash-based shard assignment is computed from")
	tableCreateCmd.Flags().Int("num-shards", 16, "logical shard count")
	tableCreateCmd.Flags().Int("block-size", 64, "rows per hash-bucket block")
}

var sqlCmd = &cobra.Command{
	Use:   "sql [query]",
	Short: "run one SQL statement against the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paramsJSON, _ := cmd.Flags().GetString("params")
		var params []any
		if paramsJSON != "" {
			if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
				return fmt.Errorf("--params must be a JSON array: %w", err)
			}
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		var resp struct {
			Rows         []map[string]any `json:"rows"`
			RowsAffected int64            `json:"rows_affected"`
		}
		url := fmt.Sprintf("http://%s/sql", conductorAddr(cmd))
		body := map[string]any{"query": args[0], "params": params}
		if err := rpc.PostJSON(ctx, url, body, &resp); err != nil {
			return fmt.Errorf("sql: %w", err)
		}

		if len(resp.Rows) == 0 {
			fmt.Printf("rows affected: %d\n", resp.RowsAffected)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Rows)
	},
}

func init() {
	sqlCmd.Flags().String("params", "", "JSON array of bound parameter values")
}

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "operate the index-maintenance pipeline",
}

var maintenanceDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "process exactly one batch off the maintenance outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		var resp struct {
			QueueDepth int `json:"queue_depth"`
		}
		url := fmt.Sprintf("http://%s/admin/maintenance/drain", conductorAddr(cmd))
		if err := rpc.PostJSON(ctx, url, struct{}{}, &resp); err != nil {
			return fmt.Errorf("maintenance drain: %w", err)
		}
		fmt.Printf("drained one batch; queue depth now %d\n", resp.QueueDepth)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
