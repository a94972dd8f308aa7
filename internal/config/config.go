// Package config defines the conductor and shard processes' runtime
// configuration, bound from flags, environment variables, and an optional
// config file via viper — the same persistent-flag-plus-init-hook shape
// warren's cmd/warren/main.go uses for its root cobra command, generalized
// here to also bind a config file and env var prefix.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Conductor holds the conductor process's configuration.
type Conductor struct {
	ListenAddr        string `mapstructure:"listen_addr"`
	TopologyDBPath    string `mapstructure:"topology_db_path"`
	MaintenanceDBPath string `mapstructure:"maintenance_db_path"`
	FanoutParallelism int    `mapstructure:"fanout_parallelism"`
	ShardTimeoutMS    int    `mapstructure:"shard_timeout_ms"`
	PlanCacheSize     int    `mapstructure:"plan_cache_size"`
	LogLevel          string `mapstructure:"log_level"`
	LogJSON           bool   `mapstructure:"log_json"`
	MetricsAddr       string `mapstructure:"metrics_addr"`
}

// Shard holds a shard node process's configuration.
type Shard struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	DataDir     string `mapstructure:"data_dir"`
	ShardID     int    `mapstructure:"shard_id"`
	LogLevel    string `mapstructure:"log_level"`
	LogJSON     bool   `mapstructure:"log_json"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultConductor returns the built-in defaults, before flags/env/file
// overrides are applied.
func DefaultConductor() Conductor {
	return Conductor{
		ListenAddr:        ":8080",
		TopologyDBPath:    "conductor-topology.db",
		MaintenanceDBPath: "conductor-maintenance.db",
		FanoutParallelism: 7,
		ShardTimeoutMS:    5000,
		PlanCacheSize:     1024,
		LogLevel:          "info",
		MetricsAddr:       ":9090",
	}
}

// DefaultShard returns the built-in defaults for a shard node.
func DefaultShard() Shard {
	return Shard{
		ListenAddr:  ":8081",
		DataDir:     "./shard-data",
		LogLevel:    "info",
		MetricsAddr: ":9091",
	}
}

// BindConductorFlags registers the conductor's persistent flags on cmd and
// binds them into v with CONDUCTOR_ env var fallback and an optional
// config file search.
func BindConductorFlags(cmd *cobra.Command, v *viper.Viper) {
	def := DefaultConductor()
	cmd.PersistentFlags().String("listen-addr", def.ListenAddr, "address the query/admin HTTP API listens on")
	cmd.PersistentFlags().String("topology-db", def.TopologyDBPath, "path to the topology catalog's bbolt database")
	cmd.PersistentFlags().String("maintenance-db", def.MaintenanceDBPath, "path to the index maintenance outbox's bbolt database")
	cmd.PersistentFlags().Int("fanout-parallelism", def.FanoutParallelism, "max number of shards queried concurrently per statement")
	cmd.PersistentFlags().Int("shard-timeout-ms", def.ShardTimeoutMS, "per-shard request timeout in milliseconds")
	cmd.PersistentFlags().Int("plan-cache-size", def.PlanCacheSize, "max number of cached plans/results")
	cmd.PersistentFlags().String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", def.LogJSON, "emit logs as JSON")
	cmd.PersistentFlags().String("metrics-addr", def.MetricsAddr, "address the /metrics endpoint listens on")

	bindAndConfigure(cmd, v, "conductor")
}

// BindShardFlags registers a shard node's persistent flags on cmd and binds
// them into v with SHARD_ env var fallback.
func BindShardFlags(cmd *cobra.Command, v *viper.Viper) {
	def := DefaultShard()
	cmd.PersistentFlags().String("listen-addr", def.ListenAddr, "address this shard's HTTP API listens on")
	cmd.PersistentFlags().String("data-dir", def.DataDir, "directory holding this shard's SQLite database files")
	cmd.PersistentFlags().Int("shard-id", def.ShardID, "numeric identifier of this shard within the cluster")
	cmd.PersistentFlags().String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", def.LogJSON, "emit logs as JSON")
	cmd.PersistentFlags().String("metrics-addr", def.MetricsAddr, "address the /metrics endpoint listens on")

	bindAndConfigure(cmd, v, "shard")
}

func bindAndConfigure(cmd *cobra.Command, v *viper.Viper, envPrefix string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindPFlags(cmd.PersistentFlags())

	v.SetConfigName(envPrefix)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/conductor")
}

// LoadConductor reads a bound viper instance's values into a Conductor.
// Call after cmd.Execute() has parsed flags (typically in a
// cobra.OnInitialize hook or the RunE body).
func LoadConductor(v *viper.Viper) (Conductor, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Conductor{}, fmt.Errorf("config: read config file: %w", err)
		}
	}
	cfg := DefaultConductor()
	if err := v.Unmarshal(&cfg); err != nil {
		return Conductor{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadShard reads a bound viper instance's values into a Shard.
func LoadShard(v *viper.Viper) (Shard, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Shard{}, fmt.Errorf("config: read config file: %w", err)
		}
	}
	cfg := DefaultShard()
	if err := v.Unmarshal(&cfg); err != nil {
		return Shard{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
