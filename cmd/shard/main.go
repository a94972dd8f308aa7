// Command shard runs one storage-shard node: an HTTP server fronting a
// shardstore.Store (a single SQLite file), exposing the query surface
// exec.httpShardClient POSTs to. Grounded directly on
// johnjansen-torua/cmd/node/main.go's handler/route/signal-handling
// layout, generalized from that node's KV store to the SQL
// ExecuteQuery/ExecuteBatch contract of §6.2.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/conductor/internal/config"
	"github.com/dreamware/conductor/internal/logging"
	"github.com/dreamware/conductor/internal/metrics"
	"github.com/dreamware/conductor/internal/shardstore"
)

// logFatal allows tests to intercept a fatal startup error without
// terminating the test process, same indirection the teacher's node uses.
var logFatal = func(format string, args ...any) {
	logging.Logger.Fatal().Msgf(format, args...)
}

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "shard",
		Short: "run one storage-shard node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadShard(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.BindShardFlags(root, v)

	if err := root.Execute(); err != nil {
		logFatal("shard: %v", err)
	}
}

func run(cfg config.Shard) error {
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log := logging.WithComponent("shard").With().Int("shard_id", cfg.ShardID).Logger()

	metrics.Register()

	store, err := shardstore.Open(cfg.DataDir, cfg.ShardID)
	if err != nil {
		return err
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", handleExecute(store, log))
	mux.HandleFunc("/batch", handleBatch(store, log))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("shard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("shard: listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shard: shutdown error")
	}
	log.Info().Msg("shard stopped")
	return nil
}

// executeRequest/executeResponse mirror exec.ShardRequest/ShardResponse's
// wire shape exactly, without importing the conductor package — a shard
// node has no business depending on the conductor's executor internals,
// only on the JSON contract between them.
type executeRequest struct {
	Query     string `json:"query"`
	Params    []any  `json:"params"`
	QueryType string `json:"query_type"`
}

type executeResponse struct {
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
}

func handleExecute(store *shardstore.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		start := time.Now()
		res, err := store.ExecuteQuery(r.Context(), shardstore.Query{
			SQL:    req.Query,
			Params: req.Params,
			Type:   req.QueryType,
		})
		metrics.ShardQueryDuration.WithLabelValues(req.QueryType).Observe(time.Since(start).Seconds())
		if err != nil {
			log.Warn().Err(err).Str("query", req.Query).Msg("execute failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(executeResponse{Rows: res.Rows, RowsAffected: res.RowsAffected})
	}
}

// handleBatch runs a list of statements atomically, preserving order: they
// run in one transaction, so a failing statement rolls back the ones before
// it. The conductor's executor does not use this route; it sends every
// shard statement to /execute.
func handleBatch(store *shardstore.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reqs []executeRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		queries := make([]shardstore.Query, len(reqs))
		for i, req := range reqs {
			queries[i] = shardstore.Query{SQL: req.Query, Params: req.Params, Type: req.QueryType}
		}

		results, err := store.ExecuteBatch(r.Context(), queries)
		if err != nil {
			log.Warn().Err(err).Int("batch_size", len(queries)).Msg("batch execute failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := make([]executeResponse, len(results))
		for i, res := range results {
			out[i] = executeResponse{Rows: res.Rows, RowsAffected: res.RowsAffected}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
