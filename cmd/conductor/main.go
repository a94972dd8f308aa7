// Command conductor runs the query router: the HTTP surface in front of
// conductor.DB, backed by a durable topology.boltstore.Store and an
// outbox-backed maintenance.Consumer. Grounded on
// johnjansen-torua/cmd/coordinator/main.go's route/signal-handling shape
// and cuemby-warren/cmd/warren/main.go's cobra root-command wiring,
// generalized from the coordinator's KV routing table to the conductor's
// SQL query surface.
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

	"github.com/dreamware/conductor/internal/conductor"
	"github.com/dreamware/conductor/internal/conductor/exec"
	"github.com/dreamware/conductor/internal/config"
	"github.com/dreamware/conductor/internal/logging"
	"github.com/dreamware/conductor/internal/maintenance"
	"github.com/dreamware/conductor/internal/metrics"
	"github.com/dreamware/conductor/internal/topology"
	"github.com/dreamware/conductor/internal/topology/boltstore"
)

// logFatal allows tests to intercept a fatal startup error without
// terminating the test process, the same indirection cmd/shard uses.
var logFatal = func(format string, args ...any) {
	logging.Logger.Fatal().Msgf(format, args...)
}

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "conductor",
		Short: "run the SQL query router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConductor(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.BindConductorFlags(root, v)

	if err := root.Execute(); err != nil {
		logFatal("conductor: %v", err)
	}
}

func run(cfg config.Conductor) error {
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log := logging.WithComponent("conductor")

	metrics.Register()

	store, err := boltstore.Open(cfg.TopologyDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	outbox, err := maintenance.OpenOutboxQueue(cfg.MaintenanceDBPath)
	if err != nil {
		return err
	}
	defer outbox.Close()

	dlq, err := maintenance.NewBoltDeadLetterSink(outbox.DB())
	if err != nil {
		return err
	}

	client := exec.NewHTTPShardClient()

	db := conductor.New(store, client,
		conductor.WithMaintenanceQueue(outbox),
		conductor.WithParallelism(cfg.FanoutParallelism),
		conductor.WithShardTimeout(time.Duration(cfg.ShardTimeoutMS)*time.Millisecond),
	)

	consumer := maintenance.NewConsumer(outbox, store, client, dlq)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go func() {
		if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("maintenance consumer stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sql", handleSQL(db, log))
	mux.HandleFunc("/admin/create", handleAdminCreate(store, log))
	mux.HandleFunc("/admin/nodes/register", handleAdminRegisterNode(store, log))
	mux.HandleFunc("/admin/tables", handleAdminTables(store, log))
	mux.HandleFunc("/admin/topology", handleAdminTopology(store, log))
	mux.HandleFunc("/admin/maintenance/drain", handleAdminMaintenanceDrain(consumer, outbox, log))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("conductor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("conductor: listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("conductor: shutdown error")
	}
	log.Info().Msg("conductor stopped")
	return nil
}

// sqlRequest/sqlResponse is the §6.1 query surface's wire contract: a
// query string plus its positional params in, a conductor.Result out.
type sqlRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

type sqlResponse struct {
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
	ShardStats   []exec.ShardStat `json:"shard_stats,omitempty"`
}

func handleSQL(db *conductor.DB, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req sqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		start := time.Now()
		res, err := db.QueryString(r.Context(), req.Query, req.Params)
		metrics.QueryDuration.WithLabelValues("sql").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.QueriesTotal.WithLabelValues("sql", "error").Inc()
			log.Warn().Err(err).Str("query", req.Query).Msg("query failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.QueriesTotal.WithLabelValues("sql", "ok").Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sqlResponse{Rows: res.Rows, RowsAffected: res.RowsAffected, ShardStats: res.ShardStats})
	}
}

// registerNodeRequest is what a cmd/shard process POSTs on startup to make
// itself reachable, mirroring johnjansen-torua/cmd/coordinator's /register
// handler for worker nodes.
type registerNodeRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

func handleAdminRegisterNode(store topology.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req registerNodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := store.SetNodeAddr(r.Context(), req.NodeID, req.Addr); err != nil {
			log.Warn().Err(err).Str("node_id", req.NodeID).Msg("node registration failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Info().Str("node_id", req.NodeID).Str("addr", req.Addr).Msg("node registered")
		w.WriteHeader(http.StatusNoContent)
	}
}

// createRequest bootstraps a brand-new cluster with the given node count —
// a one-time administrative call, analogous to topology.Store.Create.
type createRequest struct {
	NumNodes int `json:"num_nodes"`
}

func handleAdminCreate(store topology.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := store.Create(r.Context(), req.NumNodes); err != nil {
			log.Warn().Err(err).Msg("cluster create failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdminTables(store topology.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var delta topology.TableDelta
		if err := json.NewDecoder(r.Body).Decode(&delta); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := store.UpdateTopology(r.Context(), delta); err != nil {
			log.Warn().Err(err).Msg("table topology update failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdminTopology(store topology.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := store.GetTopology(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("get topology failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

type drainResponse struct {
	QueueDepth int `json:"queue_depth"`
}

// handleAdminMaintenanceDrain processes exactly one batch off the
// maintenance outbox on demand, the HTTP counterpart to
// maintenance.Consumer.DrainOnce's doc comment anticipating a one-shot
// `conductorctl maintenance drain` admin command — useful for operators who
// want to confirm a build_index job finished without waiting on the poll
// loop's next tick.
func handleAdminMaintenanceDrain(consumer *maintenance.Consumer, outbox *maintenance.OutboxQueue, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := consumer.DrainOnce(r.Context()); err != nil {
			log.Warn().Err(err).Msg("maintenance drain failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		depth, err := outbox.Depth(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("maintenance depth lookup failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(drainResponse{QueueDepth: depth})
	}
}
