package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

// execCmd runs cmd with args against a fresh flag set, returning stderr-style
// errors via RunE's own return. Persistent flags (--conductor, --timeout)
// must be registered on cmd or one of its parents before this is called.
func execCmd(t *testing.T, cmd *cobra.Command, args ...string) {
	t.Helper()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
}

func TestClusterInitPostsNumNodes(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/create" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cmd := &cobra.Command{Use: "conductorctl"}
	cmd.PersistentFlags().String("conductor", "", "")
	cmd.PersistentFlags().Duration("timeout", 0, "")
	cmd.AddCommand(clusterCmd)

	execCmd(t, cmd, "cluster", "init", "--nodes", "5", "--conductor", strings.TrimPrefix(srv.URL, "http://"), "--timeout", "5s")

	if gotBody["num_nodes"] != float64(5) {
		t.Fatalf("expected num_nodes=5, got %v", gotBody)
	}
}

func TestSQLCommandParsesParamsAndPrintsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		params, _ := body["params"].([]any)
		if len(params) != 1 || params[0] != "alice" {
			t.Fatalf("unexpected params: %v", body["params"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rows": []map[string]any{{"id": "alice"}},
		})
	}))
	defer srv.Close()

	cmd := &cobra.Command{Use: "conductorctl"}
	cmd.PersistentFlags().String("conductor", "", "")
	cmd.PersistentFlags().Duration("timeout", 0, "")
	cmd.AddCommand(sqlCmd)

	execCmd(t, cmd, "sql", "SELECT * FROM users WHERE id = ?",
		"--params", `["alice"]`,
		"--conductor", strings.TrimPrefix(srv.URL, "http://"),
		"--timeout", "5s")
}

func TestMaintenanceDrainReportsDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/maintenance/drain" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"queue_depth": 2})
	}))
	defer srv.Close()

	cmd := &cobra.Command{Use: "conductorctl"}
	cmd.PersistentFlags().String("conductor", "", "")
	cmd.PersistentFlags().Duration("timeout", 0, "")
	cmd.AddCommand(maintenanceCmd)

	execCmd(t, cmd, "maintenance", "drain", "--conductor", strings.TrimPrefix(srv.URL, "http://"), "--timeout", "5s")
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	if got := truncate("a-very-long-node-id", 8); utf8.RuneCountInString(got) != 8 {
		t.Fatalf("expected truncated length 8 runes, got %q (%d)", got, utf8.RuneCountInString(got))
	}
}
