package exec

import (
	"context"
	"fmt"

	"github.com/dreamware/conductor/internal/rpc"
)

// ShardRequest is the wire body sent to a shard node's query endpoint,
// matching §6.2's executeQuery({query, params, queryType}).
type ShardRequest struct {
	Query     string `json:"query"`
	Params    []any  `json:"params"`
	QueryType string `json:"query_type"`
}

const (
	queryTypeRead  = "read"
	queryTypeWrite = "write"
)

// ShardResponse is the wire body a shard node replies with: rows as an
// ordered list of field->value maps, plus a write-path row count.
type ShardResponse struct {
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
}

// ShardClient issues one query against one shard node. Implementations
// must respect ctx cancellation — the executor relies on that to cut off
// slow shards on the read path once a batch times out.
type ShardClient interface {
	Execute(ctx context.Context, addr string, req ShardRequest) (ShardResponse, error)
}

// httpShardClient is the production ShardClient, generalized from
// johnjansen-torua/internal/cluster's PostJSON-based node RPC pattern (and
// its own internal/rpc adaptation) to the shard query surface: one POST per
// statement, JSON request and response, no extra client-side timeout
// beyond whatever deadline ctx already carries.
type httpShardClient struct {
	path string
}

// NewHTTPShardClient builds a ShardClient that POSTs to {addr}/execute on
// every shard node.
func NewHTTPShardClient() ShardClient {
	return &httpShardClient{path: "/execute"}
}

func (c *httpShardClient) Execute(ctx context.Context, addr string, req ShardRequest) (ShardResponse, error) {
	var resp ShardResponse
	url := fmt.Sprintf("http://%s%s", addr, c.path)
	if err := rpc.PostJSON(ctx, url, req, &resp); err != nil {
		return ShardResponse{}, err
	}
	return resp, nil
}
