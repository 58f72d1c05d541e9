package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// TendermintClient reads block metadata from a Tendermint RPC endpoint. It
// backs LCD endpoints for height lookups and cannot search transactions.
type TendermintClient struct {
	t *transport
}

// Compile-time interface check.
var _ HeightSource = (*TendermintClient)(nil)

// NewTendermintClient creates a client for one RPC base URL.
func NewTendermintClient(baseURL string, opts ...Option) *TendermintClient {
	return &TendermintClient{t: newTransport("rpc", baseURL, opts...)}
}

type rpcStatusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight flexInt `json:"latest_block_height"`
		} `json:"sync_info"`
	} `json:"result"`
}

type rpcBlockResponse struct {
	Result struct {
		Block struct {
			Header struct {
				Time string `json:"time"`
			} `json:"header"`
		} `json:"block"`
	} `json:"result"`
}

// LatestHeight returns the latest block height from /status.
func (c *TendermintClient) LatestHeight(ctx context.Context) (int64, error) {
	var resp rpcStatusResponse
	if err := c.t.getJSON(ctx, "status", "/status", nil, &resp); err != nil {
		return 0, err
	}
	h := int64(resp.Result.SyncInfo.LatestBlockHeight)
	if h <= 0 {
		return 0, fmt.Errorf("rpc status: missing latest height")
	}
	return h, nil
}

// BlockTime returns the block timestamp from /block.
func (c *TendermintClient) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	params := url.Values{}
	params.Set("height", strconv.FormatInt(height, 10))

	var resp rpcBlockResponse
	if err := c.t.getJSON(ctx, "block", "/block", params, &resp); err != nil {
		return time.Time{}, err
	}
	ts, err := ParseTimestamp(resp.Result.Block.Header.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("rpc block %d time: %w", height, err)
	}
	return ts, nil
}

// SearchTxs is not available over Tendermint RPC in this client.
func (c *TendermintClient) SearchTxs(context.Context, SearchQuery) (*SearchPage, error) {
	return nil, ErrUnsupported
}
