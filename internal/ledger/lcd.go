package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// LCDClient talks to a Cosmos SDK LCD (REST) endpoint: block metadata by
// height and event-filtered transaction search.
type LCDClient struct {
	t     *transport
	limit int
}

// Compile-time interface check.
var _ HeightSource = (*LCDClient)(nil)

// NewLCDClient creates a client for one LCD base URL.
func NewLCDClient(baseURL string, limit int, opts ...Option) *LCDClient {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &LCDClient{
		t:     newTransport("lcd", baseURL, opts...),
		limit: limit,
	}
}

type lcdBlockResponse struct {
	Block struct {
		Header struct {
			Height flexInt `json:"height"`
			Time   string  `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

type lcdSearchResponse struct {
	TxResponses []lcdTx `json:"tx_responses"`
	Pagination  *struct {
		NextKey *string `json:"next_key"`
	} `json:"pagination"`
}

type lcdTx struct {
	Height    flexInt `json:"height"`
	TxHash    string  `json:"txhash"`
	Timestamp string  `json:"timestamp"`
	Logs      []Log   `json:"logs"`
	RawLog    string  `json:"raw_log"`
	Tx        struct {
		Body struct {
			Messages []rawMessage `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
}

// LatestHeight returns the height of the latest block.
func (c *LCDClient) LatestHeight(ctx context.Context) (int64, error) {
	var resp lcdBlockResponse
	if err := c.t.getJSON(ctx, "latest_block", "/cosmos/base/tendermint/v1beta1/blocks/latest", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Block.Header.Height <= 0 {
		return 0, fmt.Errorf("lcd latest block: missing height")
	}
	return int64(resp.Block.Header.Height), nil
}

// BlockTime returns the timestamp of the block at height.
func (c *LCDClient) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	var resp lcdBlockResponse
	path := "/cosmos/base/tendermint/v1beta1/blocks/" + strconv.FormatInt(height, 10)
	if err := c.t.getJSON(ctx, "block", path, nil, &resp); err != nil {
		return time.Time{}, err
	}
	ts, err := ParseTimestamp(resp.Block.Header.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("lcd block %d time: %w", height, err)
	}
	return ts, nil
}

// SearchTxs runs an event search. Transactions without a parseable timestamp
// are counted as malformed and skipped.
func (c *LCDClient) SearchTxs(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.limit
	}

	params := url.Values{}
	params.Set("pagination.limit", strconv.Itoa(limit))
	params.Set("pagination.reverse", strconv.FormatBool(q.Reverse))
	if q.Key != "" {
		params.Set("pagination.key", q.Key)
	}
	for _, ev := range q.Events {
		params.Add("events", ev)
	}

	var resp lcdSearchResponse
	if err := c.t.getJSON(ctx, "search_txs", "/cosmos/tx/v1beta1/txs", params, &resp); err != nil {
		return nil, err
	}

	page := &SearchPage{Transactions: make([]Transaction, 0, len(resp.TxResponses))}
	for _, raw := range resp.TxResponses {
		ts, err := ParseTimestamp(raw.Timestamp)
		if err != nil {
			page.Malformed++
			continue
		}
		page.Transactions = append(page.Transactions, Transaction{
			TxHash:    raw.TxHash,
			Height:    int64(raw.Height),
			Timestamp: ts,
			Messages:  normalizeMessages(raw.Tx.Body.Messages),
			Logs:      raw.Logs,
			RawLog:    raw.RawLog,
		})
	}
	if resp.Pagination != nil && resp.Pagination.NextKey != nil {
		page.NextKey = *resp.Pagination.NextKey
	}
	return page, nil
}
