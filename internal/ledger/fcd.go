package ledger

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// DefaultPageLimit is the number of transactions requested per page.
const DefaultPageLimit = 100

// FCDClient reads the offset-paginated /v1/txs listing of a Terra FCD node.
// Pages are newest first; "next" is the offset of the following (older) page.
type FCDClient struct {
	t     *transport
	limit int
}

// Compile-time interface check.
var _ OffsetSource = (*FCDClient)(nil)

// NewFCDClient creates a client for one FCD base URL.
func NewFCDClient(baseURL string, limit int, opts ...Option) *FCDClient {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &FCDClient{
		t:     newTransport("fcd", baseURL, opts...),
		limit: limit,
	}
}

// BaseURL returns the endpoint the client talks to.
func (c *FCDClient) BaseURL() string {
	return c.t.baseURL
}

type fcdTxsResponse struct {
	Next  *flexInt `json:"next"`
	Limit int      `json:"limit"`
	Txs   []fcdTx  `json:"txs"`
}

type fcdTx struct {
	ID        flexInt `json:"id"`
	TxHash    string  `json:"txhash"`
	Height    flexInt `json:"height"`
	Timestamp string  `json:"timestamp"`
	Tx        struct {
		Value struct {
			Msg []rawMessage `json:"msg"`
		} `json:"value"`
	} `json:"tx"`
	Logs   []Log  `json:"logs"`
	RawLog string `json:"raw_log"`
}

// FetchPage returns the page after offset (nil for the newest page).
func (c *FCDClient) FetchPage(ctx context.Context, account string, offset *int64) (*Page, error) {
	params := url.Values{}
	params.Set("account", account)
	params.Set("limit", strconv.Itoa(c.limit))
	if offset != nil {
		params.Set("offset", strconv.FormatInt(*offset, 10))
	}

	var resp fcdTxsResponse
	if err := c.t.getJSON(ctx, "txs", "/v1/txs", params, &resp); err != nil {
		return nil, err
	}

	page := &Page{Transactions: make([]Transaction, 0, len(resp.Txs))}
	for _, raw := range resp.Txs {
		ts, err := ParseTimestamp(raw.Timestamp)
		if err != nil {
			page.Malformed++
			continue
		}
		page.Transactions = append(page.Transactions, Transaction{
			ID:        int64(raw.ID),
			TxHash:    raw.TxHash,
			Height:    int64(raw.Height),
			Timestamp: ts,
			Messages:  normalizeMessages(raw.Tx.Value.Msg),
			Logs:      raw.Logs,
			RawLog:    raw.RawLog,
		})
	}
	if resp.Next != nil {
		next := int64(*resp.Next)
		page.Next = &next
	}
	return page, nil
}

// LatestPosition returns one past the id of the account's newest
// transaction, so the page at that offset still contains the newest one.
func (c *FCDClient) LatestPosition(ctx context.Context, account string) (int64, bool, error) {
	page, err := c.FetchPage(ctx, account, nil)
	if err != nil {
		return 0, false, err
	}
	var latest int64
	for _, tx := range page.Transactions {
		if tx.ID > latest {
			latest = tx.ID
		}
	}
	if latest == 0 {
		return 0, false, nil
	}
	return latest + 1, true, nil
}

// DecodeRawLog parses the JSON-encoded raw_log string some endpoints
// return instead of structured logs.
func DecodeRawLog(raw string) ([]Log, error) {
	var logs []Log
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
