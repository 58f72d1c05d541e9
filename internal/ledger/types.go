package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Transaction is one ledger transaction normalized across endpoint
// generations. Logs may be empty when the endpoint only returns RawLog.
type Transaction struct {
	ID        int64 // FCD row id, 0 for LCD results
	TxHash    string
	Height    int64
	Timestamp time.Time
	Messages  []Message
	Logs      []Log
	RawLog    string // JSON-encoded logs, used when Logs is empty
}

// Message holds the sender-like fields of one transaction message.
type Message struct {
	Type        string
	Sender      string
	FromAddress string
	Funds       []Coin
}

// Coin is an amount in a single denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Log groups the events emitted by one message.
type Log struct {
	MsgIndex int     `json:"msg_index"`
	Events   []Event `json:"events"`
}

// Event is a typed, flat attribute list.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute is one key/value pair of an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Page is one offset-paginated page of transactions.
type Page struct {
	Transactions []Transaction
	Next         *int64 // continuation offset, nil when the log is exhausted
	Malformed    int    // records dropped during decoding
}

// Bounds returns the oldest and newest transaction timestamps on the page.
// ok is false for an empty page.
func (p *Page) Bounds() (oldest, newest time.Time, ok bool) {
	return timeBounds(p.Transactions)
}

// SearchQuery is an event-predicate search against a height-indexed ledger.
type SearchQuery struct {
	Events  []string // e.g. "wasm.action='deposit_stable'", "tx.height>=100"
	Reverse bool     // newest first when true
	Limit   int
	Key     string // pagination cursor, empty for the first page
}

// SearchPage is one page of an event search.
type SearchPage struct {
	Transactions []Transaction
	NextKey      string
	Malformed    int
}

// Bounds returns the oldest and newest transaction timestamps on the page.
func (p *SearchPage) Bounds() (oldest, newest time.Time, ok bool) {
	return timeBounds(p.Transactions)
}

func timeBounds(txs []Transaction) (oldest, newest time.Time, ok bool) {
	for i, tx := range txs {
		if i == 0 || tx.Timestamp.Before(oldest) {
			oldest = tx.Timestamp
		}
		if i == 0 || tx.Timestamp.After(newest) {
			newest = tx.Timestamp
		}
	}
	return oldest, newest, len(txs) > 0
}

// ParseTimestamp parses ledger timestamps ("2022-05-09T01:02:03Z", with or
// without fractional seconds) into UTC.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// flexInt decodes integers that endpoints encode either as JSON numbers or
// as decimal strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// rawMessage covers both FCD (value.sender) and LCD (sender) message shapes.
type rawMessage struct {
	Type        string          `json:"type"`
	AtType      string          `json:"@type"`
	Sender      string          `json:"sender"`
	FromAddress string          `json:"from_address"`
	Coins       []Coin          `json:"coins"`
	Funds       []Coin          `json:"funds"`
	Value       json.RawMessage `json:"value"`
}

func (m rawMessage) normalize() Message {
	msg := Message{
		Type:        m.Type,
		Sender:      m.Sender,
		FromAddress: m.FromAddress,
		Funds:       append(m.Funds, m.Coins...),
	}
	if msg.Type == "" {
		msg.Type = m.AtType
	}
	if len(m.Value) > 0 && m.Value[0] == '{' {
		var inner rawMessage
		if err := json.Unmarshal(m.Value, &inner); err == nil {
			if msg.Sender == "" {
				msg.Sender = inner.Sender
			}
			if msg.FromAddress == "" {
				msg.FromAddress = inner.FromAddress
			}
			msg.Funds = append(msg.Funds, inner.Funds...)
			msg.Funds = append(msg.Funds, inner.Coins...)
		}
	}
	return msg
}

func normalizeMessages(raw []rawMessage) []Message {
	if len(raw) == 0 {
		return nil
	}
	msgs := make([]Message, len(raw))
	for i, m := range raw {
		msgs[i] = m.normalize()
	}
	return msgs
}
