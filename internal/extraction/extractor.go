// Package extraction turns ledger transactions into canonical actions.
//
// Contract events are flat attribute lists in which one event may describe
// several contract calls. Each "action" attribute opens a new segment; the
// attributes that follow it, up to the next action marker, belong to that
// segment.
package extraction

import (
	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/ledger"
)

// Config names the event and attribute keys the extractor recognizes.
type Config struct {
	EventTypes         []string
	SenderKeys         []string
	AmountKeys         []string
	Verbs              map[string]domain.ActionKind
	Denom              string
	ContractAddressKey string
	ActionKey          string

	// FundsFallback uses the message funds in Denom when a segment carries
	// no parseable amount attribute.
	FundsFallback bool
}

// DefaultConfig returns the Anchor money-market configuration.
func DefaultConfig() Config {
	return Config{
		EventTypes: []string{"wasm", "execute_contract"},
		SenderKeys: []string{"sender", "from", "owner", "redeemer"},
		AmountKeys: []string{"amount", "deposit_amount", "redeem_amount", "returned_amount"},
		Verbs: map[string]domain.ActionKind{
			"deposit_stable": domain.ActionDeposit,
			"redeem_stable":  domain.ActionRedeem,
		},
		Denom:              "uusd",
		ContractAddressKey: "contract_address",
		ActionKey:          "action",
	}
}

// Segment is the slice of an event's attributes belonging to one action.
type Segment struct {
	Action   string
	Contract string
	Sender   string
	Amount   string
}

// Stats counts what a single extraction kept and dropped.
type Stats struct {
	Segments          int // recognized-verb segments seen
	Actions           int
	DroppedSegments   int // missing or unparseable amount
	DroppedWalletless int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Segments += o.Segments
	s.Actions += o.Actions
	s.DroppedSegments += o.DroppedSegments
	s.DroppedWalletless += o.DroppedWalletless
}

// Extractor applies a Config to transactions. It is safe for concurrent use.
type Extractor struct {
	cfg        Config
	eventTypes map[string]struct{}
	senderKeys map[string]struct{}
	amountKeys map[string]struct{}
}

// New creates an extractor.
func New(cfg Config) *Extractor {
	return &Extractor{
		cfg:        cfg,
		eventTypes: toSet(cfg.EventTypes),
		senderKeys: toSet(cfg.SenderKeys),
		amountKeys: toSet(cfg.AmountKeys),
	}
}

// Sender returns the first non-empty sender, falling back to from_address,
// across the transaction's messages.
func Sender(tx *ledger.Transaction) string {
	for _, msg := range tx.Messages {
		if msg.Sender != "" {
			return msg.Sender
		}
		if msg.FromAddress != "" {
			return msg.FromAddress
		}
	}
	return ""
}

// Events returns the transaction's events from its structured logs, or from
// the JSON raw log when no structured logs are present. An empty, "[]" or
// undecodable raw log yields no events.
func Events(tx *ledger.Transaction) []ledger.Event {
	logs := tx.Logs
	if len(logs) == 0 {
		if tx.RawLog == "" || tx.RawLog == "[]" {
			return nil
		}
		decoded, err := ledger.DecodeRawLog(tx.RawLog)
		if err != nil {
			return nil
		}
		logs = decoded
	}

	var events []ledger.Event
	for _, l := range logs {
		events = append(events, l.Events...)
	}
	return events
}

// Segments splits an event into per-action segments. Attributes before the
// first action marker are ignored except for the contract address.
func (e *Extractor) Segments(ev ledger.Event) []Segment {
	var segments []Segment
	var current *Segment
	contract := ""

	for _, attr := range ev.Attributes {
		switch {
		case attr.Key == e.cfg.ContractAddressKey:
			contract = attr.Value
			continue
		case attr.Key == e.cfg.ActionKey:
			if current != nil {
				segments = append(segments, *current)
			}
			current = &Segment{Action: attr.Value, Contract: contract}
			continue
		case current == nil:
			continue
		}

		if _, ok := e.senderKeys[attr.Key]; ok && current.Sender == "" {
			current.Sender = attr.Value
		}
		if _, ok := e.amountKeys[attr.Key]; ok && current.Amount == "" {
			current.Amount = attr.Value
		}
	}
	if current != nil {
		segments = append(segments, *current)
	}
	return segments
}

// Extract returns the canonical actions of tx. Records that cannot be
// attributed are dropped and counted, never returned as errors.
func (e *Extractor) Extract(tx *ledger.Transaction) ([]domain.Action, Stats) {
	var stats Stats
	var actions []domain.Action
	sender := Sender(tx)
	hour := domain.HourOf(tx.Timestamp)

	for _, ev := range Events(tx) {
		if _, ok := e.eventTypes[ev.Type]; !ok {
			continue
		}
		for _, seg := range e.Segments(ev) {
			kind, ok := e.cfg.Verbs[seg.Action]
			if !ok {
				continue
			}
			stats.Segments++

			amount, ok := ParseAmount(seg.Amount, e.cfg.Denom)
			if !ok && e.cfg.FundsFallback {
				amount, ok = e.fundsAmount(tx)
			}
			if !ok {
				stats.DroppedSegments++
				continue
			}

			wallet := seg.Sender
			if wallet == "" {
				wallet = sender
			}
			if wallet == "" {
				stats.DroppedWalletless++
				continue
			}

			actions = append(actions, domain.Action{
				Hour:   hour,
				Wallet: wallet,
				Kind:   kind,
				Verb:   seg.Action,
				Amount: amount,
				TxHash: tx.TxHash,
			})
		}
	}
	stats.Actions = len(actions)
	return actions, stats
}

// fundsAmount returns the first coin in the configured denom attached to
// any message.
func (e *Extractor) fundsAmount(tx *ledger.Transaction) (decimal.Decimal, bool) {
	for _, msg := range tx.Messages {
		for _, coin := range msg.Funds {
			if coin.Denom == e.cfg.Denom {
				return ParseAmount(coin.Amount, "")
			}
		}
	}
	return decimal.Zero, false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
