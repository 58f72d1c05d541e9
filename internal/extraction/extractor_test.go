package extraction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"anchor-flow-lab/internal/domain"
	"anchor-flow-lab/internal/ledger"
)

func attrs(kv ...string) []ledger.Attribute {
	out := make([]ledger.Attribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, ledger.Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

func txWithEvents(sender string, events ...ledger.Event) *ledger.Transaction {
	tx := &ledger.Transaction{
		TxHash:    "HASH",
		Timestamp: time.Date(2022, 5, 9, 1, 42, 7, 0, time.UTC),
		Logs:      []ledger.Log{{Events: events}},
	}
	if sender != "" {
		tx.Messages = []ledger.Message{{Sender: sender}}
	}
	return tx
}

func TestSegments_TwoActionsInOneEvent(t *testing.T) {
	ex := New(DefaultConfig())
	ev := ledger.Event{Type: "wasm", Attributes: attrs(
		"contract_address", "C",
		"action", "deposit_stable",
		"depositor", "W1",
		"deposit_amount", "1000000",
		"action", "redeem_stable",
		"redeemer", "W2",
		"redeem_amount", "2000000",
	)}

	segs := ex.Segments(ev)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Action != "deposit_stable" || segs[0].Contract != "C" || segs[0].Amount != "1000000" {
		t.Errorf("unexpected first segment %+v", segs[0])
	}
	if segs[0].Sender != "" {
		t.Errorf("depositor is not a sender key, got %q", segs[0].Sender)
	}
	if segs[1].Action != "redeem_stable" || segs[1].Sender != "W2" || segs[1].Amount != "2000000" {
		t.Errorf("unexpected second segment %+v", segs[1])
	}
}

func TestExtract_TwoSegmentEvent(t *testing.T) {
	ex := New(DefaultConfig())
	tx := txWithEvents("W0", ledger.Event{Type: "wasm", Attributes: attrs(
		"contract_address", "C",
		"action", "deposit_stable",
		"depositor", "W1",
		"deposit_amount", "1000000",
		"action", "redeem_stable",
		"redeemer", "W2",
		"redeem_amount", "2000000",
	)})

	actions, stats := ex.Extract(tx)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}

	dep, red := actions[0], actions[1]
	if dep.Kind != domain.ActionDeposit || dep.Wallet != "W0" || !dep.Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unexpected deposit %+v", dep)
	}
	if red.Kind != domain.ActionRedeem || red.Wallet != "W2" || !red.Amount.Equal(decimal.NewFromInt(2)) {
		t.Errorf("unexpected redeem %+v", red)
	}
	if dep.Verb != "deposit_stable" || red.Verb != "redeem_stable" {
		t.Errorf("unexpected verbs %q %q", dep.Verb, red.Verb)
	}
	wantHour := time.Date(2022, 5, 9, 1, 0, 0, 0, time.UTC)
	if !dep.Hour.Equal(wantHour) || !red.Hour.Equal(wantHour) {
		t.Errorf("expected hour %s, got %s and %s", wantHour, dep.Hour, red.Hour)
	}
	if dep.TxHash != "HASH" {
		t.Errorf("expected tx hash, got %q", dep.TxHash)
	}
	if stats.Segments != 2 || stats.Actions != 2 || stats.DroppedSegments != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestExtract_IgnoresAttributesBeforeFirstAction(t *testing.T) {
	ex := New(DefaultConfig())
	tx := txWithEvents("W0", ledger.Event{Type: "wasm", Attributes: attrs(
		"sender", "EARLY",
		"amount", "999",
		"action", "deposit_stable",
		"deposit_amount", "3000000",
	)})

	actions, _ := ex.Extract(tx)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Wallet != "W0" {
		t.Errorf("attributes before the action marker must be ignored, got wallet %q", actions[0].Wallet)
	}
	if !actions[0].Amount.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected amount 3, got %s", actions[0].Amount)
	}
}

func TestExtract_FirstMatchingAliasWins(t *testing.T) {
	ex := New(DefaultConfig())
	tx := txWithEvents("", ledger.Event{Type: "execute_contract", Attributes: attrs(
		"action", "redeem_stable",
		"owner", "W_OWNER",
		"sender", "W_SENDER",
		"redeem_amount", "1000000",
		"amount", "5000000",
	)})

	actions, _ := ex.Extract(tx)
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Wallet != "W_OWNER" || !actions[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unexpected action %+v", actions[0])
	}
}

func TestExtract_DropsAndCounts(t *testing.T) {
	ex := New(DefaultConfig())
	tx := txWithEvents("", ledger.Event{Type: "wasm", Attributes: attrs(
		"action", "deposit_stable",
		"deposit_amount", "not-a-number",
		"action", "deposit_stable",
		"deposit_amount", "1000000",
		"action", "claim_rewards",
		"amount", "1000000",
	)}, ledger.Event{Type: "transfer", Attributes: attrs(
		"action", "deposit_stable",
		"amount", "1000000",
	)})

	actions, stats := ex.Extract(tx)
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %+v", actions)
	}
	if stats.Segments != 2 {
		t.Errorf("expected 2 recognized segments, got %d", stats.Segments)
	}
	if stats.DroppedSegments != 1 {
		t.Errorf("expected 1 dropped segment, got %d", stats.DroppedSegments)
	}
	if stats.DroppedWalletless != 1 {
		t.Errorf("expected 1 walletless drop, got %d", stats.DroppedWalletless)
	}
}

func TestExtract_FundsFallback(t *testing.T) {
	tx := txWithEvents("W", ledger.Event{Type: "wasm", Attributes: attrs(
		"action", "deposit_stable",
	)})
	tx.Messages[0].Funds = []ledger.Coin{{Denom: "uluna", Amount: "7"}, {Denom: "uusd", Amount: "2500000"}}

	actions, stats := New(DefaultConfig()).Extract(tx)
	if len(actions) != 0 || stats.DroppedSegments != 1 {
		t.Errorf("expected drop without fallback, got %d actions %+v", len(actions), stats)
	}

	cfg := DefaultConfig()
	cfg.FundsFallback = true
	actions, _ = New(cfg).Extract(tx)
	if len(actions) != 1 || !actions[0].Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("expected funds fallback amount 2.5, got %+v", actions)
	}
}

func TestSender(t *testing.T) {
	tx := &ledger.Transaction{Messages: []ledger.Message{
		{Type: "bank"},
		{FromAddress: "FROM"},
		{Sender: "LATER"},
	}}
	if got := Sender(tx); got != "FROM" {
		t.Errorf("expected FROM, got %q", got)
	}
	if got := Sender(&ledger.Transaction{}); got != "" {
		t.Errorf("expected empty sender, got %q", got)
	}
}

func TestEvents_RawLogFallback(t *testing.T) {
	tests := []struct {
		name   string
		rawLog string
		want   int
	}{
		{"empty", "", 0},
		{"empty list", "[]", 0},
		{"invalid", "out of gas", 0},
		{"two events", `[{"events":[{"type":"wasm","attributes":[]},{"type":"message","attributes":[]}]}]`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &ledger.Transaction{RawLog: tt.rawLog}
			if got := len(Events(tx)); got != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, got)
			}
		})
	}
}

func TestEvents_PrefersStructuredLogs(t *testing.T) {
	tx := &ledger.Transaction{
		Logs:   []ledger.Log{{Events: []ledger.Event{{Type: "wasm"}}}},
		RawLog: `[{"events":[{"type":"a"},{"type":"b"}]}]`,
	}
	events := Events(tx)
	if len(events) != 1 || events[0].Type != "wasm" {
		t.Errorf("expected structured logs, got %+v", events)
	}
}

func TestStats_Add(t *testing.T) {
	s := Stats{Segments: 1, Actions: 1}
	s.Add(Stats{Segments: 2, DroppedSegments: 1, DroppedWalletless: 3})
	if s.Segments != 3 || s.Actions != 1 || s.DroppedSegments != 1 || s.DroppedWalletless != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}
