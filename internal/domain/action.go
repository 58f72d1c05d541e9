package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionKind classifies a canonical action.
type ActionKind string

// Action kinds.
const (
	ActionDeposit ActionKind = "deposit"
	ActionRedeem  ActionKind = "redeem"
)

// IsValid reports whether k is a known action kind.
func (k ActionKind) IsValid() bool {
	return k == ActionDeposit || k == ActionRedeem
}

// Action is one canonical deposit or redemption extracted from the ledger.
// Corresponds to one row of the raw action log.
type Action struct {
	Hour   time.Time       // block timestamp truncated to the hour (UTC)
	Wallet string          // counterparty address, never empty
	Kind   ActionKind      // deposit | redeem
	Verb   string          // ledger verb, e.g. "deposit_stable"
	Amount decimal.Decimal // canonical units (micro amounts / 1e6)
	TxHash string          // optional, traceability only
}

// HourOf truncates a block timestamp to the hour in UTC.
func HourOf(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}
