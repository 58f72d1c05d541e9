package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HourlyFlow is the summed amount of one action kind for a (hour, wallet) key.
type HourlyFlow struct {
	Hour   time.Time
	Wallet string
	Amount decimal.Decimal
}
