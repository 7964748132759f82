package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinDay = 1
	MaxDay = 31
)

// Rule is one whitelist entry: an allowed transaction pattern plus the
// days of the current month during which it is valid.
type Rule struct {
	Description string
	IBAN        string
	Amount      decimal.Decimal
	Currency    string
	StartDay    int
	EndDay      int
}

// Matches reports whether tx fits this rule when evaluated on today.
// The day window is checked against today's day-of-month, not the
// transaction date. A rule with StartDay > EndDay never matches.
func (r Rule) Matches(tx Transaction, today time.Time) bool {
	day := today.Day()
	if day < r.StartDay || day > r.EndDay {
		return false
	}
	return r.Amount.Equal(tx.Amount) &&
		r.Currency == tx.Currency &&
		r.IBAN == tx.IBAN
}

// Inverted reports whether the day window can never be satisfied.
func (r Rule) Inverted() bool {
	return r.StartDay > r.EndDay
}

func (r Rule) String() string {
	return fmt.Sprintf("%q: %s %s from/to %s on days %d-%d",
		r.Description, r.Amount.StringFixed(2), r.Currency, r.IBAN, r.StartDay, r.EndDay)
}
