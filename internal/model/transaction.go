package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-date layout used in rule files, logs and alerts.
const DateFormat = "2006-01-02"

// Transaction is one normalized bank transaction.
type Transaction struct {
	Name     string          // counterparty name
	IBAN     string          // counterparty IBAN, uppercase, no spaces
	Amount   decimal.Decimal // negative = debit, positive = credit
	Currency string          // uppercase ISO code
	Date     time.Time       // midnight UTC
	Subject  string
}

// NewTransaction builds a Transaction with normalized IBAN, currency and date.
func NewTransaction(name, iban string, amount decimal.Decimal, currency string, date time.Time, subject string) Transaction {
	return Transaction{
		Name:     name,
		IBAN:     NormalizeIBAN(iban),
		Amount:   amount,
		Currency: NormalizeCurrency(currency),
		Date:     Day(date),
		Subject:  subject,
	}
}

// Key returns a stable hash over all six fields.
// Amounts that are numerically equal produce the same key.
func (t Transaction) Key() string {
	h := sha256.New()
	for _, f := range []string{
		t.Name,
		t.IBAN,
		t.Amount.String(),
		t.Currency,
		t.Date.Format(DateFormat),
		t.Subject,
	} {
		// Length prefix keeps field boundaries unambiguous.
		fmt.Fprintf(h, "%d:%s;", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether every field of t and o matches.
func (t Transaction) Equal(o Transaction) bool {
	return t.Name == o.Name &&
		t.IBAN == o.IBAN &&
		t.Amount.Equal(o.Amount) &&
		t.Currency == o.Currency &&
		t.Date.Equal(o.Date) &&
		t.Subject == o.Subject
}

// IsDebit reports whether money left the account.
func (t Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

func (t Transaction) String() string {
	date := t.Date.Format(DateFormat)
	if t.IsDebit() {
		return fmt.Sprintf("%s: %s %s to %s (%s) with subject '%s'",
			date, t.Amount.Neg().StringFixed(2), t.Currency, t.IBAN, t.Name, t.Subject)
	}
	return fmt.Sprintf("%s: %s %s from %s (%s) with subject '%s'",
		date, t.Amount.StringFixed(2), t.Currency, t.IBAN, t.Name, t.Subject)
}

// NormalizeIBAN strips whitespace and upper-cases an IBAN.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// NormalizeCurrency strips whitespace and upper-cases a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.Join(strings.Fields(currency), ""))
}

// Day truncates t to its calendar date at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
