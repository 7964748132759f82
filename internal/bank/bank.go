package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/txguard-dev/txguard/internal/model"
)

var (
	// ErrAuth means the bank rejected the account credentials.
	ErrAuth = errors.New("bank authentication failed")
	// ErrAccountNotFound means the bank does not know the configured IBAN.
	ErrAccountNotFound = errors.New("account not found at bank")
)

// ProtocolError is any other failure talking to the bank.
type ProtocolError struct {
	Op     string
	Status int // HTTP status, 0 if the request never completed
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("bank protocol error: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("bank protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RawTransaction is a transaction record as returned by the bank, before
// normalization.
type RawTransaction struct {
	Currency      string              `json:"currency"`
	Amount        decimal.NullDecimal `json:"amount"`
	Date          string              `json:"date"`
	Purpose       string              `json:"purpose"`
	ApplicantName string              `json:"applicant_name"`
	ApplicantIBAN string              `json:"applicant_iban"`
}

// Client fetches the transactions of one account for a date range (inclusive).
type Client interface {
	FetchTransactions(ctx context.Context, id model.Identity, from, to time.Time) ([]RawTransaction, error)
}

// Normalize converts a RawTransaction into a Transaction. A missing or
// unparseable date, amount or currency is an error.
func Normalize(raw RawTransaction) (model.Transaction, error) {
	if strings.TrimSpace(raw.Date) == "" {
		return model.Transaction{}, errors.New("missing date")
	}
	date, err := time.Parse(model.DateFormat, strings.TrimSpace(raw.Date))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date %q: %w", raw.Date, err)
	}
	if !raw.Amount.Valid {
		return model.Transaction{}, errors.New("missing amount")
	}
	if strings.TrimSpace(raw.Currency) == "" {
		return model.Transaction{}, errors.New("missing currency")
	}

	return model.NewTransaction(
		raw.ApplicantName,
		raw.ApplicantIBAN,
		raw.Amount.Decimal,
		raw.Currency,
		date,
		raw.Purpose,
	), nil
}

// NormalizeAll normalizes every record. One malformed record fails the
// whole batch.
func NormalizeAll(raws []RawTransaction) ([]model.Transaction, error) {
	txns := make([]model.Transaction, 0, len(raws))
	for i, raw := range raws {
		tx, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i+1, err)
		}
		txns = append(txns, tx)
	}
	return txns, nil
}
