package alertlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/txguard-dev/txguard/internal/model"
)

// Entry is one row in the alert log: a transaction that was reported.
type Entry struct {
	Timestamp        time.Time
	Account          string
	AccountIBAN      string
	Counterparty     string
	CounterpartyIBAN string
	Amount           decimal.Decimal
	Currency         string
	Date             time.Time
	Subject          string
}

// Header is the CSV header of the alert log.
const Header = "timestamp,account,account_iban,counterparty,counterparty_iban,amount,currency,date,subject"

const (
	numFields           = 9
	colTimestamp        = 0
	colAccount          = 1
	colAccountIBAN      = 2
	colCounterparty     = 3
	colCounterpartyIBAN = 4
	colAmount           = 5
	colCurrency         = 6
	colDate             = 7
	colSubject          = 8
)

// NewEntry builds the entry for an alert about tx on account.
func NewEntry(at time.Time, account model.Identity, tx model.Transaction) Entry {
	return Entry{
		Timestamp:        at,
		Account:          account.Name,
		AccountIBAN:      account.IBAN,
		Counterparty:     tx.Name,
		CounterpartyIBAN: tx.IBAN,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Date:             tx.Date,
		Subject:          tx.Subject,
	}
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colAccount] = e.Account
	row[colAccountIBAN] = e.AccountIBAN
	row[colCounterparty] = e.Counterparty
	row[colCounterpartyIBAN] = e.CounterpartyIBAN
	row[colAmount] = e.Amount.StringFixed(2)
	row[colCurrency] = e.Currency
	row[colDate] = e.Date.Format(model.DateFormat)
	row[colSubject] = e.Subject
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}
	date, err := time.Parse(model.DateFormat, record[colDate])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing date %q: %w", record[colDate], err)
	}

	return Entry{
		Timestamp:        ts,
		Account:          record[colAccount],
		AccountIBAN:      record[colAccountIBAN],
		Counterparty:     record[colCounterparty],
		CounterpartyIBAN: record[colCounterpartyIBAN],
		Amount:           amount,
		Currency:         record[colCurrency],
		Date:             date,
		Subject:          record[colSubject],
	}, nil
}

// Log appends alert entries to a CSV file. It is safe for concurrent use
// by all account monitors. The file is an audit trail only and is never
// read back on startup.
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a Log writing to path.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Record appends an entry for an alert about tx on account.
func (l *Log) Record(account model.Identity, tx model.Transaction) error {
	return l.Append([]Entry{NewEntry(l.now().UTC(), account, tx)})
}

// Append writes entries to the log file, creating the file and header if needed.
func (l *Log) Append(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating alert log dir: %w", err)
		}
	}

	needsHeader := false
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening alert log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from the alert log at path.
// Returns an empty slice if the file does not exist.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening alert log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading alert log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
