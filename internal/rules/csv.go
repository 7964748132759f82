package rules

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/txguard-dev/txguard/internal/model"
)

// Header is the CSV header for a rules file.
const Header = "description,iban,amount,currency,start_day,end_day"

const (
	numFields   = 6
	colDesc     = 0
	colIBAN     = 1
	colAmount   = 2
	colCurrency = 3
	colStart    = 4
	colEnd      = 5
)

// ReadRules reads a rules CSV. The first row is a header and is skipped.
func ReadRules(r io.Reader) ([]model.Rule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading rules CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var rules []model.Rule
	for i, rec := range records[1:] {
		rule, err := UnmarshalRule(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// WriteRules writes a rules CSV (including header).
func WriteRules(w io.Writer, rules []model.Rule) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, rule := range rules {
		if err := cw.Write(MarshalRule(rule)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// MarshalRule converts a Rule to a CSV row.
func MarshalRule(rule model.Rule) []string {
	row := make([]string, numFields)
	row[colDesc] = rule.Description
	row[colIBAN] = rule.IBAN
	row[colAmount] = rule.Amount.StringFixed(2)
	row[colCurrency] = rule.Currency
	row[colStart] = strconv.Itoa(rule.StartDay)
	row[colEnd] = strconv.Itoa(rule.EndDay)
	return row
}

// UnmarshalRule converts a CSV row to a Rule. Amounts accept either a
// comma or a dot as decimal separator. Days must lie within 1-31.
func UnmarshalRule(record []string) (model.Rule, error) {
	if len(record) != numFields {
		return model.Rule{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	rawAmount := strings.ReplaceAll(strings.TrimSpace(record[colAmount]), ",", ".")
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return model.Rule{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	start, err := parseDay(record[colStart])
	if err != nil {
		return model.Rule{}, fmt.Errorf("parsing start_day: %w", err)
	}
	end, err := parseDay(record[colEnd])
	if err != nil {
		return model.Rule{}, fmt.Errorf("parsing end_day: %w", err)
	}

	iban := model.NormalizeIBAN(record[colIBAN])
	if iban == "" {
		return model.Rule{}, fmt.Errorf("empty iban")
	}
	currency := model.NormalizeCurrency(record[colCurrency])
	if currency == "" {
		return model.Rule{}, fmt.Errorf("empty currency")
	}

	return model.Rule{
		Description: record[colDesc],
		IBAN:        iban,
		Amount:      amount,
		Currency:    currency,
		StartDay:    start,
		EndDay:      end,
	}, nil
}

func parseDay(s string) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	if day < model.MinDay || day > model.MaxDay {
		return 0, fmt.Errorf("%d out of range %d-%d", day, model.MinDay, model.MaxDay)
	}
	return day, nil
}
