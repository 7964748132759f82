package notify

import (
	"fmt"
	"strings"

	"github.com/txguard-dev/txguard/internal/model"
)

// Message renders the alert subject and body for tx on account.
func Message(account model.Identity, tx model.Transaction) (subject, body string) {
	if tx.IsDebit() {
		subject = fmt.Sprintf("Transaction: %s %s withdrawn.", tx.Amount.Neg().StringFixed(2), tx.Currency)
	} else {
		subject = fmt.Sprintf("Transaction: %s %s received.", tx.Amount.StringFixed(2), tx.Currency)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transaction on account %s (%s).\n\n", account.Name, PrettyIBAN(account.IBAN))
	fmt.Fprintf(&b, "Name: %s\n", tx.Name)
	fmt.Fprintf(&b, "IBAN: %s\n", PrettyIBAN(tx.IBAN))
	fmt.Fprintf(&b, "Amount: %s %s\n", tx.Amount.StringFixed(2), tx.Currency)
	fmt.Fprintf(&b, "Subject: %s\n", tx.Subject)
	fmt.Fprintf(&b, "Date: %s\n", tx.Date.Format(model.DateFormat))
	return subject, b.String()
}

// PrettyIBAN groups an IBAN into blocks of four characters.
// "DE89370400440532013000" -> "DE89 3704 0044 0532 0130 00"
func PrettyIBAN(iban string) string {
	var b strings.Builder
	for i, r := range iban {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
