package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunTransport sends notifications as plain-text email. The channel is
// the recipient address.
type MailgunTransport struct {
	mg     mailgun.Mailgun
	sender string
}

// NewMailgunTransport creates a MailgunTransport for domain.
func NewMailgunTransport(domain, apiKey, sender, apiBase string) (*MailgunTransport, error) {
	if domain == "" || apiKey == "" || sender == "" {
		return nil, errors.New("mailgun domain, api key and sender are required")
	}
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	return &MailgunTransport{mg: mg, sender: sender}, nil
}

func (t *MailgunTransport) Kind() string { return "mailgun" }

// Deliver implements Transport.
func (t *MailgunTransport) Deliver(ctx context.Context, subject, body, channel string) Outcome {
	message := t.mg.NewMessage(t.sender, subject, body, channel)
	message.AddTag("txguard-alert")
	_, _, err := t.mg.Send(ctx, message)
	return mailgunOutcome(err)
}

func mailgunOutcome(err error) Outcome {
	if err == nil {
		return delivered()
	}
	status := mailgun.GetStatusFromErr(err)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failed(AuthFailure, err)
	case status == http.StatusBadRequest:
		return failed(MalformedMessage, err)
	case status > 0:
		return serverFailed(status, err)
	default:
		return failed(ConnectionError, err)
	}
}
