package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/txguard-dev/txguard/internal/logger"
	"github.com/txguard-dev/txguard/internal/model"
)

var testAccount = model.Identity{Name: "Checking", IBAN: "DE89370400440532013000"}

func testTx(amount string) model.Transaction {
	return model.NewTransaction("Landlord", "DE02120300000000202051", decimal.RequireFromString(amount), "EUR",
		time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), "Rent October")
}

// recordingTransport records deliveries and optionally blocks until released.
type recordingTransport struct {
	mu      sync.Mutex
	calls   []string
	outcome Outcome
	block   chan struct{}
}

func (r *recordingTransport) Kind() string { return "recording" }

func (r *recordingTransport) Deliver(ctx context.Context, subject, _, channel string) Outcome {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return failed(ConnectionError, ctx.Err())
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, channel+": "+subject)
	return r.outcome
}

func (r *recordingTransport) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestMessage_Debit(t *testing.T) {
	subject, body := Message(testAccount, testTx("-850.5"))
	assert.Equal(t, "Transaction: 850.50 EUR withdrawn.", subject)
	assert.Equal(t, "Transaction on account Checking (DE89 3704 0044 0532 0130 00).\n\n"+
		"Name: Landlord\n"+
		"IBAN: DE02 1203 0000 0000 2020 51\n"+
		"Amount: -850.50 EUR\n"+
		"Subject: Rent October\n"+
		"Date: 2026-10-16\n", body)
}

func TestMessage_Credit(t *testing.T) {
	subject, _ := Message(testAccount, testTx("12"))
	assert.Equal(t, "Transaction: 12.00 EUR received.", subject)
}

func TestPrettyIBAN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"DE89370400440532013000", "DE89 3704 0044 0532 0130 00"},
		{"DE89", "DE89"},
		{"DE893", "DE89 3"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PrettyIBAN(tt.in))
	}
}

func TestOutcomeAdviceDistinct(t *testing.T) {
	kinds := []OutcomeKind{Success, AuthFailure, ConnectionError, MalformedMessage, VersionMismatch, ServerError}
	seen := make(map[string]OutcomeKind)
	for _, k := range kinds {
		advice := Outcome{Kind: k, Code: 7}.Advice()
		prev, dup := seen[advice]
		assert.False(t, dup, "%s and %s share advice", k, prev)
		seen[advice] = k
	}
	assert.Contains(t, Outcome{Kind: ServerError, Code: 7}.Advice(), "7")
	assert.True(t, Outcome{}.OK())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Target{ID: 1, Transport: &recordingTransport{}}))
	require.NoError(t, r.Register(&Target{ID: 2, Transport: &recordingTransport{}}))

	err := r.Register(&Target{ID: 1, Transport: &recordingTransport{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not unique")

	got, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, 2, got.ID)
	_, ok = r.Get(3)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestMailgunOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want OutcomeKind
		code int
	}{
		{nil, Success, 0},
		{&mailgun.UnexpectedResponseError{Actual: 401}, AuthFailure, 0},
		{&mailgun.UnexpectedResponseError{Actual: 403}, AuthFailure, 0},
		{&mailgun.UnexpectedResponseError{Actual: 400}, MalformedMessage, 0},
		{&mailgun.UnexpectedResponseError{Actual: 502}, ServerError, 502},
		{errors.New("dial tcp: connection refused"), ConnectionError, 0},
	}
	for _, tt := range tests {
		got := mailgunOutcome(tt.err)
		assert.Equal(t, tt.want, got.Kind, "err %v", tt.err)
		assert.Equal(t, tt.code, got.Code, "err %v", tt.err)
	}
}

func TestNewMailgunTransport_RequiresFields(t *testing.T) {
	_, err := NewMailgunTransport("", "key", "alerts@example.com", "")
	assert.Error(t, err)

	tr, err := NewMailgunTransport("mg.example.com", "key", "alerts@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "mailgun", tr.Kind())
}

func TestLogTransport(t *testing.T) {
	out := NewLogTransport(logger.Discard()).Deliver(context.Background(), "s", "b", "c")
	assert.True(t, out.OK())
}

func TestDispatcher_Delivers(t *testing.T) {
	tr := &recordingTransport{}
	d := NewDispatcher(logger.Discard(), time.Second)
	target := &Target{ID: 1, Channel: "phone", Transport: tr}

	assert.True(t, d.Notify(target, testAccount, testTx("-50")))
	assert.True(t, d.Notify(target, testAccount, testTx("-60")))

	require.NoError(t, d.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{
		"phone: Transaction: 50.00 EUR withdrawn.",
		"phone: Transaction: 60.00 EUR withdrawn.",
	}, tr.Calls())
}

func TestDispatcher_FailedOutcomeIsNotFatal(t *testing.T) {
	tr := &recordingTransport{outcome: Outcome{Kind: ServerError, Code: 1}}
	d := NewDispatcher(logger.Discard(), time.Second)

	assert.True(t, d.Notify(&Target{ID: 1, Transport: tr}, testAccount, testTx("-50")))
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Len(t, tr.Calls(), 1)
}

func TestDispatcher_NotifyDoesNotBlock(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{})}
	d := NewDispatcher(logger.Discard(), time.Minute)

	start := time.Now()
	d.Notify(&Target{ID: 1, Transport: tr}, testAccount, testTx("-50"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(tr.block)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Len(t, tr.Calls(), 1)
}

func TestDispatcher_ShutdownAbandonsAfterGrace(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{})}
	d := NewDispatcher(logger.Discard(), time.Minute)
	d.Notify(&Target{ID: 1, Transport: tr}, testAccount, testTx("-50"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, tr.Calls())

	// Dropped after shutdown.
	assert.False(t, d.Notify(&Target{ID: 1, Transport: tr}, testAccount, testTx("-50")))
}

func TestDispatcher_RateLimited(t *testing.T) {
	tr := &recordingTransport{}
	d := NewDispatcher(logger.Discard(), time.Second)
	target := &Target{ID: 1, Transport: tr, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}

	d.Notify(target, testAccount, testTx("-1"))
	d.Notify(target, testAccount, testTx("-2"))
	assert.Eventually(t, func() bool { return len(tr.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	// The second delivery waits on the limiter and is abandoned on shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Shutdown(ctx))
	assert.Len(t, tr.Calls(), 1)
}

func TestDispatcher_ShutdownWithExpiredContextWhenIdle(t *testing.T) {
	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	for i := 0; i < 50; i++ {
		d := NewDispatcher(logger.Discard(), time.Second)
		require.NoError(t, d.Shutdown(expired))
	}
}

func TestDispatcher_ShutdownWithExpiredContextAfterDeliveries(t *testing.T) {
	tr := &recordingTransport{}
	d := NewDispatcher(logger.Discard(), time.Second)
	d.Notify(&Target{ID: 1, Transport: tr}, testAccount, testTx("-50"))

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	assert.Eventually(t, func() bool { return d.Shutdown(expired) == nil }, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.Calls(), 1)
}
