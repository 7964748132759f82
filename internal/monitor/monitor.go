package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txguard-dev/txguard/internal/bank"
	"github.com/txguard-dev/txguard/internal/ledger"
	"github.com/txguard-dev/txguard/internal/model"
	"github.com/txguard-dev/txguard/internal/notify"
	"github.com/txguard-dev/txguard/internal/rules"
)

// Notifier hands an alert to a target without waiting for delivery.
type Notifier interface {
	Notify(target *notify.Target, account model.Identity, tx model.Transaction) bool
}

// AlertRecorder keeps an audit record of fired alerts.
type AlertRecorder interface {
	Record(account model.Identity, tx model.Transaction) error
}

// Config holds everything a Monitor needs.
type Config struct {
	Identity     model.Identity
	Client       bank.Client
	Rules        *rules.RuleSet
	Ledger       *ledger.Ledger
	Targets      []*notify.Target
	Notifier     Notifier
	Alerts       AlertRecorder // optional
	LookbackDays int
	GraceDays    int
	Logger       *slog.Logger
	Now          func() time.Time // defaults to time.Now
}

// Monitor watches one bank account and alerts on every transaction its
// rules do not allow.
type Monitor struct {
	id       model.Identity
	client   bank.Client
	rules    *rules.RuleSet
	ledger   *ledger.Ledger
	targets  []*notify.Target
	notifier Notifier
	alerts   AlertRecorder
	lookback int
	grace    int
	logger   *slog.Logger
	now      func() time.Time

	// mu makes each Check and CleanUp atomic with respect to the ledger.
	mu sync.Mutex
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ldg := cfg.Ledger
	if ldg == nil {
		ldg = ledger.New()
	}
	return &Monitor{
		id:       cfg.Identity,
		client:   cfg.Client,
		rules:    cfg.Rules,
		ledger:   ldg,
		targets:  cfg.Targets,
		notifier: cfg.Notifier,
		alerts:   cfg.Alerts,
		lookback: cfg.LookbackDays,
		grace:    cfg.GraceDays,
		logger:   cfg.Logger.With("account", cfg.Identity.Name, "iban", cfg.Identity.IBAN),
		now:      now,
	}
}

// Identity returns the monitored account.
func (m *Monitor) Identity() model.Identity { return m.id }

// Rules returns the account's rule set.
func (m *Monitor) Rules() *rules.RuleSet { return m.rules }

// Check fetches the transactions of the lookback window and alerts on
// every one that is neither already alerted nor allowed by the rules.
// A fetch error or a malformed record aborts the check.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := model.Day(m.now())
	from := today.AddDate(0, 0, -m.lookback)

	m.logger.Debug("Fetching transactions", "from", from.Format(model.DateFormat), "to", today.Format(model.DateFormat))
	raws, err := m.client.FetchTransactions(ctx, m.id, from, today)
	if err != nil {
		return fmt.Errorf("fetching transactions: %w", err)
	}
	txns, err := bank.NormalizeAll(raws)
	if err != nil {
		return fmt.Errorf("normalizing transactions: %w", err)
	}

	alerted := 0
	for _, tx := range txns {
		if m.ledger.Contains(tx) {
			continue
		}
		if m.rules.IsAllowed(tx) {
			m.logger.Debug("Transaction allowed", "transaction", tx.String())
			continue
		}

		m.logger.Warn("Transaction not covered by rules", "transaction", tx.String(), "targets", len(m.targets))
		accepted := 0
		for _, target := range m.targets {
			if m.notifier.Notify(target, m.id, tx) {
				accepted++
			}
		}
		if len(m.targets) > 0 && accepted == 0 {
			// Left out of the ledger so the next cycle alerts again.
			m.logger.Warn("Alert dropped by shutting down dispatcher", "transaction", tx.String())
			continue
		}
		if m.alerts != nil {
			if err := m.alerts.Record(m.id, tx); err != nil {
				m.logger.Error("Writing alert log failed", "error", err)
			}
		}
		m.ledger.Record(tx)
		alerted++
	}

	m.logger.Info("Account checked", "transactions", len(txns), "alerts", alerted)
	return nil
}

// CleanUp forgets alerted transactions dated lookback+grace days ago or
// earlier. They can no longer appear in a fetch.
func (m *Monitor) CleanUp() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := model.Day(m.now()).AddDate(0, 0, -(m.lookback+m.grace)+1)
	evicted := m.ledger.EvictOlderThan(cutoff)
	if len(evicted) > 0 {
		m.logger.Debug("Evicted alerted transactions", "count", len(evicted), "remaining", m.ledger.Len())
	}
}
