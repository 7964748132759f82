package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/txguard-dev/txguard/internal/alertlog"
	"github.com/txguard-dev/txguard/internal/bank"
	"github.com/txguard-dev/txguard/internal/config"
	"github.com/txguard-dev/txguard/internal/ledger"
	"github.com/txguard-dev/txguard/internal/monitor"
	"github.com/txguard-dev/txguard/internal/notify"
	"github.com/txguard-dev/txguard/internal/rules"
)

// App is a fully wired monitoring process.
type App struct {
	Scheduler  *monitor.Scheduler
	Dispatcher *notify.Dispatcher
	Monitors   []*monitor.Monitor
	Registry   *notify.Registry
}

// New validates cfg and builds every component it describes. Any
// configuration problem is returned before anything starts.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := BuildRegistry(cfg.Events, logger)
	if err != nil {
		return nil, err
	}

	client, err := bank.NewGatewayClient(0)
	if err != nil {
		return nil, err
	}

	var alerts monitor.AlertRecorder
	if cfg.General.AlertLog != "" {
		alerts = alertlog.New(cfg.ResolvePath(cfg.General.AlertLog))
	}

	dispatcher := notify.NewDispatcher(logger, notify.DefaultDeliveryTimeout)

	monitors := make([]*monitor.Monitor, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		id, err := cfg.Identity(acct)
		if err != nil {
			return nil, err
		}

		rs, err := rules.NewRuleSet(cfg.ResolvePath(acct.RulesFile), logger.With("account", acct.Name))
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}

		targets := make([]*notify.Target, 0, len(acct.Events))
		for _, eventID := range acct.Events {
			target, ok := registry.Get(eventID)
			if !ok {
				return nil, fmt.Errorf("account %q: unknown event id %d", acct.Name, eventID)
			}
			targets = append(targets, target)
		}

		monitors = append(monitors, monitor.New(monitor.Config{
			Identity:     id,
			Client:       client,
			Rules:        rs,
			Ledger:       ledger.New(),
			Targets:      targets,
			Notifier:     dispatcher,
			Alerts:       alerts,
			LookbackDays: cfg.General.LookbackDays,
			GraceDays:    cfg.General.EvictionGraceDays,
			Logger:       logger,
		}))
		logger.Info("Account configured", "account", id.Name, "iban", id.IBAN,
			"rules", len(rs.Rules()), "events", acct.Events)
	}

	scheduler, err := monitor.NewScheduler(monitor.SchedulerConfig{
		Monitors:       monitors,
		Interval:       cfg.General.CheckIntervalDuration(),
		ReloadInterval: cfg.General.RulesIntervalDuration(),
		ShutdownGrace:  cfg.General.ShutdownGraceDuration(),
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Monitors:   monitors,
		Registry:   registry,
	}, nil
}

// RunOnce runs a single cycle and waits up to grace for its notifications.
// A non-positive grace uses monitor.DefaultShutdownGrace.
func (a *App) RunOnce(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = monitor.DefaultShutdownGrace
	}
	a.Scheduler.RunOnce(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return a.Dispatcher.Shutdown(shutdownCtx)
}

// BuildRegistry creates a notification target for every configured event.
func BuildRegistry(events []config.Event, logger *slog.Logger) (*notify.Registry, error) {
	registry := notify.NewRegistry()
	for _, ev := range events {
		transport, err := NewTransport(ev, logger)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.ID, err)
		}
		target := &notify.Target{
			ID:        ev.ID,
			Channel:   ev.Channel,
			Transport: transport,
		}
		if ev.RatePerMinute > 0 {
			target.Limiter = rate.NewLimiter(rate.Limit(ev.RatePerMinute/60), 1)
		}
		if err := registry.Register(target); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewTransport creates the transport for an event's type.
func NewTransport(ev config.Event, logger *slog.Logger) (notify.Transport, error) {
	switch ev.Kind() {
	case config.EventPush:
		return notify.NewPushTransport(ev.ServerURL, ev.Username, ev.Password, ev.SharedSecret)
	case config.EventMailgun:
		return notify.NewMailgunTransport(ev.Domain, ev.APIKey, ev.Sender, ev.APIBase)
	case config.EventLog:
		return notify.NewLogTransport(logger.With("event_id", ev.ID)), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}
