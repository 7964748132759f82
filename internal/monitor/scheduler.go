package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/txguard-dev/txguard/internal/bank"
	"github.com/txguard-dev/txguard/internal/rules"
)

// DefaultShutdownGrace bounds how long shutdown waits for running work.
const DefaultShutdownGrace = 5 * time.Second

// Drainer waits for background work to finish.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// SchedulerConfig holds everything a Scheduler needs.
type SchedulerConfig struct {
	Monitors       []*Monitor
	Interval       time.Duration
	ReloadInterval time.Duration // defaults to rules.DefaultReloadInterval
	ShutdownGrace  time.Duration // defaults to DefaultShutdownGrace
	Dispatcher     Drainer       // optional
	Logger         *slog.Logger
}

// Scheduler checks every account once per interval and keeps each
// account's rules fresh.
type Scheduler struct {
	monitors       []*Monitor
	interval       time.Duration
	reloadInterval time.Duration
	shutdownGrace  time.Duration
	dispatcher     Drainer
	logger         *slog.Logger

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("check interval must be greater than 0, got %s", cfg.Interval)
	}
	s := &Scheduler{
		monitors:       cfg.Monitors,
		interval:       cfg.Interval,
		reloadInterval: cfg.ReloadInterval,
		shutdownGrace:  cfg.ShutdownGrace,
		dispatcher:     cfg.Dispatcher,
		logger:         cfg.Logger,
	}
	if s.reloadInterval <= 0 {
		s.reloadInterval = rules.DefaultReloadInterval
	}
	if s.shutdownGrace <= 0 {
		s.shutdownGrace = DefaultShutdownGrace
	}
	return s, nil
}

// RunOnce runs a single cycle over all accounts.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.cycle(ctx)
}

// Run checks all accounts immediately and then once per interval until
// ctx is cancelled. On cancellation it stops scheduling, stops the rule
// reload tasks and waits up to the shutdown grace for running work.
func (s *Scheduler) Run(ctx context.Context) error {
	// Running cycles are not interrupted by ctx; they are abandoned only
	// once the shutdown grace has passed.
	cycleCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	var work sync.WaitGroup

	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()
	for _, m := range s.monitors {
		m := m
		work.Add(1)
		go func() {
			defer work.Done()
			m.Rules().Run(reloadCtx, s.reloadInterval)
		}()
	}

	tick := func() {
		if !s.cycleMu.TryLock() {
			s.logger.Warn("Previous cycle still running, skipping")
			return
		}
		defer s.cycleMu.Unlock()
		s.cycle(cycleCtx)
	}

	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), tick); err != nil {
		stopReload()
		return fmt.Errorf("scheduling checks: %w", err)
	}

	s.logger.Info("Starting monitoring", "accounts", len(s.monitors), "interval", s.interval.String())
	work.Add(1)
	go func() {
		defer work.Done()
		tick()
	}()
	c.Start()

	<-ctx.Done()
	s.logger.Info("Shutting down")

	cronDone := c.Stop()
	stopReload()

	graceCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		work.Wait()
		<-cronDone.Done()
		close(done)
	}()
	select {
	case <-done:
	case <-graceCtx.Done():
		s.logger.Warn("Abandoning running account checks", "grace", s.shutdownGrace.String())
		abandon()
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Shutdown(graceCtx); err != nil {
			s.logger.Warn("Notifications still pending at shutdown", "error", err)
		}
	}

	s.logger.Info("Monitoring stopped")
	return nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	for _, m := range s.monitors {
		s.checkAccount(ctx, m)
	}
	s.logger.Debug("Cycle finished", "duration", time.Since(start))
}

// checkAccount runs Check and CleanUp for one account. Errors and panics
// are logged and go no further.
func (s *Scheduler) checkAccount(ctx context.Context, m *Monitor) {
	id := m.Identity()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Account check panicked",
				"account", id.Name, "iban", id.IBAN, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	if err := m.Check(ctx); err != nil {
		attrs := []any{"account", id.Name, "iban", id.IBAN, "error", err}
		if hint := errorHint(err); hint != "" {
			attrs = append(attrs, "hint", hint)
		}
		s.logger.Error("Account check failed", attrs...)
		return
	}
	m.CleanUp()
}

func errorHint(err error) string {
	var perr *bank.ProtocolError
	switch {
	case errors.Is(err, bank.ErrAuth):
		return "check the account's user and password"
	case errors.Is(err, bank.ErrAccountNotFound):
		return "check the account's IBAN and bank code"
	case errors.As(err, &perr):
		return "banking gateway error, will retry next cycle"
	default:
		return ""
	}
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
