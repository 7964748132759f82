package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txguard-dev/txguard/internal/model"
)

// DefaultDeliveryTimeout bounds a single delivery attempt.
const DefaultDeliveryTimeout = 30 * time.Second

// Dispatcher runs deliveries in the background. Callers never wait for a
// delivery and never see its outcome; outcomes are logged.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration

	// ctx is the parent of every delivery; cancel abandons them all.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending int // deliveries not yet finished, guarded by mu
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A zero timeout uses DefaultDeliveryTimeout.
func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Notify sends an alert about tx on account to target in the background.
// It reports false if the dispatcher is shutting down and the alert was dropped.
func (d *Dispatcher) Notify(target *Target, account model.Identity, tx model.Transaction) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher shut down, dropping notification",
			"event_id", target.ID, "account", account.Name, "transaction", tx.String())
		return false
	}
	d.wg.Add(1)
	d.pending++
	d.mu.Unlock()

	subject, body := Message(account, tx)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			d.pending--
			d.mu.Unlock()
		}()
		d.deliver(target, account, subject, body)
	}()
	return true
}

func (d *Dispatcher) deliver(target *Target, account model.Identity, subject, body string) {
	log := d.logger.With(
		"dispatch_id", uuid.NewString(),
		"event_id", target.ID,
		"transport", target.Transport.Kind(),
		"account", account.Name,
	)

	if target.Limiter != nil {
		if err := target.Limiter.Wait(d.ctx); err != nil {
			log.Warn("Notification abandoned while rate limited", "error", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	start := time.Now()
	outcome := target.Transport.Deliver(ctx, subject, body, target.Channel)
	if outcome.OK() {
		log.Debug(outcome.Advice(), "duration", time.Since(start))
		return
	}

	attrs := []any{"outcome", outcome.Kind.String(), "duration", time.Since(start)}
	if outcome.Kind == ServerError {
		attrs = append(attrs, "code", outcome.Code)
	}
	if outcome.Err != nil {
		attrs = append(attrs, "error", outcome.Err)
	}
	log.Error(outcome.Advice(), attrs...)
}

// Shutdown stops accepting notifications and waits for in-flight ones
// until ctx is done. Deliveries still running after that are cancelled
// and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	idle := d.pending == 0
	d.mu.Unlock()

	// Nothing in flight: succeed even if ctx has already expired.
	if idle {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Abandoning in-flight notifications")
		return ctx.Err()
	}
}
