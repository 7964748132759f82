package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// Transport delivers one notification to a channel. Implementations make
// a single attempt and never retry.
type Transport interface {
	Kind() string
	Deliver(ctx context.Context, subject, body, channel string) Outcome
}

// Target is a configured event: a transport, the channel it posts to and
// an optional rate limit.
type Target struct {
	ID        int
	Channel   string
	Transport Transport
	Limiter   *rate.Limiter // nil means unlimited
}

// Registry holds targets by event ID.
type Registry struct {
	targets map[int]*Target
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[int]*Target)}
}

// Register adds a target. Event IDs must be unique.
func (r *Registry) Register(t *Target) error {
	if _, ok := r.targets[t.ID]; ok {
		return fmt.Errorf("event id %d not unique", t.ID)
	}
	r.targets[t.ID] = t
	return nil
}

// Get returns the target for id.
func (r *Registry) Get(id int) (*Target, bool) {
	t, ok := r.targets[id]
	return t, ok
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.targets) }

// LogTransport writes notifications to the log instead of sending them.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Kind() string { return "log" }

func (t *LogTransport) Deliver(_ context.Context, subject, body, channel string) Outcome {
	t.logger.Warn(subject, "channel", channel, "body", strings.TrimSpace(body))
	return delivered()
}
