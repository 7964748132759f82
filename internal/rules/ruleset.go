package rules

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/txguard-dev/txguard/internal/model"
)

// DefaultReloadInterval is how often the rule source is checked for changes.
const DefaultReloadInterval = 60 * time.Second

// RuleSet holds the active whitelist of one account. The collection is
// replaced as a whole on reload; readers always see either the old or the
// new slice, never a mix.
type RuleSet struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	rules []model.Rule

	// reloadMu serializes reloads and guards fingerprint.
	reloadMu    sync.Mutex
	fingerprint string
}

// Option configures a RuleSet.
type Option func(*RuleSet)

// WithClock overrides the clock used to evaluate day windows.
func WithClock(now func() time.Time) Option {
	return func(rs *RuleSet) { rs.now = now }
}

// NewRuleSet loads the rules file at path. A missing or malformed file is
// an error: there is no previous collection to fall back to.
func NewRuleSet(path string, logger *slog.Logger, opts ...Option) (*RuleSet, error) {
	rs := &RuleSet{
		path:   path,
		logger: logger.With("rules_file", path),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	loaded, err := rs.parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	rs.rules = loaded
	rs.fingerprint = fingerprintBytes(data)
	return rs, nil
}

// Path returns the rules file location.
func (rs *RuleSet) Path() string { return rs.path }

// Rules returns the current collection. The slice must not be modified.
func (rs *RuleSet) Rules() []model.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rules
}

// IsAllowed reports whether at least one rule matches tx today.
func (rs *RuleSet) IsAllowed(tx model.Transaction) bool {
	today := rs.now()
	for _, rule := range rs.Rules() {
		if rule.Matches(tx, today) {
			return true
		}
	}
	return false
}

// ReloadIfChanged re-reads the rules file if its content fingerprint
// differs from the last successful load. On a parse error the current
// collection stays active and the error is returned.
func (rs *RuleSet) ReloadIfChanged() (bool, error) {
	rs.reloadMu.Lock()
	defer rs.reloadMu.Unlock()

	data, err := os.ReadFile(rs.path)
	if err != nil {
		return false, fmt.Errorf("reading rules file: %w", err)
	}

	fp := fingerprintBytes(data)
	if fp == rs.fingerprint {
		return false, nil
	}

	rs.logger.Info("Reloading rules", "fingerprint", fp)
	loaded, err := rs.parse(data)
	if err != nil {
		return false, fmt.Errorf("parsing rules file %s: %w", rs.path, err)
	}

	rs.mu.Lock()
	rs.rules = loaded
	rs.mu.Unlock()
	rs.fingerprint = fp

	rs.logger.Info("Rules reloaded", "count", len(loaded))
	return true, nil
}

// Run checks the rules file every interval until ctx is cancelled.
func (rs *RuleSet) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.logger.Info("Stopping rules reload task")
			return
		case <-ticker.C:
			rs.logger.Debug("Checking rules file")
			if _, err := rs.ReloadIfChanged(); err != nil {
				rs.logger.Error("Rules reload failed, keeping previous rules", "error", err)
			}
		}
	}
}

func (rs *RuleSet) parse(data []byte) ([]model.Rule, error) {
	loaded, err := ReadRules(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for _, rule := range loaded {
		if rule.Inverted() {
			rs.logger.Warn("Rule has start_day after end_day and will never match", "rule", rule.String())
		}
	}
	return loaded, nil
}

// Fingerprint returns the SHA-256 hex digest of the file at path.
func Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading rules file: %w", err)
	}
	return fingerprintBytes(data), nil
}

func fingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
