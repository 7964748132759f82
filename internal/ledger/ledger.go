package ledger

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/txguard-dev/txguard/internal/model"
)

// Ledger remembers transactions that already produced an alert so they
// are not reported twice. Entries never expire on their own; they are
// dropped by EvictOlderThan based on the transaction date.
type Ledger struct {
	seen *cache.Cache
}

// New creates an empty Ledger.
func New() *Ledger {
	// No default expiration and no janitor goroutine.
	return &Ledger{seen: cache.New(cache.NoExpiration, 0)}
}

// Contains reports whether tx has been recorded.
func (l *Ledger) Contains(tx model.Transaction) bool {
	_, ok := l.seen.Get(tx.Key())
	return ok
}

// Record marks tx as alerted.
func (l *Ledger) Record(tx model.Transaction) {
	l.seen.Set(tx.Key(), tx, cache.NoExpiration)
}

// EvictOlderThan removes every entry dated strictly before cutoff and
// returns the removed transactions.
func (l *Ledger) EvictOlderThan(cutoff time.Time) []model.Transaction {
	cutoff = model.Day(cutoff)

	var evicted []model.Transaction
	for key, item := range l.seen.Items() {
		tx, ok := item.Object.(model.Transaction)
		if !ok {
			l.seen.Delete(key)
			continue
		}
		if tx.Date.Before(cutoff) {
			l.seen.Delete(key)
			evicted = append(evicted, tx)
		}
	}
	return evicted
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	return l.seen.ItemCount()
}
