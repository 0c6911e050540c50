package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// Locks serializes mutations per portfolio. Every write path (buy, sell,
// dividend, fee, price update, snapshot) locks the portfolio for the
// duration of its load-mutate-persist cycle, so two concurrent sells can
// never both read the pre-mutation share count. Different portfolios lock
// independently; a batch price refresh across portfolios runs concurrently.
//
// The critical sections are pure computation plus the persistence round
// trip; external price fetches happen before the lock is taken.
type Locks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Acquire blocks until the portfolio's lock is held and returns the release
// function. Lock entries are created on first use and kept for the life of
// the process; the table is bounded by the number of portfolios served.
func (l *Locks) Acquire(portfolioID uuid.UUID) (release func()) {
	l.mu.Lock()
	m, ok := l.locks[portfolioID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[portfolioID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
