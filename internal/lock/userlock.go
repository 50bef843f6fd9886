package lock

import (
	"context"
	"sync"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/rs/zerolog"
)

// Provisional marks an entry taken at admission, before the backing
// transaction exists. Promote rebinds it once the record is persisted.
const Provisional = "provisional"

// UserLock enforces at most one in-flight financial operation per user.
// It is a fast-path guard, not the source of truth: the transaction log
// is. Being purely in-memory it is rebuilt from pending transactions on
// startup.
type UserLock struct {
	mu     sync.Mutex
	active map[string]string // accountID -> transaction id
}

func New() *UserLock {
	return &UserLock{active: make(map[string]string)}
}

// TryAcquire succeeds only when the user has no active entry.
func (l *UserLock) TryAcquire(accountID, transactionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[accountID]; held {
		return false
	}
	l.active[accountID] = transactionID
	return true
}

// Promote rebinds the user's entry to the real transaction id. It sets
// the entry unconditionally so a flow that acquired provisionally at
// admission cannot lose the lock between persist and rebind.
func (l *UserLock) Promote(accountID, transactionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[accountID] = transactionID
}

// Release drops the entry; releasing an absent entry is a no-op.
func (l *UserLock) Release(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, accountID)
}

// Peek returns the active transaction id for the user, if any.
func (l *UserLock) Peek(accountID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, held := l.active[accountID]
	return id, held
}

// Len returns the number of users currently locked.
func (l *UserLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Rebuild restores entries from pending transactions after a restart.
// If several pending transactions exist for one user, the newest wins.
func (l *UserLock) Rebuild(ctx context.Context, transactions repository.TransactionRepository, logger zerolog.Logger) error {
	pending, err := transactions.ListPending(ctx, "", time.Now().UTC())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, trans := range pending {
		l.active[trans.Owner] = trans.ID
	}

	if len(pending) > 0 {
		logger.Info().Int("restored", len(pending)).Msg("user locks rebuilt from pending transactions")
	}
	return nil
}
