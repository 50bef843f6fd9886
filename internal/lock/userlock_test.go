package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	mocks "github.com/Sat-14/Crypto-bot/mocks/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_SecondCallerBlocked(t *testing.T) {
	l := New()

	assert.True(t, l.TryAcquire("user-1", "trans-1"))
	assert.False(t, l.TryAcquire("user-1", "trans-2"))

	id, held := l.Peek("user-1")
	require.True(t, held)
	assert.Equal(t, "trans-1", id)
}

func TestRelease_AllowsReacquire(t *testing.T) {
	l := New()

	l.TryAcquire("user-1", "trans-1")
	l.Release("user-1")

	assert.True(t, l.TryAcquire("user-1", "trans-2"))
	assert.Equal(t, 1, l.Len())
}

func TestRelease_AbsentEntryIsNoop(t *testing.T) {
	l := New()
	l.Release("user-1")
	assert.Equal(t, 0, l.Len())
}

func TestPromote_RebindsProvisionalEntry(t *testing.T) {
	l := New()

	require.True(t, l.TryAcquire("user-1", Provisional))
	l.Promote("user-1", "trans-1")

	id, held := l.Peek("user-1")
	require.True(t, held)
	assert.Equal(t, "trans-1", id)

	// Still one entry: promotion never opens a second slot.
	assert.False(t, l.TryAcquire("user-1", "trans-2"))
}

func TestTryAcquire_ConcurrentSingleWinner(t *testing.T) {
	l := New()

	const callers = 16
	barrier := make(chan struct{})
	wins := make(chan bool, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-barrier
			wins <- l.TryAcquire("user-1", Provisional)
		}()
	}

	close(barrier)
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, l.Len())
}

func TestRebuild_RestoresLocksFromPendingTransactions(t *testing.T) {
	ctx := context.Background()
	transRepo := mocks.NewTransactionRepository(t)

	transRepo.On("ListPending", ctx, model.TransactionType(""), mock.AnythingOfType("time.Time")).Return([]*model.Transaction{
		{ID: "trans-1", Owner: "user-1", Status: model.StatusPending, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "trans-2", Owner: "user-2", Status: model.StatusPending, CreatedAt: time.Now().Add(-time.Minute)},
	}, nil)

	l := New()
	require.NoError(t, l.Rebuild(ctx, transRepo, zerolog.Nop()))

	assert.Equal(t, 2, l.Len())
	assert.False(t, l.TryAcquire("user-1", "trans-9"))
	assert.False(t, l.TryAcquire("user-2", "trans-9"))
}
