package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Sat-14/Crypto-bot/internal/notify"
	mocks "github.com/Sat-14/Crypto-bot/mocks/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustBalance_PublishesRoundedPatch(t *testing.T) {
	ctx := context.Background()
	userRepo := mocks.NewUserRepository(t)
	notifier := notify.NewMemory()

	delta := decimal.RequireFromString("1.505")
	userRepo.On("AdjustBalance", ctx, "user-1", delta).Return(decimal.RequireFromString("11.505"), nil)

	ledger := NewLedger(userRepo, notifier, zerolog.Nop())

	balance, err := ledger.AdjustBalance(ctx, "user-1", delta)

	require.NoError(t, err)
	assert.Equal(t, "11.505", balance.String())

	messages := notifier.Messages("user-1")
	require.Len(t, messages, 1)
	patch, ok := messages[0].(notify.BalancePatch)
	require.True(t, ok)
	assert.Equal(t, "patch", patch.Type)
	// Display precision, not storage precision.
	assert.Equal(t, "11.5", patch.User.Balance.String())
}

func TestAdjustBalance_NoPatchOnFailure(t *testing.T) {
	ctx := context.Background()
	userRepo := mocks.NewUserRepository(t)
	notifier := notify.NewMemory()

	delta := decimal.NewFromInt(-5)
	userRepo.On("AdjustBalance", ctx, "user-1", delta).Return(decimal.Zero, errors.New("write failed"))

	ledger := NewLedger(userRepo, notifier, zerolog.Nop())

	_, err := ledger.AdjustBalance(ctx, "user-1", delta)

	assert.Error(t, err)
	assert.Empty(t, notifier.Messages("user-1"))
}
