package service

import (
	"context"
	"testing"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	mocks "github.com/Sat-14/Crypto-bot/mocks/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*TransactionLog, *mocks.TransactionRepository, *mocks.UserRepository, *notify.Memory) {
	transRepo := mocks.NewTransactionRepository(t)
	userRepo := mocks.NewUserRepository(t)
	notifier := notify.NewMemory()
	ledger := NewLedger(userRepo, notifier, zerolog.Nop())
	return NewTransactionLog(transRepo, ledger, notifier, zerolog.Nop()), transRepo, userRepo, notifier
}

func TestCreate_AssignsIDAndAnnounces(t *testing.T) {
	ctx := context.Background()
	translog, transRepo, _, notifier := newTestLog(t)

	transRepo.On("Insert", ctx, mock.MatchedBy(func(trans *model.Transaction) bool {
		return trans.ID != "" && trans.Type == model.TypeBuy
	})).Return(nil)

	id, err := translog.Create(ctx, &model.Transaction{
		Owner:  "user-1",
		Type:   model.TypeBuy,
		Status: model.StatusPending,
		Amount: decimal.NewFromInt(3),
	})

	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages := notifier.Messages("user-1")
	require.Len(t, messages, 1)
	created, ok := messages[0].(notify.NewTransaction)
	require.True(t, ok)
	assert.Equal(t, "new_transaction", created.Type)
	assert.Equal(t, id, created.Transaction.ID)
}

func TestRefund_CreditsAbsoluteDifferenceOnce(t *testing.T) {
	ctx := context.Background()
	translog, transRepo, userRepo, _ := newTestLog(t)

	claimed := &model.Transaction{
		ID:         "trans-1",
		Owner:      "user-1",
		Type:       model.TypeWithdrawal,
		Status:     model.StatusFailed,
		Refunded:   true,
		Amount:     decimal.RequireFromString("10.00"),
		Difference: decimal.RequireFromString("-10.00"),
	}

	// The claim is atomic at the repository: only the first call wins.
	transRepo.On("ClaimRefund", ctx, "trans-1").Return(claimed, nil).Once()
	transRepo.On("ClaimRefund", ctx, "trans-1").Return(nil, model.ErrAlreadyRefunded)

	userRepo.On("AdjustBalance", ctx, "user-1", decimal.RequireFromString("10.00")).Return(decimal.RequireFromString("10.00"), nil)

	require.NoError(t, translog.Refund(ctx, "trans-1"))

	// Second delivery of the same failure: lost claim, no further credit.
	require.NoError(t, translog.Refund(ctx, "trans-1"))

	userRepo.AssertNumberOfCalls(t, "AdjustBalance", 1)
}

func TestRefund_MissingTransaction(t *testing.T) {
	ctx := context.Background()
	translog, transRepo, _, _ := newTestLog(t)

	transRepo.On("ClaimRefund", ctx, "ghost").Return(nil, model.ErrTransactionNotFound)

	assert.ErrorIs(t, translog.Refund(ctx, "ghost"), model.ErrTransactionNotFound)
}

func TestSettle_AnnouncesWinningTransition(t *testing.T) {
	ctx := context.Background()
	translog, transRepo, _, notifier := newTestLog(t)

	finished := model.StatusFinished
	settled := &model.Transaction{ID: "trans-1", Owner: "user-1", Status: model.StatusFinished}
	transRepo.On("UpdateIfPending", ctx, "trans-1", repository.TransactionPatch{Status: &finished}).
		Return(settled, nil)

	trans, err := translog.Settle(ctx, "trans-1", repository.TransactionPatch{Status: &finished})

	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, trans.Status)

	messages := notifier.Messages("user-1")
	require.Len(t, messages, 1)
	updated, ok := messages[0].(notify.UpdateTransaction)
	require.True(t, ok)
	assert.Equal(t, "update_transaction", updated.Type)
}

func TestSettle_LostTransitionSurfacesSentinel(t *testing.T) {
	ctx := context.Background()
	translog, transRepo, _, notifier := newTestLog(t)

	finished := model.StatusFinished
	transRepo.On("UpdateIfPending", ctx, "trans-1", mock.AnythingOfType("repository.TransactionPatch")).
		Return(nil, model.ErrAlreadySettled)

	_, err := translog.Settle(ctx, "trans-1", repository.TransactionPatch{Status: &finished})

	assert.ErrorIs(t, err, model.ErrAlreadySettled)
	assert.Empty(t, notifier.Messages("user-1"))
}
