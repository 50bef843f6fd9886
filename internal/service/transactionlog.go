package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionLog is the append/update record of financial events. It
// publishes lifecycle messages to the owner's channel and owns the
// refund invariant: a transaction's difference is reversed at most once.
type TransactionLog struct {
	transactions repository.TransactionRepository
	ledger       *Ledger
	notifier     notify.Notifier
	logger       zerolog.Logger
}

func NewTransactionLog(transactions repository.TransactionRepository, ledger *Ledger, notifier notify.Notifier, logger zerolog.Logger) *TransactionLog {
	return &TransactionLog{
		transactions: transactions,
		ledger:       ledger,
		notifier:     notifier,
		logger:       logger,
	}
}

// Create assigns an identifier, stores the record pending and announces it.
func (s *TransactionLog) Create(ctx context.Context, trans *model.Transaction) (string, error) {
	if trans.ID == "" {
		trans.ID = uuid.New().String()
	}

	if err := s.transactions.Insert(ctx, trans); err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}

	s.notifier.Publish(ctx, trans.Owner, notify.NewTransactionMessage(trans))

	s.logger.Info().
		Str("transaction_id", trans.ID).
		Str("account_id", trans.Owner).
		Str("type", trans.Type.String()).
		Str("amount", trans.Amount.StringFixed(model.StoredPrecision)).
		Msg("transaction created")

	return trans.ID, nil
}

// Update patches the record and announces the new shape to the owner.
func (s *TransactionLog) Update(ctx context.Context, id string, patch repository.TransactionPatch) (*model.Transaction, error) {
	trans, err := s.transactions.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	s.notifier.Publish(ctx, trans.Owner, notify.UpdateTransactionMessage(trans))
	return trans, nil
}

// Settle moves a pending record to a terminal state. The transition is
// one conditional update, so of any number of concurrent callers
// exactly one wins; the rest get model.ErrAlreadySettled. Balance
// mutations belong after a won transition, never before.
func (s *TransactionLog) Settle(ctx context.Context, id string, patch repository.TransactionPatch) (*model.Transaction, error) {
	trans, err := s.transactions.UpdateIfPending(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("settle transaction: %w", err)
	}

	s.notifier.Publish(ctx, trans.Owner, notify.UpdateTransactionMessage(trans))
	return trans, nil
}

func (s *TransactionLog) Get(ctx context.Context, id string) (*model.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

func (s *TransactionLog) GetByBatchWithdrawalID(ctx context.Context, batchID string) (*model.Transaction, error) {
	return s.transactions.GetByBatchWithdrawalID(ctx, batchID)
}

func (s *TransactionLog) History(ctx context.Context, accountID string, limit int) ([]*model.Transaction, error) {
	return s.transactions.ListByOwner(ctx, accountID, limit)
}

func (s *TransactionLog) PendingOlderThan(ctx context.Context, transType model.TransactionType, cutoff time.Time) ([]*model.Transaction, error) {
	return s.transactions.ListPending(ctx, transType, cutoff)
}

// Refund reverses the transaction's applied difference exactly once:
// the refunded flag is claimed atomically, and only the claim winner
// applies the compensating credit, so concurrent duplicate failure
// notifications cannot double-credit.
func (s *TransactionLog) Refund(ctx context.Context, id string) error {
	trans, err := s.transactions.ClaimRefund(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyRefunded) {
			return nil
		}
		return fmt.Errorf("refund claim: %w", err)
	}

	if _, err := s.ledger.AdjustBalance(ctx, trans.Owner, trans.Difference.Abs()); err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}

	s.notifier.Publish(ctx, trans.Owner, notify.UpdateTransactionMessage(trans))

	s.logger.Info().
		Str("transaction_id", id).
		Str("account_id", trans.Owner).
		Str("credited", trans.Difference.Abs().StringFixed(model.StoredPrecision)).
		Msg("transaction refunded")

	return nil
}
