package service

import (
	"context"
	"fmt"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ledger owns balance reads and mutations. Every successful adjustment
// is pushed to the owner's notification channel as a balance patch.
type Ledger struct {
	users    repository.UserRepository
	notifier notify.Notifier
	logger   zerolog.Logger
}

func NewLedger(users repository.UserRepository, notifier notify.Notifier, logger zerolog.Logger) *Ledger {
	return &Ledger{users: users, notifier: notifier, logger: logger}
}

// EnsureUser creates the account on first contact.
func (s *Ledger) EnsureUser(ctx context.Context, accountID string) (*model.User, error) {
	user, err := s.users.EnsureUser(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *Ledger) GetUser(ctx context.Context, accountID string) (*model.User, error) {
	return s.users.GetUser(ctx, accountID)
}

// AdjustBalance applies delta atomically and publishes the new balance.
func (s *Ledger) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := s.users.AdjustBalance(ctx, accountID, delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}

	s.notifier.Publish(ctx, accountID, notify.NewBalancePatch(balance))

	s.logger.Info().
		Str("account_id", accountID).
		Str("delta", delta.StringFixed(model.StoredPrecision)).
		Str("balance", balance.StringFixed(model.DisplayPrecision)).
		Msg("balance adjusted")

	return balance, nil
}

func (s *Ledger) SetTradeLink(ctx context.Context, accountID, tradeLink string) error {
	return s.users.SetTradeLink(ctx, accountID, tradeLink)
}

func (s *Ledger) SetBanned(ctx context.Context, accountID string, banned bool) error {
	return s.users.SetBanned(ctx, accountID, banned)
}
