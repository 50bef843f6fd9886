package repository

import (
	"context"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/shopspring/decimal"
)

// UserRepository persists users and their balances.
type UserRepository interface {
	// EnsureUser creates the user with a zero balance if absent and
	// returns the stored record either way.
	EnsureUser(ctx context.Context, accountID string) (*model.User, error)

	// GetUser returns the stored record or model.ErrUserNotFound.
	GetUser(ctx context.Context, accountID string) (*model.User, error)

	// AdjustBalance applies delta as a single atomic find-and-increment
	// and returns the balance after the update. It never creates the user.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	// SetTradeLink stores the offer redirect address for the user.
	SetTradeLink(ctx context.Context, accountID, tradeLink string) error

	// SetBanned flips the chat/trade ban flag.
	SetBanned(ctx context.Context, accountID string, banned bool) error
}

// TransactionRepository is the append/update log of financial events.
type TransactionRepository interface {
	// Insert stores a new record; amounts are normalized to storage precision.
	Insert(ctx context.Context, trans *model.Transaction) error

	// Update applies the non-zero fields of patch and returns the record
	// after the update, or model.ErrTransactionNotFound.
	Update(ctx context.Context, id string, patch TransactionPatch) (*model.Transaction, error)

	// UpdateIfPending applies patch as a single conditional update that
	// matches only while the record is still pending. Of any number of
	// concurrent callers exactly one wins; the rest get
	// model.ErrAlreadySettled.
	UpdateIfPending(ctx context.Context, id string, patch TransactionPatch) (*model.Transaction, error)

	// ClaimRefund atomically marks the record refunded and failed,
	// returning it so the caller can apply the compensating credit. A
	// record already claimed returns model.ErrAlreadyRefunded.
	ClaimRefund(ctx context.Context, id string) (*model.Transaction, error)

	// GetByID returns the record or model.ErrTransactionNotFound.
	GetByID(ctx context.Context, id string) (*model.Transaction, error)

	// GetByBatchWithdrawalID finds a withdrawal by the gateway batch id.
	GetByBatchWithdrawalID(ctx context.Context, batchID string) (*model.Transaction, error)

	// ListByOwner returns the owner's history, newest first.
	ListByOwner(ctx context.Context, accountID string, limit int) ([]*model.Transaction, error)

	// ListPending returns non-terminal transactions, optionally filtered
	// by type, created before the cutoff.
	ListPending(ctx context.Context, transType model.TransactionType, olderThan time.Time) ([]*model.Transaction, error)
}

// TransactionPatch is a partial update; nil fields are left untouched.
type TransactionPatch struct {
	Status            *model.TransactionStatus
	Difference        *decimal.Decimal
	OfferID           *string
	BatchWithdrawalID *string
	Refunded          *bool
	Error             *string
}

// CheckpointRepository stores the trade client's opaque poll state so
// offer tracking survives restarts.
type CheckpointRepository interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}
