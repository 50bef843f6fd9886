package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is keyed by the stable external account identifier, not the
// database id. Balance is mutated only through the ledger's atomic
// increment; direct overwrites are reserved for admin corrections.
type User struct {
	AccountID string          `json:"account_id" bson:"account_id"`
	Balance   decimal.Decimal `json:"balance" bson:"-"`
	TradeLink string          `json:"trade_link,omitempty" bson:"trade_link,omitempty"`
	Banned    bool            `json:"banned,omitempty" bson:"banned,omitempty"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
}

// Transaction records a financial event. Difference is the signed delta
// actually applied to the owner's balance; it is applied at most once,
// either on finalization or through a single refund.
type Transaction struct {
	ID                string            `json:"id"`
	Owner             string            `json:"owner"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	Difference        decimal.Decimal   `json:"difference"`
	OfferID           string            `json:"offer_id,omitempty"`
	PaidViaCrypto     decimal.Decimal   `json:"paid_via_crypto,omitempty"`
	Currency          string            `json:"currency,omitempty"`
	Address           string            `json:"address,omitempty"`
	BatchWithdrawalID string            `json:"batch_withdrawal_id,omitempty"`
	Refunded          bool              `json:"refunded,omitempty"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StockItem is one entry of the externally sourced inventory pool.
// Snapshots are refreshed wholesale and never persisted.
type StockItem struct {
	AssetID string `json:"asset_id"`
	ClassID string `json:"class_id"`
}

// Pricing is the live price sheet. It is loaded from configuration and
// treated as immutable for the lifetime of the process.
type Pricing struct {
	// Buy is the per-item price users pay when buying from the stock.
	Buy decimal.Decimal
	// Sell is the per-item price users receive when selling to the stock.
	Sell decimal.Decimal
	// FeePercent applies to deposits and withdrawals (e.g. 2 means 2%).
	FeePercent decimal.Decimal
	// MinimumOrder is the smallest crypto-funded order value in USD.
	MinimumOrder decimal.Decimal
	// MaxStock caps both single orders and total held inventory.
	MaxStock int
}

// Currency describes a withdrawal currency accepted by the gateway.
type Currency struct {
	Code        string
	Name        string
	WalletRegex string
}

// Storage keeps three decimal places; displays round to two.
const (
	StoredPrecision  = 3
	DisplayPrecision = 2
)

// RoundStored normalizes a monetary amount to storage precision.
func RoundStored(d decimal.Decimal) decimal.Decimal {
	return d.Round(StoredPrecision)
}

// RoundDisplay normalizes a monetary amount to user-facing precision.
func RoundDisplay(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayPrecision)
}
