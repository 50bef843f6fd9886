package model

import "errors"

var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrPendingTransaction     = errors.New("a transaction is already pending for this user")
	ErrOutOfStock             = errors.New("not enough items in stock")
	ErrStockCapExceeded       = errors.New("order exceeds the stock cap")
	ErrReservationShort       = errors.New("reservation returned fewer items than requested")
	ErrTradeLinkMissing       = errors.New("trade link is not set")
	ErrUserNotFound           = errors.New("user not found")
	ErrUserBanned             = errors.New("user is banned")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrOfferNotFound          = errors.New("offer not found")
	ErrAlreadyRefunded        = errors.New("transaction already refunded")
	ErrAlreadySettled         = errors.New("transaction already settled")
	ErrNothingToCancel        = errors.New("no pending transaction to cancel")
	ErrCancelNotSupported     = errors.New("transaction cannot be cancelled at this stage")
	ErrBadSignature           = errors.New("notification signature mismatch")
)
