package model

type TransactionType string

const (
	TypeBuy             TransactionType = "buy"
	TypeSell            TransactionType = "sell"
	TypeDeposit         TransactionType = "deposit"
	TypeWithdrawal      TransactionType = "withdrawal"
	TypePurchaseDeposit TransactionType = "purchase_deposit"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case string(TypeBuy):
		return TypeBuy, nil
	case string(TypeSell):
		return TypeSell, nil
	case string(TypeDeposit):
		return TypeDeposit, nil
	case string(TypeWithdrawal):
		return TypeWithdrawal, nil
	case string(TypePurchaseDeposit):
		return TypePurchaseDeposit, nil
	default:
		return "", ErrInvalidTransactionType
	}
}

func (t TransactionType) String() string {
	return string(t)
}

// TransactionStatus is "pending", "finished" or "failed" once terminal.
// Gateway sub-states (processing, confirming, AWAITING_CONFIRMATION, ...)
// are stored verbatim while a withdrawal is still in flight.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusFinished TransactionStatus = "finished"
	StatusFailed   TransactionStatus = "failed"
)

// Terminal reports whether no further transition may occur.
func (s TransactionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

func (s TransactionStatus) String() string {
	return string(s)
}

// OfferState mirrors the trade protocol's sent-offer lifecycle.
type OfferState int

const (
	OfferActive OfferState = iota + 1
	OfferAccepted
	OfferDeclined
	OfferCanceled
	OfferInvalid
	OfferExpired
)

var offerStateNames = map[OfferState]string{
	OfferActive:   "active",
	OfferAccepted: "accepted",
	OfferDeclined: "declined",
	OfferCanceled: "canceled",
	OfferInvalid:  "invalid",
	OfferExpired:  "expired",
}

func (s OfferState) String() string {
	if name, ok := offerStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Rejected reports whether the state closes the offer without an exchange.
func (s OfferState) Rejected() bool {
	switch s {
	case OfferDeclined, OfferCanceled, OfferInvalid, OfferExpired:
		return true
	}
	return false
}
