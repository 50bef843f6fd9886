package trade

import (
	"context"

	"github.com/Sat-14/Crypto-bot/internal/model"
)

// SendStatus is the immediate outcome of submitting an offer.
type SendStatus int

const (
	// SendOK means the offer went out and needs no further action.
	SendOK SendStatus = iota + 1
	// SendPendingConfirmation means the offer was submitted but must be
	// confirmed out-of-band before the counterparty sees it.
	SendPendingConfirmation
)

// Offer is a single proposed exchange owned by the external protocol.
type Offer interface {
	ID() string
	SetMessage(message string)
	AddMyItem(item model.StockItem)
	AddTheirItem(item model.StockItem)
	Send(ctx context.Context) (SendStatus, error)
	Cancel(ctx context.Context) error
	// ExchangeDetails reports what actually changed hands once the offer
	// was accepted.
	ExchangeDetails(ctx context.Context) (received, sent []model.StockItem, err error)
}

// OfferChange is an asynchronous state transition observed on a sent
// offer. Deliveries may be duplicated or reordered.
type OfferChange struct {
	OfferID  string
	Previous model.OfferState
	Current  model.OfferState
}

// Client is the black-box trade protocol collaborator.
type Client interface {
	// CreateOffer builds an unsent offer addressed to the account or to
	// a trade-link redirect address.
	CreateOffer(target string) Offer

	// ConfirmOffer completes the out-of-band confirmation step for an
	// offer stuck in SendPendingConfirmation.
	ConfirmOffer(ctx context.Context, offerID string) error

	// GetInventory lists the service account's own items.
	GetInventory(ctx context.Context, appID, contextID int) ([]model.StockItem, error)

	// GetUserInventory lists a counterparty's items.
	GetUserInventory(ctx context.Context, accountID string, appID, contextID int) ([]model.StockItem, error)

	// OfferChanges streams sent-offer state transitions. The channel is
	// closed when the client shuts down.
	OfferChanges() <-chan OfferChange
}
