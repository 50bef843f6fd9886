// Package market exposes the user-facing trading operations: buying
// and selling against the stock, funding the balance, and withdrawing
// it. It validates every request before any money or items move.
package market

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/payment"
	"github.com/Sat-14/Crypto-bot/internal/service"
	"github.com/Sat-14/Crypto-bot/internal/stock"
	"github.com/Sat-14/Crypto-bot/internal/trade"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var tradeLinkPattern = regexp.MustCompile(`^https://steamcommunity\.com/tradeoffer/new/\?partner=\d+&token=[a-zA-Z0-9_-]+$`)

// balanceEpsilon forgives sub-cent shortfalls when paying from balance.
var balanceEpsilon = decimal.NewFromFloat(0.01)

// BuyResult is either a sent offer or an invoice covering the shortfall.
type BuyResult struct {
	OfferID string `json:"offer_id,omitempty"`
	// InvoiceURL is set when the balance did not cover the order; the
	// offer is sent automatically once the invoice is paid.
	InvoiceURL string `json:"invoice_url,omitempty"`
}

// Service glues validation to the offer and payment flows.
type Service struct {
	ledger       *service.Ledger
	translog     *service.TransactionLog
	orchestrator *trade.Orchestrator
	reconciler   *payment.Reconciler
	client       trade.Client
	stock        *stock.Cache
	reservations *stock.ReservationRegistry
	locks        *lock.UserLock
	pricing      model.Pricing
	appID        int
	contextID    int
	classID      string
	logger       zerolog.Logger
}

func NewService(
	ledger *service.Ledger,
	translog *service.TransactionLog,
	orchestrator *trade.Orchestrator,
	reconciler *payment.Reconciler,
	client trade.Client,
	stockCache *stock.Cache,
	reservations *stock.ReservationRegistry,
	locks *lock.UserLock,
	pricing model.Pricing,
	appID, contextID int,
	classID string,
	logger zerolog.Logger,
) *Service {
	return &Service{
		ledger:       ledger,
		translog:     translog,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		client:       client,
		stock:        stockCache,
		reservations: reservations,
		locks:        locks,
		pricing:      pricing,
		appID:        appID,
		contextID:    contextID,
		classID:      classID,
		logger:       logger,
	}
}

// Buy sends the user an offer for `count` items. When the balance
// covers the cost the offer goes out immediately; otherwise an invoice
// for the shortfall is opened and the offer is deferred until payment.
// Privileged callers skip the pending-transaction guard.
func (s *Service) Buy(ctx context.Context, accountID string, count int, privileged bool) (*BuyResult, error) {
	user, err := s.admit(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if user.TradeLink == "" {
		return nil, model.ErrTradeLinkMissing
	}

	// The lock is taken at admission, before any money or items move, so
	// a concurrent request from the same user loses here instead of
	// racing the flows downstream. On success the entry is rebound to
	// the real transaction; every failure before that releases it.
	acquired := s.locks.TryAcquire(accountID, lock.Provisional)
	if !acquired && !privileged {
		return nil, model.ErrPendingTransaction
	}
	release := func() {
		if acquired {
			s.locks.Release(accountID)
		}
	}

	if count < 1 {
		release()
		return nil, model.ErrInvalidAmount
	}
	if count > s.pricing.MaxStock {
		release()
		return nil, model.ErrStockCapExceeded
	}

	items, err := s.stock.Get(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("load stock: %w", err)
	}
	available := len(items) - s.reservations.Size()
	if count > available {
		release()
		return nil, model.ErrOutOfStock
	}

	cost := model.RoundDisplay(s.pricing.Buy.Mul(decimal.NewFromInt(int64(count))))

	// A sub-cent gap is a rounding artifact, not a real shortfall.
	if user.Balance.GreaterThanOrEqual(cost) || cost.Sub(user.Balance).LessThan(balanceEpsilon) {
		reserved := s.reservations.Reserve(items, count)
		if len(reserved) < count {
			s.reservations.Release(reserved)
			release()
			return nil, model.ErrOutOfStock
		}
		offerID, err := s.orchestrator.SendBuyOffer(ctx, accountID, user.TradeLink, items, count, decimal.Zero, reserved)
		if err != nil {
			release()
			return nil, err
		}
		return &BuyResult{OfferID: offerID}, nil
	}

	// Shortfall path: the order must clear the crypto minimum. The
	// invoice bills the exact shortfall; the gateway's cut comes out of
	// what arrives, and the funded buy settles against that net.
	if cost.LessThan(s.pricing.MinimumOrder) {
		release()
		return nil, fmt.Errorf("crypto-funded orders start at %s: %w", s.pricing.MinimumOrder, model.ErrInvalidAmount)
	}

	shortfall := model.RoundDisplay(cost.Sub(user.Balance))

	invoice, err := s.reconciler.CreatePurchaseDeposit(ctx, accountID, shortfall, count)
	if err != nil {
		release()
		return nil, err
	}

	s.logger.Info().
		Str("account_id", accountID).
		Int("count", count).
		Str("shortfall", shortfall.StringFixed(model.DisplayPrecision)).
		Str("invoice", invoice.ID).
		Msg("buy deferred behind invoice")

	return &BuyResult{InvoiceURL: invoice.URL}, nil
}

// BuyFunded completes a deferred buy once its invoice settles. Payment
// in excess of the order cost lands on the balance instead of being
// swallowed by the offer flow.
func (s *Service) BuyFunded(ctx context.Context, accountID string, count int, paid decimal.Decimal) error {
	user, err := s.admit(ctx, accountID)
	if err != nil {
		return err
	}
	if user.TradeLink == "" {
		return model.ErrTradeLinkMissing
	}

	items, err := s.stock.Get(ctx)
	if err != nil {
		return fmt.Errorf("load stock: %w", err)
	}

	cost := model.RoundDisplay(s.pricing.Buy.Mul(decimal.NewFromInt(int64(count))))
	if paid.GreaterThan(cost) {
		if _, err := s.ledger.AdjustBalance(ctx, accountID, paid.Sub(cost)); err != nil {
			return fmt.Errorf("credit overpayment: %w", err)
		}
		paid = cost
	}

	reserved := s.reservations.Reserve(items, count)
	if len(reserved) < count {
		s.reservations.Release(reserved)
		return model.ErrOutOfStock
	}

	_, err = s.orchestrator.SendBuyOffer(ctx, accountID, user.TradeLink, items, count, paid, reserved)
	return err
}

// Sell sends an offer requesting `count` of the user's items. Capacity
// is capped so the stock never exceeds its configured maximum.
func (s *Service) Sell(ctx context.Context, accountID string, count int, privileged bool) (string, error) {
	user, err := s.admit(ctx, accountID)
	if err != nil {
		return "", err
	}
	if user.TradeLink == "" {
		return "", model.ErrTradeLinkMissing
	}

	acquired := s.locks.TryAcquire(accountID, lock.Provisional)
	if !acquired && !privileged {
		return "", model.ErrPendingTransaction
	}
	release := func() {
		if acquired {
			s.locks.Release(accountID)
		}
	}

	if count < 1 {
		release()
		return "", model.ErrInvalidAmount
	}

	items, err := s.stock.Get(ctx)
	if err != nil {
		release()
		return "", fmt.Errorf("load stock: %w", err)
	}
	if len(items)+count > s.pricing.MaxStock {
		release()
		return "", model.ErrStockCapExceeded
	}

	inventory, err := s.client.GetUserInventory(ctx, accountID, s.appID, s.contextID)
	if err != nil {
		release()
		return "", fmt.Errorf("load user inventory: %w", err)
	}
	theirs := make([]model.StockItem, 0, count)
	for _, item := range inventory {
		if item.ClassID == s.classID {
			theirs = append(theirs, item)
		}
	}
	if len(theirs) < count {
		release()
		return "", fmt.Errorf("user holds %d sellable items: %w", len(theirs), model.ErrInvalidAmount)
	}

	offerID, err := s.orchestrator.SendSellOffer(ctx, accountID, user.TradeLink, theirs, count)
	if err != nil {
		release()
		return "", err
	}
	return offerID, nil
}

// Deposit opens a balance top-up invoice.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*payment.Invoice, error) {
	if _, err := s.admit(ctx, accountID); err != nil {
		return nil, err
	}
	return s.reconciler.CreateDeposit(ctx, accountID, amount)
}

// Withdraw pays out part of the balance to an external wallet.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, currency, address string) (string, error) {
	if _, err := s.admit(ctx, accountID); err != nil {
		return "", err
	}
	return s.reconciler.CreateWithdrawal(ctx, accountID, amount, currency, address)
}

// Cancel aborts the caller's pending offer, if the underlying flow
// supports cancellation.
func (s *Service) Cancel(ctx context.Context, accountID string) error {
	return s.orchestrator.Cancel(ctx, accountID)
}

// Profile is the account view served to the frontend.
type Profile struct {
	User               *model.User `json:"user"`
	PendingTransaction string      `json:"pending_transaction,omitempty"`
}

func (s *Service) Profile(ctx context.Context, accountID string) (*Profile, error) {
	user, err := s.ledger.EnsureUser(ctx, accountID)
	if err != nil {
		return nil, err
	}
	profile := &Profile{User: user}
	if transID, held := s.locks.Peek(accountID); held {
		profile.PendingTransaction = transID
	}
	return profile, nil
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*model.Transaction, error) {
	return s.translog.History(ctx, accountID, limit)
}

// SetBanned flips the account's ban flag.
func (s *Service) SetBanned(ctx context.Context, accountID string, banned bool) error {
	if _, err := s.ledger.EnsureUser(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.SetBanned(ctx, accountID, banned)
}

// SetTradeLink stores the user's trade-link redirect address.
func (s *Service) SetTradeLink(ctx context.Context, accountID, link string) error {
	if !tradeLinkPattern.MatchString(link) {
		return fmt.Errorf("malformed trade link: %w", model.ErrInvalidAddress)
	}
	if _, err := s.ledger.EnsureUser(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.SetTradeLink(ctx, accountID, link)
}

// StockInfo is the public price sheet plus live availability.
type StockInfo struct {
	Stock        int             `json:"stock"`
	Buy          decimal.Decimal `json:"buy"`
	Sell         decimal.Decimal `json:"sell"`
	MaxStock     int             `json:"max_stock"`
	MinimumOrder decimal.Decimal `json:"minimum_order"`
}

// Stock reports availability net of live reservations.
func (s *Service) Stock(ctx context.Context) (*StockInfo, error) {
	items, err := s.stock.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	available := len(items) - s.reservations.Size()
	if available < 0 {
		available = 0
	}
	return &StockInfo{
		Stock:        available,
		Buy:          s.pricing.Buy,
		Sell:         s.pricing.Sell,
		MaxStock:     s.pricing.MaxStock,
		MinimumOrder: s.pricing.MinimumOrder,
	}, nil
}

// admit loads the user and rejects banned accounts.
func (s *Service) admit(ctx context.Context, accountID string) (*model.User, error) {
	user, err := s.ledger.EnsureUser(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, model.ErrUserBanned
	}
	return user, nil
}
