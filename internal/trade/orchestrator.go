package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/Sat-14/Crypto-bot/internal/service"
	"github.com/Sat-14/Crypto-bot/internal/stock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	offersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_offers_sent_total",
		Help: "Trade offers successfully submitted",
	}, []string{"type"})

	offersFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_offers_finalized_total",
		Help: "Trade offers reaching a terminal state",
	}, []string{"type", "state"})

	offerSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_offer_send_failures_total",
		Help: "Offer submissions that exhausted the retry budget",
	})
)

// liveOffer tracks one in-flight offer between send and finalization.
type liveOffer struct {
	transType     model.TransactionType
	accountID     string
	offer         Offer
	amount        int
	paidViaCrypto decimal.Decimal
	reserved      []string
	transactionID string
}

// Orchestrator owns the offer lifecycle: reservation, provisional
// debit, send with bounded retries, and asynchronous finalization
// driven by protocol state-change events.
type Orchestrator struct {
	client       Client
	stock        *stock.Cache
	reservations *stock.ReservationRegistry
	ledger       *service.Ledger
	translog     *service.TransactionLog
	locks        *lock.UserLock
	pricing      model.Pricing
	classID      string
	maxRetries   int
	retryDelay   time.Duration
	logger       zerolog.Logger

	mu   sync.Mutex
	live map[string]*liveOffer // offer id -> details
}

func NewOrchestrator(
	client Client,
	stockCache *stock.Cache,
	reservations *stock.ReservationRegistry,
	ledger *service.Ledger,
	translog *service.TransactionLog,
	locks *lock.UserLock,
	pricing model.Pricing,
	classID string,
	maxRetries int,
	retryDelay time.Duration,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		client:       client,
		stock:        stockCache,
		reservations: reservations,
		ledger:       ledger,
		translog:     translog,
		locks:        locks,
		pricing:      pricing,
		classID:      classID,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		logger:       logger,
		live:         make(map[string]*liveOffer),
	}
}

// Run consumes offer state changes until the stream closes.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case change, ok := <-o.client.OfferChanges():
			if !ok {
				return
			}
			if err := o.HandleOfferChanged(ctx, change); err != nil {
				o.logger.Error().Err(err).Str("offer_id", change.OfferID).Msg("offer finalization failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// SendBuyOffer builds and submits an offer giving `amount` items from
// the already-reserved pool. The buyer's balance is debited
// provisionally before the send; every terminal failure path reverses
// the debit and releases the reservation.
func (o *Orchestrator) SendBuyOffer(ctx context.Context, accountID, target string, items []model.StockItem, amount int, paidViaCrypto decimal.Decimal, reserved []string) (string, error) {
	offer := o.client.CreateOffer(target)
	offer.SetMessage("Buy items from stock.")

	inReservation := make(map[string]struct{}, len(reserved))
	for _, id := range reserved {
		inReservation[id] = struct{}{}
	}

	added := 0
	for _, item := range items {
		if _, ok := inReservation[item.AssetID]; !ok {
			continue
		}
		offer.AddMyItem(item)
		added++
		if added == amount {
			break
		}
	}

	// A short reservation is a races-out bug, never retried.
	if added < amount {
		o.reservations.Release(reserved)
		o.logger.Error().
			Str("account_id", accountID).
			Int("requested", amount).
			Int("added", added).
			Msg("reservation shortfall while building offer")
		return "", model.ErrReservationShort
	}

	debit := paidViaCrypto.Sub(o.pricing.Buy.Mul(decimal.NewFromInt(int64(amount))))
	if debit.GreaterThan(decimal.Zero) {
		o.reservations.Release(reserved)
		return "", fmt.Errorf("crypto payment exceeds order cost: %w", model.ErrInvalidAmount)
	}

	if _, err := o.ledger.AdjustBalance(ctx, accountID, debit); err != nil {
		o.reservations.Release(reserved)
		return "", fmt.Errorf("provisional debit: %w", err)
	}

	if err := o.sendWithRetry(ctx, offer); err != nil {
		// Compensate: the user ends exactly where they started.
		o.reservations.Release(reserved)
		if _, cerr := o.ledger.AdjustBalance(ctx, accountID, debit.Neg()); cerr != nil {
			o.logger.Error().Err(cerr).Str("account_id", accountID).Msg("failed to reverse provisional debit")
		}
		offerSendFailures.Inc()
		return "", err
	}

	transID, err := o.registerSent(ctx, &liveOffer{
		transType:     model.TypeBuy,
		accountID:     accountID,
		offer:         offer,
		amount:        amount,
		paidViaCrypto: paidViaCrypto,
		reserved:      reserved,
	})
	if err != nil {
		// The offer went out but nothing tracks it: acceptance would be a
		// no-op and the debit would never be compensated. Withdraw the
		// offer and put the user back where they started.
		if cerr := offer.Cancel(ctx); cerr != nil {
			o.logger.Error().Err(cerr).Str("offer_id", offer.ID()).Msg("failed to cancel unrecorded offer")
		}
		o.reservations.Release(reserved)
		if _, cerr := o.ledger.AdjustBalance(ctx, accountID, debit.Neg()); cerr != nil {
			o.logger.Error().Err(cerr).Str("account_id", accountID).Msg("failed to reverse provisional debit")
		}
		return "", err
	}

	offersSent.WithLabelValues(model.TypeBuy.String()).Inc()
	o.logger.Info().
		Str("offer_id", offer.ID()).
		Str("transaction_id", transID).
		Str("account_id", accountID).
		Int("amount", amount).
		Msg("buy offer sent")

	return offer.ID(), nil
}

// SendSellOffer submits an offer requesting `amount` items from the
// counterparty's inventory. No balance is touched until acceptance.
func (o *Orchestrator) SendSellOffer(ctx context.Context, accountID, target string, items []model.StockItem, amount int) (string, error) {
	offer := o.client.CreateOffer(target)
	offer.SetMessage("Sell items to stock.")

	for i := 0; i < amount && i < len(items); i++ {
		offer.AddTheirItem(items[i])
	}

	if err := o.sendWithRetry(ctx, offer); err != nil {
		offerSendFailures.Inc()
		return "", err
	}

	transID, err := o.registerSent(ctx, &liveOffer{
		transType: model.TypeSell,
		accountID: accountID,
		offer:     offer,
		amount:    amount,
	})
	if err != nil {
		if cerr := offer.Cancel(ctx); cerr != nil {
			o.logger.Error().Err(cerr).Str("offer_id", offer.ID()).Msg("failed to cancel unrecorded offer")
		}
		return "", err
	}

	offersSent.WithLabelValues(model.TypeSell.String()).Inc()
	o.logger.Info().
		Str("offer_id", offer.ID()).
		Str("transaction_id", transID).
		Str("account_id", accountID).
		Int("amount", amount).
		Msg("sell offer sent")

	return offer.ID(), nil
}

// sendWithRetry drives one offer through the submit/confirm sequence,
// retrying transient failures with a fixed delay.
func (o *Orchestrator) sendWithRetry(ctx context.Context, offer Offer) error {
	var lastErr error

	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(o.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		status, err := offer.Send(ctx)
		if err != nil {
			lastErr = err
			o.logger.Warn().Err(err).Int("attempt", attempt).Msg("offer send failed")
			continue
		}

		if status == SendPendingConfirmation {
			if err := o.client.ConfirmOffer(ctx, offer.ID()); err != nil {
				lastErr = err
				o.logger.Warn().Err(err).Int("attempt", attempt).Str("offer_id", offer.ID()).Msg("offer confirmation failed")
				continue
			}
		}

		return nil
	}

	return fmt.Errorf("offer send exhausted %d attempts: %w", o.maxRetries, lastErr)
}

// registerSent persists the pending transaction, tracks the live offer
// and binds the per-user lock taken at admission to the record.
func (o *Orchestrator) registerSent(ctx context.Context, entry *liveOffer) (string, error) {
	trans := &model.Transaction{
		Owner:         entry.accountID,
		Type:          entry.transType,
		Status:        model.StatusPending,
		Amount:        decimal.NewFromInt(int64(entry.amount)),
		OfferID:       entry.offer.ID(),
		PaidViaCrypto: entry.paidViaCrypto,
	}

	transID, err := o.translog.Create(ctx, trans)
	if err != nil {
		return "", err
	}
	entry.transactionID = transID

	o.mu.Lock()
	o.live[entry.offer.ID()] = entry
	o.mu.Unlock()

	o.locks.Promote(entry.accountID, transID)
	return transID, nil
}

// HandleOfferChanged finalizes an offer when the protocol reports a
// terminal state. Duplicate deliveries for an already-cleared offer are
// a no-op.
func (o *Orchestrator) HandleOfferChanged(ctx context.Context, change OfferChange) error {
	o.logger.Info().
		Str("offer_id", change.OfferID).
		Str("previous", change.Previous.String()).
		Str("state", change.Current.String()).
		Msg("sent offer changed")

	switch {
	case change.Current == model.OfferAccepted:
		return o.finalizeAccepted(ctx, change.OfferID)
	case change.Current.Rejected():
		return o.finalizeRejected(ctx, change.OfferID, change.Current)
	default:
		return nil
	}
}

func (o *Orchestrator) finalizeAccepted(ctx context.Context, offerID string) error {
	o.mu.Lock()
	entry, ok := o.live[offerID]
	o.mu.Unlock()
	if !ok {
		// Duplicate delivery, or accepted while the process was down.
		o.logger.Warn().Str("offer_id", offerID).Msg("accepted offer not tracked, ignoring")
		return nil
	}

	received, sent, err := entry.offer.ExchangeDetails(ctx)
	if err != nil {
		status := model.StatusFailed
		msg := err.Error()
		if _, uerr := o.translog.Update(ctx, entry.transactionID, repository.TransactionPatch{Status: &status, Error: &msg}); uerr != nil {
			o.logger.Error().Err(uerr).Str("transaction_id", entry.transactionID).Msg("failed to mark transaction")
		}
		return fmt.Errorf("exchange details for offer %s: %w", offerID, err)
	}

	receivedCount := o.countClass(received)
	sentCount := o.countClass(sent)

	soldPrice := model.RoundDisplay(o.pricing.Sell.Mul(decimal.NewFromInt(int64(receivedCount))))
	boughtPrice := model.RoundDisplay(o.pricing.Buy.Mul(decimal.NewFromInt(int64(sentCount))))

	// The buy-side debit was already applied at send time; acceptance
	// only credits the sold side.
	if receivedCount > 0 {
		if _, err := o.ledger.AdjustBalance(ctx, entry.accountID, soldPrice); err != nil {
			return fmt.Errorf("credit sold items: %w", err)
		}
	}

	difference := soldPrice.Sub(boughtPrice).Add(entry.paidViaCrypto)

	if len(entry.reserved) > 0 {
		o.reservations.Release(entry.reserved)
	}

	status := model.StatusFinished
	if _, err := o.translog.Update(ctx, entry.transactionID, repository.TransactionPatch{Status: &status, Difference: &difference}); err != nil {
		return err
	}

	o.stock.Invalidate()
	o.clear(offerID, entry.accountID)

	offersFinalized.WithLabelValues(entry.transType.String(), model.OfferAccepted.String()).Inc()
	o.logger.Info().
		Str("offer_id", offerID).
		Str("account_id", entry.accountID).
		Int("received", receivedCount).
		Int("sent", sentCount).
		Str("difference", difference.StringFixed(model.StoredPrecision)).
		Msg("offer accepted and settled")

	return nil
}

func (o *Orchestrator) finalizeRejected(ctx context.Context, offerID string, state model.OfferState) error {
	o.mu.Lock()
	entry, ok := o.live[offerID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if entry.transType == model.TypeBuy {
		// Reverse the provisional debit applied at send time.
		difference := entry.paidViaCrypto.Sub(o.pricing.Buy.Mul(decimal.NewFromInt(int64(entry.amount))))
		if _, err := o.translog.Update(ctx, entry.transactionID, repository.TransactionPatch{Difference: &difference}); err != nil {
			return err
		}
		if err := o.translog.Refund(ctx, entry.transactionID); err != nil {
			return err
		}
	} else {
		status := model.StatusFailed
		if _, err := o.translog.Update(ctx, entry.transactionID, repository.TransactionPatch{Status: &status}); err != nil {
			return err
		}
	}

	if len(entry.reserved) > 0 {
		o.reservations.Release(entry.reserved)
	}

	o.clear(offerID, entry.accountID)

	offersFinalized.WithLabelValues(entry.transType.String(), state.String()).Inc()
	o.logger.Info().
		Str("offer_id", offerID).
		Str("account_id", entry.accountID).
		Str("state", state.String()).
		Msg("offer closed without exchange")

	return nil
}

// Cancel aborts the caller's in-flight offer. Gateway-driven flows
// (deposits, withdrawals) cannot be cancelled from here; the gateway's
// own terminal notification settles them.
func (o *Orchestrator) Cancel(ctx context.Context, accountID string) error {
	transID, held := o.locks.Peek(accountID)
	if !held {
		return model.ErrNothingToCancel
	}

	trans, err := o.translog.Get(ctx, transID)
	if err != nil {
		return err
	}
	if trans.Status != model.StatusPending {
		return model.ErrNothingToCancel
	}

	o.mu.Lock()
	entry, ok := o.live[trans.OfferID]
	o.mu.Unlock()
	if !ok {
		return model.ErrCancelNotSupported
	}

	if err := entry.offer.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel offer %s: %w", trans.OfferID, err)
	}

	// Confirmed by the protocol: release everything this offer held.
	if entry.transType == model.TypeBuy {
		difference := entry.paidViaCrypto.Sub(o.pricing.Buy.Mul(decimal.NewFromInt(int64(entry.amount))))
		if _, err := o.translog.Update(ctx, transID, repository.TransactionPatch{Difference: &difference}); err != nil {
			return err
		}
		if err := o.translog.Refund(ctx, transID); err != nil {
			return err
		}
	} else {
		status := model.StatusFailed
		if _, err := o.translog.Update(ctx, transID, repository.TransactionPatch{Status: &status}); err != nil {
			return err
		}
	}

	if len(entry.reserved) > 0 {
		o.reservations.Release(entry.reserved)
	}
	o.clear(trans.OfferID, accountID)

	o.logger.Info().
		Str("offer_id", trans.OfferID).
		Str("account_id", accountID).
		Msg("offer cancelled by user")

	return nil
}

// Tracked reports whether the offer id is still live.
func (o *Orchestrator) Tracked(offerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.live[offerID]
	return ok
}

func (o *Orchestrator) clear(offerID, accountID string) {
	o.mu.Lock()
	delete(o.live, offerID)
	o.mu.Unlock()
	o.locks.Release(accountID)
}

func (o *Orchestrator) countClass(items []model.StockItem) int {
	n := 0
	for _, item := range items {
		if item.ClassID == o.classID {
			n++
		}
	}
	return n
}
