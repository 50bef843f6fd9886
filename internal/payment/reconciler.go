package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/Sat-14/Crypto-bot/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	notificationsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebot_gateway_notifications_total",
		Help: "Gateway notifications processed by kind and outcome",
	}, []string{"kind", "outcome"})

	withdrawalsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_withdrawals_refunded_total",
		Help: "Withdrawals reversed back into user balances",
	})

	staleWithdrawals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_stale_withdrawals",
		Help: "Pending withdrawals past the staleness threshold awaiting manual resolution",
	})
)

var (
	// minimumDeposit is the smallest invoice the processor accepts.
	minimumDeposit = decimal.NewFromFloat(0.8)
	// payoutFloor is the smallest net payout the processor accepts.
	payoutFloor = decimal.NewFromFloat(0.8)
	// depositFlatFee is added on top of the percentage fee.
	depositFlatFee = decimal.NewFromFloat(0.02)
	// balanceEpsilon snaps near-full withdrawals to the exact balance so
	// display rounding never strands a remainder.
	balanceEpsilon = decimal.NewFromFloat(0.01)
	// underpaymentAlert is the partially_paid shortfall that warrants an
	// operator warning. Anything smaller is normal network dust.
	underpaymentAlert = decimal.NewFromFloat(0.15)

	hundred = decimal.NewFromInt(100)
)

// conversionSources are processor-side stablecoin currencies payouts
// are funded from. The one holding the largest balance wins.
var conversionSources = []string{"usdttrc20", "usdterc20"}

// DefaultCurrencies is the withdrawal currency sheet. Wallet patterns
// gate addresses before any money moves.
var DefaultCurrencies = []model.Currency{
	{Code: "btc", Name: "Bitcoin", WalletRegex: `^(bc1|[13])[a-zA-HJ-NP-Z0-9]{25,62}$`},
	{Code: "eth", Name: "Ethereum", WalletRegex: `^0x[a-fA-F0-9]{40}$`},
	{Code: "ltc", Name: "Litecoin", WalletRegex: `^(ltc1|[LM3])[a-zA-HJ-NP-Z0-9]{25,62}$`},
	{Code: "usdttrc20", Name: "Tether (TRC20)", WalletRegex: `^T[a-zA-HJ-NP-Z0-9]{33}$`},
}

// PurchaseDepositFunc routes a settled purchase deposit back into the
// buy flow: count items funded by the given crypto payment.
type PurchaseDepositFunc func(ctx context.Context, accountID string, count int, paid decimal.Decimal) error

// Reconciler drives money movement against the payment gateway and
// settles gateway notifications into the ledger exactly once.
type Reconciler struct {
	gateway    Gateway
	ledger     *service.Ledger
	translog   *service.TransactionLog
	locks      *lock.UserLock
	pricing    model.Pricing
	currencies map[string]*regexp.Regexp
	logger     zerolog.Logger

	onPurchaseDeposit PurchaseDepositFunc
}

func NewReconciler(
	gateway Gateway,
	ledger *service.Ledger,
	translog *service.TransactionLog,
	locks *lock.UserLock,
	pricing model.Pricing,
	currencies []model.Currency,
	logger zerolog.Logger,
) (*Reconciler, error) {
	compiled := make(map[string]*regexp.Regexp, len(currencies))
	for _, c := range currencies {
		re, err := regexp.Compile(c.WalletRegex)
		if err != nil {
			return nil, fmt.Errorf("wallet pattern for %s: %w", c.Code, err)
		}
		compiled[c.Code] = re
	}

	return &Reconciler{
		gateway:    gateway,
		ledger:     ledger,
		translog:   translog,
		locks:      locks,
		pricing:    pricing,
		currencies: compiled,
		logger:     logger,
	}, nil
}

// SetPurchaseDepositFunc wires the buy flow in after construction. The
// reconciler and the trading service reference each other, so one side
// has to bind late.
func (r *Reconciler) SetPurchaseDepositFunc(fn PurchaseDepositFunc) {
	r.onPurchaseDeposit = fn
}

// CreateDeposit opens an invoice crediting the user's balance once paid.
func (r *Reconciler) CreateDeposit(ctx context.Context, accountID string, amount decimal.Decimal) (*Invoice, error) {
	if amount.LessThan(minimumDeposit) {
		return nil, fmt.Errorf("deposit below minimum %s: %w", minimumDeposit, model.ErrInvalidAmount)
	}

	// The lock is taken before anything moves; a concurrent request from
	// the same user loses here instead of racing the invoice flow.
	if !r.locks.TryAcquire(accountID, lock.Provisional) {
		return nil, model.ErrPendingTransaction
	}
	if _, err := r.ledger.EnsureUser(ctx, accountID); err != nil {
		r.locks.Release(accountID)
		return nil, err
	}

	invoice, err := r.openInvoice(ctx, accountID, model.TypeDeposit, amount, 0)
	if err != nil {
		r.locks.Release(accountID)
		return nil, err
	}
	return invoice, nil
}

// CreatePurchaseDeposit opens an invoice that, once paid, funds a buy
// of `count` items directly instead of landing on the balance.
func (r *Reconciler) CreatePurchaseDeposit(ctx context.Context, accountID string, shortfall decimal.Decimal, count int) (*Invoice, error) {
	amount := shortfall
	if amount.LessThan(minimumDeposit) {
		amount = minimumDeposit
	}
	return r.openInvoice(ctx, accountID, model.TypePurchaseDeposit, amount, count)
}

func (r *Reconciler) openInvoice(ctx context.Context, accountID string, transType model.TransactionType, amount decimal.Decimal, count int) (*Invoice, error) {
	trans := &model.Transaction{
		Owner:  accountID,
		Type:   transType,
		Status: model.StatusPending,
		Amount: amount,
	}
	if transType == model.TypePurchaseDeposit {
		trans.Amount = decimal.NewFromInt(int64(count))
		trans.PaidViaCrypto = amount
	}

	transID, err := r.translog.Create(ctx, trans)
	if err != nil {
		return nil, err
	}

	description := "Balance deposit"
	if transType == model.TypePurchaseDeposit {
		description = fmt.Sprintf("Purchase of %d items", count)
	}

	invoice, err := r.gateway.CreateInvoice(ctx, model.RoundDisplay(amount), transID, description)
	if err != nil {
		status := model.StatusFailed
		msg := err.Error()
		if _, uerr := r.translog.Update(ctx, transID, repository.TransactionPatch{Status: &status, Error: &msg}); uerr != nil {
			r.logger.Error().Err(uerr).Str("transaction_id", transID).Msg("failed to mark transaction")
		}
		return nil, fmt.Errorf("open invoice: %w", err)
	}

	// The caller acquired the lock at admission; bind it to the record.
	r.locks.Promote(accountID, transID)

	r.logger.Info().
		Str("transaction_id", transID).
		Str("account_id", accountID).
		Str("type", transType.String()).
		Str("amount", amount.StringFixed(model.DisplayPrecision)).
		Msg("invoice opened")

	return invoice, nil
}

// CreateWithdrawal debits the user up front and submits a payout. Any
// failure after the debit refunds exactly once.
func (r *Reconciler) CreateWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, currency, address string) (string, error) {
	re, ok := r.currencies[currency]
	if !ok {
		return "", model.ErrInvalidCurrency
	}
	if !re.MatchString(address) {
		return "", model.ErrInvalidAddress
	}

	if !r.locks.TryAcquire(accountID, lock.Provisional) {
		return "", model.ErrPendingTransaction
	}

	user, err := r.ledger.EnsureUser(ctx, accountID)
	if err != nil {
		r.locks.Release(accountID)
		return "", err
	}

	// Snap a near-full withdrawal to the exact stored balance.
	if user.Balance.Sub(amount).Abs().LessThan(balanceEpsilon) {
		amount = user.Balance
	}
	if !amount.IsPositive() {
		r.locks.Release(accountID)
		return "", model.ErrInvalidAmount
	}
	if amount.GreaterThan(user.Balance) {
		r.locks.Release(accountID)
		return "", model.ErrInsufficientBalance
	}

	fee := model.RoundDisplay(amount.Mul(r.pricing.FeePercent).Div(hundred))
	net := model.RoundDisplay(amount.Sub(fee))
	if net.LessThan(payoutFloor) {
		r.locks.Release(accountID)
		return "", fmt.Errorf("withdrawal too small after %s fee: %w", fee, model.ErrInvalidAmount)
	}

	// Pessimistic debit: the money leaves the balance before the payout
	// is attempted, and comes back only through a refund.
	if _, err := r.ledger.AdjustBalance(ctx, accountID, amount.Neg()); err != nil {
		r.locks.Release(accountID)
		return "", err
	}

	difference := amount.Neg()
	transID, err := r.translog.Create(ctx, &model.Transaction{
		Owner:      accountID,
		Type:       model.TypeWithdrawal,
		Status:     model.StatusPending,
		Amount:     amount,
		Difference: difference,
		Currency:   currency,
		Address:    address,
	})
	if err != nil {
		// The debit landed but no record exists to refund against.
		if _, cerr := r.ledger.AdjustBalance(ctx, accountID, amount); cerr != nil {
			r.logger.Error().Err(cerr).Str("account_id", accountID).Msg("failed to reverse withdrawal debit")
		}
		r.locks.Release(accountID)
		return "", err
	}

	r.locks.Promote(accountID, transID)

	batchID, err := r.submitPayout(ctx, net, currency, address)
	if err != nil {
		r.failWithdrawal(ctx, transID, accountID, err)
		return "", err
	}

	if _, err := r.translog.Update(ctx, transID, repository.TransactionPatch{BatchWithdrawalID: &batchID}); err != nil {
		r.logger.Error().Err(err).Str("transaction_id", transID).Str("batch_id", batchID).Msg("failed to record payout batch id")
	}

	if err := r.gateway.VerifyPayout(ctx, batchID); err != nil {
		// The payout exists at the processor; let the notification flow
		// or the stale sweep settle it rather than refunding now.
		r.logger.Warn().Err(err).Str("batch_id", batchID).Msg("payout verification failed, awaiting notification")
	}

	r.logger.Info().
		Str("transaction_id", transID).
		Str("account_id", accountID).
		Str("currency", currency).
		Str("amount", amount.StringFixed(model.DisplayPrecision)).
		Str("net", net.StringFixed(model.DisplayPrecision)).
		Str("batch_id", batchID).
		Msg("withdrawal submitted")

	return transID, nil
}

// submitPayout converts the fiat net into the target currency, tops up
// the processor-side balance from a stablecoin source if short, and
// submits the payout batch.
func (r *Reconciler) submitPayout(ctx context.Context, net decimal.Decimal, currency, address string) (string, error) {
	estimated, err := r.gateway.Estimate(ctx, net, "usd", currency)
	if err != nil {
		return "", err
	}

	balances, err := r.gateway.Balances(ctx)
	if err != nil {
		return "", err
	}

	if balances[currency].LessThan(estimated) {
		if err := r.topUp(ctx, currency, estimated.Sub(balances[currency])); err != nil {
			// The balance snapshot may already be behind; let the payout
			// submission decide whether funds actually cover it.
			r.logger.Warn().Err(err).Str("currency", currency).Msg("payout top-up failed, submitting anyway")
		}
	}

	payout, err := r.gateway.CreatePayout(ctx, address, currency, estimated)
	if err != nil {
		return "", err
	}
	return payout.BatchID, nil
}

func (r *Reconciler) topUp(ctx context.Context, currency string, missing decimal.Decimal) error {
	balances, err := r.gateway.Balances(ctx)
	if err != nil {
		return err
	}

	// Fund from whichever stablecoin pot holds the most.
	var richest string
	for _, source := range conversionSources {
		if source == currency {
			continue
		}
		if richest == "" || balances[source].GreaterThan(balances[richest]) {
			richest = source
		}
	}
	if richest == "" {
		return fmt.Errorf("no funding source for %s", currency)
	}

	required, err := r.gateway.Estimate(ctx, missing, currency, richest)
	if err != nil {
		return err
	}
	if balances[richest].LessThan(required) {
		return fmt.Errorf("funding source %s holds %s, needs %s to cover %s %s",
			richest, balances[richest], required, missing, currency)
	}
	return r.gateway.Convert(ctx, required, richest, currency)
}

func (r *Reconciler) failWithdrawal(ctx context.Context, transID, accountID string, cause error) {
	msg := cause.Error()
	if _, err := r.translog.Update(ctx, transID, repository.TransactionPatch{Error: &msg}); err != nil {
		r.logger.Error().Err(err).Str("transaction_id", transID).Msg("failed to record withdrawal error")
	}
	if err := r.translog.Refund(ctx, transID); err != nil {
		r.logger.Error().Err(err).Str("transaction_id", transID).Msg("withdrawal refund failed")
	} else {
		withdrawalsRefunded.Inc()
	}
	r.locks.Release(accountID)
}

// Notification is the gateway's webhook payload. Deposit and payout
// notifications share one endpoint and are told apart by shape.
type Notification struct {
	PaymentID     json.Number     `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	OrderID       string          `json:"order_id"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	OutcomeAmount decimal.Decimal `json:"outcome_amount"`

	ID                string          `json:"id"`
	BatchWithdrawalID string          `json:"batch_withdrawal_id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
}

// HandleNotification verifies and settles one gateway webhook. Errors
// are returned for logging only; the HTTP layer always answers 200 so
// the gateway does not retry forever.
func (r *Reconciler) HandleNotification(ctx context.Context, body []byte, signature, secret string) error {
	if err := VerifySignature(body, signature, secret); err != nil {
		notificationsHandled.WithLabelValues("unknown", "bad_signature").Inc()
		return err
	}

	var note Notification
	if err := json.Unmarshal(body, &note); err != nil {
		notificationsHandled.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("decode notification: %w", err)
	}

	if note.BatchWithdrawalID != "" || (note.PaymentID.String() == "" && note.ID != "") {
		return r.handleWithdrawalUpdate(ctx, &note)
	}
	return r.handleDepositUpdate(ctx, &note)
}

func (r *Reconciler) handleDepositUpdate(ctx context.Context, note *Notification) error {
	trans, err := r.translog.Get(ctx, note.OrderID)
	if err != nil {
		notificationsHandled.WithLabelValues("deposit", "orphan").Inc()
		return fmt.Errorf("deposit notification for order %s: %w", note.OrderID, err)
	}

	status := strings.ToLower(note.PaymentStatus)
	logger := r.logger.With().
		Str("transaction_id", trans.ID).
		Str("account_id", trans.Owner).
		Str("payment_status", status).
		Logger()

	// A terminal record means this notification was already applied.
	if trans.Status.Terminal() {
		logger.Warn().Msg("duplicate deposit notification ignored")
		notificationsHandled.WithLabelValues("deposit", "duplicate").Inc()
		return nil
	}

	switch status {
	case "finished", "partially_paid":
		// outcome_amount is what actually landed after the gateway's own
		// cut, in both branches. Older payloads omit it.
		paid := note.OutcomeAmount
		if paid.IsZero() {
			paid = note.PriceAmount
			if status == "partially_paid" {
				paid = note.ActuallyPaid
			}
		}
		if status == "partially_paid" {
			if gap := note.PriceAmount.Sub(note.ActuallyPaid); gap.GreaterThan(underpaymentAlert) {
				logger.Warn().
					Str("expected", note.PriceAmount.StringFixed(model.DisplayPrecision)).
					Str("paid", note.ActuallyPaid.StringFixed(model.DisplayPrecision)).
					Msg("deposit significantly underpaid")
			}
		}
		return r.settleDeposit(ctx, trans, paid, logger)

	case "failed", "rejected", "expired", "refunded":
		st := model.StatusFailed
		if _, err := r.translog.Settle(ctx, trans.ID, repository.TransactionPatch{Status: &st}); err != nil {
			if errors.Is(err, model.ErrAlreadySettled) {
				logger.Warn().Msg("duplicate deposit notification ignored")
				notificationsHandled.WithLabelValues("deposit", "duplicate").Inc()
				return nil
			}
			return err
		}
		r.locks.Release(trans.Owner)
		notificationsHandled.WithLabelValues("deposit", status).Inc()
		logger.Info().Msg("deposit closed without payment")
		return nil

	default:
		// waiting, confirming, sending: informational only.
		logger.Info().Msg("deposit progressing")
		notificationsHandled.WithLabelValues("deposit", "progress").Inc()
		return nil
	}
}

func (r *Reconciler) settleDeposit(ctx context.Context, trans *model.Transaction, paid decimal.Decimal, logger zerolog.Logger) error {
	totalFee := model.RoundDisplay(paid.Mul(r.pricing.FeePercent).Div(hundred)).Add(depositFlatFee)
	net := model.RoundDisplay(paid.Sub(totalFee))
	if !net.IsPositive() {
		st := model.StatusFailed
		msg := "paid amount does not cover fees"
		if _, err := r.translog.Settle(ctx, trans.ID, repository.TransactionPatch{Status: &st, Error: &msg}); err != nil {
			if errors.Is(err, model.ErrAlreadySettled) {
				notificationsHandled.WithLabelValues("deposit", "duplicate").Inc()
				return nil
			}
			return err
		}
		r.locks.Release(trans.Owner)
		notificationsHandled.WithLabelValues("deposit", "underpaid").Inc()
		return nil
	}

	if trans.Type == model.TypePurchaseDeposit {
		st := model.StatusFinished
		zero := decimal.Zero
		if _, err := r.translog.Settle(ctx, trans.ID, repository.TransactionPatch{Status: &st, Difference: &zero}); err != nil {
			if errors.Is(err, model.ErrAlreadySettled) {
				logger.Warn().Msg("duplicate purchase deposit notification ignored")
				notificationsHandled.WithLabelValues("purchase_deposit", "duplicate").Inc()
				return nil
			}
			return err
		}
		r.locks.Release(trans.Owner)
		notificationsHandled.WithLabelValues("purchase_deposit", "settled").Inc()

		if r.onPurchaseDeposit == nil {
			logger.Error().Msg("purchase deposit settled but no buy flow is wired")
			return nil
		}
		count := int(trans.Amount.IntPart())
		if err := r.onPurchaseDeposit(ctx, trans.Owner, count, net); err != nil {
			// The payment is kept; the user can retry the purchase from
			// balance after support intervenes.
			logger.Error().Err(err).Int("count", count).Msg("purchase deposit could not enter buy flow")
			if _, cerr := r.ledger.AdjustBalance(ctx, trans.Owner, net); cerr != nil {
				logger.Error().Err(cerr).Msg("failed to park purchase deposit on balance")
			}
			return err
		}
		logger.Info().Int("count", count).Str("net", net.StringFixed(model.DisplayPrecision)).Msg("purchase deposit routed into buy flow")
		return nil
	}

	// Winning the pending->finished transition is the idempotence gate:
	// only the winner credits, so a duplicate notification racing this
	// one cannot pay twice.
	st := model.StatusFinished
	if _, err := r.translog.Settle(ctx, trans.ID, repository.TransactionPatch{Status: &st, Difference: &net}); err != nil {
		if errors.Is(err, model.ErrAlreadySettled) {
			logger.Warn().Msg("duplicate deposit notification ignored")
			notificationsHandled.WithLabelValues("deposit", "duplicate").Inc()
			return nil
		}
		return err
	}
	if _, err := r.ledger.AdjustBalance(ctx, trans.Owner, net); err != nil {
		return fmt.Errorf("credit deposit: %w", err)
	}
	r.locks.Release(trans.Owner)
	notificationsHandled.WithLabelValues("deposit", "settled").Inc()

	logger.Info().Str("net", net.StringFixed(model.DisplayPrecision)).Msg("deposit settled")
	return nil
}

func (r *Reconciler) handleWithdrawalUpdate(ctx context.Context, note *Notification) error {
	batchID := note.BatchWithdrawalID
	if batchID == "" {
		batchID = note.ID
	}

	trans, err := r.translog.GetByBatchWithdrawalID(ctx, batchID)
	if err != nil {
		notificationsHandled.WithLabelValues("withdrawal", "orphan").Inc()
		return fmt.Errorf("withdrawal notification for batch %s: %w", batchID, err)
	}

	status := strings.ToLower(note.Status)
	logger := r.logger.With().
		Str("transaction_id", trans.ID).
		Str("account_id", trans.Owner).
		Str("batch_id", batchID).
		Str("payout_status", status).
		Logger()

	if trans.Status.Terminal() {
		logger.Warn().Msg("duplicate withdrawal notification ignored")
		notificationsHandled.WithLabelValues("withdrawal", "duplicate").Inc()
		return nil
	}

	switch status {
	case "finished", "confirmed", "completed":
		st := model.StatusFinished
		if _, err := r.translog.Settle(ctx, trans.ID, repository.TransactionPatch{Status: &st}); err != nil {
			if errors.Is(err, model.ErrAlreadySettled) {
				logger.Warn().Msg("duplicate withdrawal notification ignored")
				notificationsHandled.WithLabelValues("withdrawal", "duplicate").Inc()
				return nil
			}
			return err
		}
		r.locks.Release(trans.Owner)
		notificationsHandled.WithLabelValues("withdrawal", "settled").Inc()
		logger.Info().Msg("withdrawal settled")
		return nil

	case "awaiting_confirmation":
		if err := r.gateway.VerifyPayout(ctx, batchID); err != nil {
			logger.Warn().Err(err).Msg("payout re-verification failed")
		}
		notificationsHandled.WithLabelValues("withdrawal", "progress").Inc()
		return nil

	case "failed", "rejected", "expired":
		r.failWithdrawal(ctx, trans.ID, trans.Owner, fmt.Errorf("payout ended with status %s", status))
		notificationsHandled.WithLabelValues("withdrawal", status).Inc()
		logger.Info().Msg("withdrawal refunded")
		return nil

	default:
		// creating, processing, sending: informational only.
		logger.Info().Msg("withdrawal progressing")
		notificationsHandled.WithLabelValues("withdrawal", "progress").Inc()
		return nil
	}
}

// SweepStaleWithdrawals raises withdrawals whose payout never reached a
// terminal state for manual attention. It never refunds on its own: a
// slow payout can still complete, and refunding it here would pay the
// user twice.
func (r *Reconciler) SweepStaleWithdrawals(ctx context.Context, staleAfter time.Duration) error {
	cutoff := time.Now().Add(-staleAfter)
	stale, err := r.translog.PendingOlderThan(ctx, model.TypeWithdrawal, cutoff)
	if err != nil {
		return fmt.Errorf("list stale withdrawals: %w", err)
	}

	staleWithdrawals.Set(float64(len(stale)))
	for _, trans := range stale {
		r.logger.Warn().
			Str("transaction_id", trans.ID).
			Str("account_id", trans.Owner).
			Str("batch_id", trans.BatchWithdrawalID).
			Time("created_at", trans.CreatedAt).
			Msg("withdrawal stuck without payout resolution, needs manual review")
	}
	return nil
}
