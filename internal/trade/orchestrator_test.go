package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/Sat-14/Crypto-bot/internal/service"
	"github.com/Sat-14/Crypto-bot/internal/stock"
	mocks "github.com/Sat-14/Crypto-bot/mocks/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testClassID = "101"

var testPricing = model.Pricing{
	Buy:          decimal.RequireFromString("1.80"),
	Sell:         decimal.RequireFromString("1.50"),
	FeePercent:   decimal.NewFromInt(2),
	MinimumOrder: decimal.RequireFromString("2.00"),
	MaxStock:     100,
}

type fakeOffer struct {
	id          string
	message     string
	give        []model.StockItem
	receive     []model.StockItem
	sendStatus  SendStatus
	sendErr     error
	sendCalls   int
	canceled    bool
	exchangeErr error
	received    []model.StockItem
	sent        []model.StockItem
}

func (o *fakeOffer) ID() string                        { return o.id }
func (o *fakeOffer) SetMessage(message string)         { o.message = message }
func (o *fakeOffer) AddMyItem(item model.StockItem)    { o.give = append(o.give, item) }
func (o *fakeOffer) AddTheirItem(item model.StockItem) { o.receive = append(o.receive, item) }

func (o *fakeOffer) Send(ctx context.Context) (SendStatus, error) {
	o.sendCalls++
	if o.sendErr != nil {
		return 0, o.sendErr
	}
	return o.sendStatus, nil
}

func (o *fakeOffer) Cancel(ctx context.Context) error {
	o.canceled = true
	return nil
}

func (o *fakeOffer) ExchangeDetails(ctx context.Context) ([]model.StockItem, []model.StockItem, error) {
	if o.exchangeErr != nil {
		return nil, nil, o.exchangeErr
	}
	return o.received, o.sent, nil
}

type fakeClient struct {
	offer     *fakeOffer
	confirmed []string
	inventory []model.StockItem
	changes   chan OfferChange
}

func (c *fakeClient) CreateOffer(target string) Offer { return c.offer }

func (c *fakeClient) ConfirmOffer(ctx context.Context, offerID string) error {
	c.confirmed = append(c.confirmed, offerID)
	return nil
}

func (c *fakeClient) GetInventory(ctx context.Context, appID, contextID int) ([]model.StockItem, error) {
	return c.inventory, nil
}

func (c *fakeClient) GetUserInventory(ctx context.Context, accountID string, appID, contextID int) ([]model.StockItem, error) {
	return nil, nil
}

func (c *fakeClient) OfferChanges() <-chan OfferChange { return c.changes }

type orchestratorFixture struct {
	orchestrator *Orchestrator
	client       *fakeClient
	userRepo     *mocks.UserRepository
	transRepo    *mocks.TransactionRepository
	reservations *stock.ReservationRegistry
	locks        *lock.UserLock
	cache        *stock.Cache
}

func newOrchestrator(t *testing.T, offer *fakeOffer) *orchestratorFixture {
	client := &fakeClient{
		offer:   offer,
		changes: make(chan OfferChange, 4),
		inventory: []model.StockItem{
			{AssetID: "a1", ClassID: testClassID},
			{AssetID: "a2", ClassID: testClassID},
			{AssetID: "a3", ClassID: testClassID},
		},
	}

	userRepo := mocks.NewUserRepository(t)
	transRepo := mocks.NewTransactionRepository(t)
	notifier := notify.NewMemory()
	ledger := service.NewLedger(userRepo, notifier, zerolog.Nop())
	translog := service.NewTransactionLog(transRepo, ledger, notifier, zerolog.Nop())
	locks := lock.New()
	reservations := stock.NewReservationRegistry()
	cache := stock.NewCache(client, notifier, zerolog.Nop(), 440, 2, testClassID, time.Minute)

	orchestrator := NewOrchestrator(
		client, cache, reservations, ledger, translog, locks,
		testPricing, testClassID, 3, time.Millisecond, zerolog.Nop(),
	)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		client:       client,
		userRepo:     userRepo,
		transRepo:    transRepo,
		reservations: reservations,
		locks:        locks,
		cache:        cache,
	}
}

func stockItems() []model.StockItem {
	return []model.StockItem{
		{AssetID: "a1", ClassID: testClassID},
		{AssetID: "a2", ClassID: testClassID},
		{AssetID: "a3", ClassID: testClassID},
	}
}

func TestSendBuyOffer_HappyPath(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 2)

	// 2 items at 1.80 paid from balance.
	f.userRepo.On("AdjustBalance", ctx, "user-1", decimal.RequireFromString("-3.60")).
		Return(decimal.RequireFromString("6.40"), nil)
	f.transRepo.On("Insert", ctx, mock.MatchedBy(func(trans *model.Transaction) bool {
		return trans.Type == model.TypeBuy &&
			trans.Owner == "user-1" &&
			trans.OfferID == "offer-1" &&
			trans.Amount.Equal(decimal.NewFromInt(2))
	})).Return(nil)

	offerID, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)

	require.NoError(t, err)
	assert.Equal(t, "offer-1", offerID)
	assert.Len(t, offer.give, 2)
	assert.True(t, f.orchestrator.Tracked("offer-1"))

	_, held := f.locks.Peek("user-1")
	assert.True(t, held)
	assert.Equal(t, 2, f.reservations.Size())
}

func TestSendBuyOffer_ConfirmsPendingOffers(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendPendingConfirmation}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 1)

	f.userRepo.On("AdjustBalance", ctx, "user-1", mock.Anything).Return(decimal.Zero, nil)
	f.transRepo.On("Insert", ctx, mock.Anything).Return(nil)

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 1, decimal.Zero, reserved)

	require.NoError(t, err)
	assert.Equal(t, []string{"offer-1"}, f.client.confirmed)
}

func TestSendBuyOffer_RetryExhaustionCompensates(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendErr: errors.New("protocol unavailable")}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 2)

	debit := decimal.RequireFromString("-3.60")
	f.userRepo.On("AdjustBalance", ctx, "user-1", debit).Return(decimal.RequireFromString("6.40"), nil)
	// The compensating credit restores the starting balance.
	f.userRepo.On("AdjustBalance", ctx, "user-1", debit.Neg()).Return(decimal.RequireFromString("10.00"), nil)

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)

	require.Error(t, err)
	assert.Equal(t, 3, offer.sendCalls)
	assert.Equal(t, 0, f.reservations.Size())
	assert.False(t, f.orchestrator.Tracked("offer-1"))

	_, held := f.locks.Peek("user-1")
	assert.False(t, held)
	f.transRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSendBuyOffer_RegisterFailureCompensates(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 2)

	debit := decimal.RequireFromString("-3.60")
	f.userRepo.On("AdjustBalance", ctx, "user-1", debit).Return(decimal.RequireFromString("6.40"), nil)
	// Persisting the record fails after the offer went out: the offer is
	// withdrawn and the debit reversed, as if nothing happened.
	f.transRepo.On("Insert", ctx, mock.Anything).Return(errors.New("store unavailable"))
	f.userRepo.On("AdjustBalance", ctx, "user-1", debit.Neg()).Return(decimal.RequireFromString("10.00"), nil)

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)

	require.Error(t, err)
	assert.True(t, offer.canceled)
	assert.Equal(t, 0, f.reservations.Size())
	assert.False(t, f.orchestrator.Tracked("offer-1"))

	_, held := f.locks.Peek("user-1")
	assert.False(t, held)
}

func TestSendBuyOffer_ReservationShortfall(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 1)

	// Two items wanted but only one reserved: hard error, nothing moves.
	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)

	assert.ErrorIs(t, err, model.ErrReservationShort)
	assert.Equal(t, 0, f.reservations.Size())
	f.userRepo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOfferChanged_AcceptedBuySettles(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{
		id:         "offer-1",
		sendStatus: SendOK,
		sent: []model.StockItem{
			{AssetID: "a1", ClassID: testClassID},
			{AssetID: "a2", ClassID: testClassID},
		},
	}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 2)

	f.userRepo.On("AdjustBalance", ctx, "user-1", decimal.RequireFromString("-3.60")).
		Return(decimal.RequireFromString("6.40"), nil)
	f.transRepo.On("Insert", ctx, mock.Anything).Return(nil)

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)
	require.NoError(t, err)

	finished := model.StatusFinished
	difference := decimal.RequireFromString("-3.60")
	f.transRepo.On("Update", ctx, mock.AnythingOfType("string"), repository.TransactionPatch{Status: &finished, Difference: &difference}).
		Return(&model.Transaction{ID: "trans-1", Owner: "user-1", Status: model.StatusFinished}, nil)

	err = f.orchestrator.HandleOfferChanged(ctx, OfferChange{
		OfferID:  "offer-1",
		Previous: model.OfferActive,
		Current:  model.OfferAccepted,
	})

	require.NoError(t, err)
	assert.False(t, f.orchestrator.Tracked("offer-1"))
	assert.Equal(t, 0, f.reservations.Size())

	_, held := f.locks.Peek("user-1")
	assert.False(t, held)
}

func TestHandleOfferChanged_DuplicateDeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	// Offer was never tracked (or already finalized): nothing happens.
	err := f.orchestrator.HandleOfferChanged(ctx, OfferChange{
		OfferID:  "offer-1",
		Previous: model.OfferActive,
		Current:  model.OfferAccepted,
	})

	require.NoError(t, err)
	f.transRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	f.userRepo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOfferChanged_DeclinedBuyRefunds(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 2)

	debited := decimal.RequireFromString("-3.60")
	f.userRepo.On("AdjustBalance", ctx, "user-1", debited).Return(decimal.RequireFromString("6.40"), nil)

	var transID string
	stored := &model.Transaction{}
	f.transRepo.On("Insert", ctx, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		trans := args.Get(1).(*model.Transaction)
		transID = trans.ID
		*stored = *trans
	})

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 2, decimal.Zero, reserved)
	require.NoError(t, err)

	f.transRepo.On("Update", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("repository.TransactionPatch")).
		Return(stored, nil).
		Run(func(args mock.Arguments) {
			patch := args.Get(2).(repository.TransactionPatch)
			if patch.Difference != nil {
				stored.Difference = *patch.Difference
			}
		})
	f.transRepo.On("ClaimRefund", ctx, mock.AnythingOfType("string")).
		Return(stored, nil).
		Run(func(mock.Arguments) {
			stored.Refunded = true
			stored.Status = model.StatusFailed
		})
	// Refund credits back what the decline left unspent.
	f.userRepo.On("AdjustBalance", ctx, "user-1", debited.Neg()).Return(decimal.RequireFromString("10.00"), nil)

	err = f.orchestrator.HandleOfferChanged(ctx, OfferChange{
		OfferID:  "offer-1",
		Previous: model.OfferActive,
		Current:  model.OfferDeclined,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, transID)
	assert.True(t, stored.Refunded)
	assert.Equal(t, 0, f.reservations.Size())
	assert.False(t, f.orchestrator.Tracked("offer-1"))

	_, held := f.locks.Peek("user-1")
	assert.False(t, held)
}

func TestHandleOfferChanged_AcceptedSellCredits(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{
		id:         "offer-2",
		sendStatus: SendOK,
		received: []model.StockItem{
			{AssetID: "u1", ClassID: testClassID},
			{AssetID: "u2", ClassID: testClassID},
		},
	}
	f := newOrchestrator(t, offer)

	f.transRepo.On("Insert", ctx, mock.MatchedBy(func(trans *model.Transaction) bool {
		return trans.Type == model.TypeSell
	})).Return(nil)

	userItems := []model.StockItem{
		{AssetID: "u1", ClassID: testClassID},
		{AssetID: "u2", ClassID: testClassID},
	}
	_, err := f.orchestrator.SendSellOffer(ctx, "user-1", "trade-link", userItems, 2)
	require.NoError(t, err)

	// 2 items at 1.50 credited on acceptance.
	f.userRepo.On("AdjustBalance", ctx, "user-1", decimal.RequireFromString("3.00")).
		Return(decimal.RequireFromString("3.00"), nil)

	finished := model.StatusFinished
	difference := decimal.RequireFromString("3.00")
	f.transRepo.On("Update", ctx, mock.AnythingOfType("string"), repository.TransactionPatch{Status: &finished, Difference: &difference}).
		Return(&model.Transaction{ID: "trans-2", Owner: "user-1", Status: model.StatusFinished}, nil)

	err = f.orchestrator.HandleOfferChanged(ctx, OfferChange{
		OfferID:  "offer-2",
		Previous: model.OfferActive,
		Current:  model.OfferAccepted,
	})

	require.NoError(t, err)
	assert.False(t, f.orchestrator.Tracked("offer-2"))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	offer := &fakeOffer{id: "offer-1", sendStatus: SendOK}
	f := newOrchestrator(t, offer)

	items := stockItems()
	reserved := f.reservations.Reserve(items, 1)

	debited := decimal.RequireFromString("-1.80")
	f.userRepo.On("AdjustBalance", ctx, "user-1", debited).Return(decimal.Zero, nil)

	stored := &model.Transaction{}
	f.transRepo.On("Insert", ctx, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		trans := args.Get(1).(*model.Transaction)
		*stored = *trans
	})

	_, err := f.orchestrator.SendBuyOffer(ctx, "user-1", "trade-link", items, 1, decimal.Zero, reserved)
	require.NoError(t, err)

	f.transRepo.On("GetByID", ctx, mock.AnythingOfType("string")).Return(stored, nil)
	f.transRepo.On("Update", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("repository.TransactionPatch")).
		Return(stored, nil).
		Run(func(args mock.Arguments) {
			patch := args.Get(2).(repository.TransactionPatch)
			if patch.Difference != nil {
				stored.Difference = *patch.Difference
			}
		})
	f.transRepo.On("ClaimRefund", ctx, mock.AnythingOfType("string")).
		Return(stored, nil).
		Run(func(mock.Arguments) {
			stored.Refunded = true
			stored.Status = model.StatusFailed
		})
	f.userRepo.On("AdjustBalance", ctx, "user-1", debited.Neg()).Return(decimal.RequireFromString("10.00"), nil)

	require.NoError(t, f.orchestrator.Cancel(ctx, "user-1"))

	assert.True(t, offer.canceled)
	assert.Equal(t, 0, f.reservations.Size())
	assert.False(t, f.orchestrator.Tracked("offer-1"))

	_, held := f.locks.Peek("user-1")
	assert.False(t, held)
}

func TestCancel_NothingPending(t *testing.T) {
	offer := &fakeOffer{id: "offer-1"}
	f := newOrchestrator(t, offer)

	err := f.orchestrator.Cancel(context.Background(), "user-1")

	assert.ErrorIs(t, err, model.ErrNothingToCancel)
}
