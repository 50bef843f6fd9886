package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/payment"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/Sat-14/Crypto-bot/internal/service"
	gatewaymocks "github.com/Sat-14/Crypto-bot/mocks/payment"
	mocks "github.com/Sat-14/Crypto-bot/mocks/repository"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "ipn-secret"

func webhookFixture(t *testing.T) (*gin.Engine, *mocks.UserRepository, *mocks.TransactionRepository) {
	gin.SetMode(gin.TestMode)

	userRepo := mocks.NewUserRepository(t)
	transRepo := mocks.NewTransactionRepository(t)
	notifier := notify.NewMemory()
	ledger := service.NewLedger(userRepo, notifier, zerolog.Nop())
	translog := service.NewTransactionLog(transRepo, ledger, notifier, zerolog.Nop())

	pricing := model.Pricing{
		Buy:        decimal.RequireFromString("1.80"),
		Sell:       decimal.RequireFromString("1.50"),
		FeePercent: decimal.NewFromInt(2),
		MaxStock:   100,
	}
	reconciler, err := payment.NewReconciler(
		gatewaymocks.NewGateway(t), ledger, translog, lock.New(),
		pricing, payment.DefaultCurrencies, zerolog.Nop(),
	)
	require.NoError(t, err)

	h := NewHandler(nil, reconciler, webhookSecret, "jwt-secret", zerolog.Nop())

	router := gin.New()
	router.POST("/ipn/gateway", h.GatewayNotification)
	return router, userRepo, transRepo
}

// A tampered notification is acknowledged so the gateway stops
// retrying, but nothing is looked up or settled.
func TestGatewayNotification_BadSignatureDiscarded(t *testing.T) {
	router, userRepo, transRepo := webhookFixture(t)

	body := []byte(`{"payment_status":"finished","order_id":"dep-1","price_amount":10}`)
	req, _ := http.NewRequest(http.MethodPost, "/ipn/gateway", bytes.NewReader(body))
	req.Header.Set("x-nowpayments-sig", "forged")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	userRepo.AssertExpectations(t)
	transRepo.AssertExpectations(t)
}

func TestGatewayNotification_DepositSettled(t *testing.T) {
	router, userRepo, transRepo := webhookFixture(t)
	ctx := context.Background()

	transRepo.On("GetByID", ctx, "dep-1").Return(&model.Transaction{
		ID:     "dep-1",
		Owner:  "user-1",
		Type:   model.TypeDeposit,
		Status: model.StatusPending,
		Amount: decimal.RequireFromString("10.00"),
	}, nil)
	net := decimal.RequireFromString("9.78")
	userRepo.On("AdjustBalance", ctx, "user-1", net).Return(net, nil)
	finished := model.StatusFinished
	transRepo.On("UpdateIfPending", ctx, "dep-1", repository.TransactionPatch{Status: &finished, Difference: &net}).
		Return(&model.Transaction{ID: "dep-1", Owner: "user-1", Status: model.StatusFinished, Difference: net}, nil)

	body := []byte(`{"payment_id":7,"payment_status":"finished","order_id":"dep-1","price_amount":10.00}`)
	sig, err := payment.Sign(body, webhookSecret)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "/ipn/gateway", bytes.NewReader(body))
	req.Header.Set("x-nowpayments-sig", sig)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// Settlement failures still answer 200 so the gateway's retry loop
// stays in charge of redelivery.
func TestGatewayNotification_UnknownOrderStill200(t *testing.T) {
	router, _, transRepo := webhookFixture(t)
	ctx := context.Background()

	transRepo.On("GetByID", ctx, "ghost").Return(nil, model.ErrTransactionNotFound)

	body := []byte(`{"payment_id":7,"payment_status":"finished","order_id":"ghost","price_amount":10}`)
	sig, err := payment.Sign(body, webhookSecret)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "/ipn/gateway", bytes.NewReader(body))
	req.Header.Set("x-nowpayments-sig", sig)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
