package handler

import (
	"errors"
	"net/http"

	"github.com/Sat-14/Crypto-bot/internal/market"
	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/payment"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Handler struct {
	market     *market.Service
	reconciler *payment.Reconciler
	ipnSecret  string
	jwtSecret  string
	logger     zerolog.Logger
}

func NewHandler(marketService *market.Service, reconciler *payment.Reconciler, ipnSecret, jwtSecret string, logger zerolog.Logger) *Handler {
	return &Handler{
		market:     marketService,
		reconciler: reconciler,
		ipnSecret:  ipnSecret,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()

	// Middlewares
	router.Use(
		RequestIDMiddleware(),
		LoggingMiddleware(),
		gin.Recovery(),
	)

	// Health, metrics and the gateway webhook stay outside auth.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/ipn/gateway", h.GatewayNotification)
	router.GET("/stock", h.GetStock)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(h.jwtSecret))

	trades := v1.Group("/trades")
	trades.POST("/buy", h.Buy)
	trades.POST("/sell", h.Sell)
	trades.POST("/cancel", h.Cancel)

	wallet := v1.Group("/wallet")
	wallet.POST("/deposit", h.Deposit)
	wallet.POST("/withdraw", h.Withdraw)

	account := v1.Group("/account")
	account.GET("/profile", h.GetProfile)
	account.GET("/transactions", h.GetTransactions)
	account.PUT("/tradelink", h.SetTradeLink)

	admin := v1.Group("/admin")
	admin.Use(AdminMiddleware())
	admin.PUT("/users/:id/ban", h.SetBanned)

	return router
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_SERVER_ERROR"

	resp := model.ErrorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		status = http.StatusBadRequest
		code = "INSUFFICIENT_BALANCE"
	case errors.Is(err, model.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "INVALID_AMOUNT"
	case errors.Is(err, model.ErrInvalidAddress):
		status = http.StatusBadRequest
		code = "INVALID_ADDRESS"
	case errors.Is(err, model.ErrInvalidCurrency):
		status = http.StatusBadRequest
		code = "INVALID_CURRENCY"
	case errors.Is(err, model.ErrTradeLinkMissing):
		status = http.StatusBadRequest
		code = "TRADE_LINK_MISSING"
	case errors.Is(err, model.ErrOutOfStock):
		status = http.StatusConflict
		code = "OUT_OF_STOCK"
	case errors.Is(err, model.ErrStockCapExceeded):
		status = http.StatusConflict
		code = "STOCK_CAP_EXCEEDED"
	case errors.Is(err, model.ErrPendingTransaction):
		status = http.StatusConflict
		code = "PENDING_TRANSACTION"
		resp.Details = "Finish or cancel the pending transaction first"
	case errors.Is(err, model.ErrNothingToCancel):
		status = http.StatusBadRequest
		code = "NOTHING_TO_CANCEL"
	case errors.Is(err, model.ErrCancelNotSupported):
		status = http.StatusConflict
		code = "CANCEL_NOT_SUPPORTED"
		resp.Details = "This transaction settles through the payment gateway"
	case errors.Is(err, model.ErrUserBanned):
		status = http.StatusForbidden
		code = "USER_BANNED"
	case errors.Is(err, model.ErrUserNotFound):
		status = http.StatusNotFound
		code = "USER_NOT_FOUND"
	case errors.Is(err, model.ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "TRANSACTION_NOT_FOUND"
	}
	resp.Code = code

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("internal server error")
	}

	c.JSON(status, resp)
}
