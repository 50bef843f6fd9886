package handler

import (
	"net/http"
	"strconv"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/gin-gonic/gin"
)

const defaultHistoryLimit = 50

func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.market.Profile(c.Request.Context(), accountID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) GetTransactions(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = parsed
	}

	transactions, err := h.market.History(c.Request.Context(), accountID(c), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (h *Handler) SetTradeLink(c *gin.Context) {
	var req model.TradeLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.market.SetTradeLink(c.Request.Context(), accountID(c), req.TradeLink); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Deposit(c *gin.Context) {
	var req model.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	invoice, err := h.market.Deposit(c.Request.Context(), accountID(c), req.Amount)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice_url": invoice.URL})
}

func (h *Handler) Withdraw(c *gin.Context) {
	var req model.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	transID, err := h.market.Withdraw(c.Request.Context(), accountID(c), req.Amount, req.Currency, req.Address)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.WithdrawResponse{TransactionID: transID})
}

func (h *Handler) SetBanned(c *gin.Context) {
	var req model.BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.market.SetBanned(c.Request.Context(), c.Param("id"), req.Banned); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
