package handler

import (
	"net/http"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/gin-gonic/gin"
)

// Buy sends a buy offer, or returns an invoice when the balance does
// not cover the order.
func (h *Handler) Buy(c *gin.Context) {
	var req model.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.market.Buy(c.Request.Context(), accountID(c), req.Amount, isAdmin(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusCreated
	if result.InvoiceURL != "" {
		// Payment required before the offer goes out.
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func (h *Handler) Sell(c *gin.Context) {
	var req model.SellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	offerID, err := h.market.Sell(c.Request.Context(), accountID(c), req.Amount, isAdmin(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer_id": offerID})
}

func (h *Handler) Cancel(c *gin.Context) {
	if err := h.market.Cancel(c.Request.Context(), accountID(c)); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (h *Handler) GetStock(c *gin.Context) {
	info, err := h.market.Stock(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
