package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/gin-gonic/gin"
)

// GatewayNotification receives payment gateway webhooks. It always
// answers 200 so the gateway stops retrying: a tampered signature is
// logged and discarded, and every settlement path is idempotent, so a
// swallowed error can only delay a transaction, never corrupt it.
func (h *Handler) GatewayNotification(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	signature := c.GetHeader("x-nowpayments-sig")
	err = h.reconciler.HandleNotification(c.Request.Context(), body, signature, h.ipnSecret)
	if err != nil {
		if errors.Is(err, model.ErrBadSignature) {
			h.logger.Warn().Str("ip", c.ClientIP()).Msg("gateway notification with bad signature discarded")
		} else {
			h.logger.Error().Err(err).Msg("gateway notification not settled")
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
