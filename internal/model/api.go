package model

import "github.com/shopspring/decimal"

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type BuyRequest struct {
	Amount int `json:"amount" binding:"required,min=1"`
}

type SellRequest struct {
	Amount int `json:"amount" binding:"required,min=1"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type WithdrawRequest struct {
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
	Address  string          `json:"address" binding:"required"`
}

type TradeLinkRequest struct {
	TradeLink string `json:"trade_link" binding:"required"`
}

type WithdrawResponse struct {
	TransactionID string `json:"transaction_id"`
}

type BanRequest struct {
	Banned bool `json:"banned"`
}
