package notify

import (
	"context"
	"sync"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/shopspring/decimal"
)

// ChannelGlobal broadcasts to every connected consumer; every other
// channel name is an account identifier.
const ChannelGlobal = "global"

// Notifier pushes JSON-shaped patches to UI consumers. Publishing is
// best-effort: a lost notification never blocks or fails the operation
// that produced it.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload any)
}

// Message shapes consumed by the UI.

type BalancePatch struct {
	Type string `json:"type"`
	User struct {
		Balance decimal.Decimal `json:"balance"`
	} `json:"user"`
}

type StockPatch struct {
	Type   string `json:"type"`
	Prices struct {
		Stock int `json:"stock"`
	} `json:"prices"`
}

type NewTransaction struct {
	Type        string             `json:"type"`
	Transaction *model.Transaction `json:"transaction"`
}

type UpdateTransaction struct {
	Type        string             `json:"type"`
	ID          string             `json:"id"`
	Transaction *model.Transaction `json:"transaction"`
}

func NewBalancePatch(balance decimal.Decimal) BalancePatch {
	p := BalancePatch{Type: "patch"}
	p.User.Balance = model.RoundDisplay(balance)
	return p
}

func NewStockPatch(count int) StockPatch {
	p := StockPatch{Type: "patch"}
	p.Prices.Stock = count
	return p
}

func NewTransactionMessage(t *model.Transaction) NewTransaction {
	return NewTransaction{Type: "new_transaction", Transaction: t}
}

func UpdateTransactionMessage(t *model.Transaction) UpdateTransaction {
	return UpdateTransaction{Type: "update_transaction", ID: t.ID, Transaction: t}
}

// Memory is an in-process notifier used by tests. It records every
// published message keyed by channel.
type Memory struct {
	mu       sync.Mutex
	messages map[string][]any
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]any)}
}

func (m *Memory) Publish(_ context.Context, channel string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channel] = append(m.messages[channel], payload)
}

// Messages returns a copy of everything published to the channel.
func (m *Memory) Messages(channel string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.messages[channel]))
	copy(out, m.messages[channel])
	return out
}
