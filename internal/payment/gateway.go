package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tokenTTL    = 240 * time.Second
	estimateTTL = 120 * time.Second

	convertPollInterval = 3 * time.Second
	convertPollBudget   = 20
)

// Invoice is a hosted payment page created for a deposit.
type Invoice struct {
	ID  string
	URL string
}

// Payout is one submitted withdrawal inside a batch.
type Payout struct {
	BatchID string
	ID      string
	Status  string
}

// Gateway is the payment processor collaborator.
type Gateway interface {
	// CreateInvoice opens a hosted deposit page for the given fiat amount.
	CreateInvoice(ctx context.Context, amount decimal.Decimal, orderID, description string) (*Invoice, error)

	// Balances reports the processor-side balance per currency code.
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)

	// Estimate converts a fiat amount into the target currency at the
	// current rate.
	Estimate(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)

	// Convert swaps processor-side funds between currencies and waits
	// for the conversion to settle.
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) error

	// CreatePayout submits a single-entry withdrawal batch.
	CreatePayout(ctx context.Context, address, currency string, amount decimal.Decimal) (*Payout, error)

	// VerifyPayout confirms a payout batch with a one-time code.
	VerifyPayout(ctx context.Context, batchID string) error
}

// HTTPGateway talks to a NOWPayments-compatible processor.
type HTTPGateway struct {
	baseURL     string
	apiKey      string
	email       string
	password    string
	otpSecret   string
	callbackURL string
	http        *http.Client
	logger      zerolog.Logger

	mu             sync.Mutex
	token          string
	tokenFetchedAt time.Time
	estimates      map[string]cachedEstimate
}

type cachedEstimate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(baseURL, apiKey, email, password, otpSecret, callbackURL string, timeout time.Duration, logger zerolog.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL:     baseURL,
		apiKey:      apiKey,
		email:       email,
		password:    password,
		otpSecret:   otpSecret,
		callbackURL: callbackURL,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
		estimates:   make(map[string]cachedEstimate),
	}
}

func (g *HTTPGateway) CreateInvoice(ctx context.Context, amount decimal.Decimal, orderID, description string) (*Invoice, error) {
	req := map[string]interface{}{
		"price_amount":      amount.InexactFloat64(),
		"price_currency":    "usd",
		"order_id":          orderID,
		"order_description": description,
		"ipn_callback_url":  g.callbackURL,
	}

	var resp struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := g.call(ctx, http.MethodPost, "/invoice", req, &resp, false); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	return &Invoice{ID: resp.ID.String(), URL: resp.InvoiceURL}, nil
}

func (g *HTTPGateway) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp map[string]struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := g.call(ctx, http.MethodGet, "/balance", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	balances := make(map[string]decimal.Decimal, len(resp))
	for code, entry := range resp {
		balances[code] = entry.Amount
	}
	return balances, nil
}

func (g *HTTPGateway) Estimate(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	key := from + ":" + to

	g.mu.Lock()
	cached, ok := g.estimates[key]
	g.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < estimateTTL {
		return amount.Mul(cached.rate), nil
	}

	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("currency_from", from)
	q.Set("currency_to", to)

	var resp struct {
		EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	}
	if err := g.call(ctx, http.MethodGet, "/estimate?"+q.Encode(), nil, &resp, false); err != nil {
		return decimal.Zero, fmt.Errorf("estimate %s->%s: %w", from, to, err)
	}

	if amount.IsPositive() {
		g.mu.Lock()
		g.estimates[key] = cachedEstimate{rate: resp.EstimatedAmount.Div(amount), fetchedAt: time.Now()}
		g.mu.Unlock()
	}

	return resp.EstimatedAmount, nil
}

func (g *HTTPGateway) Convert(ctx context.Context, amount decimal.Decimal, from, to string) error {
	req := map[string]interface{}{
		"amount":        amount.InexactFloat64(),
		"from_currency": from,
		"to_currency":   to,
	}

	var created struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := g.call(ctx, http.MethodPost, "/conversion", req, &created, true); err != nil {
		return fmt.Errorf("create conversion %s->%s: %w", from, to, err)
	}

	for i := 0; i < convertPollBudget; i++ {
		select {
		case <-time.After(convertPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}

		var status struct {
			Result struct {
				Status string `json:"status"`
			} `json:"result"`
		}
		if err := g.call(ctx, http.MethodGet, "/conversion/"+created.Result.ID, nil, &status, true); err != nil {
			g.logger.Warn().Err(err).Str("conversion_id", created.Result.ID).Msg("conversion status check failed")
			continue
		}

		switch status.Result.Status {
		case "FINISHED", "finished":
			return nil
		case "FAILED", "failed", "REJECTED", "rejected":
			return fmt.Errorf("conversion %s ended with status %s", created.Result.ID, status.Result.Status)
		}
	}

	return fmt.Errorf("conversion %s did not settle in time", created.Result.ID)
}

func (g *HTTPGateway) CreatePayout(ctx context.Context, address, currency string, amount decimal.Decimal) (*Payout, error) {
	req := map[string]interface{}{
		"ipn_callback_url": g.callbackURL,
		"withdrawals": []map[string]interface{}{{
			"address":  address,
			"currency": currency,
			"amount":   amount.InexactFloat64(),
		}},
	}

	var resp struct {
		ID          string `json:"id"`
		Withdrawals []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"withdrawals"`
	}
	if err := g.call(ctx, http.MethodPost, "/payout", req, &resp, true); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	if len(resp.Withdrawals) == 0 {
		return nil, fmt.Errorf("payout batch %s came back empty", resp.ID)
	}

	return &Payout{
		BatchID: resp.ID,
		ID:      resp.Withdrawals[0].ID,
		Status:  resp.Withdrawals[0].Status,
	}, nil
}

func (g *HTTPGateway) VerifyPayout(ctx context.Context, batchID string) error {
	code, err := totpNow(g.otpSecret, time.Now())
	if err != nil {
		return fmt.Errorf("derive verification code: %w", err)
	}

	req := map[string]interface{}{"verification_code": code}
	if err := g.call(ctx, http.MethodPost, "/payout/"+batchID+"/verify", req, nil, true); err != nil {
		return fmt.Errorf("verify payout %s: %w", batchID, err)
	}
	return nil
}

// bearerToken logs in with the processor, caching the session token.
func (g *HTTPGateway) bearerToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.token != "" && time.Since(g.tokenFetchedAt) < tokenTTL {
		token := g.token
		g.mu.Unlock()
		return token, nil
	}
	g.mu.Unlock()

	req := map[string]interface{}{"email": g.email, "password": g.password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := g.call(ctx, http.MethodPost, "/auth", req, &resp, false); err != nil {
		return "", fmt.Errorf("gateway login: %w", err)
	}

	g.mu.Lock()
	g.token = resp.Token
	g.tokenFetchedAt = time.Now()
	g.mu.Unlock()

	return resp.Token, nil
}

func (g *HTTPGateway) call(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", g.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := g.bearerToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
