package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/rs/zerolog"
)

// Ensure implementation satisfies interface at compile time
var _ Client = (*BridgeClient)(nil)

// BridgeClient talks to the trade protocol sidecar over its local HTTP
// API. The sidecar owns sessions, confirmations and offer polling; this
// client only moves requests and change events across the boundary.
type BridgeClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	changes chan OfferChange

	// savePollState persists the sidecar's opaque poll state blob so
	// offer tracking survives restarts of either process.
	savePollState func(ctx context.Context, blob []byte) error
}

// NewBridgeClient restores the previously checkpointed poll state into
// the sidecar and starts streaming offer changes.
func NewBridgeClient(ctx context.Context, baseURL string, pollState []byte, savePollState func(context.Context, []byte) error, logger zerolog.Logger) (*BridgeClient, error) {
	c := &BridgeClient{
		baseURL:       baseURL,
		http:          &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		changes:       make(chan OfferChange, 64),
		savePollState: savePollState,
	}

	if len(pollState) > 0 {
		if err := c.post(ctx, "/pollstate", json.RawMessage(pollState), nil); err != nil {
			return nil, fmt.Errorf("failed to restore poll state: %w", err)
		}
	}

	go c.streamChanges(ctx)
	return c, nil
}

func (c *BridgeClient) CreateOffer(target string) Offer {
	return &bridgeOffer{client: c, target: target}
}

func (c *BridgeClient) ConfirmOffer(ctx context.Context, offerID string) error {
	return c.post(ctx, "/offers/"+offerID+"/confirm", nil, nil)
}

func (c *BridgeClient) GetInventory(ctx context.Context, appID, contextID int) ([]model.StockItem, error) {
	return c.inventory(ctx, "", appID, contextID)
}

func (c *BridgeClient) GetUserInventory(ctx context.Context, accountID string, appID, contextID int) ([]model.StockItem, error) {
	return c.inventory(ctx, accountID, appID, contextID)
}

func (c *BridgeClient) OfferChanges() <-chan OfferChange {
	return c.changes
}

func (c *BridgeClient) inventory(ctx context.Context, accountID string, appID, contextID int) ([]model.StockItem, error) {
	q := url.Values{}
	q.Set("app", strconv.Itoa(appID))
	q.Set("context", strconv.Itoa(contextID))
	if accountID != "" {
		q.Set("account", accountID)
	}

	var out struct {
		Items []model.StockItem `json:"items"`
	}
	if err := c.get(ctx, "/inventory?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// streamChanges long-polls the sidecar for sent-offer transitions and
// checkpoint blobs until the context is cancelled.
func (c *BridgeClient) streamChanges(ctx context.Context) {
	defer close(c.changes)

	var cursor string
	for {
		if ctx.Err() != nil {
			return
		}

		var out struct {
			Cursor    string          `json:"cursor"`
			PollState json.RawMessage `json:"poll_state,omitempty"`
			Changes   []struct {
				OfferID  string `json:"offer_id"`
				Previous int    `json:"previous"`
				Current  int    `json:"current"`
			} `json:"changes"`
		}

		err := c.get(ctx, "/offers/changes?cursor="+url.QueryEscape(cursor), &out)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("offer change poll failed")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		cursor = out.Cursor

		if len(out.PollState) > 0 && c.savePollState != nil {
			if err := c.savePollState(ctx, out.PollState); err != nil {
				c.logger.Error().Err(err).Msg("failed to checkpoint poll state")
			}
		}

		for _, ch := range out.Changes {
			select {
			case c.changes <- OfferChange{
				OfferID:  ch.OfferID,
				Previous: model.OfferState(ch.Previous),
				Current:  model.OfferState(ch.Current),
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *BridgeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *BridgeClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *BridgeClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bridge returned %s: %s", resp.Status, body)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// bridgeOffer accumulates items locally and submits them in one call.
type bridgeOffer struct {
	client  *BridgeClient
	target  string
	message string
	id      string
	give    []model.StockItem
	receive []model.StockItem
}

func (o *bridgeOffer) ID() string                        { return o.id }
func (o *bridgeOffer) SetMessage(message string)         { o.message = message }
func (o *bridgeOffer) AddMyItem(item model.StockItem)    { o.give = append(o.give, item) }
func (o *bridgeOffer) AddTheirItem(item model.StockItem) { o.receive = append(o.receive, item) }

func (o *bridgeOffer) Send(ctx context.Context) (SendStatus, error) {
	body := map[string]any{
		"target":  o.target,
		"message": o.message,
		"give":    o.give,
		"receive": o.receive,
	}

	var out struct {
		OfferID string `json:"offer_id"`
		Status  string `json:"status"`
	}
	if err := o.client.post(ctx, "/offers", body, &out); err != nil {
		return 0, err
	}

	o.id = out.OfferID
	if out.Status == "pending" {
		return SendPendingConfirmation, nil
	}
	return SendOK, nil
}

func (o *bridgeOffer) Cancel(ctx context.Context) error {
	return o.client.post(ctx, "/offers/"+o.id+"/cancel", nil, nil)
}

func (o *bridgeOffer) ExchangeDetails(ctx context.Context) ([]model.StockItem, []model.StockItem, error) {
	var out struct {
		Received []model.StockItem `json:"received"`
		Sent     []model.StockItem `json:"sent"`
	}
	if err := o.client.get(ctx, "/offers/"+o.id+"/exchange", &out); err != nil {
		return nil, nil, err
	}
	return out.Received, out.Sent, nil
}
