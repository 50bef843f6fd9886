package stock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/rs/zerolog"
)

// InventorySource is the external origin of the item pool.
type InventorySource interface {
	GetInventory(ctx context.Context, appID, contextID int) ([]model.StockItem, error)
}

// Cache keeps a time-bounded snapshot of the tradable item pool.
// Within the freshness window stale counts are preferred over another
// round-trip to the inventory source; outside it, fetch failures are
// propagated rather than papered over with old data.
type Cache struct {
	source    InventorySource
	notifier  notify.Notifier
	logger    zerolog.Logger
	appID     int
	contextID int
	classID   string
	freshFor  time.Duration

	mu        sync.Mutex
	snapshot  []model.StockItem
	fetchedAt time.Time
	inflight  chan struct{}
	fetchErr  error
}

func NewCache(source InventorySource, notifier notify.Notifier, logger zerolog.Logger, appID, contextID int, classID string, freshFor time.Duration) *Cache {
	return &Cache{
		source:    source,
		notifier:  notifier,
		logger:    logger,
		appID:     appID,
		contextID: contextID,
		classID:   classID,
		freshFor:  freshFor,
	}
}

// Get returns the current snapshot, refreshing it when the freshness
// window has lapsed. Concurrent callers share a single in-flight fetch.
func (c *Cache) Get(ctx context.Context) ([]model.StockItem, error) {
	c.mu.Lock()

	if c.snapshot != nil && time.Since(c.fetchedAt) < c.freshFor {
		items := c.snapshot
		c.mu.Unlock()
		return items, nil
	}

	if c.inflight != nil {
		done := c.inflight
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		c.mu.Lock()
		items, err := c.snapshot, c.fetchErr
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return items, nil
	}

	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	items, err := c.refresh(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.fetchErr = err
	close(done)
	c.mu.Unlock()

	return items, err
}

// Invalidate forces the next Get to hit the inventory source. Call it
// after every completed trade.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// Count returns the size of the last snapshot without refreshing.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshot)
}

// refresh fetches the live inventory; the caller owns the in-flight slot.
func (c *Cache) refresh(ctx context.Context) ([]model.StockItem, error) {
	inventory, err := c.source.GetInventory(ctx, c.appID, c.contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inventory: %w", err)
	}

	items := make([]model.StockItem, 0, len(inventory))
	for _, item := range inventory {
		if item.ClassID == c.classID {
			items = append(items, item)
		}
	}

	c.mu.Lock()
	prev := len(c.snapshot)
	hadSnapshot := c.snapshot != nil
	c.snapshot = items
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	if !hadSnapshot || prev != len(items) {
		c.notifier.Publish(ctx, notify.ChannelGlobal, notify.NewStockPatch(len(items)))
		c.logger.Info().Int("stock", len(items)).Msg("stock count changed")
	}

	return items, nil
}
