package stock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	items []model.StockItem
	err   error
	calls int32
	delay time.Duration
}

func (f *fakeSource) GetInventory(ctx context.Context, appID, contextID int) ([]model.StockItem, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, f.err
}

func newTestCache(source *fakeSource, freshFor time.Duration) *Cache {
	return NewCache(source, notify.NewMemory(), zerolog.Nop(), 440, 2, "101", freshFor)
}

func TestCacheGet_FiltersByClass(t *testing.T) {
	source := &fakeSource{items: []model.StockItem{
		{AssetID: "a", ClassID: "101"},
		{AssetID: "b", ClassID: "999"},
		{AssetID: "c", ClassID: "101"},
	}}
	cache := newTestCache(source, time.Minute)

	items, err := cache.Get(context.Background())

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].AssetID)
	assert.Equal(t, "c", items[1].AssetID)
}

func TestCacheGet_ServesSnapshotWithinWindow(t *testing.T) {
	source := &fakeSource{items: []model.StockItem{{AssetID: "a", ClassID: "101"}}}
	cache := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
}

func TestCacheInvalidate_ForcesRefresh(t *testing.T) {
	source := &fakeSource{items: []model.StockItem{{AssetID: "a", ClassID: "101"}}}
	cache := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))
}

func TestCacheGet_PropagatesFetchError(t *testing.T) {
	source := &fakeSource{err: errors.New("inventory unavailable")}
	cache := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background())

	assert.Error(t, err)
}

// Concurrent callers behind an expired snapshot share one fetch.
func TestCacheGet_SharesInflightFetch(t *testing.T) {
	source := &fakeSource{
		items: []model.StockItem{{AssetID: "a", ClassID: "101"}},
		delay: 50 * time.Millisecond,
	}
	cache := newTestCache(source, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.Len(t, items, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
}

func TestCacheRefresh_PublishesStockPatchOnChange(t *testing.T) {
	source := &fakeSource{items: []model.StockItem{
		{AssetID: "a", ClassID: "101"},
		{AssetID: "b", ClassID: "101"},
	}}
	notifier := notify.NewMemory()
	cache := NewCache(source, notifier, zerolog.Nop(), 440, 2, "101", time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	messages := notifier.Messages(notify.ChannelGlobal)
	require.Len(t, messages, 1)
	patch, ok := messages[0].(notify.StockPatch)
	require.True(t, ok)
	assert.Equal(t, 2, patch.Prices.Stock)

	// Same count again: no second broadcast.
	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.Messages(notify.ChannelGlobal), 1)
}
