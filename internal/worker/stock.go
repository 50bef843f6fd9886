package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/stock"
	"github.com/rs/zerolog"
)

// StockWorker keeps the inventory snapshot warm so user-facing reads
// rarely pay for a refresh.
type StockWorker struct {
	cache    *stock.Cache
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	wg       *sync.WaitGroup
}

func NewStockWorker(cache *stock.Cache, interval time.Duration, logger zerolog.Logger) *StockWorker {
	return &StockWorker{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		wg:       &sync.WaitGroup{},
	}
}

func (w *StockWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info().Dur("interval", w.interval).Msg("Stock worker started")

		for {
			select {
			case <-ticker.C:
				w.cache.Invalidate()
				if _, err := w.cache.Get(ctx); err != nil {
					w.logger.Error().Err(err).Msg("Failed to refresh stock")
				}
			case <-w.stopChan:
				w.logger.Info().Msg("Stock worker stopping")
				return
			case <-ctx.Done():
				w.logger.Info().Msg("Stock worker stopping (context done)")
				return
			}
		}
	}()
}

func (w *StockWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}
