package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/payment"
	"github.com/rs/zerolog"
)

// WithdrawalWorker periodically flags withdrawals whose gateway
// notification never arrived so an operator can resolve them.
type WithdrawalWorker struct {
	reconciler *payment.Reconciler
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
	stopChan   chan struct{}
	wg         *sync.WaitGroup
}

func NewWithdrawalWorker(reconciler *payment.Reconciler, interval, staleAfter time.Duration, logger zerolog.Logger) *WithdrawalWorker {
	return &WithdrawalWorker{
		reconciler: reconciler,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		stopChan:   make(chan struct{}),
		wg:         &sync.WaitGroup{},
	}
}

func (w *WithdrawalWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info().Dur("interval", w.interval).Msg("Withdrawal sweep worker started")

		// One sweep at startup picks up anything left over from the
		// previous run.
		if err := w.reconciler.SweepStaleWithdrawals(ctx, w.staleAfter); err != nil {
			w.logger.Error().Err(err).Msg("Failed to sweep stale withdrawals")
		}

		for {
			select {
			case <-ticker.C:
				if err := w.reconciler.SweepStaleWithdrawals(ctx, w.staleAfter); err != nil {
					w.logger.Error().Err(err).Msg("Failed to sweep stale withdrawals")
				}
			case <-w.stopChan:
				w.logger.Info().Msg("Withdrawal sweep worker stopping")
				return
			case <-ctx.Done():
				w.logger.Info().Msg("Withdrawal sweep worker stopping (context done)")
				return
			}
		}
	}()
}

func (w *WithdrawalWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}
