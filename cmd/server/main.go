package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/config"
	"github.com/Sat-14/Crypto-bot/internal/database"
	"github.com/Sat-14/Crypto-bot/internal/handler"
	"github.com/Sat-14/Crypto-bot/internal/lock"
	"github.com/Sat-14/Crypto-bot/internal/logger"
	"github.com/Sat-14/Crypto-bot/internal/market"
	"github.com/Sat-14/Crypto-bot/internal/notify"
	"github.com/Sat-14/Crypto-bot/internal/payment"
	"github.com/Sat-14/Crypto-bot/internal/repository/mongodb"
	"github.com/Sat-14/Crypto-bot/internal/service"
	"github.com/Sat-14/Crypto-bot/internal/stock"
	"github.com/Sat-14/Crypto-bot/internal/trade"
	"github.com/Sat-14/Crypto-bot/internal/worker"
)

func main() {
	// Setup logger
	log := logger.New(true)

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	pricing, err := cfg.Pricing.Pricing()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid price sheet")
	}

	// Root context to be canceled on SIGINT / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	dbCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	dbClient, err := database.Connect(dbCtx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := dbClient.Disconnect(disconnectCtx); err != nil {
			log.Error().Err(err).Msg("Database disconnect error")
		}
	}()

	// Repositories
	collections := mongodb.NewCollections(dbClient, cfg.Database.Name)
	if err := collections.EnsureIndexes(dbCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure indexes")
	}
	userRepo := mongodb.NewUserRepository(collections)
	transactionRepo := mongodb.NewTransactionRepository(collections)
	checkpointRepo := mongodb.NewCheckpointRepository(collections)

	// Notifications
	notifier, err := notify.NewRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer notifier.Close()

	// Services
	ledger := service.NewLedger(userRepo, notifier, log)
	translog := service.NewTransactionLog(transactionRepo, ledger, notifier, log)

	// Per-user locks survive restarts through the pending transactions.
	locks := lock.New()
	if err := locks.Rebuild(ctx, transactionRepo, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to rebuild user locks")
	}

	// Trade protocol client, resuming from the saved poll checkpoint
	pollState, err := checkpointRepo.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load poll checkpoint")
	}
	tradeClient, err := trade.NewBridgeClient(ctx, cfg.Trade.BridgeURL, pollState, checkpointRepo.Save, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to trade bridge")
	}

	stockCache := stock.NewCache(tradeClient, notifier, log, cfg.Trade.AppID, cfg.Trade.ContextID, cfg.Trade.ClassID, cfg.Trade.StockFreshFor)
	reservations := stock.NewReservationRegistry()

	orchestrator := trade.NewOrchestrator(
		tradeClient, stockCache, reservations, ledger, translog, locks,
		pricing, cfg.Trade.ClassID, cfg.Trade.MaxRetries, cfg.Trade.RetryDelay, log,
	)
	go orchestrator.Run(ctx)

	// Payment gateway
	gateway := payment.NewHTTPGateway(
		cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Email,
		cfg.Gateway.Password, cfg.Gateway.OTPSecret, cfg.Gateway.CallbackURL,
		cfg.Gateway.HTTPTimeout, log,
	)
	reconciler, err := payment.NewReconciler(gateway, ledger, translog, locks, pricing, payment.DefaultCurrencies, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build reconciler")
	}

	marketService := market.NewService(
		ledger, translog, orchestrator, reconciler, tradeClient,
		stockCache, reservations, locks, pricing,
		cfg.Trade.AppID, cfg.Trade.ContextID, cfg.Trade.ClassID, log,
	)

	// Settled purchase deposits flow straight back into the buy path.
	reconciler.SetPurchaseDepositFunc(marketService.BuyFunded)

	// Workers
	stockWorker := worker.NewStockWorker(stockCache, cfg.Worker.StockRefreshInterval, log)
	stockWorker.Start(ctx)
	defer stockWorker.Stop()

	withdrawalWorker := worker.NewWithdrawalWorker(reconciler, cfg.Worker.WithdrawalSweepInterval, cfg.Worker.WithdrawalStaleAfter, log)
	withdrawalWorker.Start(ctx)
	defer withdrawalWorker.Stop()

	// http handler
	h := handler.NewHandler(marketService, reconciler, cfg.Gateway.IPNSecret, cfg.Auth.JWTSecret, log)
	router := h.SetupRoutes()

	// http server configuration
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("Server started")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, starting graceful shutdown...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	} else {
		log.Info().Msg("HTTP server stopped gracefully")
	}

	log.Info().Msg("Shutdown complete")
}
