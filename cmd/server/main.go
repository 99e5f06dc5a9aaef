package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polyguard/internal/alert"
	"github.com/GoPolymarket/polyguard/internal/chain"
	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/handler"
	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/GoPolymarket/polyguard/internal/repository"
	"github.com/GoPolymarket/polyguard/internal/service"
	"github.com/GoPolymarket/polyguard/internal/signer"
	"github.com/GoPolymarket/polyguard/internal/wallet"
	"github.com/gin-gonic/gin"
)

// store is everything a backend must persist: risk state, ledger and nonces.
type store interface {
	service.RiskStore
	wallet.LedgerStore
	manager.NonceStore
	io.Closer
}

func openStore(cfg *config.Config) (store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return repository.NewRedisStore(cfg)
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return repository.NewMemoryStore(), nil
	}
}

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// 2. Persistence
	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	logger.Info("✅ State store ready", "backend", cfg.Store.Backend)

	// Tx journal (Postgres > state store > memory)
	var journalRepo service.TxRecordRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewPostgresDB(cfg)
		if err == nil {
			journalRepo, err = repository.NewPostgresJournalRepo(db)
		}
		if err != nil {
			logger.Error("⚠️ Failed to connect to DB, tx journal falls back to state store", "error", err)
			journalRepo = nil
		} else {
			logger.Info("✅ Connected to PostgreSQL")
		}
	}
	if journalRepo == nil {
		if r, ok := st.(service.TxRecordRepo); ok {
			journalRepo = r
		}
	}
	journal, err := service.NewJournal(cfg.Journal.Dir, journalRepo)
	if err != nil {
		log.Fatalf("Failed to initialize tx journal: %v", err)
	}

	// 3. Observability
	var sink metrics.Sink = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus(cfg.Metrics.Namespace)
		sink = prom
		metricsHandler = prom.Handler()
	}

	alerts := alert.Multi{alert.NewLogSink(logger.Component("alert"))}
	var webhook *alert.WebhookSink
	if cfg.Alerts.WebhookURL != "" {
		webhook = alert.NewWebhookSink(alert.WebhookConfig{
			URL:       cfg.Alerts.WebhookURL,
			Rate:      cfg.Alerts.Rate,
			Burst:     cfg.Alerts.Burst,
			QueueSize: cfg.Alerts.QueueSize,
			Timeout:   cfg.Alerts.Timeout,
		}, logger.Component("alert"))
		alerts = append(alerts, webhook)
	}

	// 4. Core services
	ctx := context.Background()
	walletMgr, err := wallet.NewManager(ctx, st, cfg.Wallet, wallet.WithAlerts(alerts), wallet.WithMetrics(sink))
	if err != nil {
		log.Fatalf("Failed to initialize wallet ledger: %v", err)
	}

	gateOpts := []service.RiskGateOption{
		service.WithCapital(walletMgr),
		service.WithAlertSink(alerts),
		service.WithMetricsSink(sink),
	}

	deps := handler.Deps{
		Wallet:         walletMgr,
		Journal:        journal,
		Metrics:        sink,
		MetricsHandler: metricsHandler,
	}

	// Chain access is optional; without it the gate still serves risk checks.
	var client *chain.Client
	if cfg.Chain.RPCURL != "" && cfg.Chain.PrivateKey != "" {
		client, err = chain.Dial(ctx, cfg.Chain)
		if err != nil {
			log.Fatalf("Failed to dial chain RPC: %v", err)
		}
		sig, err := signer.NewSigner(cfg.Chain.PrivateKey, cfg.Chain.ChainID)
		if err != nil {
			log.Fatalf("Failed to load signer: %v", err)
		}
		if client.ChainID().Cmp(sig.ChainID()) != 0 {
			log.Fatalf("Chain ID mismatch: rpc=%s config=%s", client.ChainID(), sig.ChainID())
		}

		nonces := manager.NewNonceAllocator(st, client,
			manager.WithLockTimeout(cfg.Submitter.LockTimeout),
			manager.WithNonceMetrics(sink),
			manager.WithNonceAlerts(alerts))
		gas := manager.NewGasPolicy(client, manager.GasPolicyConfigFrom(cfg.Gas), sink)
		submitter := manager.NewTransactionSubmitter(client, sig, nonces, gas, manager.SubmitterConfigFrom(cfg.Submitter)).
			WithJournal(journal).
			WithAlerts(alerts).
			WithMetrics(sink)

		gateOpts = append(gateOpts, service.WithSubmitter(submitter))
		deps.Nonces = nonces
		deps.SignerAddress = sig.Address()
		deps.CanExecute = true
		logger.Info("✅ Chain submitter ready", "address", sig.Address().Hex(), "chain_id", cfg.Chain.ChainID)
	} else {
		logger.Warn("⚠️ chain.rpc_url or chain.private_key not set, tx submission disabled")
	}

	breaker := service.NewCircuitBreaker(service.ThresholdsFromConfig(cfg.Risk))
	deps.Gate = service.NewRiskGate(breaker, st, gateOpts...)

	// 5. Router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handler.NewRouter(cfg, deps)

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 PolyGuard started", "port", cfg.Server.Port, "read_only", cfg.Server.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	journal.Close()
	if webhook != nil {
		webhook.Close()
	}
	if client != nil {
		client.Close()
	}
	if err := st.Close(); err != nil {
		logger.Error("Failed to close state store", "error", err)
	}

	logger.Info("Server exiting")
}
