package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finsync/internal/aggregate"
	"finsync/internal/alerts"
	"finsync/internal/amqp"
	"finsync/internal/backend"
	"finsync/internal/cache"
	"finsync/internal/cli"
	"finsync/internal/config"
	"finsync/internal/core"
	apphttp "finsync/internal/http"
	"finsync/internal/insights"
	"finsync/internal/log"
	"finsync/internal/remote/rest"
	"finsync/internal/repository"
	"finsync/internal/services"
	"finsync/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	db := cli.OpenStore(logger.WithComponent(log.ComponentStorage), cfg.SQLiteDBPath)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	remote, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	pool := worker.NewPool(cfg.SyncWorkers, logger.WithComponent(log.ComponentWorker))
	syncLogger := logger.WithComponent(log.ComponentSync)

	txCfg := repository.Config[core.Transaction]{
		Local:    db.Transactions,
		Strategy: remote.Transactions,
		Pool:     pool,
		Logger:   syncLogger,
	}
	budgetCfg := repository.Config[core.BudgetGoal]{
		Local:    db.Budgets,
		Strategy: remote.Budgets,
		Pool:     pool,
		Logger:   syncLogger,
	}
	if cfg.SeedDefaults {
		txCfg.Defaults = repository.DefaultTransactions()
		budgetCfg.Defaults = repository.DefaultBudgets()
	}

	txRepo, err := repository.NewTransactionRepository(txCfg, aggregate.NewMaintainer(db.Aggregates))
	if err != nil {
		logger.Error("Failed to build transaction repository", "error", err)
		os.Exit(1)
	}

	sink, alertClient := buildAlertSink(cfg, logger.WithComponent(log.ComponentAlerts))
	userID := func() string { return cfg.AlertUserID }
	budgetRepo, err := repository.NewBudgetRepository(budgetCfg, sink, userID)
	if err != nil {
		logger.Error("Failed to build budget repository", "error", err)
		os.Exit(1)
	}

	// The document store keeps its own monthly mirror inside each write
	// transaction; read insights from it when present.
	aggregates := txRepo.Aggregates()
	if remote.RemoteAggregates != nil {
		aggregates = aggregate.NewMaintainer(remote.RemoteAggregates)
	}

	monthly := cache.NewLRU[aggregate.Monthly](24, 10*time.Minute)
	caches := cache.NewManager(logger.WithComponent(log.ComponentCache))
	caches.Register(monthly)
	caches.StartCleanup(5 * time.Minute)
	defer caches.Stop()

	reader := insights.NewReader(aggregates, budgetRepo, monthly)
	svc := services.NewFinanceService(txRepo, budgetRepo, reader)
	if alertClient != nil {
		svc.AddCloser(alertClient)
	}
	svc.AddCloser(remote)
	svc.AddCloser(db)

	if err := svc.Bootstrap(ctx); err != nil {
		logger.Error("Bootstrap failed", log.FieldOperation, log.OpStartup, log.FieldError, err)
		shutdown(logger, pool, svc, nil, nil)
		os.Exit(1)
	}
	for kind, st := range svc.NetworkStates() {
		logger.Info("Initial sync", "kind", kind, "state", st.Kind.String(), "message", st.Message)
	}

	processor := services.NewSyncProcessor(svc, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		RunOnStart:   false,
	})
	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		shutdown(logger, pool, svc, nil, nil)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, processor, db, logger.WithComponent(log.ComponentHTTP))
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		logger.Info("Starting finsync", "port", cfg.Port, "backend", cfg.DataBackend, "workers", cfg.SyncWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdown(logger, pool, svc, processor, srv)
	logger.Info("finsync stopped")
}

// shutdown stops intake first, then background work, then releases the
// repositories, the remote clients and the database in that order.
func shutdown(logger *log.Logger, pool *worker.Pool, svc *services.FinanceService, processor *services.SyncProcessor, srv *apphttp.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}
	if processor != nil {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Sync processor shutdown error", "error", err)
		}
	}
	if err := pool.Close(ctx); err != nil {
		logger.Warn("Background tasks abandoned, rows stay pending", "error", err)
	}
	if err := svc.Close(ctx); err != nil {
		logger.Error("Shutdown error", log.FieldOperation, log.OpShutdown, log.FieldError, err)
	}
}

// buildAlertSink fans alerts out to every configured destination. The AMQP
// client is returned so it can be closed on shutdown.
func buildAlertSink(cfg *config.Config, logger *log.Logger) (alerts.Sink, *amqp.Client) {
	var sinks alerts.MultiSink
	var client *amqp.Client

	if cfg.RiskServiceURL != "" {
		sinks = append(sinks, alerts.NewHTTPSink(rest.NewClient(cfg.RiskServiceURL, cfg.LedgerTimeout)))
		logger.Info("Budget alerts go to risk service", "url", cfg.RiskServiceURL)
	}
	if cfg.AMQPURL != "" {
		c, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPAlertRoutingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without it", "error", err)
		} else {
			client = c
			sinks = append(sinks, alerts.NewAMQPSink(c))
			logger.Info("Budget alerts go to AMQP",
				"exchange", cfg.AMQPExchange,
				"routing_key", cfg.AMQPAlertRoutingKey)
		}
	}
	if cfg.AlertsEnabled() && cfg.AlertUserID == "" {
		logger.Warn("ALERT_USER_ID is empty, budget alerts will not be delivered")
	}

	switch len(sinks) {
	case 0:
		return nil, client
	case 1:
		return sinks[0], client
	default:
		return sinks, client
	}
}
