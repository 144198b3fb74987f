// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"crm-delivery-engine/internal/config"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/infra/automation"
	"crm-delivery-engine/internal/infra/automation/webdriver"
	"crm-delivery-engine/internal/infra/crm"
	pg "crm-delivery-engine/internal/infra/db/postgres"
	"crm-delivery-engine/internal/infra/logging"
	"crm-delivery-engine/internal/infra/metrics"
	red "crm-delivery-engine/internal/infra/redis"
	"crm-delivery-engine/internal/infra/security"
	"crm-delivery-engine/internal/infra/web"
	"crm-delivery-engine/internal/infra/worker"
	"crm-delivery-engine/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	admission := red.NewAdmissionController(redisClient, cfg.Queue.RateLimit, cfg.Queue.RateWindow, cfg.Queue.DedupeWindow)
	events := red.NewEventPublisher(redisClient, cfg.Queue.EventsChannel)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		logger.Warn().Msg("security.encryption_key not set or not 32 bytes; falling back to dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption init failed")
	}
	credCache := red.NewCredentialCache(redisClient, encSvc, cfg.Redis.TTL)

	// ---- Repositories ----
	jobRepo := pg.NewDeliveryJobRepo(pool, tm)
	credRepo := pg.NewCredentialRepo(pool, encSvc)
	msgRepo := pg.NewMessageRecordRepo(pool)

	// ---- CRM token lifecycle ----
	tokens := crm.NewTokenManager(cfg.CRM, credRepo, credCache, logger)

	// ---- Automation pool ----
	autoPool := automation.NewPool(
		engineFactory(cfg.Automation.Endpoints),
		cfg.Automation.SessionsPerEngine,
		cfg.Automation.MaxEngines,
		cfg.Automation.IdleTimeout,
		logger,
	)
	go autoPool.RunEvictor(ctx, cfg.Automation.EvictInterval)

	// ---- Delivery engine ----
	dispatcher := worker.NewDispatcher(tokens, autoPool, cfg.CRM.RatePerSec,
		cfg.Automation.ScreenshotDir, cfg.APIFallbackEnabled(), logger)
	processor := worker.NewProcessor(jobRepo, msgRepo, events, dispatcher, worker.ProcessorConfig{
		PollInterval: cfg.Worker.PollInterval,
		BackoffBase:  cfg.Worker.BackoffBase,
		JobTimeout:   cfg.Worker.JobTimeout,
	}, logger)
	sweeper := worker.NewSweeper(jobRepo, events, worker.SweeperConfig{
		Interval:       cfg.Worker.SweepInterval,
		StallThreshold: cfg.Worker.StallThreshold,
		MaxReclaims:    cfg.Worker.MaxReclaims,
		Retention:      cfg.Queue.Retention,
	}, logger)

	wpool := worker.NewPool(cfg.Worker.Concurrency, logger)
	wpool.Start(ctx)
	go processor.Start(ctx, wpool)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- Ingress API ----
	queueUC := usecase.NewQueueUseCase(jobRepo, admission, events, cfg.Worker.MaxAttempts, logger)
	statsUC := usecase.NewStatsUseCase(jobRepo, 15*time.Minute, logger)
	srv := web.NewServer(queueUC, statsUC, logger)
	httpServer := &http.Server{Addr: cfg.API.Addr, Handler: srv.Router()}
	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	wpool.Stop()
	autoPool.Close(shutdownCtx)
}

// engineFactory cycles the configured WebDriver endpoints as the pool asks
// for more engines.
func engineFactory(endpoints []string) adapter.EngineFactory {
	var mu sync.Mutex
	next := 0
	return func(ctx context.Context) (adapter.AutomationEngine, error) {
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("no automation endpoints configured")
		}
		mu.Lock()
		ep := endpoints[next%len(endpoints)]
		next++
		mu.Unlock()
		eng := webdriver.NewEngine(ep)
		if !eng.Healthy(ctx) {
			return nil, fmt.Errorf("automation endpoint %s not ready", ep)
		}
		return eng, nil
	}
}
