package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/bigcommerce"
	"stocksync-api/internal/cache"
	"stocksync-api/internal/config"
	"stocksync-api/internal/handler"
	"stocksync-api/internal/inventory"
	"stocksync-api/internal/lightspeed"
	"stocksync-api/internal/logger"
	"stocksync-api/internal/metrics"
	"stocksync-api/internal/reconcile"
	"stocksync-api/internal/repository"
	"stocksync-api/internal/router"
	"stocksync-api/internal/service"
	"stocksync-api/internal/upstream"
)

func main() {
	cfg := config.MustLoad()

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).
		With(zap.String("service", cfg.App.Name))
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("version", cfg.App.Version), zap.String("env", cfg.App.Environment))

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()
	m := metrics.New()

	// Storage: inventory plus credential/cursor state
	stores, err := repository.Open(ctx, cfg.InventoryDB, cfg.StateDB, log)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("closing stores", zap.Error(err))
		}
	}()

	checks := []handler.ReadinessCheck{{
		Name: "inventory_db",
		Check: func(ctx context.Context) error {
			_, err := stores.Inventory.GetStats(ctx)
			return err
		},
	}}

	// Lookup cache
	var lookupCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisPrefix,
		}, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		lookupCache = rc
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: rc.Ping})
	default:
		lookupCache = cache.NewMemoryCache(time.Minute)
	}
	defer lookupCache.Close()

	inventorySvc := service.NewInventoryService(stores.Inventory, lookupCache, cfg.Cache.TTL, log)

	// Upstream point-of-sale API
	ls := cfg.Lightspeed
	lsHTTP := upstream.NewClient(upstream.ClientConfig{
		RequestTimeout: ls.RequestTimeout,
		RatePerSecond:  ls.RatePerSecond,
		RateBurst:      ls.RateBurst,
	})
	tokens := lightspeed.NewTokenManager(lightspeed.TokenConfig{
		IntegrationID: ls.IntegrationID,
		ClientID:      ls.ClientID,
		ClientSecret:  ls.ClientSecret,
		TokenURL:      ls.TokenURL,
	}, stores.State, lsHTTP, log, m)
	fetcher := lightspeed.NewFetcher(lightspeed.FetcherConfig{
		MaxRetries: ls.MaxRetries,
		BaseDelay:  ls.BaseDelay,
	}, lsHTTP, tokens, log, m)
	orchestrator := lightspeed.NewOrchestrator(lightspeed.OrchestratorConfig{
		BaseURL:       ls.BaseURL,
		AccountID:     ls.AccountID,
		LoadRelations: ls.LoadRelations,
		PageSize:      ls.PageSize,
		Concurrency:   ls.Concurrency,
		Paging:        lightspeed.Paging(ls.Paging),
	}, fetcher, log)

	filter, err := inventory.NewFilter(cfg.Sync.IncludePattern)
	if err != nil {
		return err
	}

	// Downstream targets
	storeReconciler := reconcile.NewStoreReconciler(inventorySvc, cfg.Sync.WriteWorkers, log, m)

	var platformReconciler service.Reconciler
	if bc := cfg.BigCommerce; bc.Enabled {
		bcHTTP := upstream.NewClient(upstream.ClientConfig{
			RequestTimeout: bc.RequestTimeout,
			RatePerSecond:  bc.RatePerSecond,
			RateBurst:      bc.RateBurst,
		})
		client := bigcommerce.NewClient(bigcommerce.Config{
			BaseURL:     bc.BaseURL,
			StoreHash:   bc.StoreHash,
			AccessToken: bc.AccessToken,
			PageSize:    bc.PageSize,
			Concurrency: bc.Concurrency,
			MaxRetries:  bc.MaxRetries,
			BaseDelay:   bc.BaseDelay,
		}, bcHTTP, log, m)

		var transform reconcile.KeyTransform = reconcile.SameKey
		if bc.KeySeparator != "" {
			transform = reconcile.PrefixBefore(bc.KeySeparator)
		}
		platformReconciler = reconcile.NewPlatformReconciler(client, transform, bc.Concurrency, log, m)
		log.Info("second platform enabled", zap.String("store_hash", bc.StoreHash))
	}

	syncSvc := service.NewSyncService(
		orchestrator,
		filter,
		storeReconciler,
		platformReconciler,
		inventorySvc,
		stores.State,
		service.SyncConfig{Stream: cfg.Sync.Stream},
		log,
		m,
	)

	scheduler := service.NewSyncScheduler(syncSvc, service.SchedulerConfig{
		Interval:     cfg.Sync.Interval,
		RunOnStartup: cfg.Sync.RunOnStartup,
		RunTimeout:   cfg.Sync.RunTimeout,
		Incremental:  cfg.Sync.Incremental,
	}, log)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP
	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, checks...),
		InventoryHandler: handler.NewInventoryHandler(inventorySvc, log),
		SyncHandler:      handler.NewSyncHandler(syncSvc, cfg.Sync.Incremental, cfg.Sync.RunTimeout, log),
		AdminHandler:     handler.NewAdminHandler(inventorySvc, syncSvc, stores.InventoryType, cfg.Cache.Type),
		Metrics:          m.Handler(),
		APIKeys:          cfg.App.APIKeys,
		Logger:           log,
	})
	if len(cfg.App.APIKeys) == 0 {
		log.Warn("API_KEYS is empty, sync and admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
