package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/api"
	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/netmon"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/remote"
	"pos-sync-service/internal/store"
	syncengine "pos-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS Sync Service")

	// The single durable-storage handle, opened lazily on first use and
	// shared by every component.
	handle := store.NewHandle(cfg.Storage.FilePath)
	localStore := store.NewSQLiteStore(handle)
	defer localStore.Close()

	// Remote billing server client
	remoteClient := remote.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.SalePath, cfg.Upstream.GetRequestTimeout())

	// Network Monitor
	probe, err := netmon.DialProber(cfg.Upstream.BaseURL, cfg.Network.GetProbeTimeout())
	if err != nil {
		logger.Log.Fatal("Failed to build network probe", zap.Error(err))
	}
	monitor := netmon.NewMonitor(probe, cfg.Network.GetProbeInterval())

	// Pending-operation queue and sync engine
	syncQueue := queue.New(localStore)
	engine := syncengine.NewEngine(cfg.Sync, syncQueue, localStore, remoteClient, monitor, nil)
	refresher := syncengine.NewRefresher(localStore, remoteClient, monitor)
	scheduler := syncengine.NewScheduler(cfg.Scheduler, engine)

	// Cache proxy for document/asset traffic
	proxy, err := cache.NewProxy(cfg.Cache, cfg.Upstream.BaseURL, cfg.Upstream.GetRequestTimeout(), localStore)
	if err != nil {
		logger.Log.Fatal("Failed to build cache proxy", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	monitor.Start()
	if monitor.IsOnline() {
		installCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := proxy.Install(installCtx); err != nil {
			cancel()
			logger.Log.Fatal("Cache install failed", zap.Error(err))
		}
		cancel()
	} else {
		logger.Log.Warn("Offline at startup, serving previously cached generations")
	}
	if err := proxy.Activate(ctx); err != nil {
		logger.Log.Fatal("Cache activation failed", zap.Error(err))
	}

	engine.Start()
	refresher.Start(ctx)
	scheduler.Start()

	// Init API
	handler := api.NewHandler(localStore, syncQueue, engine, remoteClient, monitor, proxy)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}

	// The monitor goes down before the engine so no connectivity edge can
	// trigger a drain while the engine is waiting out its last one.
	scheduler.Stop()
	monitor.Stop()
	engine.Stop()
}
