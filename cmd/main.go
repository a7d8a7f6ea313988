package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"UnShiney/server/internal/backend"
	"UnShiney/server/internal/config"
	"UnShiney/server/internal/storage"
	"UnShiney/server/internal/training"
	"UnShiney/server/internal/web"
	"UnShiney/server/internal/workspace"
)

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()
	defer klog.Flush()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		klog.Warningf("Failed to load config %s, using defaults: %v", *configPath, err)
		cfg = config.Default()
	}
	if cfg.Logging.Verbosity > 0 {
		_ = flag.Set("v", strconv.Itoa(cfg.Logging.Verbosity))
	}

	// Initialize storage connections
	stores := storage.Open(cfg.Storage)
	defer func() {
		if err := stores.Close(); err != nil {
			klog.Warningf("Storage close error: %v", err)
		}
	}()

	// Deshine service client and on-disk result cache
	client := backend.NewDeshineClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	cache := backend.NewResultCache(cfg.Cache.Directory, cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if err := cache.Initialize(); err != nil {
		klog.Warningf("Result cache disabled: %v", err)
		cache = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := web.NewEventHub()
	go hub.Run(ctx)

	ws := workspace.New(workspace.Deps{
		Upstream:       client,
		Cache:          cache,
		Configs:        stores.Configs,
		Snapshots:      stores.Snapshots,
		Events:         hub,
		Scheduler:      training.TickerScheduler{},
		TickInterval:   cfg.Training.TickInterval,
		ProcessWorkers: cfg.Backend.ProcessWorkers,
		SamplePreviews: cfg.Backend.SamplePreviews,
		ThumbnailSize:  cfg.Backend.ThumbnailSize,
	})
	ws.Start(ctx)
	defer ws.Close()

	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.HealthCheck(healthCtx); err != nil {
		klog.Warningf("Deshine service at %s is not reachable yet: %v", client.BaseURL(), err)
	} else {
		klog.Infof("Deshine service at %s is up", client.BaseURL())
	}
	healthCancel()

	r := web.NewRouter(cfg, ws, hub)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in background
	go func() {
		klog.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	klog.Info("Server shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("Server shutdown error: %v", err)
	}

	klog.Info("Server stopped")
}
