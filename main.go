package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	cfg "github.com/Kocoro-lab/Shannon/go/settings/internal/config"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/definitions"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/health"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/httpapi"
	_ "github.com/Kocoro-lab/Shannon/go/settings/internal/metrics" // Import for side effects
	"github.com/Kocoro-lab/Shannon/go/settings/internal/router"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(conf.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(conf.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled after initialization failure", zap.Error(err))
	}

	// Document store
	store, closeStore, err := storage.Open(ctx, conf.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open settings store", zap.String("backend", conf.Storage.Backend), zap.Error(err))
	}
	logger.Info("Settings store opened", zap.String("backend", conf.Storage.Backend))

	// Definitions catalog; hot reload is driven by the watcher in Start
	catalog, err := definitions.NewCatalog(conf.Settings.DefinitionsDir, logger)
	if err != nil {
		logger.Fatal("Failed to create definitions catalog", zap.Error(err))
	}
	if !conf.Settings.AsyncLoading {
		if err := catalog.Load(); err != nil {
			logger.Warn("Some setting definitions failed to load", zap.Error(err))
		}
	}
	if err := catalog.Start(ctx); err != nil {
		logger.Fatal("Failed to watch definitions directory", zap.String("dir", catalog.Dir()), zap.Error(err))
	}

	rt := router.NewRouter(catalog, store, router.Config{
		MaxProfiles: conf.Settings.MaxProfiles,
		Profile:     conf.Settings.Profile,
	}, logger)

	hub := streaming.NewHub(streaming.DefaultCapacity)
	hub.Follow(rt)

	sessionID, err := rt.OpenSession(ctx)
	if err != nil {
		logger.Fatal("Failed to open settings session", zap.Error(err))
	}
	logger.Info("Settings session opened", zap.String("session_id", sessionID))

	// Health checks
	hm := health.NewManager(logger)
	if p, ok := store.(storage.Pinger); ok {
		var sc *health.StoreHealthChecker
		if g, ok := store.(*storage.GuardedStore); ok {
			sc = health.NewStoreHealthChecker(p, g.Breaker())
		} else {
			sc = health.NewStoreHealthChecker(p, nil)
		}
		if err := hm.RegisterChecker(sc); err != nil {
			logger.Warn("Failed to register store health checker", zap.Error(err))
		}
	}
	if err := hm.RegisterChecker(health.NewCatalogHealthChecker(catalog)); err != nil {
		logger.Warn("Failed to register catalog health checker", zap.Error(err))
	}
	if err := hm.RegisterChecker(health.NewSessionHealthChecker(rt)); err != nil {
		logger.Warn("Failed to register session health checker", zap.Error(err))
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpapi.NewHandler(rt, catalog, hub, httpapi.Options{
		RequestsPerSecond: conf.RateLimit.RequestsPerSecond,
		Burst:             conf.RateLimit.Burst,
		PingInterval:      conf.Stream.PingInterval,
		ReadTimeout:       conf.Stream.ReadTimeout,
	}, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(conf.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  conf.HTTP.ReadTimeout,
		WriteTimeout: conf.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Settings HTTP server listening", zap.Int("port", conf.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Settings HTTP server failed", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down settings service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked WebSocket streams end when CloseSession closes their topics
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	rt.CloseSession()
	cancel()
	if err := catalog.Stop(); err != nil {
		logger.Error("Failed to stop definitions watcher", zap.Error(err))
	}
	if err := closeStore(); err != nil {
		logger.Error("Failed to close settings store", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Failed to flush traces", zap.Error(err))
		}
	}
}

func newLogger(lc cfg.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
