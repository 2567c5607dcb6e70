// Coffre Server
//
// Multi-tenant file-storage HTTP service. Each user owns a namespaced
// directory tree under a shared base directory; files are stored
// gzip-compressed at rest.
//
// Features:
// - JWT authentication over a PostgreSQL user store
// - Per-user namespace isolation with path-traversal containment
// - Streaming compressed upload / download
// - Prometheus metrics & structured logging (zap)
// - Per-user rate limiting
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coffre/coffre/internal/api"
	"github.com/coffre/coffre/internal/auth"
	"github.com/coffre/coffre/internal/config"
	"github.com/coffre/coffre/internal/logging"
	"github.com/coffre/coffre/internal/metrics"
	"github.com/coffre/coffre/internal/vfs"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Coffre Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("base_dir", cfg.BaseDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the user store
	logging.Info("connecting to PostgreSQL...")
	store, err := auth.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// Initialize auth
	authProvider := auth.New(store, cfg.JWTSecret, cfg.TokenTTL)
	if err := authProvider.EnsureDefaultAdmin(ctx); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}

	// Initialize the virtual filesystem; creates the base directory.
	resolver, err := vfs.NewResolver(cfg.BaseDir)
	if err != nil {
		logging.Fatal("base directory init failed", zap.Error(err))
	}

	// Create API server
	srv := api.NewServer(authProvider, resolver, cfg.MaxUploadSize, cfg.RequestsPerMinute)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Periodic rate limiter bucket cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.Limiter().Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
