package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pinboard/api/internal/app"
	"pinboard/api/internal/cache"
	"pinboard/api/internal/config"
	"pinboard/api/internal/logging"
	"pinboard/api/internal/store"
	"pinboard/api/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	processors, err := tracing.Processors(cfg.TracesExporter, logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid tracing config")
	}
	tracer, shutdownTracing := tracing.Setup(cfg.ServiceName, processors...)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	dataStore, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	opts := []app.Option{app.WithTracer(tracer)}
	if cfg.RedisURL != "" {
		treeCache, err := cache.NewRedisTreeCache(cfg.RedisURL, cfg.TreeCacheTTL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer treeCache.Close()
		logger.WithField("ttl", cfg.TreeCacheTTL.String()).Info("board tree cache enabled")
		opts = append(opts, app.WithTreeCache(treeCache))
	}

	service := app.New(cfg, dataStore, logger, opts...)
	if cfg.Seed {
		if err := service.Bootstrap(ctx); err != nil {
			logger.WithError(err).Warn("bootstrap failed, will retry on next restart")
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.StoreDriver}).Info("pinboard api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (app.BoardStore, func()) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}

	var migrations fs.FS = store.Migrations()
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := store.ApplyMigrations(ctx, db, migrations)
	if err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}
	logger.WithField("applied", applied).Info("migrations up to date")

	return store.NewPostgresStore(db), func() { _ = db.Close() }
}
