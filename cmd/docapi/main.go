package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deptdocs/core/internal/auth"
	"deptdocs/core/internal/config"
	"deptdocs/core/internal/logger"
	"deptdocs/core/internal/search"
	"deptdocs/core/internal/server"
	"deptdocs/core/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Development: cfg.LogDev, File: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.Named("meili"))
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts, log.Named("search"))
	} else {
		log.Info("meilisearch not configured, using postgres full-text search")
		searchService = search.NewService(nil, pgfts, log.Named("search"))
	}

	service := server.NewService(server.Deps{
		Store:  dataStore,
		Tokens: auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL),
		Search: searchService,
		Log:    log.Named("service"),
	})
	if err := service.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Warn("bootstrap error (will retry on next restart)", zap.Error(err))
	}

	httpServer := server.NewHTTPServer(service, cfg.CORSOrigin, log.Named("http"))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("document API listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	searchService.Wait()
}
