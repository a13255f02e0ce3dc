package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forum/api/internal/app"
	"forum/api/internal/config"
	"forum/api/internal/feed"
	"forum/api/internal/logger"
	"forum/api/internal/metrics"
	"forum/api/internal/search"
	"forum/api/internal/session"
	"forum/api/internal/store"
	"forum/api/internal/tags"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	for _, version := range applied {
		log.Info("migration applied", logger.String("version", version))
	}

	registry := metrics.New()
	dataStore := store.NewPostgresStore(db)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
	} else {
		log.Warn("REDIS_URL is empty; top tags are not cached, logout is disabled and feed pings are not throttled")
	}

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		backend = meili
	}
	searchService := search.NewService(backend, search.NewPgRecords(db), log, registry)
	if cfg.ReindexOnStart {
		go func() {
			if err := searchService.Reindex(context.Background()); err != nil {
				log.Error("reindex failed", logger.Error(err))
				return
			}
			log.Info("reindex finished")
		}()
	}

	pinger := feed.NewPinger(feed.Options{
		URL:      cfg.FeedPingURL,
		Interval: cfg.FeedPingInterval,
		Timeout:  cfg.FeedPingTimeout,
	}, redisClient, log, registry)

	deps := app.Deps{
		Store:   dataStore,
		Tags:    tags.NewService(dataStore, redisClient, cfg.TopTagsTTL, cfg.TopTagsSize, log),
		Index:   searchService,
		Feed:    pinger,
		Metrics: registry,
		Log:     log,
	}
	if redisClient != nil {
		deps.Revocations = session.NewRedisStore(redisClient)
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin: cfg.CORSOrigin,
		Log:        log,
		Metrics:    registry.Handler(),
		EditRPS:    cfg.EditRPS,
		EditBurst:  cfg.EditBurst,
	})
	defer httpServer.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("forum API listening", logger.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logger.Error(err))
	}
	searchService.Wait()
	pinger.Wait()
	log.Info("forum API stopped")
}
