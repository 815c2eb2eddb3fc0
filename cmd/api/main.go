package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"staycal/api/internal/app"
	"staycal/api/internal/archive"
	"staycal/api/internal/cache"
	"staycal/api/internal/config"
	"staycal/api/internal/conflict"
	"staycal/api/internal/feed"
	"staycal/api/internal/integrity"
	"staycal/api/internal/log"
	"staycal/api/internal/rangeops"
	"staycal/api/internal/reconcile"
	"staycal/api/internal/search"
	"staycal/api/internal/store"
)

func main() {
	cfg := config.Load()
	log.SetLevel(log.Level(cfg.LogLevel))
	ctx := context.Background()
	loc := cfg.Location()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		if policy == nil {
			fatal("policy load failed", err)
		}
		log.Error("policy file not written, using defaults", err, "path", cfg.PolicyPath)
	}

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Info("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal("database connection failed", err)
		}
		defer db.Close()
		migrations, err := store.Migrations(cfg.MigrationsDir)
		if err != nil {
			fatal("migrations not found", err)
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			fatal("migrations failed", err)
		}
		dataStore = store.NewPostgresStore(db)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore)

	var (
		feedCache feed.Cache
		advisory  conflict.AdvisoryStore = conflict.NewMemoryAdvisoryStore()
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			fatal("redis connection failed", err)
		}
		redisStore := cache.NewRedisStore(client, "staycal:")
		defer redisStore.Close()
		feedCache = feed.NewRedisCache(redisStore, policy.FeedCacheTTL())
		advisory = conflict.NewRedisAdvisoryStore(redisStore, policy.AdvisoryTTL())
		log.Info("using redis for feed cache and conflict advisories")
	}

	var feedArchive reconcile.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fa, err := archive.NewFeedArchive(ctx, archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Error("feed archive unavailable, continuing without it", err)
		} else {
			feedArchive = fa
		}
	}

	repo := integrity.NewRepository(dataStore, policy.PhoneRegion, searchService)
	engine := rangeops.New(dataStore, loc)
	reconciler := reconcile.New(engine, feed.NewFetcher(cfg.FeedTimeout, feedCache), reconcile.Options{
		Labels:      policy.FeedLabels,
		HorizonDays: policy.HorizonDays,
		Location:    loc,
		Archive:     feedArchive,
		Advisory:    advisory,
	})

	service := app.New(app.Deps{
		Store:    dataStore,
		Repo:     repo,
		Engine:   engine,
		Sync:     reconciler,
		Detector: conflict.NewDetector(advisory),
		Search:   searchService,
		Policy:   policy,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Error("bootstrap error (will retry on next restart)", err)
	}

	scheduler := reconcile.NewScheduler(dataStore, reconciler, loc)
	if err := scheduler.Start(policy.SyncCron); err != nil {
		fatal("invalid sync schedule", err, "sync_cron", policy.SyncCron)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("staycal API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", err)
	}
}

func fatal(msg string, err error, kv ...any) {
	log.Error(msg, err, kv...)
	os.Exit(1)
}
