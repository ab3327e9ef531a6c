package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openbadger/internal/assertion"
	assertionhandler "openbadger/internal/assertion/handler"
	"openbadger/internal/backlog"
	"openbadger/internal/criteria"
	criteriahandler "openbadger/internal/criteria/handler"
	criteriametrics "openbadger/internal/criteria/metrics"
	"openbadger/internal/directory"
	"openbadger/internal/events"
	"openbadger/internal/issuance"
	issuancehandler "openbadger/internal/issuance/handler"
	"openbadger/internal/platform/config"
	"openbadger/internal/platform/httpserver"
	"openbadger/internal/platform/logger"
	platformpostgres "openbadger/internal/platform/postgres"
	platformredis "openbadger/internal/platform/redis"
	"openbadger/internal/review"
	reviewhandler "openbadger/internal/review/handler"
	"openbadger/internal/template"
	templatehandler "openbadger/internal/template/handler"
	httptransport "openbadger/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Optional backends
// (postgres, redis, kafka) fall back to in-memory or stay disabled when not
// configured, so a dev instance runs with no environment at all.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := platformpostgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}

	var (
		store     criteria.Store
		templates template.Store
		dir       directory.Directory
	)
	if db != nil {
		if err := platformpostgres.Migrate(context.Background(), db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		store = criteria.NewPostgresStore(db)
		templates = template.NewPostgresStore(db)
		dir = directory.NewPostgres(db)
		log.Info("using postgres storage")
	} else {
		store = criteria.NewInMemoryStore()
		templates = template.NewInMemoryStore()
		dir = directory.NewInMemory()
		log.Warn("no postgres configured, using in-memory storage")
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var cache assertion.Cache
	if redisClient != nil {
		cache = assertion.NewRedisCache(redisClient.Client, cfg.AssertionCacheTTL)
		log.Info("using redis assertion cache")
	} else {
		cache = assertion.NewMemoryCache(cfg.AssertionCacheTTL)
	}

	m := criteriametrics.New()

	issuer := issuance.NewClient(cfg.IssuerBaseURL, cfg.IssuerClientID, cfg.IssuerSigningKey, cfg.IssuerTimeout)
	coordinator := issuance.NewCoordinator(store, templates, dir, issuer, m, log)
	reviewer := review.New(store, dir, coordinator, m, log)
	assertions := assertion.NewService(issuer, cache, dir, log)

	router := httptransport.NewRouter(
		func() error {
			if db != nil {
				return db.Ping()
			}
			return nil
		},
		criteriahandler.New(store, log),
		reviewhandler.New(reviewer, store, log),
		issuancehandler.New(coordinator, store, log),
		templatehandler.New(templates, log),
		assertionhandler.New(assertions, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := backlog.NewWorker(store, reviewer, cfg.SweepInterval, m, log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("backlog worker stopped", "error", err)
		}
	}()

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := events.NewConsumer(ctx, cfg.KafkaBrokers, cfg.CompletionTopic, cfg.ConsumerGroup, reviewer, log)
		if err != nil {
			log.Error("kafka consumer setup failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka consumer stopped", "error", err)
			}
		}()
		log.Info("consuming completion events", "topic", cfg.CompletionTopic, "group", cfg.ConsumerGroup)
	}

	go func() {
		log.Info("starting openbadger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
