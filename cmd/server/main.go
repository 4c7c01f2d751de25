package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kelaseh/backend/internal/audit"
	"github.com/kelaseh/backend/internal/config"
	httpapi "github.com/kelaseh/backend/internal/http"
	"github.com/kelaseh/backend/internal/jobs"
	"github.com/kelaseh/backend/internal/metrics"
	"github.com/kelaseh/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "kelaseh-backend").Str("env", cfg.Env).Logger()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	quotas, defaultCapacity, err := loadQuotas(cfg.QuotaFile, cfg.DefaultCapacity)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.QuotaFile).Msg("failed to load quota file")
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.DatabaseURL, defaultCapacity)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	if n, err := seedQuotas(ctx, store, quotas); err != nil {
		logger.Fatal().Err(err).Str("file", cfg.QuotaFile).Msg("failed to seed quotas")
	} else if n > 0 {
		logger.Info().Int("quotas", n).Str("file", cfg.QuotaFile).Msg("quotas seeded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sink := audit.Multi{audit.StoreSink{Store: store}, audit.LogSink{Logger: logger}}
	validate := service.NewValidator()
	allocator := &service.Allocator{
		Store:       store,
		Minter:      service.Minter{MaxAttempts: cfg.MintMaxAttempts, Metrics: m},
		Audit:       sink,
		Validator:   validate,
		Clock:       service.SystemClock{},
		Location:    loc,
		MaxAttempts: cfg.IssueMaxAttempts,
		Metrics:     m,
		Logger:      logger,
	}

	pruner := &jobs.UsagePrune{
		Store:         store,
		RetentionDays: cfg.UsageRetentionDays,
		Location:      loc,
		Metrics:       m,
		Logger:        logger,
		Timeout:       time.Minute,
	}
	scheduler, err := pruner.Schedule(cfg.UsagePruneSchedule)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule usage prune")
	}
	scheduler.Start()

	router := httpapi.Router(cfg, httpapi.Deps{
		Store:     store,
		Allocator: allocator,
		Audit:     sink,
		Validator: validate,
		Location:  loc,
		Gatherer:  reg,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("timezone", loc.String()).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	<-scheduler.Stop().Done()
	logger.Info().Msg("server stopped")
}
