package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ecociel/fetchq/adapter"
	"github.com/ecociel/fetchq/adapter/httpapi"
	"github.com/ecociel/fetchq/api"
	"github.com/ecociel/fetchq/config"
	"github.com/ecociel/fetchq/domain"
	"github.com/ecociel/fetchq/gateway/kafka"
	"github.com/ecociel/fetchq/kafkaclient"
	"github.com/ecociel/fetchq/metrics"
	"github.com/ecociel/fetchq/repos/postgres"
	"github.com/ecociel/fetchq/repos/rediscache"
	"github.com/ecociel/fetchq/runner"
	"github.com/ecociel/fetchq/uc"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DbConnectionUri)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate task store")
	}

	kClient, err := kafkaclient.New(cfg.QueueHostPorts, cfg.EventsTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("connect kafka")
	}
	defer kClient.Close()
	publisher := kafka.New(kClient, cfg.EventsTopic)

	var cache uc.StatusCache
	if cfg.RedisAddress != "" {
		rc, err := rediscache.New(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDb, cfg.StatusCacheTtl)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rc.Close()
		cache = rc
	}

	workers, err := ants.NewPool(cfg.Workers)
	if err != nil {
		log.Fatal().Err(err).Msg("create worker pool")
	}
	defer workers.Release()

	reg := prometheus.NewRegistry()
	m := metrics.NewPromMetrics(reg)

	upstream := httpapi.New(cfg.UpstreamBaseUrl, cfg.UpstreamTimeout, log)
	mux := adapter.NewMux()
	mux.Register(domain.KindFetchItemMetadata, upstream)
	mux.Register(domain.KindFetchAccounts, upstream)
	mux.Register(domain.KindFetchTransactions, upstream)

	policy := uc.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffCap,
	}

	enqueue := uc.MakeEnqueueUseCase(store, cache, log)
	status := uc.MakeStatusUseCase(store, cache, log)
	process := uc.MakeProcessDueTasksUseCase(store, mux, publisher, workers, policy, m, cache, log)
	reclaim := uc.MakeReclaimStuckUseCase(store, m, log)

	container := restful.NewContainer()
	container.Add(api.New(enqueue, status, log).WebService())
	container.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.HttpAddr, Handler: container}
	go func() {
		log.Info().Str("addr", cfg.HttpAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	log.Info().Int("workers", cfg.Workers).Dur("poll_interval", cfg.PollInterval).Msg("dispatcher started")
	runner.New(process, reclaim, cfg.ClaimLimit, cfg.PollInterval, cfg.StuckAfter, log).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
