package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/booking"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/cancellation"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/config"
	handlers "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/http"
	mid "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/middleware"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/obs"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/providers"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/resilience"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/routes"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/search"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/store"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/supplier"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/token"
)

type App struct {
	Router       http.Handler
	Search       *search.Orchestrator
	Booking      *booking.Orchestrator
	Cancellation *cancellation.Service
	Worker       *cancellation.Worker
	Metrics      *obs.Metrics
	Logger       *slog.Logger

	queue cancellation.Queue
	rdb   *redis.Client
}

// backends are the shared state stores, in memory or in redis.
type backends struct {
	sessions     store.Store
	records      store.Store
	deadLetters  store.Store
	queue        cancellation.Queue
	searchLimits resilience.RateLimiter
	pollLimits   resilience.RateLimiter
	rdb          *redis.Client
}

func newBackends(cfg *config.Config, logger *slog.Logger) (*backends, error) {
	if cfg.Store.Driver == "redis" {
		kv, rdb, err := store.NewRedisFromURL(cfg.Store.RedisURL, cfg.Store.Prefix)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &backends{
			sessions:     kv,
			records:      kv,
			deadLetters:  kv,
			queue:        cancellation.NewRedisQueue(rdb, cfg.Store.Prefix),
			searchLimits: resilience.NewRedisWindowLimiter(rdb, cfg.Store.Prefix+"rl:search", cfg.RateLimit.SearchesPerMinute, time.Minute, logger),
			pollLimits:   resilience.NewRedisWindowLimiter(rdb, cfg.Store.Prefix+"rl:poll", cfg.RateLimit.PollsPerMinute, time.Minute, logger),
			rdb:          rdb,
		}, nil
	}
	return &backends{
		sessions:     store.NewMemory(cfg.Session.MaxEntries),
		records:      store.NewMemory(cfg.Idempotency.MaxEntries),
		deadLetters:  store.NewMemory(0),
		queue:        cancellation.NewMemoryQueue(),
		searchLimits: resilience.NewWindowLimiter(cfg.RateLimit.SearchesPerMinute, time.Minute),
		pollLimits:   resilience.NewWindowLimiter(cfg.RateLimit.PollsPerMinute, time.Minute),
	}, nil
}

func newRegistry(cfg *config.Config) *supplier.Registry {
	codes := make([]string, 0, len(cfg.Suppliers))
	for code := range cfg.Suppliers {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	reg := supplier.NewRegistry()
	for i, code := range codes {
		sc := cfg.Suppliers[code]
		reg.Register(providers.NewMockSupplier(code, providers.MockOptions{
			AvgLatency: sc.AvgLatency,
			FailRate:   sc.FailRate,
			PollRounds: sc.PollRounds,
			Amend:      sc.Amend,
			OfferTTL:   cfg.Offer.TTL,
		}, int64(i)))
		reg.SetEnabled(code, sc.Enabled)
	}
	return reg
}

// SetAppConfig wires every component from cfg.
func SetAppConfig(cfg *config.Config, logger *slog.Logger) (*App, error) {
	codec, err := token.NewCodec([]byte(cfg.Token.Secret))
	if err != nil {
		return nil, err
	}
	b, err := newBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	customRegistry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(customRegistry)
	registry := newRegistry(cfg)
	breakers := resilience.NewBreakerRegistry(resilience.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	}, logger, metrics.SetCircuitOpen)
	bulkhead := resilience.NewBulkhead(cfg.Search.BulkheadSize, cfg.Search.BulkheadWait)

	searchOrch := search.NewOrchestrator(search.Deps{
		Registry:     registry,
		Codec:        codec,
		SearchLimits: b.searchLimits,
		PollLimits:   b.pollLimits,
		Breakers:     breakers,
		Bulkhead:     bulkhead,
		Sessions:     search.NewSessionStore(b.sessions, cfg.Session.TTL),
		Metrics:      metrics,
		Logger:       logger.With("component", "search"),
	}, search.Settings{
		Timeout:             cfg.Search.Timeout,
		OfferTTL:            cfg.Offer.TTL,
		CircuitOpenFallback: cfg.Search.CircuitOpenFallback,
		PollRetry: resilience.RetryPolicy{
			MaxRetries:   cfg.Search.PollRetries,
			InitialDelay: resilience.DefaultRetryPolicy.InitialDelay,
			MaxDelay:     resilience.DefaultRetryPolicy.MaxDelay,
		},
	})

	bookingOrch := booking.NewOrchestrator(booking.Deps{
		Registry: registry,
		Codec:    codec,
		Breakers: breakers,
		Bulkhead: bulkhead,
		Records:  b.records,
		Metrics:  metrics,
		Logger:   logger.With("component", "booking"),
	}, booking.Settings{Timeout: cfg.Booking.Timeout, IdempotencyTTL: cfg.Idempotency.TTL})

	cancelSvc := cancellation.NewService(cancellation.Deps{
		Registry:    registry,
		Codec:       codec,
		Bulkhead:    bulkhead,
		Queue:       b.queue,
		DeadLetters: cancellation.NewDeadLetters(b.deadLetters),
		Metrics:     metrics,
		Logger:      logger.With("component", "cancellation"),
	}, cancellation.Settings{
		SyncTimeout: cfg.Cancellation.SyncTimeout,
		MaxRetries:  cfg.Cancellation.MaxRetries,
		TaskExpiry:  cfg.Cancellation.TaskExpiry,
	})

	h := handlers.NewHandler(searchOrch, bookingOrch, cancelSvc)
	router := routes.GetRoutes(h, metrics, logger, routes.Options{
		Tenants:        tenant.NewDirectory(cfg.TenantSuppliers()),
		EdgeLimiter:    mid.NewIPRateLimiter(cfg.Server.EdgeRatePerSecond, cfg.Server.EdgeBurst),
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	return &App{
		Router:       router,
		Search:       searchOrch,
		Booking:      bookingOrch,
		Cancellation: cancelSvc,
		Worker:       cancellation.NewWorker(cancelSvc, cfg.Cancellation.WorkerInterval),
		Metrics:      metrics,
		Logger:       logger,
		queue:        b.queue,
		rdb:          b.rdb,
	}, nil
}

// Start checks the backends and starts the cancellation worker. The worker stops
// when ctx is done or Close is called.
func (a *App) Start(ctx context.Context) error {
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	if rq, ok := a.queue.(*cancellation.RedisQueue); ok {
		n, err := rq.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore cancellation queue: %w", err)
		}
		if n > 0 {
			a.Logger.Info("restored in-flight cancellations", "tasks", n)
		}
	}
	return a.Worker.Start(ctx)
}

func (a *App) Close() error {
	var errs []error
	if err := a.Worker.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop worker: %w", err))
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
