package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/minishop-io/inventory-engine/internal/application/inbound"
	"github.com/minishop-io/inventory-engine/internal/application/reservation"
	"github.com/minishop-io/inventory-engine/internal/application/watcher"
	domaincatalog "github.com/minishop-io/inventory-engine/internal/domain/catalog"
	domaininv "github.com/minishop-io/inventory-engine/internal/domain/inventory"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/lock"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/memory"
	infraobs "github.com/minishop-io/inventory-engine/internal/infrastructure/observability"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/observability/oteltrace"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/observability/prometrics"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/observability/zaplogger"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/outbox"
	"github.com/minishop-io/inventory-engine/internal/infrastructure/postgres"
	"github.com/minishop-io/inventory-engine/internal/observability"
	httppresentation "github.com/minishop-io/inventory-engine/internal/presentation/http"
	"github.com/minishop-io/inventory-engine/internal/pkg/logging"
)

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "inventory-engine")
	env := getenvDefault("ENV", "dev")

	baseLogger := logging.MustNewLogger(serviceName, env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	appLogger := zaplogger.New(baseLogger)
	tel := infraobs.New(
		oteltrace.New(serviceName),
		appLogger,
		buildCounters(),
		buildHistograms(),
	)
	systemLogger := tel.Logger().With(observability.F("component", "bootstrap"))

	store, cat, closeStore, err := buildStore()
	if err != nil {
		systemLogger.Error("store_init_failed", observability.F("error", err.Error()))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
	defer closeStore()

	locks := buildLockCoordinator(tel.Logger())

	waitTimeout := getenvDuration("LOCK_WAIT_TIMEOUT", 2*time.Second)
	holdTimeout := getenvDuration("LOCK_HOLD_TIMEOUT", 5*time.Second)

	bus := outbox.NewBus(tel.Logger())
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	ingestion := inbound.NewConfirmStockUseCase(store, cat, locks, bus, waitTimeout, holdTimeout, tel)
	coordinator := reservation.NewCoordinator(store, locks, bus, waitTimeout, holdTimeout, tel)

	depletionWatcher := watcher.New(bus, tel)
	depletionWatcher.Start()

	handler := httppresentation.NewHandler(ingestion, coordinator, cat, store, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    getenvDefault("HTTP_ADDR", ":8080"),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", observability.F("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

// buildStore selects the ledger store backend. STORE=postgres enables the
// persistent store with migrations; anything else keeps everything in memory.
func buildStore() (domaininv.Store, domaincatalog.Catalog, func(), error) {
	if getenvDefault("STORE", "memory") != "postgres" {
		return memory.NewStore(), memory.NewCatalog(), func() {}, nil
	}

	cred := &postgres.Credentials{
		Host:              getenvDefault("POSTGRES_HOST", "localhost"),
		Port:              getenvInt("POSTGRES_PORT", 5432),
		User:              getenvDefault("POSTGRES_USER", "postgres"),
		Password:          getenvDefault("POSTGRES_PASSWORD", "postgres"),
		DBName:            getenvDefault("POSTGRES_DB", "inventory"),
		MigrationsDirPath: getenvDefault("MIGRATIONS_DIR", "migrations"),
	}

	store, err := postgres.NewStore(cred)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.RunMigrations(cred); err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	return store, store, func() { _ = store.Close() }, nil
}

// buildLockCoordinator uses Redis when REDIS_ADDR is set; otherwise the
// in-process coordinator, which only fences goroutines within this process.
func buildLockCoordinator(logger observability.Logger) lock.Coordinator {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return lock.NewMemoryCoordinator()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return lock.NewRedisCoordinator(client, logger)
}

func buildCounters() map[observability.MetricKey]observability.Counter {
	reg := prometrics.New("", "")
	return map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: reg.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MExternalRequests: reg.Counter(
			string(observability.MExternalRequests),
			"Total number of outbound calls to peers.",
			"peer", "endpoint", "outcome",
		),
		observability.MLockAcquisitions: reg.Counter(
			string(observability.MLockAcquisitions),
			"Per-product lock acquisition attempts by outcome.",
			"outcome",
		),
		observability.MInvariantViolations: reg.Counter(
			string(observability.MInvariantViolations),
			"Ledger states rejected for violating counter invariants.",
		),
		observability.MStockDepletions: reg.Counter(
			string(observability.MStockDepletions),
			"Times a product's available count reached zero.",
		),
	}
}

func buildHistograms() map[observability.MetricKey]observability.Histogram {
	reg := prometrics.New("", "")
	return map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: reg.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
		observability.MExternalRequestDuration: reg.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of outbound peer calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
