package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"paygate/internal/confidential"
	jwttoken "paygate/internal/jwt_token"
	"paygate/internal/payroll/address"
	"paygate/internal/payroll/handler"
	payrollmetrics "paygate/internal/payroll/metrics"
	"paygate/internal/payroll/service"
	"paygate/internal/payroll/store"
	"paygate/internal/platform/config"
	"paygate/internal/platform/httpserver"
	"paygate/internal/platform/kafka/consumer"
	"paygate/internal/platform/kafka/producer"
	"paygate/internal/platform/logger"
	httpmetrics "paygate/internal/platform/metrics"
	"paygate/internal/platform/postgres"
	redisclient "paygate/internal/platform/redis"
	"paygate/internal/screening"
	"paygate/pkg/platform/audit"
	auditconsumer "paygate/pkg/platform/audit/consumer"
	"paygate/pkg/platform/audit/outbox"
	"paygate/pkg/platform/audit/publishers/compliance"
	"paygate/pkg/platform/audit/publishers/security"
	auditmemory "paygate/pkg/platform/audit/store/memory"
	auditpostgres "paygate/pkg/platform/audit/store/postgres"
	"paygate/pkg/platform/httputil"
	"paygate/pkg/platform/middleware/admin"
	"paygate/pkg/platform/middleware/metadata"
	"paygate/pkg/platform/middleware/request"
	"paygate/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// auditStore is what the server needs from either audit backend.
type auditStore interface {
	audit.Store
	handler.AuditReader
}

// infra holds the optional backing services. Nil fields are not configured.
type infra struct {
	db    *sql.DB
	redis *redisclient.Client
}

func (i *infra) close() {
	if i.db != nil {
		_ = i.db.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("paygate exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deriver := address.Default()
	if cfg.AddressNamespace != "" {
		if deriver, err = address.NewDeriver(cfg.AddressNamespace); err != nil {
			return err
		}
	}

	deps, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	ledger, ledgerTx, err := buildLedger(cfg, deps)
	if err != nil {
		return err
	}

	var events auditStore = auditmemory.NewInMemoryStore()
	if deps.db != nil {
		events = auditpostgres.New(deps.db)
	}
	compliancePublisher := compliance.New(events,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	securityPublisher := security.New(events, security.WithLogger(log))

	inspector, registry := buildInspector(cfg, log)
	svc := service.New(ledger, ledgerTx, inspector,
		service.WithLogger(log),
		service.WithDeriver(deriver),
		service.WithAuditPublisher(compliancePublisher),
		service.WithSecurityPublisher(securityPublisher),
		service.WithScreeningOracle(buildOracle(cfg, deps, log)),
		service.WithMetrics(payrollmetrics.New(prometheus.DefaultRegisterer)),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	var handlerOpts []handler.Option
	if registry != nil {
		handlerOpts = append(handlerOpts, handler.WithAccountRegistry(registry))
	}
	h := handler.New(svc, events, jwttoken.NewJWTServiceAdapter(jwtService), log, handlerOpts...)

	router := chi.NewRouter()
	router.Use(request.RequestID)
	router.Use(metadata.ClientMetadata)
	router.Use(requesttime.Middleware)
	router.Use(chimiddleware.Recoverer)
	router.Use(httpmetrics.New(prometheus.DefaultRegisterer).Middleware)
	router.Use(chimiddleware.Timeout(requestTimeout))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/readyz", readiness(deps))
	router.Handle("/metrics", promhttp.Handler())
	h.Register(router)
	router.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, log))
		h.RegisterAdmin(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return securityPublisher.Run(gctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		if err := startAuditPipeline(gctx, g, cfg, deps.db, log); err != nil {
			return err
		}
	}

	g.Go(func() error {
		log.Info("starting paygate",
			"addr", cfg.Addr,
			"store", cfg.Store,
			"environment", cfg.Environment,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down paygate")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			deps.close()
			return nil, err
		}
		log.Info("connected to postgres")
	}
	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if rdb != nil {
		deps.redis = rdb
		log.Info("connected to redis")
	}
	return deps, nil
}

func buildLedger(cfg config.Server, deps *infra) (service.Ledger, service.LedgerTx, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return store.NewPostgres(deps.db), newLedgerPostgresTx(deps.db, cfg.TxTimeout), nil
	case config.StoreRedis:
		s := store.NewRedis(deps.redis.Client, store.WithRedisTxTimeout(cfg.TxTimeout))
		return s, s, nil
	case config.StoreMemory:
		s := store.NewInMemory()
		return s, s, nil
	}
	return nil, nil, errors.New("unknown store " + cfg.Store)
}

func buildOracle(cfg config.Server, deps *infra, log *slog.Logger) service.ScreeningOracle {
	if cfg.Screening.BaseURL == "" {
		log.Warn("SCREENING_API_URL not set, using static screening oracle",
			"score", cfg.Screening.StaticScore,
		)
		return screening.NewStatic(uint8(cfg.Screening.StaticScore))
	}

	client, err := screening.NewClient(screening.ClientConfig{
		BaseURL:    cfg.Screening.BaseURL,
		APIKey:     cfg.Screening.APIKey,
		Network:    cfg.Screening.Network,
		HTTPClient: &http.Client{Timeout: cfg.Screening.Timeout},
		Logger:     log,
	})
	if err != nil {
		log.Error("invalid screening configuration, using static oracle", "error", err)
		return screening.NewStatic(uint8(cfg.Screening.StaticScore))
	}

	var cache screening.Cache = screening.NewMemoryCache()
	if deps.redis != nil {
		cache = screening.NewRedisCache(deps.redis.Client)
	}
	return screening.NewCachedOracle(client, cache, cfg.Screening.CacheTTL, screening.WithLogger(log))
}

// buildInspector returns the registry as well when accounts are held in
// process, so operators can register them through the admin routes.
func buildInspector(cfg config.Server, log *slog.Logger) (service.AccountInspector, *confidential.Registry) {
	if cfg.Confidential.BaseURL == "" {
		log.Warn("CONFIDENTIAL_API_URL not set, using in-process account registry",
			"register_with", "PUT /admin/confidential/accounts/{account}",
		)
		if cfg.AdminToken == "" {
			log.Warn("PAYGATE_ADMIN_TOKEN not set, confidential accounts cannot be registered")
		}
		registry := confidential.NewRegistry()
		return registry, registry
	}
	client, err := confidential.NewClient(confidential.ClientConfig{
		BaseURL:    cfg.Confidential.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Confidential.Timeout},
		Logger:     log,
	})
	if err != nil {
		log.Error("invalid confidential configuration, using in-process registry", "error", err)
		registry := confidential.NewRegistry()
		return registry, registry
	}
	return client, nil
}

// startAuditPipeline publishes outbox rows to Kafka and materializes them
// back into audit_events for the admin audit endpoint.
func startAuditPipeline(ctx context.Context, g *errgroup.Group, cfg config.Server, db *sql.DB, log *slog.Logger) error {
	prod, err := producer.New(producer.Config{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		RequestTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	topics := outbox.Topics{Default: cfg.Kafka.AuditTopic, Security: cfg.Kafka.SecurityTopic}
	if err := prod.EnsureTopics(ctx, 3, 1, topics.All()...); err != nil {
		prod.Close()
		return err
	}

	worker, err := outbox.New(db, prod, topics,
		outbox.WithBatchSize(cfg.Kafka.OutboxBatch),
		outbox.WithPollInterval(cfg.Kafka.OutboxInterval),
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics()),
	)
	if err != nil {
		prod.Close()
		return err
	}

	eventsHandler := auditconsumer.NewEventsHandler(auditpostgres.New(db), log)
	topicRouter := auditconsumer.NewRouter(log, nil)
	for _, topic := range topics.All() {
		topicRouter.Register(topic, eventsHandler)
	}
	cons, err := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topics:  topics.All(),
	}, topicRouter, log)
	if err != nil {
		prod.Close()
		return err
	}

	g.Go(func() error {
		defer prod.Close()
		return worker.Run(ctx)
	})
	g.Go(func() error { return cons.Run(ctx) })
	return nil
}

func readiness(deps *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := map[string]string{}
		status := http.StatusOK
		if deps.db != nil {
			checks["postgres"] = "ok"
			if err := deps.db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if deps.redis != nil {
			checks["redis"] = "ok"
			if err := deps.redis.Health(ctx); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, status, checks)
	}
}
