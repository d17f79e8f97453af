// Command server runs the build admission engine: HTTP API, approval and
// registry sweepers, and when Kafka and PostgreSQL are configured, the audit
// outbox pipeline. Business logic lives in the internal packages; main only
// wires dependencies and owns the process lifecycle.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"buildgate/internal/admission/approval"
	admissionconfig "buildgate/internal/admission/config"
	"buildgate/internal/admission/handler"
	"buildgate/internal/admission/identity"
	"buildgate/internal/admission/metrics"
	registrysvc "buildgate/internal/admission/registry"
	"buildgate/internal/admission/sandbox"
	"buildgate/internal/admission/service"
	"buildgate/internal/admission/store/approvalstore"
	"buildgate/internal/admission/store/history"
	registrystore "buildgate/internal/admission/store/registry"
	"buildgate/internal/admission/throttle"
	"buildgate/internal/admission/token"
	"buildgate/internal/platform/config"
	"buildgate/internal/platform/httpserver"
	"buildgate/internal/platform/kafka"
	kafkaconsumer "buildgate/internal/platform/kafka/consumer"
	"buildgate/internal/platform/logger"
	platformmetrics "buildgate/internal/platform/metrics"
	"buildgate/internal/platform/middleware"
	"buildgate/internal/platform/postgres"
	"buildgate/internal/platform/redis"
	audit "buildgate/pkg/platform/audit"
	auditconsumer "buildgate/pkg/platform/audit/consumer"
	"buildgate/pkg/platform/audit/publisher"
	auditmem "buildgate/pkg/platform/audit/store/memory"
	auditpg "buildgate/pkg/platform/audit/store/postgres"
	auditworker "buildgate/pkg/platform/audit/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Policy violations are fatal: refusing to start beats running with a
	// profile mapping that grants capability it should not.
	policy, err := admissionconfig.Load(cfg.PolicyPath)
	if err != nil {
		return err
	}

	m := metrics.New()

	// Storage. Without a PostgreSQL DSN everything runs in memory, which is
	// the single-node dev mode.
	var (
		regStore      registrysvc.Store
		matcherStore  identity.Registry
		approvalStore approval.Store
		auditStore    audit.Store
		outboxStore   *auditpg.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		pgRegistry := registrystore.NewPostgres(db)
		regStore = pgRegistry
		matcherStore = pgRegistry
		approvalStore = approvalstore.NewPostgres(db)
		outboxStore = auditpg.New(db)
		auditStore = outboxStore
	} else {
		memRegistry := registrystore.NewInMemoryStore()
		regStore = memRegistry
		matcherStore = memRegistry
		approvalStore = approvalstore.NewInMemoryStore()
		auditStore = auditmem.NewInMemoryStore()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var (
		historyStore  service.HistoryStore
		throttleStore service.ThrottleStore
	)
	if redisClient != nil {
		defer redisClient.Close()
		historyStore = history.NewRedisStore(redisClient.Client)
		throttleStore = throttle.NewRedisStore(redisClient.Client)
	} else {
		historyStore = history.NewInMemoryStore()
		throttleStore = throttle.NewInMemoryStore()
		log.Warn("no redis URL configured, using in-memory history and throttle")
	}

	// The decision path uses the synchronous publisher: if Emit fails, the
	// decision is withheld.
	pub := publisher.NewPublisher(auditStore)
	defer pub.Close()

	registry := registrysvc.NewService(regStore, pub, registrysvc.WithLogger(log))
	if err := registry.Seed(ctx, policy); err != nil {
		return err
	}

	svc := service.NewService(
		policy,
		identity.NewMatcher(matcherStore),
		historyStore,
		sandbox.NewResolver(policy.Profiles),
		token.NewService(cfg.TokenSigningKey, "buildgate", "build-runners"),
		pub,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithThrottle(throttleStore),
	)
	approvals := approval.NewService(
		approvalStore, svc, policy.ApproverRoster, policy.MinApprovers, policy.ApprovalTTL,
		approval.WithLogger(log),
		approval.WithMetrics(m),
	)
	svc.SetApprovals(approvals)

	router := chi.NewRouter()
	router.Use(middleware.Latency(platformmetrics.NewHTTP()))
	handler.New(svc, approvals, registry, pub, cfg.AdminToken, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting buildgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		approvals.StartSweeper(ctx, policy.ApprovalSweepInterval)
		return nil
	})
	group.Go(func() error {
		registry.StartCleanup(ctx, policy.RegistrySweepInterval)
		return nil
	})

	// Audit pipeline: outbox -> Kafka -> materialized audit_events. Only
	// meaningful when both PostgreSQL and Kafka are configured.
	if outboxStore != nil && len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewClient(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, kafka.TopicAuditEvents, 6); err != nil {
			return err
		}

		consumerClient, err := kafka.NewConsumerClient(cfg.KafkaBrokers, "buildgate-audit-materializer", kafka.TopicAuditEvents)
		if err != nil {
			return err
		}
		defer consumerClient.Close()

		outbox := auditworker.NewOutboxWorker(outboxStore, producer, kafka.TopicAuditEvents, cfg.OutboxInterval, log)
		materializer := kafkaconsumer.New(consumerClient, auditconsumer.NewMaterializer(outboxStore, log), log)

		group.Go(func() error {
			if err := outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			return materializer.Run(ctx)
		})
	} else {
		log.Warn("audit pipeline disabled, events stay in the local store",
			"postgres", cfg.PostgresDSN != "",
			"kafka", len(cfg.KafkaBrokers) > 0,
		)
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
