package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"provisioner/internal/platform/config"
	"provisioner/internal/platform/httpserver"
	"provisioner/internal/platform/lock"
	"provisioner/internal/platform/logger"
	platformmetrics "provisioner/internal/platform/metrics"
	"provisioner/internal/platform/middleware"
	"provisioner/internal/platform/ratelimit"
	"provisioner/internal/platform/redis"
	"provisioner/internal/provisioning"
	"provisioner/internal/provisioning/handler"
	provmetrics "provisioner/internal/provisioning/metrics"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/service"
	"provisioner/internal/supabase"
	"provisioner/pkg/platform/audit"
	"provisioner/pkg/platform/audit/publisher"
	"provisioner/pkg/platform/audit/relay"
	auditkafka "provisioner/pkg/platform/audit/store/kafka"
	auditmemory "provisioner/pkg/platform/audit/store/memory"
	auditpostgres "provisioner/pkg/platform/audit/store/postgres"
)

const (
	auditBuffer        = 256
	auditPartitions    = 3
	auditReplication   = 1
	relayInterval      = 5 * time.Second
	startupPingTimeout = 10 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error("provisioner stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid configuration: TRUSTED_PROXIES: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	m := platformmetrics.New()
	checks := map[string]provisioning.HealthCheck{}

	backends, err := supabase.NewFactory(supabase.Config{
		BaseURL:        cfg.Backend.URL,
		ServiceRoleKey: cfg.Backend.ServiceRoleKey,
		JWTSecret:      cfg.Backend.JWTSecret,
		CallTimeout:    cfg.Backend.CallTimeout,
		RetryMax:       cfg.Backend.RetryMax,
	}, supabase.WithLogger(log))
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocal()
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedis(redisClient.Client, cfg.Bootstrap.LockTTL)
		checks["redis"] = redisClient.Health
		log.Info("bootstrap lock backed by redis")
	}

	store, closeStore, err := openAuditStore(ctx, g, cfg.Audit, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()
	auditPublisher := publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	accounts, err := loadBootstrapAccounts(cfg.Bootstrap, log)
	if err != nil {
		return err
	}
	policy, err := service.ParseProfilePolicy(cfg.Bootstrap.ProfilePolicy)
	if err != nil {
		return err
	}

	svc, err := provisioning.NewService(backends,
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(provmetrics.New(m.Registerer())),
		service.WithLocker(locker),
		service.WithBootstrapAccounts(toBootstrapAccounts(accounts)),
		service.WithProfilePolicy(policy),
		service.WithCompensationTimeout(cfg.Backend.CompensationTimeout),
	)
	if err != nil {
		return err
	}
	h := provisioning.NewHandler(svc, log,
		handler.WithBootstrapLimiter(ratelimit.PerMinute(cfg.Bootstrap.RatePerMinute)),
	)
	router := provisioning.NewRouter(h, provisioning.RouterConfig{
		Logger:         log,
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout,
		TrustedProxies: trusted,
		Checks:         checks,
	})

	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("starting provisioner", "addr", cfg.Addr, "audit_sink", cfg.Audit.Sink)
		return httpserver.Serve(ctx, srv)
	})
	return g.Wait()
}

// openAuditStore builds the configured audit sink. With postgres and brokers
// both configured, a relay forwards the outbox to kafka in the background.
func openAuditStore(ctx context.Context, g *errgroup.Group, cfg config.Audit, log *slog.Logger, checks map[string]provisioning.HealthCheck) (audit.Store, func(), error) {
	switch cfg.Sink {
	case config.AuditSinkPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping audit database: %w", err)
		}
		store := auditpostgres.New(db)
		if err := store.Migrate(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		checks["postgres"] = db.PingContext

		closers := []func(){func() { _ = db.Close() }}
		if len(cfg.Brokers) > 0 {
			producer, err := newProducer(pingCtx, cfg)
			if err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			checks["kafka"] = producer.Ping
			closers = append([]func(){producer.Close}, closers...)
			r := relay.New(store, producer, log, relayInterval)
			g.Go(func() error { return r.Run(ctx) })
		}
		return store, func() {
			for _, c := range closers {
				c()
			}
		}, nil

	case config.AuditSinkKafka:
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		defer cancel()
		producer, err := newProducer(pingCtx, cfg)
		if err != nil {
			return nil, nil, err
		}
		checks["kafka"] = producer.Ping
		return producer, producer.Close, nil

	default:
		return auditmemory.NewInMemoryStore(), func() {}, nil
	}
}

func newProducer(ctx context.Context, cfg config.Audit) (*auditkafka.Producer, error) {
	producer, err := auditkafka.New(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	if err := producer.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
		producer.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	return producer, nil
}

// loadBootstrapAccounts disables bootstrap when a password is missing so the
// staff and student routes still come up. Any other problem is fatal.
func loadBootstrapAccounts(cfg config.Bootstrap, log *slog.Logger) ([]config.Account, error) {
	accounts, err := config.LoadAccounts(cfg)
	if errors.Is(err, config.ErrPasswordUnset) {
		log.Warn("bootstrap disabled", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bootstrap accounts: %w", err)
	}
	return accounts, nil
}

func toBootstrapAccounts(accounts []config.Account) []models.BootstrapAccount {
	out := make([]models.BootstrapAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, models.BootstrapAccount{
			Label:    a.Label,
			Role:     a.Role,
			Email:    a.Email,
			Password: a.Password,
			FullName: a.FullName,
			Site:     a.Site,
		})
	}
	return out
}
