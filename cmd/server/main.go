package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/alert"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/anomaly"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/authorization"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/events/kafka"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/httpapi"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/ledger"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/locking"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/period"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/memory"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/storage/postgres"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	var locker interfaces.Locker = locking.NewMutexLocker()
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("redis unreachable")
		}
		locker = locking.NewRedisLocker(rdb, cfg.LockTTL, logger)
		logger.WithField("address", cfg.RedisAddress).Info("using redis ledger locks")
	}

	var publisher interfaces.EventPublisher = kafka.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewPublisher(cfg.KafkaBrokers)
		defer p.Close()
		publisher = p
		logger.WithField("brokers", cfg.KafkaBrokers).Info("publishing events to kafka")
	}

	clk := clock.System()
	auditLog := audit.NewLogger(store, clk, logger)
	periods := period.NewManager(store, auditLog, clk, logger)
	authz := authorization.NewService(authorization.Deps{
		Store:     store,
		Budgets:   store,
		Periods:   store,
		Audit:     auditLog,
		Publisher: publisher,
		Clock:     clk,
		Logger:    logger,
		CompanyID: cfg.DefaultCompanyID,
	})
	budgetLedger := ledger.NewLedger(ledger.Deps{
		Store:     store,
		Locker:    locker,
		Gate:      periods,
		Approvals: authz,
		Audit:     auditLog,
		Publisher: publisher,
		Clock:     clk,
		Logger:    logger,
		CompanyID: cfg.DefaultCompanyID,
	})
	alerts := alert.NewEngine(store, auditLog, publisher, clk, logger)
	budgetLedger.RegisterObserver(alert.NewMonitor(alerts, availability.NewPolicyResolver(store), cfg.DefaultCompanyID))

	app := httpapi.NewApp(httpapi.Services{
		Periods:        periods,
		Availability:   availability.NewCalculator(store),
		Authorizations: authz,
		Ledger:         budgetLedger,
		Alerts:         alerts,
		Audit:          auditLog,
		Anomalies:      anomaly.NewDetector(store, store, auditLog, publisher, logger, cfg.RiskyPartnerMarkers),
		CompanyID:      cfg.DefaultCompanyID,
	}, cfg.JWTSecret, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	}()

	logger.WithField("port", cfg.HTTPPort).Info("starting server")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// openStore selects postgres when DATABASE_DSN is set, the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.Store, func()) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("DATABASE_DSN not set, using in-memory store")
		return memory.NewMemoryLedgerStore(), func() {}
	}

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("database unreachable")
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
	return postgres.NewPostgresLedgerStore(db), func() { db.Close() }
}
