package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/config"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/infra/alerts"
	"sanskrit-enrollment/internal/infra/api"
	"sanskrit-enrollment/internal/infra/authz"
	pg "sanskrit-enrollment/internal/infra/db/postgres"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
	"sanskrit-enrollment/internal/infra/payment"
	red "sanskrit-enrollment/internal/infra/redis"
	"sanskrit-enrollment/internal/infra/sched"
	"sanskrit-enrollment/internal/infra/security"
	"sanskrit-enrollment/internal/infra/worker"
	"sanskrit-enrollment/internal/usecase"
)

// app holds every wired component. Commands build it once and close it on exit.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	pool       *pgxpool.Pool
	redis      red.RedisClient
	alertsPool *worker.Pool

	payments usecase.PaymentUseCase
	webhooks usecase.WebhookUseCase
	access   usecase.AccessUseCase
	subs     usecase.SubscriptionUseCase

	auth       *api.AuthManager
	limiter    adapter.RateLimiter
	sweeper    *sched.SubscriptionSweeper
	reconciler *sched.PaymentReconciler
}

func loadConfig(flags *rootFlags) (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(flags.configPath, flags.dev)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	return cfg, logger, nil
}

func buildApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	a := &app{cfg: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// ---- Postgres ----
	a.pool, err = pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = redisClient
	a.limiter = red.NewRateLimiter(redisClient)
	// one attempt: a busy job lock means another replica has the tick
	locker := red.NewLocker(redisClient, 1, 0)

	// ---- Encryption ----
	cipher, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}

	// ---- Alerts ----
	a.alertsPool = worker.NewPool(cfg.Alerts.Workers, cfg.Alerts.QueueSize, logger)
	// not tied to ctx: Close drains queued alerts after shutdown starts
	a.alertsPool.Start(context.Background())
	var notifier adapter.AlertNotifier
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.ChatID != 0 {
		notifier, err = alerts.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID, a.alertsPool, logger)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
	} else {
		logger.Warn().Msg("alerts.telegram_token not set; operator alerts go to the log only")
		notifier = alerts.NewLogNotifier(logger)
	}

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Gateway.Provider {
	case "noop":
		logger.Warn().Msg("using the in-memory noop gateway; no real payments are taken")
		gateway = payment.NewNoopGateway()
	default:
		gateway, err = payment.NewRazorpayGateway(cfg.Gateway, logger)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}
	verifier := payment.NewHMACVerifier(payment.SecretsFromConfig(cfg.Gateway))

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, err
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(a.pool)
	txRepo := pg.NewTransactionRepo(a.pool, cipher)
	enrollRepo := pg.NewEnrollmentRepo(a.pool)
	courseRepo := pg.NewCourseRepoCacheDecorator(pg.NewCourseRepo(a.pool), redisClient, cfg.Redis.TTL, logger)
	webhookRepo, err := pg.NewWebhookEventRepo(a.pool, cfg.Database.NodeID)
	if err != nil {
		return nil, err
	}

	// ---- Use cases ----
	policy := model.SubscriptionPolicy{
		GraceWindow: cfg.Enrollment.GraceWindow,
		MaxAttempts: cfg.Enrollment.MaxRenewalAttempts,
	}
	ledger := usecase.NewLedgerUseCase(txRepo, tm, notifier, logger)
	provision := usecase.NewProvisionUseCase(enrollRepo, courseRepo, ledger, tm, cfg.Enrollment.DefaultDeviceLimit, logger)
	subs := usecase.NewSubscriptionUseCase(enrollRepo, tm, policy, logger)
	payments := usecase.NewPaymentUseCase(ledger, provision, courseRepo, enrollRepo, txRepo, gateway, verifier, enforcer, notifier,
		usecase.PaymentOptions{
			GuruPercent:    cfg.Enrollment.GuruPercent,
			KeyID:          cfg.Gateway.KeyID,
			GatewayTimeout: cfg.Gateway.Timeout,
		}, logger)

	a.subs = subs
	a.payments = payments
	a.access = usecase.NewAccessUseCase(enrollRepo, tm, policy, logger)
	a.webhooks = usecase.NewWebhookUseCase(verifier, payment.RazorpayDecoder{}, webhookRepo, payments, subs, cfg.Gateway.Provider, logger)

	// ---- Edge + jobs ----
	a.auth = api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	a.sweeper = sched.NewSubscriptionSweeper(cfg.Scheduler.SweepCron, cfg.Scheduler.LockTTL, subs, locker, logger)
	a.reconciler = sched.NewPaymentReconciler(payments, locker, cfg.Scheduler.ReconcileEvery,
		cfg.Scheduler.ReconcileOlderThan, cfg.Scheduler.CancelAfter, cfg.Scheduler.LockTTL, logger)

	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.alertsPool != nil {
		a.alertsPool.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
