// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/config"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/infra/api/apiv1"
	"korean-tutor-billing/internal/infra/auth"
	"korean-tutor-billing/internal/infra/db/memory"
	pg "korean-tutor-billing/internal/infra/db/postgres"
	"korean-tutor-billing/internal/infra/logging"
	"korean-tutor-billing/internal/infra/metrics"
	"korean-tutor-billing/internal/infra/payment"
	red "korean-tutor-billing/internal/infra/redis"
	"korean-tutor-billing/internal/infra/sched"
	"korean-tutor-billing/internal/infra/scheduler"
	"korean-tutor-billing/internal/infra/security"
	"korean-tutor-billing/internal/infra/telegram"
	"korean-tutor-billing/internal/infra/worker"
	"korean-tutor-billing/internal/pricing"
	"korean-tutor-billing/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const devSecret = "dev-only-secret-change-me"

type storage struct {
	orders repository.OrderRepository
	txns   repository.TransactionRepository
	subs   repository.SubscriptionRepository
	users  repository.UserRepository
	tm     repository.TransactionManager
	ping   func(ctx context.Context) error
	close  func()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode (in-memory store, fake gateway)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *devMode)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Redis (optional in dev) ----
	var (
		redisClient *red.Client
		locker      adapter.Locker
		limiter     adapter.RateLimiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis not configured; recovery locks and rate limits are process-local only")
	}

	// ---- Storage ----
	store, err := openStorage(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}
	defer store.close()

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Runtime.Dev && cfg.Gateway.KeySecret == "" {
		gateway = payment.NewFakeGateway(devSecret, 2*time.Minute, nil)
		logger.Warn().Msg("using fake payment gateway; orders settle two minutes after creation")
	} else {
		gateway = payment.NewRazorpayGateway(cfg.Gateway, logger)
	}
	var statuses adapter.OrderStatusSource = gateway
	if redisClient != nil {
		statuses = red.NewOrderStatusCache(gateway, redisClient, cfg.Redis.TTL, logger)
	}

	// ---- Alerts ----
	var notifier adapter.Notifier = telegram.NewLogNotifier(logger)
	if cfg.Alerts.TelegramToken != "" {
		n, err := telegram.NewAlertNotifier(cfg.Alerts, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram alerts disabled")
		} else {
			notifier = n
		}
	}

	// ---- Auth ----
	sessionSecret, pageSecret := cfg.Auth.SessionSecret, cfg.Auth.PaymentPageSecret
	if cfg.Runtime.Dev {
		if sessionSecret == "" {
			sessionSecret = devSecret
		}
		if pageSecret == "" {
			pageSecret = devSecret + "-page"
		}
	}
	sessions := auth.NewSessionManager(sessionSecret, 24*time.Hour)
	pageTokens := auth.NewPaymentPageTokens(pageSecret, cfg.Auth.PaymentPageTTL, nil)

	// ---- Pricing ----
	rates := pricing.DefaultRates()
	if len(cfg.Pricing.Rates) > 0 {
		rates, err = pricing.NewRates("USD", cfg.Pricing.Rates)
		if err != nil {
			logger.Fatal().Err(err).Msg("pricing.rates")
		}
	}
	catalog := pricing.DefaultCatalog(rates)
	resolver := pricing.NewResolver(catalog, cfg.Pricing.FallbackCurrency)
	prorate := usecase.NewProrationCalculator(catalog, adapter.SystemClock)

	// ---- Use cases ----
	var paymentsEnabled atomic.Bool
	paymentsEnabled.Store(cfg.Features.Payments)

	activationUC := usecase.NewActivationUseCase(store.orders, store.txns, store.subs, store.users, store.tm,
		catalog, prorate, gateway, notifier, adapter.SystemClock, logger)
	orderUC := usecase.NewOrderUseCase(store.orders, store.txns, store.subs, store.users, store.tm,
		resolver, prorate, gateway, pageTokens, activationUC, limiter, notifier, adapter.SystemClock,
		usecase.OrderOptions{
			PaymentsEnabled: paymentsEnabled.Load,
			PublicBaseURL:   cfg.Auth.PublicBaseURL,
			GatewayTimeout:  cfg.Gateway.Timeout,
		}, logger)
	recoveryUC := usecase.NewRecoveryUseCase(store.orders, store.txns, store.tm, activationUC, gateway, statuses,
		locker, adapter.SystemClock, usecase.RecoveryOptions{
			GracePeriod: cfg.Scheduler.GracePeriod,
			BatchSize:   cfg.Scheduler.BatchSize,
			NewPool: func(ctx context.Context) usecase.Submitter {
				return worker.NewPool(ctx, cfg.Scheduler.Workers, logger)
			},
		}, logger)
	subUC := usecase.NewSubscriptionUseCase(store.subs, store.users, store.tm, catalog, adapter.SystemClock, logger)
	userUC := usecase.NewUserUseCase(store.users, store.tm, adapter.SystemClock, logger)

	if cfg.Runtime.Dev {
		if tok, err := sessions.Mint("dev-user", "dev@example.com"); err == nil {
			logger.Info().Str("user_id", "dev-user").Str("token", tok).Msg("dev session token")
		}
	}

	// ---- Scheduler ----
	cron := scheduler.NewScheduler(2*time.Minute, logger)
	recoveryJob := sched.NewRecoveryJob(recoveryUC, cfg.Scheduler.BatchSize, logger)
	lifecycleJob := sched.NewLifecycleJob(subUC, cfg.Scheduler.BatchSize, logger)
	if err := cron.Add(cfg.Scheduler.RecoveryCron, recoveryJob); err != nil {
		logger.Fatal().Err(err).Msg("schedule recovery sweep")
	}
	if err := cron.Add(cfg.Scheduler.LifecycleCron, lifecycleJob); err != nil {
		logger.Fatal().Err(err).Msg("schedule lifecycle job")
	}
	cron.Start(ctx)
	// catch up on anything left pending while we were down
	go cron.RunNow(recoveryJob)

	// ---- HTTP ----
	api := apiv1.NewServer(apiv1.Deps{
		Orders:         orderUC,
		Activation:     activationUC,
		Recovery:       recoveryUC,
		Subscriptions:  subUC,
		Users:          userUC,
		Sessions:       sessions,
		PageTokens:     pageTokens,
		AdminKey:       cfg.HTTP.AdminKey,
		SweepBatch:     cfg.Scheduler.BatchSize,
		RequestTimeout: cfg.HTTP.WriteTimeout,
		Metrics:        promhttp.Handler(),
		Ready:          store.ping,
	}, logger)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Bool("payments", paymentsEnabled.Load()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Signals: SIGHUP re-reads the payments flag ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sig := <-sigc:
			if sig != syscall.SIGHUP {
				break loop
			}
			next, err := config.Load(*cfgPath, *devMode)
			if err != nil {
				logger.Error().Err(err).Msg("reload config")
				continue
			}
			paymentsEnabled.Store(next.Features.Payments)
			logger.Info().Bool("payments", next.Features.Payments).Msg("config reloaded")
		}
	}

	logger.Info().Msg("shutdown requested")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cron.Stop()
	cancel()
}

// openStorage returns Postgres repositories, or the in-memory store in dev
// mode without a database URL.
func openStorage(ctx context.Context, cfg *config.Config, redisClient *red.Client, logger *zerolog.Logger) (*storage, error) {
	if cfg.Database.URL == "" {
		logger.Warn().Msg("database not configured; using in-memory store")
		s := memory.NewStore()
		return &storage{
			orders: s.Orders, txns: s.Transactions, subs: s.Subscriptions, users: s.Users, tm: s,
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	var sealer pg.ContactSealer
	if cfg.Security.EncryptionKey != "" {
		enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sealer = enc
	} else {
		logger.Warn().Msg("security.encryption_key not set; order contact snapshots are stored unencrypted")
	}

	var users repository.UserRepository = pg.NewPostgresUserRepo(pool)
	if redisClient != nil {
		users = pg.NewUserRepoCacheDecorator(users, redisClient, logger)
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	go reportPoolStats(statsCtx, pool)

	return &storage{
		orders: pg.NewOrderRepo(pool, sealer),
		txns:   pg.NewTransactionRepo(pool),
		subs:   pg.NewSubscriptionRepo(pool),
		users:  users,
		tm:     pg.NewTxManager(pool),
		ping:   pool.Ping,
		close: func() {
			stopStats()
			pool.Close()
		},
	}, nil
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}
