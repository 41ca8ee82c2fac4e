package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmwhitfield/clubpay-backend/internal/cron"
	"github.com/jmwhitfield/clubpay-backend/internal/notify"
	"github.com/jmwhitfield/clubpay-backend/internal/registrations"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/jmwhitfield/clubpay-backend/pkg/mailer"
	"github.com/jmwhitfield/clubpay-backend/pkg/metrics"
	"github.com/jmwhitfield/clubpay-backend/pkg/migrate"
	"github.com/jmwhitfield/clubpay-backend/pkg/redis"
	"github.com/jmwhitfield/clubpay-backend/pkg/sms"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "chase-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "chase-worker"

	logg = logger.New(logger.Options{
		ServiceName: "chase-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcClient, err := gocardless.NewClient(cfg.GoCardless)
	if err != nil {
		logg.Error(context.Background(), "failed to create gocardless client", err)
		os.Exit(1)
	}

	smsClient, err := sms.NewClient(cfg.Twilio)
	if err != nil {
		logg.Error(context.Background(), "failed to create sms client", err)
		os.Exit(1)
	}

	mailClient, err := mailer.NewClient(cfg.Sendgrid)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer client", err)
		os.Exit(1)
	}

	repo := registrations.NewRepository(dbClient.DB())

	registrationService, err := registrations.NewService(registrations.ServiceParams{
		Logger:  logg,
		DB:      dbClient,
		Repo:    repo,
		Gateway: gcClient,
		SMS:     smsClient,
		Season:  cfg.Season,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create registration service", err)
		os.Exit(1)
	}

	notifyService, err := notify.NewService(notify.ServiceParams{
		Logger: logg,
		SMS:    smsClient,
		Email:  mailClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notify service", err)
		os.Exit(1)
	}

	chaseJob, err := cron.NewChaseJob(cron.ChaseJobParams{
		Logger:   logg,
		Reader:   repo,
		Store:    registrationService,
		Notifier: notifyService,
		Chase:    cfg.Chase,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create chase job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("chase-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(chaseJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Chase.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting chase worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "chase worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "chase worker shutting down gracefully")
}
