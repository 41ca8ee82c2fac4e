package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmwhitfield/clubpay-backend/api/routes"
	"github.com/jmwhitfield/clubpay-backend/internal/lifecycle"
	"github.com/jmwhitfield/clubpay-backend/internal/notify"
	"github.com/jmwhitfield/clubpay-backend/internal/registrations"
	gcwebhook "github.com/jmwhitfield/clubpay-backend/internal/webhooks/gocardless"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	lifecycleService, err := lifecycle.NewService(lifecycle.ServiceParams{
		Logger:   logg,
		Repo:     repo,
		Store:    registrationService,
		Gateway:  gcClient,
		Notifier: notifyService,
		Season:   cfg.Season,
		Metrics:  metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lifecycle service", err)
		os.Exit(1)
	}

	webhookGuard, err := gcwebhook.NewIdempotencyGuard(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registrationService, lifecycleService, gcClient, webhookGuard),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
