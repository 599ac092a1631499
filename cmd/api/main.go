package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecothreads-notify/internal/application/dispatch"
	"github.com/ecothreads-notify/internal/application/mail"
	"github.com/ecothreads-notify/internal/application/notification"
	"github.com/ecothreads-notify/internal/application/router"
	"github.com/ecothreads-notify/internal/application/target"
	"github.com/ecothreads-notify/internal/config"
	"github.com/ecothreads-notify/internal/infrastructure/awsinfra"
	"github.com/ecothreads-notify/internal/infrastructure/dynamo"
	jwtinfra "github.com/ecothreads-notify/internal/infrastructure/jwt"
	"github.com/ecothreads-notify/internal/infrastructure/smtp"
	"github.com/ecothreads-notify/internal/infrastructure/sns"
	"github.com/ecothreads-notify/internal/pkg/metrics"
	transporthttp "github.com/ecothreads-notify/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dynamoCfg, err := awsinfra.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		slog.Error("aws config", "err", err)
		os.Exit(1)
	}
	snsCfg, err := awsinfra.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		slog.Error("aws config", "err", err)
		os.Exit(1)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(dynamoCfg, cfg.AWSEndpointURL)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	notifRepo := dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)
	claimRepo := dynamo.NewClaimRepo(dynamoClient, cfg.DynamoTables.Claims)
	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)
	deviceRepo := dynamo.NewDeviceRepo(dynamoClient, cfg.DynamoTables.Devices)
	subRepo := dynamo.NewSubscriptionRepo(dynamoClient, cfg.DynamoTables.Subscriptions)
	itemRepo := dynamo.NewItemRepo(dynamoClient, cfg.DynamoTables.Items, cfg.DynamoTables.Notifications)

	m := metrics.New()
	pipeline := notification.NewService(notification.ServiceDeps{
		Records:    notifRepo,
		Claims:     claimRepo,
		Resolver:   target.NewResolver(userRepo, deviceRepo),
		Dispatcher: dispatch.NewDispatcher(notifRepo, sns.NewSender(snsCfg, cfg.AWSEndpointURL, cfg.APNSSandbox)),
		Metrics:    m,
	})
	routerSvc := router.NewService(router.ServiceDeps{
		Records:       notifRepo,
		Subscriptions: subRepo,
		Items:         itemRepo,
		Pipeline:      pipeline,
		Metrics:       m,
		Concurrency:   cfg.FanoutConcurrency,
		FollowupAfter: cfg.ShippedFollowupAfter,
	})

	// SMTP mailer (optional: the e-mail call answers with an internal error without it).
	var mailSvc mail.Service
	if mailer, err := smtp.NewMailer(cfg); err == nil {
		mailSvc = mail.NewService(mailer)
	} else {
		slog.Warn("smtp mailer not available", "err", err)
		mailSvc = mail.NewService(nil)
	}

	// JWT verifier (optional in development: trigger routes are left open without it).
	var verifier *jwtinfra.Verifier
	if cfg.JWTPublicKeyPath != "" {
		v, err := jwtinfra.NewVerifier(cfg)
		if err != nil {
			slog.Error("jwt verifier", "err", err)
			os.Exit(1)
		}
		verifier = v
	} else {
		slog.Warn("JWT_PUBLIC_KEY_PATH not set, trigger routes are unauthenticated")
	}

	handler := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Router:   routerSvc,
		Mail:     mailSvc,
		Verifier: verifier,
		Metrics:  m,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go router.NewScheduler(routerSvc, cfg.SweepInterval).Run(ctx)

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
