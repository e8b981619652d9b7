package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/kitforge-backend/api/routes"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	lemonwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/lemonsqueezy"
	polarwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/polar"
	stripewebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/db"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/instance"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
	"github.com/angelmondragon/kitforge-backend/pkg/migrate"
	"github.com/angelmondragon/kitforge-backend/pkg/polar"
	"github.com/angelmondragon/kitforge-backend/pkg/purchasecache"
	"github.com/angelmondragon/kitforge-backend/pkg/redis"
	"github.com/angelmondragon/kitforge-backend/pkg/security"
	"github.com/angelmondragon/kitforge-backend/pkg/stripe"
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
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	for _, warning := range multierr.Errors(cfg.ResolveFeatures()) {
		logg.Warn(logg.WithField(ctx, "reason", warning.Error()), "feature disabled")
	}

	dbClient := openDatabase(ctx, cfg, logg)
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}
	redisClient := openRedis(ctx, cfg, logg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewBillingMetrics(registry)

	cache := purchasecache.New(cfg.PurchaseCache.TTL)
	go purgeExpired(ctx, cache, cfg.PurchaseCache.TTL)

	var repo payments.Repository
	if dbClient != nil {
		repo = payments.NewRepository(dbClient.DB())
	}
	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:   repo,
		Logger: logg,
		OnChange: func(ctx context.Context, p *models.Payment) {
			owners := []string{p.Email}
			if p.UserID != nil {
				owners = append(owners, *p.UserID)
			}
			if n := cache.InvalidateOwner(owners...); n > 0 {
				logg.Debug(logg.WithField(ctx, "entries", n), "purchase cache invalidated")
			}
		},
	})
	requireResource(ctx, logg, "payment service", err)

	processor, err := webhooks.NewProcessor(paymentService, logg, billingMetrics)
	requireResource(ctx, logg, "webhook processor", err)

	services := routes.Services{
		DB:       dbClient,
		Redis:    redisClient,
		Payments: paymentService,
		Cache:    cache,
		Metrics:  billingMetrics,
		Gatherer: registry,
	}

	if cfg.Features.Stripe {
		client, err := stripe.NewClient(ctx, cfg.Stripe, cfg.Webhooks.SignatureMaxSkew, logg)
		if err != nil {
			logg.Error(ctx, "stripe disabled: client setup failed", err)
			cfg.Features.Stripe = false
		} else {
			services.Stripe = client
			services.StripeWebhooks, err = stripewebhook.NewService(stripewebhook.ServiceParams{Processor: processor})
			requireResource(ctx, logg, "stripe webhook service", err)
		}
	}

	if cfg.Features.Polar {
		verifier, err := polarwebhook.NewVerifier(cfg.Polar.WebhookSecret, cfg.Webhooks.SignatureMaxSkew)
		if err != nil {
			logg.Error(ctx, "polar disabled: invalid webhook secret", err)
			cfg.Features.Polar = false
		} else {
			services.PolarVerifier = verifier
			services.PolarWebhooks, err = polarwebhook.NewService(polarwebhook.ServiceParams{Processor: processor})
			requireResource(ctx, logg, "polar webhook service", err)
		}
		if client, err := polar.NewClient(cfg.Polar); err == nil {
			services.PolarClient = client
		} else {
			logg.Warn(logg.WithField(ctx, "reason", err.Error()), "polar checkout unavailable")
		}
	}

	if cfg.Features.LemonSqueezy {
		services.LemonWebhooks, err = lemonwebhook.NewService(lemonwebhook.ServiceParams{Processor: processor})
		requireResource(ctx, logg, "lemonsqueezy webhook service", err)
	}

	apiKeys, err := security.NewAPIKeyValidator(cfg.AdminAPI.KeyPrefix, cfg.AdminAPI.KeyHashes)
	requireResource(ctx, logg, "admin api keys", err)
	services.APIKeys = apiKeys

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx, server, dbClient, redisClient); err != nil {
		logg.Error(ctx, "shutdown incomplete", err)
		exitCode = 1
	}
	logg.Info(ctx, "api server stopped")
	os.Exit(exitCode)
}

// openDatabase returns nil when no DSN is configured or the connection fails;
// the API keeps answering webhooks and entitlement checks degrade to false.
func openDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) *db.Client {
	if !cfg.DB.Enabled() {
		logg.Warn(ctx, "database not configured; payments will not be persisted")
		return nil
	}
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable; continuing without persistence", err)
		return nil
	}
	return client
}

func openRedis(ctx context.Context, cfg *config.Config, logg *logger.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		logg.Warn(ctx, "redis not configured; rate limits and webhook replay guards are off")
		return nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "redis unavailable; continuing without it", err)
		return nil
	}
	return client
}

func purgeExpired(ctx context.Context, cache *purchasecache.Cache, every time.Duration) {
	if every <= 0 {
		every = purchasecache.DefaultTTL
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Purge()
		}
	}
}

func shutdown(ctx context.Context, server *http.Server, dbClient *db.Client, redisClient *redis.Client) error {
	err := server.Shutdown(ctx)
	if dbClient != nil {
		err = multierr.Append(err, dbClient.Close())
	}
	if redisClient != nil {
		err = multierr.Append(err, redisClient.Close())
	}
	return err
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
