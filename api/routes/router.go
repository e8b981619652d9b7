package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/kitforge-backend/api/controllers"
	purchasecontrollers "github.com/angelmondragon/kitforge-backend/api/controllers/purchases"
	webhookcontrollers "github.com/angelmondragon/kitforge-backend/api/controllers/webhooks"
	"github.com/angelmondragon/kitforge-backend/api/middleware"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	lemonwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/lemonsqueezy"
	polarwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/polar"
	stripewebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/db"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
	"github.com/angelmondragon/kitforge-backend/pkg/polar"
	"github.com/angelmondragon/kitforge-backend/pkg/purchasecache"
	"github.com/angelmondragon/kitforge-backend/pkg/redis"
	"github.com/angelmondragon/kitforge-backend/pkg/security"
	"github.com/angelmondragon/kitforge-backend/pkg/stripe"
)

// Services carries everything the router wires. Nil clients mean the matching
// integration is not configured.
type Services struct {
	DB             *db.Client
	Redis          *redis.Client
	Payments       *payments.Service
	Cache          *purchasecache.Cache
	Stripe         *stripe.Client
	StripeWebhooks *stripewebhook.Service
	PolarClient    *polar.Client
	PolarVerifier  *polarwebhook.Verifier
	PolarWebhooks  *polarwebhook.Service
	LemonWebhooks  *lemonwebhook.Service
	APIKeys        *security.APIKeyValidator
	Metrics        *metrics.BillingMetrics
	Gatherer       prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.PublicURL),
	)

	// typed nils would defeat the nil checks downstream
	var dbP, redisP controllers.Pinger
	if svc.DB != nil {
		dbP = svc.DB
	}
	var rateStore *redis.Client
	if svc.Redis != nil {
		redisP = svc.Redis
		rateStore = svc.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if svc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/features", controllers.PublicFeatures(cfg))
	})

	mountWebhooks := webhookRoutes(cfg, logg, svc)
	r.Route("/api/webhooks", mountWebhooks)
	r.Route("/api/v1/webhooks", mountWebhooks)

	actionPolicy := middleware.NewRateLimitPolicy("actions", cfg.RateLimit.ActionWindow, cfg.RateLimit.ActionLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.CheckoutWin, cfg.RateLimit.CheckoutMax)

	var entitlements purchasecontrollers.EntitlementService = svc.Payments
	if svc.Payments == nil {
		entitlements = unavailableEntitlements{}
	}
	var checkout purchasecontrollers.CheckoutService
	if svc.PolarClient != nil {
		checkout = svc.PolarClient
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(actionPolicy, rateStore, svc.Metrics, logg))
			r.Get("/purchases/check", purchasecontrollers.CheckPurchase(entitlements, svc.Cache, logg))
			r.Get("/subscriptions/check", purchasecontrollers.CheckSubscription(entitlements, svc.Cache, logg))
		})
		r.With(rateLimit(checkoutPolicy, rateStore, svc.Metrics, logg)).
			Post("/checkout/polar", purchasecontrollers.CreatePolarCheckout(cfg.Features.Polar, checkout, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(svc.APIKeys, logg))
		var lister controllers.PaymentLister = svc.Payments
		if svc.Payments == nil {
			lister = unavailableEntitlements{}
		}
		r.Get("/payments", controllers.AdminListPayments(lister, logg))
	})

	return r
}

func webhookRoutes(cfg *config.Config, logg *logger.Logger, svc Services) func(chi.Router) {
	deps := func(scope string) webhookcontrollers.Deps {
		d := webhookcontrollers.Deps{
			Logger:       logg,
			Metrics:      svc.Metrics,
			MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
		}
		if svc.Redis == nil {
			return d
		}
		guard, err := webhooks.NewIdempotencyGuard(svc.Redis, cfg.Webhooks.IdempotencyTTL, scope)
		if err == nil {
			d.Guard = guard
		}
		return d
	}

	var stripeSvc webhookcontrollers.StripeWebhookService
	if svc.StripeWebhooks != nil {
		stripeSvc = svc.StripeWebhooks
	}
	var polarSvc, lemonSvc webhookcontrollers.PayloadService
	if svc.PolarWebhooks != nil {
		polarSvc = svc.PolarWebhooks
	}
	if svc.LemonWebhooks != nil {
		lemonSvc = svc.LemonWebhooks
	}

	stripeHandler := webhookcontrollers.StripeWebhook(cfg.Features.Stripe, stripeSvc, stripeVerifier(svc.Stripe), deps("stripe-webhook"))
	polarHandler := webhookcontrollers.PolarWebhook(cfg.Features.Polar, polarSvc, polarVerifier(svc.PolarVerifier), deps("polar-webhook"))
	lemonHandler := webhookcontrollers.LemonSqueezyWebhook(cfg.Features.LemonSqueezy, lemonSvc, cfg.LemonSqueezy.WebhookSecret, deps("lemonsqueezy-webhook"))

	return func(r chi.Router) {
		r.Post("/stripe", stripeHandler)
		r.Get("/stripe", webhookcontrollers.Status(enums.ProviderStripe))
		r.Post("/polar", polarHandler)
		r.Get("/polar", webhookcontrollers.Status(enums.ProviderPolar))
		r.Post("/lemonsqueezy", lemonHandler)
		r.Get("/lemonsqueezy", webhookcontrollers.Status(enums.ProviderLemonSqueezy))
	}
}
