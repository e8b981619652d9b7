package routes

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kitforge-backend/api/middleware"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	polarwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/polar"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
	"github.com/angelmondragon/kitforge-backend/pkg/redis"
	"github.com/angelmondragon/kitforge-backend/pkg/stripe"
	stripego "github.com/stripe/stripe-go/v84"
)

// rateLimit hands the middleware a nil interface when Redis is absent so it
// fails open instead of dereferencing a nil client.
func rateLimit(policy middleware.RateLimitPolicy, store *redis.Client, m *metrics.BillingMetrics, logg *logger.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return middleware.RateLimit(policy, nil, m, logg)
	}
	return middleware.RateLimit(policy, store, m, logg)
}

type eventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripego.Event, error)
}

func stripeVerifier(c *stripe.Client) eventVerifier {
	if c == nil {
		return nil
	}
	return c
}

type headerVerifier interface {
	Verify(header http.Header, body []byte) (string, error)
}

func polarVerifier(v *polarwebhook.Verifier) headerVerifier {
	if v == nil {
		return nil
	}
	return v
}

// unavailableEntitlements stands in when no database is configured.
type unavailableEntitlements struct{}

func (unavailableEntitlements) HasUserPurchasedProduct(context.Context, payments.Identity, string, enums.Provider) bool {
	return false
}

func (unavailableEntitlements) HasUserActiveSubscription(context.Context, payments.Identity, *enums.Provider) bool {
	return false
}

func (unavailableEntitlements) ListPayments(context.Context, string, pagination.Params) (*payments.PaymentPage, error) {
	return nil, payments.ErrStoreUnavailable
}
