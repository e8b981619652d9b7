package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/stripe/stripe-go/v84"
)

const stripeSignatureHeader = "Stripe-Signature"

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*models.Payment, error)
}

type stripeEventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// StripeWebhook records Stripe checkout, payment, refund and subscription events.
func StripeWebhook(enabled bool, svc StripeWebhookService, verifier stripeEventVerifier, deps Deps) http.HandlerFunc {
	e := endpoint{provider: enums.ProviderStripe, enabled: enabled && svc != nil && verifier != nil, deps: deps}
	return func(w http.ResponseWriter, r *http.Request) {
		var event stripe.Event
		verify := func(r *http.Request, body []byte) (string, error) {
			header := r.Header.Get(stripeSignatureHeader)
			if header == "" {
				return "", webhooks.SignatureMissing(stripeSignatureHeader)
			}
			constructed, err := verifier.ConstructEvent(body, header)
			if err != nil {
				return "", webhooks.SignatureInvalid(err)
			}
			event = constructed
			return event.ID, nil
		}
		process := func(ctx context.Context, _ []byte) error {
			_, err := svc.HandleEvent(ctx, &event)
			return err
		}
		e.serve(w, r, verify, process)
	}
}
