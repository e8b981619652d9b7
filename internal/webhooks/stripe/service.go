package stripewebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/stripe/stripe-go/v84"
)

type ServiceParams struct {
	Processor *webhooks.Processor
}

// Service records verified Stripe events as payments.
type Service struct {
	processor *webhooks.Processor
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor required")
	}
	return &Service{processor: params.Processor}, nil
}

// HandleEvent maps the event and upserts the payment it describes.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*models.Payment, error) {
	normalized, err := MapEvent(event)
	if err != nil {
		return nil, err
	}
	payment, err := s.processor.Record(ctx, normalized)
	if errors.Is(err, payments.ErrMissingPurchaser) && isPaymentIntentEvent(event.Type) {
		// payment_intent events often arrive before checkout.session.completed
		// and without a receipt email; the session event creates the row.
		return nil, webhooks.ErrIgnoredEvent
	}
	return payment, err
}

func isPaymentIntentEvent(t stripe.EventType) bool {
	return t == stripe.EventTypePaymentIntentSucceeded || t == stripe.EventTypePaymentIntentPaymentFailed
}
