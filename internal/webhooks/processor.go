package webhooks

import (
	"context"

	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
)

// PaymentRecorder persists normalized payments.
type PaymentRecorder interface {
	UpsertFromWebhook(ctx context.Context, in payments.NormalizedPayment) (*models.Payment, error)
}

// Processor is shared by the provider services: it logs which product-name
// tier was used and hands the payment to the recorder.
type Processor struct {
	recorder PaymentRecorder
	logg     *logger.Logger
	metrics  *metrics.BillingMetrics
}

func NewProcessor(recorder PaymentRecorder, logg *logger.Logger, m *metrics.BillingMetrics) (*Processor, error) {
	if recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment recorder required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Processor{recorder: recorder, logg: logg, metrics: m}, nil
}

// Record persists p. A nil payment is treated as an ignored event.
func (p *Processor) Record(ctx context.Context, in *payments.NormalizedPayment) (*models.Payment, error) {
	if in == nil {
		return nil, ErrIgnoredEvent
	}

	ctx = p.logg.WithFields(ctx, map[string]any{
		"provider":            in.Provider.String(),
		"event_type":          in.EventType,
		"external_id":         in.ExternalID,
		"product_name":        in.ProductName,
		"product_name_source": in.ProductNameSource,
	})
	p.logg.Info(ctx, "product name extracted")
	p.metrics.IncProductNameSource(in.Provider.String(), in.ProductNameSource)

	return p.recorder.UpsertFromWebhook(ctx, *in)
}
