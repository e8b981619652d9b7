package polarwebhook

import (
	"context"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

type ServiceParams struct {
	Processor *webhooks.Processor
	Now       func() time.Time
}

type Service struct {
	processor *webhooks.Processor
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{processor: params.Processor, now: now}, nil
}

// HandlePayload decodes a verified Polar body and records the payment.
func (s *Service) HandlePayload(ctx context.Context, body []byte) (*models.Payment, error) {
	event, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}
	normalized, err := MapEvent(event, s.now())
	if err != nil {
		return nil, err
	}
	return s.processor.Record(ctx, normalized)
}
