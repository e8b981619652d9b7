package lemonwebhook

import (
	"context"

	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

type ServiceParams struct {
	Processor *webhooks.Processor
}

type Service struct {
	processor *webhooks.Processor
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor required")
	}
	return &Service{processor: params.Processor}, nil
}

// HandlePayload decodes a verified LemonSqueezy body and records the payment.
func (s *Service) HandlePayload(ctx context.Context, body []byte) (*models.Payment, error) {
	event, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}
	normalized, err := MapEvent(event)
	if err != nil {
		return nil, err
	}
	return s.processor.Record(ctx, normalized)
}
