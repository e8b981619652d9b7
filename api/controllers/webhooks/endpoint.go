package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/metrics"
	"github.com/angelmondragon/kitforge-backend/pkg/types"
)

const defaultMaxBodyBytes int64 = 1 << 20

type replayGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Deps are shared by every provider endpoint. Guard may be nil when Redis is
// not configured.
type Deps struct {
	Logger       *logger.Logger
	Metrics      *metrics.BillingMetrics
	Guard        replayGuard
	MaxBodyBytes int64
}

type endpoint struct {
	provider enums.Provider
	enabled  bool
	deps     Deps
}

// verifyFunc checks the delivery signature and returns an id for replay
// protection.
type verifyFunc func(r *http.Request, body []byte) (string, error)

type processFunc func(ctx context.Context, body []byte) error

func (e endpoint) serve(w http.ResponseWriter, r *http.Request, verify verifyFunc, process processFunc) {
	start := time.Now()
	ctx := r.Context()
	logg := e.deps.Logger
	if logg != nil {
		ctx = logg.WithProvider(ctx, e.provider.String())
	}
	observe := func(outcome string) {
		e.deps.Metrics.ObserveWebhook(e.provider.String(), outcome, time.Since(start))
	}

	limit := e.deps.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		observe(metrics.OutcomeRejected)
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unable to read request body"))
		return
	}
	if !json.Valid(body) {
		observe(metrics.OutcomeRejected)
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid JSON payload"))
		return
	}

	if !e.enabled {
		observe(metrics.OutcomeDisabled)
		if logg != nil {
			logg.Info(ctx, "webhook.disabled")
		}
		responses.WriteAck(w, http.StatusOK, types.WebhookAck{Disabled: true, Message: e.provider.String() + " integration is disabled"})
		return
	}

	deliveryID, err := verify(r, body)
	if err != nil {
		observe(metrics.OutcomeRejected)
		responses.WriteError(ctx, logg, w, err)
		return
	}
	if logg != nil && deliveryID != "" {
		ctx = logg.WithField(ctx, "delivery_id", deliveryID)
	}

	guard := e.deps.Guard
	if guard != nil && deliveryID != "" {
		seen, err := guard.CheckAndMark(ctx, deliveryID)
		switch {
		case err != nil:
			// the upsert is idempotent on its own
			if logg != nil {
				logg.Error(ctx, "webhook.guard_unavailable", err)
			}
			guard = nil
		case seen:
			observe(metrics.OutcomeDuplicate)
			responses.WriteAck(w, http.StatusOK, types.WebhookAck{Status: "duplicate"})
			return
		}
	}

	err = process(ctx, body)
	switch {
	case err == nil:
		observe(metrics.OutcomeProcessed)
		if logg != nil {
			logg.Info(ctx, "webhook.processed")
		}
		responses.WriteAck(w, http.StatusOK, types.WebhookAck{})
	case errors.Is(err, webhooks.ErrIgnoredEvent):
		observe(metrics.OutcomeIgnored)
		if logg != nil {
			logg.Info(ctx, "webhook.ignored")
		}
		responses.WriteAck(w, http.StatusOK, types.WebhookAck{Status: "ignored"})
	case pkgerrors.IsTransient(err):
		observe(metrics.OutcomeTransient)
		if guard != nil && deliveryID != "" {
			_ = guard.Delete(ctx, deliveryID)
		}
		if logg != nil {
			logg.Error(ctx, "webhook.transient_failure", err)
		}
		responses.WriteJSON(w, http.StatusInternalServerError, types.ErrorEnvelope{Error: types.APIError{
			Code:    string(codeOf(err)),
			Message: "temporary failure, retry later",
		}})
	default:
		// replaying cannot fix a permanent failure; acknowledge to stop retries
		observe(metrics.OutcomePermanent)
		if logg != nil {
			logg.Error(ctx, "webhook.permanent_failure", err)
		}
		responses.WriteAck(w, http.StatusOK, types.WebhookAck{Status: "failed"})
	}
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}

// Status answers GET requests used to check the endpoint is reachable.
func Status(provider enums.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteAck(w, http.StatusOK, types.WebhookAck{
			Status:  "ok",
			Message: provider.String() + " webhook endpoint is active",
		})
	}
}
