package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteJSON writes payload without the data envelope. Webhook acks and server
// action results use it since their callers expect a flat body.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

// WriteAck acknowledges a provider delivery.
func WriteAck(w http.ResponseWriter, status int, ack types.WebhookAck) {
	ack.Received = true
	writeJSON(w, status, ack)
}

// WriteActionError reports a failed server action with a generic message.
// The cause is logged, never returned.
func WriteActionError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error, publicMsg string) {
	status := http.StatusInternalServerError
	if typed := pkgerrors.As(err); typed != nil {
		status = pkgerrors.MetadataFor(typed.Code()).HTTPStatus
		switch typed.Code() {
		case pkgerrors.CodeValidation, pkgerrors.CodeUnauthorized, pkgerrors.CodeRateLimit:
			if m := typed.Message(); m != "" {
				publicMsg = m
			}
		}
	}
	if logg != nil && err != nil {
		logg.Error(ctx, "action.error", err)
	}
	writeJSON(w, status, types.ActionResult{Success: false, Error: publicMsg})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeRateLimit:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: msg,
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"status": meta.HTTPStatus, "error_code": string(typed.Code())})
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(logg.WithField(ctx, "reason", typed.Message()), "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
