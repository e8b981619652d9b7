package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
)

const APIKeyHeader = "X-API-Key"

type apiKeyValidator interface {
	Enabled() bool
	Validate(key string) bool
}

// APIKey guards admin routes. Without configured keys the routes answer as
// disabled rather than open.
func APIKey(validator apiKeyValidator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if validator == nil || !validator.Enabled() {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeFeatureDisabled, "admin api disabled"))
				return
			}
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing api key"))
				return
			}
			if !validator.Validate(key) {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "ip", clientIP(r)), "admin.api_key_rejected")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid api key"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxAdmin, true)))
		})
	}
}
