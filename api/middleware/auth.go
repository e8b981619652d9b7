package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	pkgAuth "github.com/angelmondragon/kitforge-backend/pkg/auth"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/types"
)

// Auth validates a bearer token and seeds the request context with the user.
// Failures use the server action body so the UI can render them directly.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthenticated(w)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				if logg != nil {
					reason := "invalid"
					if errors.Is(err, pkgAuth.ErrTokenExpired) {
						reason = "expired"
					}
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"reason": reason, "detail": err.Error()}), "auth.token_rejected")
				}
				writeUnauthenticated(w)
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.Email)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}

func writeUnauthenticated(w http.ResponseWriter) {
	status := pkgerrors.MetadataFor(pkgerrors.CodeUnauthorized).HTTPStatus
	responses.WriteJSON(w, status, types.ActionResult{Success: false, Error: "Not authenticated"})
}
