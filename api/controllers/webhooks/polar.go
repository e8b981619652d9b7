package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
)

type PayloadService interface {
	HandlePayload(ctx context.Context, body []byte) (*models.Payment, error)
}

type polarVerifier interface {
	Verify(header http.Header, body []byte) (string, error)
}

// PolarWebhook records Polar order and subscription events.
func PolarWebhook(enabled bool, svc PayloadService, verifier polarVerifier, deps Deps) http.HandlerFunc {
	e := endpoint{provider: enums.ProviderPolar, enabled: enabled && svc != nil && verifier != nil, deps: deps}
	verify := func(r *http.Request, body []byte) (string, error) {
		return verifier.Verify(r.Header, body)
	}
	process := func(ctx context.Context, body []byte) error {
		_, err := svc.HandlePayload(ctx, body)
		return err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		e.serve(w, r, verify, process)
	}
}
