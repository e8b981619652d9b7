package webhooks

import (
	"context"
	"net/http"
	"strings"

	lemonwebhook "github.com/angelmondragon/kitforge-backend/internal/webhooks/lemonsqueezy"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
)

// LemonSqueezyWebhook records LemonSqueezy order and subscription events.
func LemonSqueezyWebhook(enabled bool, svc PayloadService, secret string, deps Deps) http.HandlerFunc {
	secret = strings.TrimSpace(secret)
	e := endpoint{provider: enums.ProviderLemonSqueezy, enabled: enabled && svc != nil && secret != "", deps: deps}
	verify := func(r *http.Request, body []byte) (string, error) {
		if err := lemonwebhook.VerifySignature(secret, body, r.Header.Get(lemonwebhook.HeaderSignature)); err != nil {
			return "", err
		}
		return lemonwebhook.DeliveryKey(body), nil
	}
	process := func(ctx context.Context, body []byte) error {
		_, err := svc.HandlePayload(ctx, body)
		return err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		e.serve(w, r, verify, process)
	}
}
