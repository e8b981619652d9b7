package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
	errLivemodeMismatch = errors.New("stripe event livemode does not match the configured environment")
)

// Client verifies Stripe webhook deliveries for one environment. Events
// signed for the other mode are rejected so a test dashboard cannot grant
// live entitlements.
type Client struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
}

// NewClient validates the Stripe settings. A zero tolerance keeps the
// library default of five minutes.
func NewClient(ctx context.Context, cfg config.StripeConfig, tolerance time.Duration, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"environment": env,
			"tolerance":   tolerance.String(),
		}), "stripe webhook verifier initialized")
	}
	return &Client{environment: env, signingSecret: secret, tolerance: tolerance}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// API version mismatches are tolerated: event data is decoded by the webhook
// adapters into their own shapes.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, c.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, err
	}
	if event.Livemode != (c.environment == liveEnv) {
		return stripe.Event{}, errLivemodeMismatch
	}
	return event, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}
