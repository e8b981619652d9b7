package polarwebhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
)

// Standard Webhooks headers sent by Polar.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"

	secretPrefix = "whsec_"
)

var (
	errTimestampInvalid = errors.New("webhook timestamp is not a unix time")
	errTimestampSkew    = errors.New("webhook timestamp outside tolerance")
)

// Verifier checks Standard Webhooks signatures. The timestamp window is
// enforced here so it follows the configured skew; the library only checks
// the HMAC.
type Verifier struct {
	hook      *standardwebhooks.Webhook
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier accepts the secret as configured in the Polar dashboard. A
// "whsec_" prefixed secret carries a base64 key; anything else is used raw.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("polar webhook secret required")
	}

	var (
		hook *standardwebhooks.Webhook
		err  error
	)
	if strings.HasPrefix(secret, secretPrefix) {
		hook, err = standardwebhooks.NewWebhook(secret)
	} else {
		hook, err = standardwebhooks.NewWebhookRaw([]byte(secret))
	}
	if err != nil {
		return nil, fmt.Errorf("polar webhook secret: %w", err)
	}
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{hook: hook, tolerance: tolerance, now: time.Now}, nil
}

// Verify returns the webhook id when the body carries a valid signature.
func (v *Verifier) Verify(header http.Header, body []byte) (string, error) {
	id := strings.TrimSpace(header.Get(HeaderID))
	ts := strings.TrimSpace(header.Get(HeaderTimestamp))
	sigs := strings.TrimSpace(header.Get(HeaderSignature))
	switch {
	case sigs == "":
		return "", webhooks.SignatureMissing(HeaderSignature)
	case id == "":
		return "", webhooks.SignatureMissing(HeaderID)
	case ts == "":
		return "", webhooks.SignatureMissing(HeaderTimestamp)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", webhooks.SignatureInvalid(errTimestampInvalid)
	}
	sent := time.Unix(unix, 0)
	now := v.now()
	if sent.Before(now.Add(-v.tolerance)) || sent.After(now.Add(v.tolerance)) {
		return "", webhooks.SignatureInvalid(errTimestampSkew)
	}

	if err := v.hook.VerifyIgnoringTimestamp(body, header); err != nil {
		return "", webhooks.SignatureInvalid(err)
	}
	return id, nil
}

// Sign builds a webhook-signature value for body. Used by tests and local
// tooling.
func (v *Verifier) Sign(id string, ts time.Time, body []byte) (string, error) {
	return v.hook.Sign(id, ts, body)
}
