package lemonwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
)

const HeaderSignature = "X-Signature"

var errSignatureMismatch = errors.New("signature mismatch")

// VerifySignature checks the hex HMAC-SHA256 LemonSqueezy sends in X-Signature.
func VerifySignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return webhooks.SignatureMissing(HeaderSignature)
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return webhooks.SignatureInvalid(err)
	}
	if !hmac.Equal(got, computeMAC(secret, body)) {
		return webhooks.SignatureInvalid(errSignatureMismatch)
	}
	return nil
}

// Sign returns the X-Signature value for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(computeMAC(secret, body))
}

// DeliveryKey identifies a delivery for replay protection. LemonSqueezy sends
// no event id, so the body digest stands in for one.
func DeliveryKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func computeMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
