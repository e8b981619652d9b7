package webhooks

import (
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

// ErrIgnoredEvent marks event types this service does not act on. Providers
// get a 200 so they stop redelivering.
var ErrIgnoredEvent = pkgerrors.New(pkgerrors.CodeValidation, "event type not handled")

// SignatureMissing is returned when the provider signature header is absent.
func SignatureMissing(header string) error {
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing").
		WithDetails(map[string]any{"header": header})
}

// SignatureInvalid is returned when the signature does not verify.
func SignatureInvalid(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "webhook signature invalid")
}

// Malformed wraps payload decoding failures.
func Malformed(err error, what string) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, what)
}
