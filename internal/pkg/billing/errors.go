package billing

import "errors"

// Webhook processing error taxonomy. Signature and payload errors reject the
// delivery before any state is touched; persistence errors leave the event
// unprocessed so the provider's retry can succeed later.
var (
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	ErrMalformedPayload = errors.New("billing: malformed webhook payload")
	ErrPersistence      = errors.New("billing: persistence failure")
)
