package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider event types handled by the reconciler. Everything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// WebhookEvent is one verified, parsed provider event. Exactly one of the
// payload fields is set, according to Type; Raw keeps the delivered bytes for
// the audit record.
type WebhookEvent struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Raw        json.RawMessage

	Checkout     *CheckoutSession
	Subscription *SubscriptionObject
	Invoice      *InvoiceObject
}

// CheckoutSession is the data.object of checkout.session.completed. The user
// and plan travel in the session metadata set at checkout creation.
type CheckoutSession struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Metadata     struct {
		UserID string `json:"user_id"`
		Plan   string `json:"plan"`
	} `json:"metadata"`
}

// SubscriptionObject is the data.object of customer.subscription.* events.
type SubscriptionObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// InvoiceObject is the data.object of invoice.payment_* events.
type InvoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a provider event from its raw delivery bytes.
// Callers must have verified the signature first. Unknown event types parse
// into an envelope-only event so the caller can acknowledge and skip them.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.ID == "" || env.Type == "" || env.Created <= 0 {
		return nil, fmt.Errorf("%w: missing event id, type or created timestamp", ErrMalformedPayload)
	}

	ev := &WebhookEvent{
		ID:         env.ID,
		Type:       env.Type,
		OccurredAt: time.Unix(env.Created, 0).UTC(),
		Raw:        append(json.RawMessage(nil), payload...),
	}

	switch env.Type {
	case EventCheckoutCompleted:
		ev.Checkout = &CheckoutSession{}
		if err := json.Unmarshal(env.Data.Object, ev.Checkout); err != nil {
			return nil, fmt.Errorf("%w: checkout session object: %v", ErrMalformedPayload, err)
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		ev.Subscription = &SubscriptionObject{}
		if err := json.Unmarshal(env.Data.Object, ev.Subscription); err != nil {
			return nil, fmt.Errorf("%w: subscription object: %v", ErrMalformedPayload, err)
		}
		if ev.Subscription.ID == "" {
			return nil, fmt.Errorf("%w: subscription object without id", ErrMalformedPayload)
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		ev.Invoice = &InvoiceObject{}
		if err := json.Unmarshal(env.Data.Object, ev.Invoice); err != nil {
			return nil, fmt.Errorf("%w: invoice object: %v", ErrMalformedPayload, err)
		}
	}

	return ev, nil
}
