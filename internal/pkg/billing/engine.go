package billing

import (
	"fmt"
	"time"

	"github.com/zuri-app/zuri/app/models"
)

// User-facing notification texts emitted by subscription transitions.
const (
	titleSubscriptionActivated = "Assinatura Ativada"
	titleSubscriptionCanceled  = "Assinatura Cancelada"
	titlePaymentConfirmed      = "Pagamento Confirmado"
	titlePaymentFailed         = "Falha no Pagamento"

	msgSubscriptionCanceled = "Sua assinatura foi cancelada. Você foi movido para o plano gratuito."
	msgPaymentConfirmed     = "Seu pagamento foi processado com sucesso!"
	msgPaymentFailed        = "Houve um problema ao processar seu pagamento. Por favor, atualize suas informações de pagamento."
)

// EngineState is the pre-event snapshot the transition engine operates on.
// Sub is the subscription the event references (nil when unknown), User its
// owner, and UserSubs all subscriptions of that user for plan derivation.
type EngineState struct {
	User     *models.User
	Sub      *models.Subscription
	UserSubs []models.Subscription
}

// NotificationDraft is a pending user notification computed by a transition.
type NotificationDraft struct {
	Type    string
	Title   string
	Message string
}

// Transition is the computed effect of one event: the desired post-state of
// the subscription (nil for no write), an optional user plan write, and any
// notifications to emit. Outcome uses the reconciliation log vocabulary.
type Transition struct {
	Outcome string
	Detail  string

	Sub           *models.Subscription
	UserID        uint
	UserPlan      string
	Notifications []NotificationDraft
}

// Apply computes the transition for one event against the current state. It
// is a pure function: no I/O, no clock reads, deterministic for a given
// (state, event) pair, which is what makes the reconciler replayable.
func Apply(ev *WebhookEvent, st EngineState) Transition {
	switch ev.Type {
	case EventCheckoutCompleted:
		return applyCheckoutCompleted(ev, st)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return applySubscriptionUpdate(ev, st)
	case EventSubscriptionDeleted:
		return applySubscriptionDeleted(ev, st)
	case EventInvoicePaymentSucceeded:
		return applyInvoice(ev, st, NotificationDraft{
			Type:    models.NotificationTypePayment,
			Title:   titlePaymentConfirmed,
			Message: msgPaymentConfirmed,
		})
	case EventInvoicePaymentFailed:
		return applyInvoice(ev, st, NotificationDraft{
			Type:    models.NotificationTypePayment,
			Title:   titlePaymentFailed,
			Message: msgPaymentFailed,
		})
	default:
		return Transition{Outcome: models.ReconOutcomeIgnored, Detail: "unhandled event type " + ev.Type}
	}
}

func applyCheckoutCompleted(ev *WebhookEvent, st EngineState) Transition {
	if ev.Checkout.Metadata.UserID == "" {
		return Transition{Outcome: models.ReconOutcomeIgnored, Detail: "checkout session without user_id metadata"}
	}
	if st.User == nil {
		return Transition{Outcome: models.ReconOutcomeOrphan, Detail: "no local user for checkout user_id " + ev.Checkout.Metadata.UserID}
	}
	if isStale(ev, st.Sub) {
		return staleTransition(ev, st)
	}

	// The provider defaults checkouts without plan metadata to pro.
	planRef := ev.Checkout.Metadata.Plan
	if planRef == "" {
		planRef = "pro"
	}
	plan := normalizePlan(planRef)

	sub := &models.Subscription{
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: ev.Checkout.Subscription,
	}
	if st.Sub != nil {
		// Entity-level idempotency: a redelivered or re-issued checkout for a
		// known subscription is an upsert, never a duplicate insert.
		clone := *st.Sub
		sub = &clone
	}
	occurredAt := ev.OccurredAt
	sub.UserID = st.User.ID
	sub.ProviderCustomerID = ev.Checkout.Customer
	sub.Status = models.SubscriptionStatusActive
	sub.Plan = plan
	sub.LastEventAt = &occurredAt
	sub.RawPayloadJSON = string(ev.Raw)

	return Transition{
		Outcome:  models.ReconOutcomeApplied,
		Sub:      sub,
		UserID:   st.User.ID,
		UserPlan: bestEntitledPlanWith(sub, st.UserSubs),
		Notifications: []NotificationDraft{{
			Type:    models.NotificationTypeSubscription,
			Title:   titleSubscriptionActivated,
			Message: fmt.Sprintf("Sua assinatura %s foi ativada com sucesso!", plan),
		}},
	}
}

func applySubscriptionUpdate(ev *WebhookEvent, st EngineState) Transition {
	if st.Sub == nil {
		return orphanTransition("no subscription for provider id "+ev.Subscription.ID)
	}
	if isStale(ev, st.Sub) {
		return staleTransition(ev, st)
	}

	occurredAt := ev.OccurredAt
	clone := *st.Sub
	sub := &clone
	sub.Status = normalizeStatus(ev.Subscription.Status)
	sub.CancelAtPeriodEnd = ev.Subscription.CancelAtPeriodEnd
	if ev.Subscription.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(ev.Subscription.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &periodEnd
	}
	sub.LastEventAt = &occurredAt
	sub.RawPayloadJSON = string(ev.Raw)

	// The subscription's stored plan is never changed here; only checkout and
	// deletion move a user between plans. The user write below only reflects
	// entitlement changes caused by the status (e.g. active -> canceled).
	return Transition{
		Outcome:  models.ReconOutcomeApplied,
		Sub:      sub,
		UserID:   st.Sub.UserID,
		UserPlan: bestEntitledPlanWith(sub, st.UserSubs),
	}
}

func applySubscriptionDeleted(ev *WebhookEvent, st EngineState) Transition {
	if st.Sub == nil {
		return orphanTransition("no subscription for provider id "+ev.Subscription.ID)
	}
	if isStale(ev, st.Sub) {
		return staleTransition(ev, st)
	}

	occurredAt := ev.OccurredAt
	clone := *st.Sub
	sub := &clone
	sub.Status = models.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.LastEventAt = &occurredAt
	sub.RawPayloadJSON = string(ev.Raw)

	return Transition{
		Outcome:  models.ReconOutcomeApplied,
		Sub:      sub,
		UserID:   st.Sub.UserID,
		UserPlan: bestEntitledPlanWith(sub, st.UserSubs),
		Notifications: []NotificationDraft{{
			Type:    models.NotificationTypeSubscription,
			Title:   titleSubscriptionCanceled,
			Message: msgSubscriptionCanceled,
		}},
	}
}

func applyInvoice(ev *WebhookEvent, st EngineState, draft NotificationDraft) Transition {
	if ev.Invoice.Subscription == "" {
		return Transition{Outcome: models.ReconOutcomeIgnored, Detail: "invoice without subscription reference"}
	}
	if st.Sub == nil {
		return orphanTransition("no subscription for provider id "+ev.Invoice.Subscription)
	}

	// Notification-only: invoice events never move subscription or plan state.
	return Transition{
		Outcome:       models.ReconOutcomeApplied,
		UserID:        st.Sub.UserID,
		Notifications: []NotificationDraft{draft},
	}
}

// isStale reports whether the event is older than the last event already
// applied to the subscription. Equal timestamps are not stale.
func isStale(ev *WebhookEvent, sub *models.Subscription) bool {
	return sub != nil && sub.LastEventAt != nil && ev.OccurredAt.Before(*sub.LastEventAt)
}

func staleTransition(ev *WebhookEvent, st EngineState) Transition {
	return Transition{
		Outcome: models.ReconOutcomeStale,
		Detail: fmt.Sprintf("event occurred_at %s predates last applied event %s",
			ev.OccurredAt.Format(time.RFC3339), st.Sub.LastEventAt.Format(time.RFC3339)),
		UserID: st.Sub.UserID,
	}
}

func orphanTransition(detail string) Transition {
	return Transition{Outcome: models.ReconOutcomeOrphan, Detail: detail}
}
