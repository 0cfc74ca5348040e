package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/zuri-app/zuri/app/models"
	"github.com/zuri-app/zuri/internal/pkg/mail"
	"gorm.io/gorm"
)

// Clock supplies the current time; injected so tests run deterministically.
type Clock func() time.Time

// SendMailFunc delivers one email. Optional; a nil func disables email.
type SendMailFunc func(to, subject, body string) error

// Service is the webhook-driven subscription reconciler. It admits each
// event at most once, computes the transition with the pure engine, and
// dispatches the side effects.
type Service struct {
	repo     Repository
	clock    Clock
	sendMail SendMailFunc
}

// NewService creates a reconciler from an injected repository and clock.
func NewService(repo Repository, clock Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, clock: clock}
}

// NewServiceFromDB creates a reconciler from a GORM DB handle, with email
// delivery enabled.
func NewServiceFromDB(db *gorm.DB) *Service {
	svc := NewService(NewRepository(db), nil)
	svc.sendMail = func(to, subject, body string) error {
		return mail.SendMail(to, subject, mail.BillingEmailBody(subject, body))
	}
	return svc
}

// WithMailer sets the email delivery function and returns the service.
func (s *Service) WithMailer(send SendMailFunc) *Service {
	s.sendMail = send
	return s
}

// VerifyAndParse authenticates a raw delivery against the webhook secret and
// decodes it. Verification runs over the exact delivered bytes and always
// precedes parsing; a payload that fails either step never reaches the
// transition engine.
func (s *Service) VerifyAndParse(payload []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	if err := VerifyWebhookSignature(payload, signatureHeader, secret, s.clock()); err != nil {
		return nil, err
	}
	return ParseWebhookEvent(payload)
}

// Receipt summarizes one processed delivery for the HTTP layer.
type Receipt struct {
	Outcome       string
	Detail        string
	Duplicate     bool
	UserID        uint
	EffectivePlan string
}

// ProcessWebhookEvent runs one verified event through the reconciler:
// idempotency admit, state load, pure transition, transactional dispatch,
// audit log, processed mark. A non-nil error means the delivery must be
// retried by the provider; every nil-error return is a final outcome that
// should be acknowledged with 200.
func (s *Service) ProcessWebhookEvent(ctx context.Context, ev *WebhookEvent) (*Receipt, error) {
	_ = ctx

	record := &models.WebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(ev.Raw),
		SignatureValid:  true,
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(record)
	if err != nil {
		return nil, fmt.Errorf("%w: admitting event %s: %v", ErrPersistence, ev.ID, err)
	}

	// A stored event with processed_at set is a completed delivery; one
	// without is a crashed attempt that must be re-applied. The transition
	// is idempotent at the entity level, so re-application is safe.
	if !created && stored.ProcessedAt != nil {
		s.appendLog(ev, EngineState{}, Transition{
			Outcome: models.ReconOutcomeDuplicate,
			Detail:  "event already processed at " + stored.ProcessedAt.Format(time.RFC3339),
		})
		return &Receipt{Outcome: models.ReconOutcomeDuplicate, Duplicate: true}, nil
	}

	st, err := s.loadState(ev)
	if err != nil {
		s.recordFailure(stored.ID, err)
		return nil, fmt.Errorf("%w: loading state for event %s: %v", ErrPersistence, ev.ID, err)
	}

	tr := Apply(ev, st)

	if tr.Sub != nil || tr.UserPlan != "" {
		if err := s.repo.ApplyTransition(tr.Sub, tr.UserID, tr.UserPlan); err != nil {
			s.recordFailure(stored.ID, err)
			s.appendLog(ev, st, Transition{Outcome: models.ReconOutcomeFailed, Detail: err.Error(), UserID: tr.UserID})
			return nil, fmt.Errorf("%w: applying transition for event %s: %v", ErrPersistence, ev.ID, err)
		}
	}

	// Notifications and emails are best-effort: a failed delivery is logged
	// and dropped, never rolled into the state transaction.
	for _, draft := range tr.Notifications {
		n := &models.Notification{
			UserID:  tr.UserID,
			Type:    draft.Type,
			Title:   draft.Title,
			Message: draft.Message,
		}
		if err := s.repo.CreateNotification(n); err != nil {
			log.Printf("billing: partial dispatch for event %s: notification %q not created: %v", ev.ID, draft.Title, err)
		}
		if s.sendMail != nil && st.User != nil && st.User.Email != "" {
			if err := s.sendMail(st.User.Email, draft.Title, draft.Message); err != nil {
				log.Printf("billing: partial dispatch for event %s: email %q not sent: %v", ev.ID, draft.Title, err)
			}
		}
	}

	s.appendLog(ev, st, tr)

	if err := s.repo.MarkWebhookProcessed(stored.ID); err != nil {
		// State is committed but the event is still re-admittable; the retry
		// re-applies an identical transition and only the audit log grows.
		return nil, fmt.Errorf("%w: marking event %s processed: %v", ErrPersistence, ev.ID, err)
	}

	receipt := &Receipt{
		Outcome:       tr.Outcome,
		Detail:        tr.Detail,
		UserID:        tr.UserID,
		EffectivePlan: tr.UserPlan,
	}
	if receipt.EffectivePlan == "" && st.User != nil {
		receipt.EffectivePlan = st.User.Plan
	}
	return receipt, nil
}

// loadState gathers the pre-event snapshot the engine needs. Missing rows are
// represented as nils, not errors; only real persistence failures propagate.
func (s *Service) loadState(ev *WebhookEvent) (EngineState, error) {
	var st EngineState

	subID := referencedSubscriptionID(ev)
	if subID != "" {
		sub, err := s.repo.GetSubscriptionByProviderID(models.BillingProviderStripe, subID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return st, err
		}
		st.Sub = sub
	}

	userID := uint(0)
	if ev.Type == EventCheckoutCompleted && ev.Checkout.Metadata.UserID != "" {
		parsed, err := strconv.ParseUint(ev.Checkout.Metadata.UserID, 10, 64)
		if err == nil {
			userID = uint(parsed)
		}
	} else if st.Sub != nil {
		userID = st.Sub.UserID
	}

	if userID != 0 {
		user, err := s.repo.GetUserByID(userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return st, err
		}
		st.User = user
		if user != nil {
			subs, err := s.repo.ListSubscriptionsByUser(user.ID)
			if err != nil {
				return st, err
			}
			st.UserSubs = subs
		}
	}
	return st, nil
}

// ReconcileUserPlan recomputes and writes the effective plan for a user from
// their stored subscriptions. Used by the resync endpoint and admin tooling.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return "", err
	}
	best := bestEntitledPlan(subs)

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	if user.Plan == best {
		return best, nil
	}
	if err := s.repo.ApplyTransition(nil, userID, best); err != nil {
		return "", err
	}
	return best, nil
}

func referencedSubscriptionID(ev *WebhookEvent) string {
	switch {
	case ev.Checkout != nil:
		return ev.Checkout.Subscription
	case ev.Subscription != nil:
		return ev.Subscription.ID
	case ev.Invoice != nil:
		return ev.Invoice.Subscription
	default:
		return ""
	}
}

func (s *Service) recordFailure(eventID uint, cause error) {
	if err := s.repo.RecordWebhookError(eventID, cause.Error()); err != nil {
		log.Printf("billing: recording webhook error for event row %d failed: %v", eventID, err)
	}
}

// appendLog writes the audit trail entry for a delivery. Best-effort: audit
// failures are logged, never turned into retries.
func (s *Service) appendLog(ev *WebhookEvent, st EngineState, tr Transition) {
	entry := &models.ReconciliationLog{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		UserID:          tr.UserID,
		Outcome:         tr.Outcome,
		Detail:          tr.Detail,
	}
	if st.Sub != nil {
		entry.BeforeStatus = st.Sub.Status
	}
	if st.User != nil {
		entry.BeforePlan = st.User.Plan
	}
	if tr.Sub != nil {
		entry.AfterStatus = tr.Sub.Status
	} else {
		entry.AfterStatus = entry.BeforeStatus
	}
	if tr.UserPlan != "" {
		entry.AfterPlan = tr.UserPlan
	} else {
		entry.AfterPlan = entry.BeforePlan
	}
	if err := s.repo.AppendReconciliationLog(entry); err != nil {
		log.Printf("billing: reconciliation log append failed for event %s: %v", ev.ID, err)
	}
}
