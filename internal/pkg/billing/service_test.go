package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zuri-app/zuri/app/models"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for deterministic service tests.
type fakeRepo struct {
	events        map[string]*models.WebhookEvent
	users         map[uint]*models.User
	subs          map[string]*models.Subscription
	notifications []models.Notification
	logs          []models.ReconciliationLog

	nextEventID uint
	applyCalls  int

	failApply  error
	failNotify error
	failMark   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events: make(map[string]*models.WebhookEvent),
		users:  make(map[uint]*models.User),
		subs:   make(map[string]*models.Subscription),
	}
}

func subKey(provider, id string) string { return provider + "|" + id }

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := subKey(event.Provider, event.ProviderEventID)
	if stored, ok := f.events[key]; ok {
		clone := *stored
		return false, &clone, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	clone := *event
	f.events[key] = &clone
	out := clone
	return true, &out, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint) error {
	if f.failMark != nil {
		return f.failMark
	}
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = ""
		}
	}
	return nil
}

func (f *fakeRepo) RecordWebhookError(id uint, processingError string) error {
	for _, ev := range f.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
		}
	}
	return nil
}

func (f *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	if user, ok := f.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	if sub, ok := f.subs[subKey(provider, providerSubscriptionID)]; ok {
		clone := *sub
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) ApplyTransition(sub *models.Subscription, userID uint, userPlan string) error {
	if f.failApply != nil {
		return f.failApply
	}
	f.applyCalls++
	if sub != nil {
		clone := *sub
		f.subs[subKey(sub.Provider, sub.ProviderSubscriptionID)] = &clone
	}
	if userID != 0 && userPlan != "" {
		if user, ok := f.users[userID]; ok {
			user.Plan = userPlan
		}
	}
	return nil
}

func (f *fakeRepo) CreateNotification(n *models.Notification) error {
	if f.failNotify != nil {
		return f.failNotify
	}
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeRepo) AppendReconciliationLog(entry *models.ReconciliationLog) error {
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeRepo) lastLog(t *testing.T) models.ReconciliationLog {
	t.Helper()
	if len(f.logs) == 0 {
		t.Fatalf("expected at least one reconciliation log entry")
	}
	return f.logs[len(f.logs)-1]
}

func testClock() Clock {
	return func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
}

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, testClock())
}

func TestService_CheckoutThenDelete(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	svc := newTestService(repo)
	ctx := context.Background()

	checkout := checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")
	receipt, err := svc.ProcessWebhookEvent(ctx, checkout)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeApplied || receipt.EffectivePlan != "pro" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if repo.users[1].Plan != "pro" {
		t.Fatalf("user plan = %q, want pro", repo.users[1].Plan)
	}
	sub := repo.subs[subKey("stripe", "sub_1")]
	if sub == nil || sub.Status != "active" || sub.Plan != "pro" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Title != "Assinatura Ativada" {
		t.Fatalf("expected activation notification, got %+v", repo.notifications)
	}

	deleted := subscriptionEvent(t, "evt_2", EventSubscriptionDeleted, 1717243400, "sub_1", "", 0)
	receipt, err = svc.ProcessWebhookEvent(ctx, deleted)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if receipt.EffectivePlan != "free" {
		t.Fatalf("effective plan = %q, want free", receipt.EffectivePlan)
	}
	if repo.users[1].Plan != "free" {
		t.Fatalf("user plan = %q, want free", repo.users[1].Plan)
	}
	if got := repo.subs[subKey("stripe", "sub_1")].Status; got != "canceled" {
		t.Fatalf("subscription status = %q, want canceled", got)
	}
	if len(repo.notifications) != 2 || repo.notifications[1].Title != "Assinatura Cancelada" {
		t.Fatalf("expected cancellation notification, got %+v", repo.notifications)
	}
}

func TestService_DuplicateDeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	svc := newTestService(repo)
	ctx := context.Background()

	checkout := checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")
	if _, err := svc.ProcessWebhookEvent(ctx, checkout); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	applyCalls := repo.applyCalls
	notifications := len(repo.notifications)
	logEntries := len(repo.logs)

	receipt, err := svc.ProcessWebhookEvent(ctx, checkout)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !receipt.Duplicate || receipt.Outcome != models.ReconOutcomeDuplicate {
		t.Fatalf("expected duplicate receipt, got %+v", receipt)
	}
	if repo.applyCalls != applyCalls {
		t.Fatalf("duplicate delivery mutated state: %d apply calls", repo.applyCalls)
	}
	if len(repo.notifications) != notifications {
		t.Fatalf("duplicate delivery emitted notifications")
	}
	// Only the audit log grows.
	if len(repo.logs) != logEntries+1 {
		t.Fatalf("expected one extra log entry, got %d -> %d", logEntries, len(repo.logs))
	}
	if repo.lastLog(t).Outcome != models.ReconOutcomeDuplicate {
		t.Fatalf("expected duplicate log outcome, got %q", repo.lastLog(t).Outcome)
	}
}

func TestService_OutOfOrderEventDiscarded(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	svc := newTestService(repo)
	ctx := context.Background()

	// E1: active at t1.
	if _, err := svc.ProcessWebhookEvent(ctx, checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")); err != nil {
		t.Fatalf("E1: %v", err)
	}
	// E2: canceled, but occurred before E1 and redelivered late.
	receipt, err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(t, "evt_2", EventSubscriptionUpdated, 1717243100, "sub_1", "canceled", 0))
	if err != nil {
		t.Fatalf("E2: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeStale {
		t.Fatalf("outcome = %q, want stale", receipt.Outcome)
	}
	if got := repo.subs[subKey("stripe", "sub_1")].Status; got != "active" {
		t.Fatalf("stale event regressed status to %q", got)
	}
	if repo.users[1].Plan != "pro" {
		t.Fatalf("stale event changed user plan to %q", repo.users[1].Plan)
	}
}

func TestService_ReissuedCheckoutAfterCancelStaysCanceled(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.ProcessWebhookEvent(ctx, checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(t, "evt_2", EventSubscriptionDeleted, 1717243400, "sub_1", "", 0)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The provider re-issues the original checkout under a fresh event id; its
	// occurred_at predates the deletion, so it must not reactivate anything.
	receipt, err := svc.ProcessWebhookEvent(ctx, checkoutEvent(t, "evt_3", 1717243200, "1", "pro", "sub_1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeStale {
		t.Fatalf("outcome = %q, want stale", receipt.Outcome)
	}
	if got := repo.subs[subKey("stripe", "sub_1")].Status; got != "canceled" {
		t.Fatalf("replay reactivated the subscription: %q", got)
	}
	if repo.users[1].Plan != "free" {
		t.Fatalf("replay changed user plan to %q", repo.users[1].Plan)
	}
}

func TestService_OrphanEventAcknowledged(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	receipt, err := svc.ProcessWebhookEvent(context.Background(),
		subscriptionEvent(t, "evt_1", EventSubscriptionUpdated, 1717243200, "sub_404", "active", 0))
	if err != nil {
		t.Fatalf("orphan event must not error: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeOrphan {
		t.Fatalf("outcome = %q, want orphan", receipt.Outcome)
	}
	if len(repo.subs) != 0 {
		t.Fatalf("orphan event created a subscription")
	}
	if repo.lastLog(t).Outcome != models.ReconOutcomeOrphan {
		t.Fatalf("expected orphan log entry, got %q", repo.lastLog(t).Outcome)
	}
	// Still marked processed so the provider stops retrying.
	stored := repo.events[subKey("stripe", "evt_1")]
	if stored.ProcessedAt == nil {
		t.Fatalf("orphan event not marked processed")
	}
}

func TestService_PersistenceFailureLeavesEventUnprocessed(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	repo.failApply = errors.New("db down")
	svc := newTestService(repo)
	ctx := context.Background()

	checkout := checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")
	if _, err := svc.ProcessWebhookEvent(ctx, checkout); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	stored := repo.events[subKey("stripe", "evt_1")]
	if stored == nil || stored.ProcessedAt != nil {
		t.Fatalf("failed event must stay unprocessed: %+v", stored)
	}
	if stored.ProcessingError == "" {
		t.Fatalf("expected processing error to be recorded")
	}

	// Provider retry after recovery applies the transition exactly once.
	repo.failApply = nil
	receipt, err := svc.ProcessWebhookEvent(ctx, checkout)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeApplied {
		t.Fatalf("retry outcome = %q, want applied", receipt.Outcome)
	}
	if repo.users[1].Plan != "pro" {
		t.Fatalf("retry did not apply plan, got %q", repo.users[1].Plan)
	}
	if repo.events[subKey("stripe", "evt_1")].ProcessedAt == nil {
		t.Fatalf("retried event not marked processed")
	}
}

func TestService_NotificationFailureDoesNotFailDelivery(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	repo.failNotify = errors.New("notification store down")
	svc := newTestService(repo)

	receipt, err := svc.ProcessWebhookEvent(context.Background(), checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1"))
	if err != nil {
		t.Fatalf("notification failure must not fail the delivery: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeApplied {
		t.Fatalf("outcome = %q, want applied", receipt.Outcome)
	}
	if repo.users[1].Plan != "pro" {
		t.Fatalf("state mutation rolled back on notification failure")
	}
}

func TestService_ReconcileUserPlan(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "premium"}
	repo.subs[subKey("stripe", "sub_1")] = &models.Subscription{
		UserID: 1, Provider: "stripe", ProviderSubscriptionID: "sub_1",
		Status: "canceled", Plan: "premium",
	}
	svc := newTestService(repo)

	plan, err := svc.ReconcileUserPlan(context.Background(), 1)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if plan != "free" {
		t.Fatalf("plan = %q, want free", plan)
	}
	if repo.users[1].Plan != "free" {
		t.Fatalf("user plan not written, got %q", repo.users[1].Plan)
	}
}

func TestService_PlanDerivationInvariant(t *testing.T) {
	// After any sequence of events, User.plan is free when no entitling
	// subscription exists, else the plan of the best entitling one.
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Plan: "free"}
	svc := newTestService(repo)
	ctx := context.Background()

	steps := []*WebhookEvent{
		checkoutEvent(t, "evt_1", 1000000000, "1", "pro", "sub_1"),
		checkoutEvent(t, "evt_2", 1000000100, "1", "premium", "sub_2"),
		subscriptionEvent(t, "evt_3", EventSubscriptionDeleted, 1000000200, "sub_2", "", 0),
		subscriptionEvent(t, "evt_4", EventSubscriptionUpdated, 1000000300, "sub_1", "unpaid", 0),
	}
	wantPlans := []string{"pro", "premium", "pro", "free"}

	for i, ev := range steps {
		if _, err := svc.ProcessWebhookEvent(ctx, ev); err != nil {
			t.Fatalf("step %d (%s): %v", i, ev.ID, err)
		}
		if got := repo.users[1].Plan; got != wantPlans[i] {
			t.Fatalf("step %d: user plan = %q, want %q", i, got, wantPlans[i])
		}
	}
}

func TestService_VerifyAndParse(t *testing.T) {
	svc := newTestService(newFakeRepo())
	secret := "whsec_test"
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","type":"invoice.payment_failed","created":%d,"data":{"object":{"id":"in_1","subscription":"sub_1"}}}`, testClock()().Unix()))

	header := SignWebhookPayload(payload, secret, testClock()())
	ev, err := svc.VerifyAndParse(payload, header, secret)
	if err != nil {
		t.Fatalf("verify+parse: %v", err)
	}
	if ev.Type != EventInvoicePaymentFailed {
		t.Fatalf("unexpected type %q", ev.Type)
	}

	if _, err := svc.VerifyAndParse(payload, "t=1,v1=00", secret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestService_EmailsFollowNotifications(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Email: "user@example.com", Plan: "free"}

	var sent []string
	svc := newTestService(repo).WithMailer(func(to, subject, body string) error {
		sent = append(sent, to+"/"+subject)
		return errors.New("smtp down")
	})
	ctx := context.Background()

	checkout := checkoutEvent(t, "evt_1", 1717243200, "1", "pro", "sub_1")
	receipt, err := svc.ProcessWebhookEvent(ctx, checkout)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if receipt.Outcome != models.ReconOutcomeApplied {
		t.Fatalf("outcome = %q, want applied", receipt.Outcome)
	}
	if len(sent) != 1 || sent[0] != "user@example.com/Assinatura Ativada" {
		t.Fatalf("unexpected emails: %v", sent)
	}
	// The SMTP failure above must not fail the delivery or skip the
	// notification insert.
	if len(repo.notifications) != 1 {
		t.Fatalf("expected notification despite email failure, got %d", len(repo.notifications))
	}
}
