package controllers

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zuri-app/zuri/app/models"
	"github.com/zuri-app/zuri/internal/pkg/billing"
)

const testWebhookSecret = "whsec_controller_test"

// stubBillingRepo is an in-memory billing.Repository for handler tests.
type stubBillingRepo struct {
	users     map[uint]*models.User
	subs      map[string]*models.Subscription
	events    map[string]*models.WebhookEvent
	logs      []models.ReconciliationLog
	failApply bool
	nextID    uint
}

func newStubBillingRepo() *stubBillingRepo {
	return &stubBillingRepo{
		users:  make(map[uint]*models.User),
		subs:   make(map[string]*models.Subscription),
		events: make(map[string]*models.WebhookEvent),
	}
}

func (r *stubBillingRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, stored, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, event, nil
}

func (r *stubBillingRepo) MarkWebhookProcessed(id uint) error {
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubBillingRepo) RecordWebhookError(id uint, processingError string) error {
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubBillingRepo) GetUserByID(id uint) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *stubBillingRepo) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	sub, ok := r.subs[provider+"/"+providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (r *stubBillingRepo) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *stubBillingRepo) ApplyTransition(sub *models.Subscription, userID uint, userPlan string) error {
	if r.failApply {
		return fmt.Errorf("stub: apply failed")
	}
	if sub != nil {
		copied := *sub
		r.subs[sub.Provider+"/"+sub.ProviderSubscriptionID] = &copied
	}
	if userID != 0 && userPlan != "" {
		if user, ok := r.users[userID]; ok {
			user.Plan = userPlan
		}
	}
	return nil
}

func (r *stubBillingRepo) CreateNotification(n *models.Notification) error {
	return nil
}

func (r *stubBillingRepo) AppendReconciliationLog(entry *models.ReconciliationLog) error {
	r.logs = append(r.logs, *entry)
	return nil
}

func newWebhookTestApp(repo billing.Repository, now time.Time) *fiber.App {
	svc := billing.NewService(repo, func() time.Time { return now })
	app := fiber.New()
	app.Post("/webhooks/payment", func(c *fiber.Ctx) error {
		return processPaymentWebhook(c, svc)
	})
	return app
}

func postWebhook(t *testing.T, app *fiber.App, payload, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payment", strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func checkoutPayload(eventID string, created time.Time, userID uint, plan, subID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {
			"customer": "cus_123",
			"subscription": %q,
			"metadata": {"user_id": "%d", "plan": %q}
		}}
	}`, eventID, created.Unix(), subID, userID, plan)
}

func TestHandlePaymentWebhookRejectsInvalidSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	app := newWebhookTestApp(newStubBillingRepo(), now)
	payload := checkoutPayload("evt_sig", now, 42, "pro", "sub_1")

	status, body := postWebhook(t, app, payload, "t=123,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_signature")

	status, body = postWebhook(t, app, payload, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_signature")
}

func TestHandlePaymentWebhookRejectsMalformedPayload(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	app := newWebhookTestApp(newStubBillingRepo(), now)

	payload := `{"id": "evt_bad", "type": ""}`
	sig := billing.SignWebhookPayload([]byte(payload), testWebhookSecret, now)

	status, body := postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_payload")
}

func TestHandlePaymentWebhookAppliesCheckout(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	repo := newStubBillingRepo()
	repo.users[42] = &models.User{ID: 42, Plan: "free"}
	app := newWebhookTestApp(repo, now)

	payload := checkoutPayload("evt_apply", now, 42, "pro", "sub_1")
	sig := billing.SignWebhookPayload([]byte(payload), testWebhookSecret, now)

	status, body := postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"received":true`)

	assert.Equal(t, "pro", repo.users[42].Plan)
	require.Contains(t, repo.subs, "stripe/sub_1")
	assert.Equal(t, models.SubscriptionStatusActive, repo.subs["stripe/sub_1"].Status)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.ReconOutcomeApplied, repo.logs[0].Outcome)
}

func TestHandlePaymentWebhookAcksDuplicate(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	repo := newStubBillingRepo()
	repo.users[42] = &models.User{ID: 42, Plan: "free"}
	app := newWebhookTestApp(repo, now)

	payload := checkoutPayload("evt_dup", now, 42, "pro", "sub_1")
	sig := billing.SignWebhookPayload([]byte(payload), testWebhookSecret, now)

	status, _ := postWebhook(t, app, payload, sig)
	require.Equal(t, fiber.StatusOK, status)

	status, body := postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"received":true`)

	// Second delivery only grows the audit trail.
	assert.Len(t, repo.logs, 2)
	assert.Equal(t, models.ReconOutcomeDuplicate, repo.logs[1].Outcome)
}

func TestHandlePaymentWebhookRetriesOnPersistenceFailure(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	repo := newStubBillingRepo()
	repo.users[42] = &models.User{ID: 42, Plan: "free"}
	repo.failApply = true
	app := newWebhookTestApp(repo, now)

	payload := checkoutPayload("evt_fail", now, 42, "pro", "sub_1")
	sig := billing.SignWebhookPayload([]byte(payload), testWebhookSecret, now)

	status, _ := postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "free", repo.users[42].Plan)

	// Provider retry after the fault clears succeeds.
	repo.failApply = false
	status, _ = postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pro", repo.users[42].Plan)
}

func TestHandlePaymentWebhookIgnoresUnknownEventType(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	now := time.Now()
	repo := newStubBillingRepo()
	app := newWebhookTestApp(repo, now)

	payload := fmt.Sprintf(`{"id": "evt_unknown", "type": "charge.refunded", "created": %d, "data": {"object": {}}}`, now.Unix())
	sig := billing.SignWebhookPayload([]byte(payload), testWebhookSecret, now)

	status, body := postWebhook(t, app, payload, sig)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"received":true`)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.ReconOutcomeIgnored, repo.logs[0].Outcome)
}
