package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zuri-app/zuri/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// StripeClient talks to the payment provider's REST API. Only checkout
// session creation is needed; everything else flows back through webhooks.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string
	AppBaseURL string
	PriceIDs   map[string]string

	HTTPClient *http.Client
}

// CheckoutSessionResponse is the subset of the provider's checkout session
// the API returns to the frontend.
type CheckoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		AppBaseURL: strings.TrimRight(env.GetEnv("APP_BASE_URL", "https://zuriasistent.com"), "/"),
		PriceIDs: map[string]string{
			"pro":     strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID_PRO", "")),
			"premium": strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID_PREMIUM", "")),
		},
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession opens a subscription checkout for a user and plan.
// The user id and plan travel in the session metadata so the webhook can tie
// the completed checkout back to the local account. The Idempotency-Key
// header keeps client retries from opening duplicate sessions.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, userID uint, plan string) (*CheckoutSessionResponse, error) {
	if c.SecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	priceID := c.PriceIDs[strings.ToLower(strings.TrimSpace(plan))]
	if priceID == "" {
		return nil, fmt.Errorf("no price configured for plan %q", plan)
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", c.AppBaseURL+"/dashboard?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.AppBaseURL+"/pricing")
	form.Set("metadata[user_id]", strconv.FormatUint(uint64(userID), 10))
	form.Set("metadata[plan]", plan)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("stripe checkout session failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session CheckoutSessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decoding checkout session response: %w", err)
	}
	if session.ID == "" {
		return nil, errors.New("checkout session response without id")
	}
	return &session, nil
}
