package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the provider's webhook signature header.
const SignatureHeader = "Stripe-Signature"

// signatureTolerance bounds how far the signed timestamp may drift from the
// server clock before a delivery is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// VerifyWebhookSignature checks the provider signature over the exact request
// bytes. The header format is "t=<unix>,v1=<hex hmac>[,v1=...]" and the MAC is
// HMAC-SHA256 over "<t>.<payload>" keyed with the webhook secret. Comparison
// is constant-time. Verification must happen before the payload is parsed or
// trusted in any way.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string, now time.Time) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return ErrInvalidSignature
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(sig, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			if decoded, err := hex.DecodeString(value); err == nil {
				candidates = append(candidates, decoded)
			}
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if drift := now.Sub(time.Unix(unix, 0)); drift > signatureTolerance || drift < -signatureTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignWebhookPayload produces a valid signature header for a payload. Used by
// tests and local tooling to exercise the webhook endpoint.
func SignWebhookPayload(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
