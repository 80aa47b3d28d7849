package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"activation-api/internal/apperr"
)

// SignatureHeader carries the billing processor's webhook signature
const SignatureHeader = "Stripe-Signature"

// WebhookVerifier checks billing webhook signatures of the form
// "t=<unix>,v1=<hex hmac-sha256(secret, t + "." + payload)>".
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier creates a verifier. A zero tolerance disables the
// timestamp check.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify returns nil when header carries a valid signature of payload
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return apperr.New(apperr.InvalidInput, "Webhook signing secret not configured")
	}
	if header == "" {
		return apperr.New(apperr.InvalidInput, "Missing webhook signature")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return apperr.New(apperr.InvalidInput, "Malformed webhook signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "Malformed webhook signature", err)
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return apperr.New(apperr.InvalidInput, "Webhook timestamp outside tolerance")
		}
	}

	expected := v.generateSignature(timestamp, payload)
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return apperr.New(apperr.InvalidInput, "Invalid webhook signature")
}

// Sign builds a signature header for payload at the given time
func (v *WebhookVerifier) Sign(payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(v.generateSignature(timestamp, payload)))
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func (v *WebhookVerifier) generateSignature(timestamp string, payload []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}
