package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const testSigningSecret = "whsec_test_secret"

func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParseSessionCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_123",
				"object": "checkout.session",
				"payment_intent": "pi_123",
				"amount_total": 5000,
				"currency": "aud",
				"customer_details": {"email": "customer@example.com"},
				"metadata": {"itemId": "job-1", "paymentType": "deposit"}
			}
		}
	}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier returned error: %v", err)
	}

	event, err := verifier.VerifyAndParse(payload, signPayload(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}

	if event.Kind != EventKindSessionCompleted {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if event.Session == nil {
		t.Fatal("expected session payload")
	}
	if event.Session.SessionID != "cs_test_123" {
		t.Errorf("unexpected session id %s", event.Session.SessionID)
	}
	if event.Session.IntentID != "pi_123" {
		t.Errorf("unexpected intent id %s", event.Session.IntentID)
	}
	if event.Session.Metadata["itemId"] != "job-1" || event.Session.Metadata["paymentType"] != "deposit" {
		t.Errorf("unexpected metadata %v", event.Session.Metadata)
	}
	if event.Session.AmountTotal != 5000 || event.Session.Currency != "aud" {
		t.Errorf("unexpected amounts %+v", event.Session)
	}
	if event.Session.CustomerEmail != "customer@example.com" {
		t.Errorf("unexpected customer email %s", event.Session.CustomerEmail)
	}
}

func TestVerifyAndParseIntentFailed(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"api_version": "2024-04-10",
		"type": "payment_intent.payment_failed",
		"data": {
			"object": {
				"id": "pi_456",
				"object": "payment_intent",
				"amount": 5000,
				"currency": "aud",
				"last_payment_error": {"message": "card declined"}
			}
		}
	}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier returned error: %v", err)
	}

	event, err := verifier.VerifyAndParse(payload, signPayload(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}

	if event.Kind != EventKindIntentFailed {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if event.Intent == nil || event.Intent.IntentID != "pi_456" {
		t.Fatalf("unexpected intent payload %+v", event.Intent)
	}
	if event.Intent.FailureReason != "card declined" {
		t.Errorf("unexpected failure reason %s", event.Intent.FailureReason)
	}
}

func TestVerifyAndParseUnknownEventKind(t *testing.T) {
	payload := []byte(`{
		"id": "evt_3",
		"api_version": "2024-04-10",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge"}}
	}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier returned error: %v", err)
	}

	event, err := verifier.VerifyAndParse(payload, signPayload(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}
	if event.Kind != EventKindUnknown {
		t.Fatalf("expected unknown kind, got %s", event.Kind)
	}
	if event.Type != "charge.refunded" {
		t.Errorf("expected raw type preserved, got %s", event.Type)
	}
	if event.Session != nil || event.Intent != nil {
		t.Error("expected no payload for unknown events")
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{}}}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier returned error: %v", err)
	}

	_, err = verifier.VerifyAndParse(payload, signPayload(t, payload, "whsec_wrong_secret"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndParseRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{}}}`)
	header := signPayload(t, payload, testSigningSecret)
	tampered := []byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{"id":"cs_evil"}}}`)

	verifier, err := NewStripeWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("NewStripeWebhookVerifier returned error: %v", err)
	}

	_, err = verifier.VerifyAndParse(tampered, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
