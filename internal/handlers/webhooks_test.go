package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/findmytreasure/api/internal/services"
)

type stubWebhookService struct {
	handleFunc func(ctx context.Context, payload []byte, signature string) (services.CallbackResult, error)
}

func (s *stubWebhookService) HandleCallback(ctx context.Context, payload []byte, signature string) (services.CallbackResult, error) {
	if s.handleFunc == nil {
		return services.CallbackResult{}, nil
	}
	return s.handleFunc(ctx, payload, signature)
}

var _ services.WebhookService = (*stubWebhookService)(nil)

func newWebhookRouter(webhooks services.WebhookService) http.Handler {
	handlers := NewWebhookHandlers(webhooks)
	return NewRouter(WithWebhookRoutes(handlers.Routes))
}

func TestStripeWebhookEndpoint(t *testing.T) {
	var capturedPayload []byte
	var capturedSignature string
	webhooks := &stubWebhookService{
		handleFunc: func(_ context.Context, payload []byte, signature string) (services.CallbackResult, error) {
			capturedPayload = payload
			capturedSignature = signature
			return services.CallbackResult{EventType: "checkout.session.completed", Handled: true}, nil
		},
	}
	router := newWebhookRouter(webhooks)

	payload := `{"id":"evt_1","type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(capturedPayload) != payload {
		t.Fatalf("expected raw payload passed through, got %q", capturedPayload)
	}
	if capturedSignature != "t=1,v1=good" {
		t.Fatalf("unexpected signature %q", capturedSignature)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["received"] != true {
		t.Fatalf("expected received ack, got %v", body)
	}
}

func TestStripeWebhookEndpointRequiresSignatureHeader(t *testing.T) {
	called := false
	webhooks := &stubWebhookService{
		handleFunc: func(context.Context, []byte, string) (services.CallbackResult, error) {
			called = true
			return services.CallbackResult{}, nil
		},
	}
	router := newWebhookRouter(webhooks)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be invoked without a signature header")
	}
}

func TestStripeWebhookEndpointBadSignature(t *testing.T) {
	webhooks := &stubWebhookService{
		handleFunc: func(context.Context, []byte, string) (services.CallbackResult, error) {
			return services.CallbackResult{}, services.ErrInvalidSignature
		},
	}
	router := newWebhookRouter(webhooks)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %v", body["error"])
	}
}

func TestStripeWebhookEndpointMalformedPayload(t *testing.T) {
	webhooks := &stubWebhookService{
		handleFunc: func(context.Context, []byte, string) (services.CallbackResult, error) {
			return services.CallbackResult{}, services.ErrMalformedPayload
		},
	}
	router := newWebhookRouter(webhooks)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"truncated`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "invalid_payload" {
		t.Fatalf("expected invalid_payload, got %v", body["error"])
	}
}

func TestStripeWebhookEndpointDuplicateAcknowledged(t *testing.T) {
	webhooks := &stubWebhookService{
		handleFunc: func(context.Context, []byte, string) (services.CallbackResult, error) {
			return services.CallbackResult{EventType: "checkout.session.completed", Duplicate: true}, nil
		},
	}
	router := newWebhookRouter(webhooks)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate deliveries must be acknowledged, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["duplicate"] != true {
		t.Fatalf("expected duplicate marker, got %v", body)
	}
}

func TestStripeWebhookEndpointStoreOutage(t *testing.T) {
	webhooks := &stubWebhookService{
		handleFunc: func(context.Context, []byte, string) (services.CallbackResult, error) {
			return services.CallbackResult{}, services.ErrWebhookUnavailable
		},
	}
	router := newWebhookRouter(webhooks)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
