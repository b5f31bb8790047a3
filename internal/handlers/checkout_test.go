package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/services"
)

type stubCheckoutService struct {
	createFunc       func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error)
	getSessionFunc   func(ctx context.Context, sessionID string) (services.Payment, error)
	listPaymentsFunc func(ctx context.Context, jobID string) ([]services.Payment, error)
	refundFunc       func(ctx context.Context, cmd services.RefundPaymentCommand) (services.RefundResult, error)
}

func (s *stubCheckoutService) GetSessionPayment(ctx context.Context, sessionID string) (services.Payment, error) {
	if s.getSessionFunc == nil {
		return services.Payment{}, nil
	}
	return s.getSessionFunc(ctx, sessionID)
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
	if s.createFunc == nil {
		return services.CheckoutSession{}, nil
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubCheckoutService) ListJobPayments(ctx context.Context, jobID string) ([]services.Payment, error) {
	if s.listPaymentsFunc == nil {
		return nil, nil
	}
	return s.listPaymentsFunc(ctx, jobID)
}

func (s *stubCheckoutService) RefundPayment(ctx context.Context, cmd services.RefundPaymentCommand) (services.RefundResult, error) {
	if s.refundFunc == nil {
		return services.RefundResult{}, nil
	}
	return s.refundFunc(ctx, cmd)
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func newCheckoutRouter(checkout services.CheckoutService) http.Handler {
	handlers := NewCheckoutHandlers(checkout)
	return NewRouter(WithCheckoutRoutes(handlers.Routes))
}

func TestCheckoutSessionEndpoint(t *testing.T) {
	var captured services.CreateCheckoutSessionCommand
	checkout := &stubCheckoutService{
		createFunc: func(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			captured = cmd
			return services.CheckoutSession{
				SessionID:   "cs_test_1",
				RedirectURL: "https://checkout.stripe.com/pay/cs_test_1",
				ExpiresAt:   time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newCheckoutRouter(checkout)

	body := `{"jobId":"job-1","amount":38000,"paymentType":"deposit","customerEmail":"ava@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		SessionID string `json:"sessionId"`
		URL       string `json:"url"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.SessionID != "cs_test_1" || resp.URL == "" || resp.ExpiresAt == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if captured.JobID != "job-1" || captured.Amount != 38000 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.PaymentType != domain.PaymentTypeDeposit {
		t.Fatalf("expected deposit payment type, got %s", captured.PaymentType)
	}
}

func TestCheckoutSessionEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "validation", err: services.ErrCheckoutInvalidInput, wantStatus: http.StatusBadRequest, wantCode: "validation_error"},
		{name: "not found", err: services.ErrJobNotFound, wantStatus: http.StatusNotFound, wantCode: "job_not_found"},
		{name: "not payable", err: services.ErrCheckoutJobNotPayable, wantStatus: http.StatusConflict, wantCode: "job_not_payable"},
		{name: "gateway", err: services.ErrCheckoutGateway, wantStatus: http.StatusBadGateway, wantCode: "gateway_error"},
		{name: "persistence", err: services.ErrCheckoutPersistence, wantStatus: http.StatusServiceUnavailable, wantCode: "checkout_unavailable"},
		{name: "unavailable", err: services.ErrCheckoutUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "checkout_unavailable"},
	}
	for _, tc := range cases {
		checkout := &stubCheckoutService{
			createFunc: func(context.Context, services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
				return services.CheckoutSession{}, tc.err
			},
		}
		router := newCheckoutRouter(checkout)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(`{"jobId":"job-1","amount":100}`))
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.wantStatus, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: expected JSON body: %v", tc.name, err)
		}
		if body["error"] != tc.wantCode {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.wantCode, body["error"])
		}
	}
}

func TestCheckoutSessionEndpointRejectsEmptyBody(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(""))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutSessionLookupEndpoint(t *testing.T) {
	checkout := &stubCheckoutService{
		getSessionFunc: func(_ context.Context, sessionID string) (services.Payment, error) {
			return services.Payment{
				ID:        "pay-1",
				JobID:     "job-1",
				SessionID: sessionID,
				Amount:    38000,
				Status:    domain.PaymentStatusSucceeded,
				Type:      domain.PaymentTypeDeposit,
			}, nil
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session/cs_test_1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		SessionID   string `json:"sessionId"`
		JobID       string `json:"jobId"`
		Status      string `json:"status"`
		PaymentType string `json:"paymentType"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.SessionID != "cs_test_1" || body.JobID != "job-1" || body.Status != "succeeded" || body.PaymentType != "deposit" {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestCheckoutSessionLookupEndpointUnknownSession(t *testing.T) {
	checkout := &stubCheckoutService{
		getSessionFunc: func(context.Context, string) (services.Payment, error) {
			return services.Payment{}, services.ErrPaymentNotFound
		},
	}
	router := newCheckoutRouter(checkout)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session/cs_missing", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
