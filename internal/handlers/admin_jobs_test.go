package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/services"
)

func newAdminRouter(booking services.BookingService) http.Handler {
	return newAdminRouterWithCheckout(booking, &stubCheckoutService{})
}

func newAdminRouterWithCheckout(booking services.BookingService, checkout services.CheckoutService) http.Handler {
	handlers := NewAdminJobHandlers(nil, booking, checkout)
	return NewRouter(WithAdminRoutes(handlers.Routes))
}

func TestAdminListJobs(t *testing.T) {
	var captured services.JobListQuery
	booking := &stubBookingService{
		listFunc: func(_ context.Context, query services.JobListQuery) (domain.CursorPage[services.Job], error) {
			captured = query
			return domain.CursorPage[services.Job]{
				Items: []services.Job{
					{ID: "job-1", Status: domain.JobStatusPending},
					{ID: "job-2", Status: domain.JobStatusAssigned},
				},
				NextPageToken: "next-token",
			}, nil
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs?status=pending,assigned&pageSize=25&assignedTo=worker-1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Jobs) != 2 || body.Jobs[0].ID != "job-1" {
		t.Fatalf("unexpected jobs %+v", body.Jobs)
	}
	if body.NextPageToken != "next-token" {
		t.Fatalf("expected next page token, got %q", body.NextPageToken)
	}

	if len(captured.Status) != 2 || captured.Status[0] != domain.JobStatusPending || captured.Status[1] != domain.JobStatusAssigned {
		t.Fatalf("unexpected status filter %+v", captured.Status)
	}
	if captured.AssignedTo != "worker-1" {
		t.Fatalf("expected assignedTo filter, got %q", captured.AssignedTo)
	}
	if captured.Pagination.PageSize != 25 {
		t.Fatalf("expected page size 25, got %d", captured.Pagination.PageSize)
	}
}

func TestAdminListJobsRejectsUnknownStatus(t *testing.T) {
	router := newAdminRouter(&stubBookingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs?status=misplaced", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminUpdateStatus(t *testing.T) {
	var captured services.UpdateJobStatusCommand
	booking := &stubBookingService{
		updateStatusFunc: func(_ context.Context, cmd services.UpdateJobStatusCommand) (services.Job, error) {
			captured = cmd
			return services.Job{ID: cmd.JobID, Status: cmd.Status}, nil
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/jobs/job-1/status", strings.NewReader(`{"status":"assigned"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.JobID != "job-1" || captured.Status != domain.JobStatusAssigned {
		t.Fatalf("unexpected command %+v", captured)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "assigned" {
		t.Fatalf("expected assigned status, got %v", body["status"])
	}
}

func TestAdminUpdateStatusIllegalTransition(t *testing.T) {
	booking := &stubBookingService{
		updateStatusFunc: func(context.Context, services.UpdateJobStatusCommand) (services.Job, error) {
			illegal := &domain.ErrIllegalTransition{From: domain.JobStatusRecovered, To: domain.JobStatusPending}
			return services.Job{}, fmt.Errorf("%w: %w", services.ErrIllegalTransition, illegal)
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/jobs/job-1/status", strings.NewReader(`{"status":"pending"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "illegal_transition" {
		t.Fatalf("expected illegal_transition, got %v", body["error"])
	}
}

func TestAdminUpdateStatusRequiresStatus(t *testing.T) {
	router := newAdminRouter(&stubBookingService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/jobs/job-1/status", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminAssignWorker(t *testing.T) {
	var captured services.AssignWorkerCommand
	booking := &stubBookingService{
		assignFunc: func(_ context.Context, cmd services.AssignWorkerCommand) (services.Job, error) {
			captured = cmd
			return services.Job{ID: cmd.JobID, AssignedTo: cmd.WorkerID, AssignedToName: cmd.WorkerName, Status: domain.JobStatusAssigned}, nil
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/jobs/job-1/assign", strings.NewReader(`{"worker":"worker-1","workerName":"Sam Diver"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.WorkerID != "worker-1" || captured.WorkerName != "Sam Diver" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminAssignWorkerRequiresWorker(t *testing.T) {
	router := newAdminRouter(&stubBookingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/jobs/job-1/assign", strings.NewReader(`{"worker":"  "}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminUpdateNotes(t *testing.T) {
	var captured services.UpdateJobNotesCommand
	booking := &stubBookingService{
		updateNotesFunc: func(_ context.Context, cmd services.UpdateJobNotesCommand) (services.Job, error) {
			captured = cmd
			return services.Job{ID: cmd.JobID}, nil
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/jobs/job-1/notes", strings.NewReader(`{"adminNotes":"called the customer"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AdminNotes == nil || *captured.AdminNotes != "called the customer" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.RecoveryNotes != nil {
		t.Fatalf("expected recovery notes untouched, got %+v", captured.RecoveryNotes)
	}
}

func TestAdminUpdateNotesRequiresField(t *testing.T) {
	router := newAdminRouter(&stubBookingService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/jobs/job-1/notes", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminBookingUnavailable(t *testing.T) {
	booking := &stubBookingService{
		listFunc: func(context.Context, services.JobListQuery) (domain.CursorPage[services.Job], error) {
			return domain.CursorPage[services.Job]{}, services.ErrBookingUnavailable
		},
	}
	router := newAdminRouter(booking)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAdminListJobPayments(t *testing.T) {
	var capturedJobID string
	checkout := &stubCheckoutService{
		listPaymentsFunc: func(_ context.Context, jobID string) ([]services.Payment, error) {
			capturedJobID = jobID
			return []services.Payment{
				{ID: "pay-1", JobID: jobID, Amount: 38000, Status: domain.PaymentStatusSucceeded, Type: domain.PaymentTypeDeposit},
				{ID: "pay-2", JobID: jobID, Amount: 12000, Status: domain.PaymentStatusPending, Type: domain.PaymentTypeFinderFee},
			}, nil
		},
	}
	router := newAdminRouterWithCheckout(&stubBookingService{}, checkout)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs/job-1/payments", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedJobID != "job-1" {
		t.Fatalf("expected job-1 lookup, got %q", capturedJobID)
	}

	var body struct {
		Payments []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Payments) != 2 || body.Payments[0].ID != "pay-1" || body.Payments[0].Status != "succeeded" {
		t.Fatalf("unexpected payments %+v", body.Payments)
	}
}

func TestAdminListJobPaymentsUnknownJob(t *testing.T) {
	checkout := &stubCheckoutService{
		listPaymentsFunc: func(context.Context, string) ([]services.Payment, error) {
			return nil, services.ErrJobNotFound
		},
	}
	router := newAdminRouterWithCheckout(&stubBookingService{}, checkout)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/jobs/job-404/payments", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminRefundPayment(t *testing.T) {
	var captured services.RefundPaymentCommand
	checkout := &stubCheckoutService{
		refundFunc: func(_ context.Context, cmd services.RefundPaymentCommand) (services.RefundResult, error) {
			captured = cmd
			return services.RefundResult{
				Payment: services.Payment{ID: cmd.PaymentID, Status: domain.PaymentStatusRefunded},
				Job:     services.Job{ID: "job-1", PaymentStatus: domain.JobPaymentStatusRefunded},
			}, nil
		},
	}
	router := newAdminRouterWithCheckout(&stubBookingService{}, checkout)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/pay-1/refund", strings.NewReader(`{"reason":"item not recovered"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentID != "pay-1" || captured.Reason != "item not recovered" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var body struct {
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
		Job struct {
			PaymentStatus string `json:"paymentStatus"`
		} `json:"job"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Payment.Status != "refunded" || body.Job.PaymentStatus != "refunded" {
		t.Fatalf("unexpected response %s", rr.Body.String())
	}
}

func TestAdminRefundPaymentAllowsEmptyBody(t *testing.T) {
	checkout := &stubCheckoutService{
		refundFunc: func(_ context.Context, cmd services.RefundPaymentCommand) (services.RefundResult, error) {
			if cmd.Reason != "" {
				t.Fatalf("expected empty reason, got %q", cmd.Reason)
			}
			return services.RefundResult{Payment: services.Payment{ID: cmd.PaymentID}}, nil
		},
	}
	router := newAdminRouterWithCheckout(&stubBookingService{}, checkout)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/pay-1/refund", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminRefundPaymentErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "unknown payment", err: services.ErrPaymentNotFound, wantStatus: http.StatusNotFound, wantCode: "payment_not_found"},
		{name: "not refundable", err: services.ErrPaymentNotRefundable, wantStatus: http.StatusConflict, wantCode: "payment_not_refundable"},
		{name: "gateway", err: services.ErrCheckoutGateway, wantStatus: http.StatusBadGateway, wantCode: "gateway_error"},
		{name: "persistence", err: services.ErrCheckoutPersistence, wantStatus: http.StatusServiceUnavailable, wantCode: "checkout_unavailable"},
	}
	for _, tc := range cases {
		checkout := &stubCheckoutService{
			refundFunc: func(context.Context, services.RefundPaymentCommand) (services.RefundResult, error) {
				return services.RefundResult{}, tc.err
			},
		}
		router := newAdminRouterWithCheckout(&stubBookingService{}, checkout)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/pay-1/refund", nil)
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
