package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/platform/auth"
	"github.com/findmytreasure/api/internal/platform/httpx"
	"github.com/findmytreasure/api/internal/platform/pagination"
	"github.com/findmytreasure/api/internal/services"
)

const maxAdminJobRequestBody = 32 * 1024

// AdminJobHandlers exposes the staff job console endpoints.
type AdminJobHandlers struct {
	authn    *auth.Authenticator
	booking  services.BookingService
	checkout services.CheckoutService
}

// NewAdminJobHandlers constructs the admin job handlers guarded by Firebase
// authentication with the admin or staff role.
func NewAdminJobHandlers(authn *auth.Authenticator, booking services.BookingService, checkout services.CheckoutService) *AdminJobHandlers {
	return &AdminJobHandlers{
		authn:    authn,
		booking:  booking,
		checkout: checkout,
	}
}

// Routes registers the admin job endpoints under the provided router.
func (h *AdminJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	group.Get("/jobs", h.listJobs)
	group.Patch("/jobs/{jobID}/status", h.updateStatus)
	group.Post("/jobs/{jobID}/assign", h.assignWorker)
	group.Patch("/jobs/{jobID}/notes", h.updateNotes)
	group.Get("/jobs/{jobID}/payments", h.listPayments)
	group.Post("/payments/{paymentID}/refund", h.refundPayment)
}

type jobListResponse struct {
	Jobs          []jobResponse `json:"jobs"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type assignWorkerRequest struct {
	Worker     string `json:"worker"`
	WorkerName string `json:"workerName"`
}

type updateNotesRequest struct {
	AdminNotes    *string `json:"adminNotes"`
	RecoveryNotes *string `json:"recoveryNotes"`
}

func (h *AdminJobHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.booking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.JobListQuery{
		AssignedTo: strings.TrimSpace(r.URL.Query().Get("assignedTo")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		status := domain.JobStatus(strings.TrimSpace(raw))
		if status == "" {
			continue
		}
		switch status {
		case domain.JobStatusPending, domain.JobStatusAssigned, domain.JobStatusInProgress,
			domain.JobStatusRecovered, domain.JobStatusCancelled:
			query.Status = append(query.Status, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter", http.StatusBadRequest))
			return
		}
	}

	page, err := h.booking.ListJobs(ctx, query)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	jobs := make([]jobResponse, 0, len(page.Items))
	for _, job := range page.Items {
		jobs = append(jobs, jobToResponse(job))
	}

	writeJSONResponse(w, http.StatusOK, jobListResponse{
		Jobs:          jobs,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminJobHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.booking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "job id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminJobRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	job, err := h.booking.UpdateStatus(ctx, services.UpdateJobStatusCommand{
		JobID:  jobID,
		Status: domain.JobStatus(strings.TrimSpace(req.Status)),
		Actor:  actorUID(r),
	})
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, jobToResponse(job))
}

func (h *AdminJobHandlers) assignWorker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.booking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "job id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminJobRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req assignWorkerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Worker) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "worker is required", http.StatusBadRequest))
		return
	}

	job, err := h.booking.AssignWorker(ctx, services.AssignWorkerCommand{
		JobID:      jobID,
		WorkerID:   req.Worker,
		WorkerName: req.WorkerName,
	})
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, jobToResponse(job))
}

func (h *AdminJobHandlers) updateNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.booking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "job id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminJobRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req updateNotesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.AdminNotes == nil && req.RecoveryNotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "adminNotes or recoveryNotes is required", http.StatusBadRequest))
		return
	}

	job, err := h.booking.UpdateNotes(ctx, services.UpdateJobNotesCommand{
		JobID:         jobID,
		AdminNotes:    req.AdminNotes,
		RecoveryNotes: req.RecoveryNotes,
	})
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, jobToResponse(job))
}

type paymentResponse struct {
	ID          string `json:"id"`
	JobID       string `json:"jobId"`
	SessionID   string `json:"sessionId,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	CreatedAt   string `json:"createdAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

type paymentListResponse struct {
	Payments []paymentResponse `json:"payments"`
}

type refundPaymentRequest struct {
	Reason string `json:"reason"`
}

func paymentToResponse(payment domain.Payment) paymentResponse {
	return paymentResponse{
		ID:          payment.ID,
		JobID:       payment.JobID,
		SessionID:   payment.SessionID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Status:      string(payment.Status),
		Type:        string(payment.Type),
		CreatedAt:   formatTime(payment.CreatedAt),
		CompletedAt: formatTimePtr(payment.CompletedAt),
	}
}

func (h *AdminJobHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "job id is required", http.StatusBadRequest))
		return
	}

	records, err := h.checkout.ListJobPayments(ctx, jobID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := paymentListResponse{Payments: make([]paymentResponse, 0, len(records))}
	for _, payment := range records {
		payload.Payments = append(payload.Payments, paymentToResponse(payment))
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminJobHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	// The reason is optional, so an empty body is fine.
	var req refundPaymentRequest
	body, err := readLimitedBody(r, maxAdminJobRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.checkout.RefundPayment(ctx, services.RefundPaymentCommand{
		PaymentID: paymentID,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     actorUID(r),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, struct {
		Payment paymentResponse `json:"payment"`
		Job     jobResponse     `json:"job"`
	}{
		Payment: paymentToResponse(result.Payment),
		Job:     jobToResponse(result.Job),
	})
}

func actorUID(r *http.Request) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil {
		return ""
	}
	return identity.UID
}
