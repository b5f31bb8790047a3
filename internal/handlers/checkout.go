package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/platform/httpx"
	"github.com/findmytreasure/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the payment session endpoint used by the public
// checkout page.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.createSession)
	r.Get("/session/{sessionID}", h.getSessionPayment)
}

type checkoutSessionRequest struct {
	JobID           string `json:"jobId"`
	Amount          int64  `json:"amount"`
	PaymentType     string `json:"paymentType"`
	CustomerEmail   string `json:"customerEmail"`
	ItemDescription string `json:"itemDescription"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		JobID:         strings.TrimSpace(req.JobID),
		Amount:        req.Amount,
		PaymentType:   domain.PaymentType(strings.TrimSpace(req.PaymentType)),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Description:   strings.TrimSpace(req.ItemDescription),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutSessionResponse{
		SessionID: session.SessionID,
		URL:       session.RedirectURL,
	}
	if !session.ExpiresAt.IsZero() {
		payload.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

type sessionPaymentResponse struct {
	SessionID   string `json:"sessionId"`
	JobID       string `json:"jobId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status"`
	PaymentType string `json:"paymentType"`
}

// getSessionPayment backs the confirmation page the success URL redirects to;
// it reports whether the gateway callback has settled the payment yet.
func (h *CheckoutHandlers) getSessionPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.checkout.GetSessionPayment(ctx, sessionID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, sessionPaymentResponse{
		SessionID:   payment.SessionID,
		JobID:       payment.JobID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Status:      string(payment.Status),
		PaymentType: string(payment.Type),
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrJobNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("job_not_found", "job not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutJobNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("job_not_payable", "job can no longer accept payments", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_refundable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "payment could not be recorded", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
