package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/findmytreasure/api/internal/platform/httpx"
	"github.com/findmytreasure/api/internal/services"
)

// Stripe caps event payloads well below this; anything larger is hostile.
const maxWebhookBody = 1 << 20

// WebhookHandlers receives payment gateway callbacks.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	signature := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "Stripe-Signature header is required", http.StatusBadRequest))
		return
	}

	// Signature verification runs over the exact bytes on the wire, so the
	// payload must not pass through any JSON decoding first.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.webhooks.HandleCallback(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, services.ErrMalformedPayload):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest))
		case errors.Is(err, services.ErrWebhookUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventType: result.EventType,
		Duplicate: result.Duplicate,
	})
}
