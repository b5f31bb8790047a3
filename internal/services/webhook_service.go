package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/payments"
	"github.com/findmytreasure/api/internal/repositories"
)

var (
	// ErrInvalidSignature indicates the callback payload failed signature verification.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrMalformedPayload indicates an authenticated payload could not be decoded.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
	// ErrWebhookUnavailable indicates the reconciliation store is currently unavailable.
	ErrWebhookUnavailable = errors.New("webhook: unavailable")
)

// webhookVerifier abstracts payments.WebhookVerifier for easier testing.
type webhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (payments.Event, error)
}

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Verifier       webhookVerifier
	Payments       repositories.PaymentRepository
	Notifier       NotificationDispatcher
	StaffRecipient string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	verifier       webhookVerifier
	payments       repositories.PaymentRepository
	notifier       NotificationDispatcher
	staffRecipient string
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
}

var _ WebhookService = (*webhookService)(nil)

// NewWebhookService constructs a WebhookService validating required dependencies.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Verifier == nil {
		return nil, errors.New("webhook service: verifier is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("webhook service: payment repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		verifier:       deps.Verifier,
		payments:       deps.Payments,
		notifier:       deps.Notifier,
		staffRecipient: strings.TrimSpace(deps.StaffRecipient),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleCallback verifies and reconciles one gateway callback delivery.
// Duplicate deliveries and events for unknown payments are acknowledged
// without side effects; only verification failures and store outages are
// surfaced as errors.
func (s *webhookService) HandleCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error) {
	event, err := s.verifier.VerifyAndParse(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return CallbackResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		// The signature checked out; the payload itself is the problem.
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	result := CallbackResult{EventType: event.Type}

	switch event.Kind {
	case payments.EventKindSessionCompleted:
		return s.handleSessionCompleted(ctx, event, result)
	case payments.EventKindIntentSucceeded:
		// The session-completed event carries the reconciliation; this one is
		// informational only.
		s.logger(ctx, "webhook.intent_succeeded", map[string]any{
			"intentId": event.Intent.IntentID,
		})
		return result, nil
	case payments.EventKindIntentFailed:
		return s.handleIntentFailed(ctx, event, result)
	default:
		s.logger(ctx, "webhook.unhandled_event", map[string]any{
			"type": event.Type,
		})
		return result, nil
	}
}

func (s *webhookService) handleSessionCompleted(ctx context.Context, event payments.Event, result CallbackResult) (CallbackResult, error) {
	sessionID := strings.TrimSpace(event.Session.SessionID)
	if sessionID == "" {
		s.logger(ctx, "webhook.session_missing_id", map[string]any{"type": event.Type})
		return result, nil
	}

	reconciled, err := s.payments.ApplySessionSuccess(ctx, sessionID, event.Session.IntentID, s.now())
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
	}
	if !reconciled.Found {
		reconciled, err = s.reconcileOrphanSession(ctx, event, sessionID)
		if err != nil {
			return CallbackResult{}, err
		}
	}
	if !reconciled.Found {
		s.logger(ctx, "webhook.payment_not_found", map[string]any{
			"sessionId": sessionID,
		})
		return result, nil
	}

	result.PaymentID = reconciled.Payment.ID
	result.JobID = reconciled.Payment.JobID
	if !reconciled.Applied {
		result.Duplicate = true
		return result, nil
	}
	result.Handled = true

	s.logger(ctx, "webhook.payment_succeeded", map[string]any{
		"sessionId": sessionID,
		"paymentId": reconciled.Payment.ID,
		"jobId":     reconciled.Payment.JobID,
		"type":      string(reconciled.Payment.Type),
	})

	data := map[string]string{
		"paymentType": string(reconciled.Payment.Type),
		"amount":      fmt.Sprintf("%d", reconciled.Payment.Amount),
		"currency":    reconciled.Payment.Currency,
	}
	s.dispatch(ctx, Notification{
		Kind:      NotificationPaymentConfirmed,
		JobID:     reconciled.Payment.JobID,
		Recipient: reconciled.Job.UserEmail,
		Data:      data,
	})
	s.dispatch(ctx, Notification{
		Kind:      NotificationNewJobAlert,
		JobID:     reconciled.Payment.JobID,
		Recipient: s.staffRecipient,
		Data:      data,
	})

	return result, nil
}

// reconcileOrphanSession rebuilds the payment record for a session whose
// pending row never reached the store, using the jobId the checkout service
// stamped into the session metadata, then re-runs the reconciliation.
func (s *webhookService) reconcileOrphanSession(ctx context.Context, event payments.Event, sessionID string) (repositories.PaymentReconcileResult, error) {
	jobID := strings.TrimSpace(event.Session.Metadata["itemId"])
	if jobID == "" {
		return repositories.PaymentReconcileResult{}, nil
	}

	paymentType := domain.PaymentType(event.Session.Metadata["paymentType"])
	switch paymentType {
	case domain.PaymentTypeDeposit, domain.PaymentTypeFull, domain.PaymentTypeFinderFee:
	default:
		paymentType = domain.PaymentTypeFull
	}

	_, err := s.payments.Insert(ctx, domain.Payment{
		JobID:           jobID,
		SessionID:       sessionID,
		PaymentIntentID: event.Session.IntentID,
		Amount:          event.Session.AmountTotal,
		Currency:        event.Session.Currency,
		Status:          domain.PaymentStatusPending,
		Type:            paymentType,
		CreatedAt:       s.now(),
	})
	if err != nil {
		// A conflict means a concurrent delivery already rebuilt the record.
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return repositories.PaymentReconcileResult{}, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
		}
	}
	s.logger(ctx, "webhook.payment_rebuilt", map[string]any{
		"sessionId": sessionID,
		"jobId":     jobID,
	})

	reconciled, err := s.payments.ApplySessionSuccess(ctx, sessionID, event.Session.IntentID, s.now())
	if err != nil {
		return repositories.PaymentReconcileResult{}, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
	}
	return reconciled, nil
}

func (s *webhookService) handleIntentFailed(ctx context.Context, event payments.Event, result CallbackResult) (CallbackResult, error) {
	intentID := strings.TrimSpace(event.Intent.IntentID)
	if intentID == "" {
		return result, nil
	}

	reconciled, err := s.payments.ApplyIntentFailure(ctx, intentID, s.now())
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
	}
	if !reconciled.Found {
		s.logger(ctx, "webhook.payment_not_found", map[string]any{
			"intentId": intentID,
		})
		return result, nil
	}

	result.PaymentID = reconciled.Payment.ID
	result.JobID = reconciled.Payment.JobID
	if !reconciled.Applied {
		result.Duplicate = true
		return result, nil
	}
	result.Handled = true

	s.logger(ctx, "webhook.payment_failed", map[string]any{
		"intentId":  intentID,
		"paymentId": reconciled.Payment.ID,
		"reason":    event.Intent.FailureReason,
	})
	return result, nil
}

func (s *webhookService) dispatch(ctx context.Context, notification Notification) {
	if s.notifier == nil || strings.TrimSpace(notification.Recipient) == "" {
		return
	}
	if _, err := s.notifier.Dispatch(ctx, notification); err != nil {
		s.logger(ctx, "webhook.notify_failed", map[string]any{
			"kind":  string(notification.Kind),
			"jobId": notification.JobID,
			"error": err.Error(),
		})
	}
}
