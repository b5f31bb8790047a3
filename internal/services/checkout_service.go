package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/payments"
	"github.com/findmytreasure/api/internal/repositories"
)

const defaultCheckoutCurrency = "aud"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutJobNotPayable indicates the job's lifecycle state forbids payment.
	ErrCheckoutJobNotPayable = errors.New("checkout: job not payable")
	// ErrCheckoutGateway indicates the gateway session could not be created.
	ErrCheckoutGateway = errors.New("checkout: gateway failure")
	// ErrCheckoutPersistence indicates the session exists at the gateway but the
	// local payment record could not be written.
	ErrCheckoutPersistence = errors.New("checkout: persistence failure")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrPaymentNotFound indicates the referenced payment does not exist.
	ErrPaymentNotFound = errors.New("checkout: payment not found")
	// ErrPaymentNotRefundable indicates the payment's state forbids a refund.
	ErrPaymentNotRefundable = errors.New("checkout: payment not refundable")
)

// checkoutGateway abstracts payments.Gateway for easier testing.
type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	Refund(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Jobs     repositories.JobRepository
	Payments repositories.PaymentRepository
	Gateway  checkoutGateway
	// AppBaseURL is the public site origin used to build redirect targets.
	AppBaseURL string
	Currency   string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	jobs       repositories.JobRepository
	payments   repositories.PaymentRepository
	gateway    checkoutGateway
	appBaseURL string
	currency   string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Jobs == nil {
		return nil, errors.New("checkout service: job repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(deps.AppBaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("checkout service: app base url is required")
	}

	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		jobs:       deps.Jobs,
		payments:   deps.Payments,
		gateway:    deps.Gateway,
		appBaseURL: baseURL,
		currency:   currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession validates the job is payable, creates the gateway
// session, and records the pending payment.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	jobID := strings.TrimSpace(cmd.JobID)
	if jobID == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	if cmd.Amount <= 0 {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	paymentType := cmd.PaymentType
	if paymentType == "" {
		paymentType = domain.PaymentTypeFull
	}
	switch paymentType {
	case domain.PaymentTypeDeposit, domain.PaymentTypeFull, domain.PaymentTypeFinderFee:
	default:
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return CheckoutSession{}, s.translateJobError(err)
	}
	if err := validatePayable(job, paymentType); err != nil {
		return CheckoutSession{}, err
	}

	email := strings.TrimSpace(cmd.CustomerEmail)
	if email == "" {
		email = job.UserEmail
	}
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		description = job.ItemDescription
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:        cmd.Amount,
		Currency:      s.currency,
		Description:   fmt.Sprintf("Recovery Service - %s", description),
		CustomerEmail: email,
		SuccessURL:    s.appBaseURL + "/confirmation?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     fmt.Sprintf("%s/checkout/%s?cancelled=true", s.appBaseURL, jobID),
		Metadata: map[string]string{
			"itemId":      jobID,
			"paymentType": string(paymentType),
		},
		IdempotencyKey: s.checkoutIdempotencyKey(jobID, paymentType, cmd.Amount, job.UpdatedAt),
	})
	if err != nil {
		s.logger(ctx, "checkout.gateway_failed", map[string]any{
			"jobId": jobID,
			"type":  string(paymentType),
			"error": err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutGateway
	}

	payment := domain.Payment{
		UserID:          job.UserID,
		JobID:           jobID,
		SessionID:       session.ID,
		PaymentIntentID: session.IntentID,
		Amount:          cmd.Amount,
		Currency:        s.currency,
		Status:          domain.PaymentStatusPending,
		Type:            paymentType,
		CreatedAt:       s.now(),
	}
	if _, err := s.payments.Insert(ctx, payment); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// The gateway replayed an existing session, so the pending record is
			// already on file; hand the same session back to the customer.
			s.logger(ctx, "checkout.session_replayed", map[string]any{
				"jobId":     jobID,
				"sessionId": session.ID,
			})
			return CheckoutSession{
				SessionID:   session.ID,
				RedirectURL: session.RedirectURL,
				ExpiresAt:   session.ExpiresAt.UTC(),
			}, nil
		}
		// The gateway session already exists; surface loudly so operators can
		// reconcile before the customer completes payment.
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"jobId":     jobID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutPersistence
	}

	return CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt.UTC(),
	}, nil
}

// GetSessionPayment resolves the payment recorded for a gateway session. The
// confirmation page polls this after the redirect to learn whether the
// callback has settled the payment.
func (s *checkoutService) GetSessionPayment(ctx context.Context, sessionID string) (Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Payment{}, ErrCheckoutInvalidInput
	}
	payment, err := s.payments.FindBySessionID(ctx, sessionID)
	if err != nil {
		return Payment{}, s.translatePaymentError(err)
	}
	return payment, nil
}

// ListJobPayments returns every payment recorded against a job, newest first.
func (s *checkoutService) ListJobPayments(ctx context.Context, jobID string) ([]Payment, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrCheckoutInvalidInput
	}
	if _, err := s.jobs.FindByID(ctx, jobID); err != nil {
		return nil, s.translateJobError(err)
	}
	records, err := s.payments.ListByJob(ctx, jobID)
	if err != nil {
		return nil, s.translatePaymentError(err)
	}
	return records, nil
}

// RefundPayment refunds a settled payment at the gateway and flips the local
// payment and job records to refunded.
func (s *checkoutService) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (RefundResult, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return RefundResult{}, ErrCheckoutInvalidInput
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return RefundResult{}, s.translatePaymentError(err)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		return RefundResult{}, fmt.Errorf("%w: status %s", ErrPaymentNotRefundable, payment.Status)
	}
	if strings.TrimSpace(payment.PaymentIntentID) == "" {
		return RefundResult{}, fmt.Errorf("%w: missing gateway intent", ErrPaymentNotRefundable)
	}

	if _, err := s.gateway.Refund(ctx, payments.RefundRequest{
		IntentID:       payment.PaymentIntentID,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: s.refundIdempotencyKey(paymentID),
	}); err != nil {
		s.logger(ctx, "checkout.refund_gateway_failed", map[string]any{
			"paymentId": paymentID,
			"intentId":  payment.PaymentIntentID,
			"error":     err.Error(),
		})
		return RefundResult{}, ErrCheckoutGateway
	}

	result, err := s.payments.MarkRefunded(ctx, paymentID, s.now())
	if err != nil {
		// The gateway refund went through; the local flip must be retried.
		s.logger(ctx, "checkout.refund_persist_failed", map[string]any{
			"paymentId": paymentID,
			"error":     err.Error(),
		})
		return RefundResult{}, ErrCheckoutPersistence
	}

	s.logger(ctx, "checkout.refunded", map[string]any{
		"paymentId": paymentID,
		"jobId":     result.Payment.JobID,
		"actor":     strings.TrimSpace(cmd.Actor),
	})
	return RefundResult{Payment: result.Payment, Job: result.Job}, nil
}

// validatePayable rejects payments against jobs that can no longer accept
// them. A recovered job still accepts the success-contingent finder's fee.
func validatePayable(job domain.Job, paymentType domain.PaymentType) error {
	switch job.Status {
	case domain.JobStatusCancelled:
		return ErrCheckoutJobNotPayable
	case domain.JobStatusRecovered:
		if paymentType != domain.PaymentTypeFinderFee {
			return ErrCheckoutJobNotPayable
		}
	}
	return nil
}

// checkoutIdempotencyKey salts the gateway key with the job's last update so a
// retry after the job record changes opens a fresh session instead of
// replaying a stale one forever.
func (s *checkoutService) checkoutIdempotencyKey(jobID string, paymentType domain.PaymentType, amount int64, updatedAt time.Time) string {
	base := fmt.Sprintf("%s|%s|%d|%d", jobID, paymentType, amount, updatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) refundIdempotencyKey(paymentID string) string {
	sum := sha256.Sum256([]byte("refund|" + paymentID))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) translatePaymentError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentNotFound
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}

func (s *checkoutService) translateJobError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrJobNotFound
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}
