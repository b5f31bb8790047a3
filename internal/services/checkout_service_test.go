package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/payments"
	"github.com/findmytreasure/api/internal/repositories"
)

type stubPaymentRepository struct {
	insertFunc              func(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	findFunc                func(ctx context.Context, paymentID string) (domain.Payment, error)
	findBySessionFunc       func(ctx context.Context, sessionID string) (domain.Payment, error)
	listByJobFunc           func(ctx context.Context, jobID string) ([]domain.Payment, error)
	applySessionSuccessFunc func(ctx context.Context, sessionID, intentID string, now time.Time) (repositories.PaymentReconcileResult, error)
	applyIntentFailureFunc  func(ctx context.Context, intentID string, now time.Time) (repositories.PaymentReconcileResult, error)
	markRefundedFunc        func(ctx context.Context, paymentID string, now time.Time) (repositories.PaymentReconcileResult, error)
}

func (s *stubPaymentRepository) Insert(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	if s.insertFunc == nil {
		payment.ID = "pay-1"
		return payment, nil
	}
	return s.insertFunc(ctx, payment)
}

func (s *stubPaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if s.findFunc == nil {
		return domain.Payment{ID: paymentID}, nil
	}
	return s.findFunc(ctx, paymentID)
}

func (s *stubPaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.Payment, error) {
	if s.findBySessionFunc == nil {
		return domain.Payment{SessionID: sessionID}, nil
	}
	return s.findBySessionFunc(ctx, sessionID)
}

func (s *stubPaymentRepository) ListByJob(ctx context.Context, jobID string) ([]domain.Payment, error) {
	if s.listByJobFunc == nil {
		return nil, nil
	}
	return s.listByJobFunc(ctx, jobID)
}

func (s *stubPaymentRepository) ApplySessionSuccess(ctx context.Context, sessionID, intentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	if s.applySessionSuccessFunc == nil {
		return repositories.PaymentReconcileResult{}, nil
	}
	return s.applySessionSuccessFunc(ctx, sessionID, intentID, now)
}

func (s *stubPaymentRepository) ApplyIntentFailure(ctx context.Context, intentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	if s.applyIntentFailureFunc == nil {
		return repositories.PaymentReconcileResult{}, nil
	}
	return s.applyIntentFailureFunc(ctx, intentID, now)
}

func (s *stubPaymentRepository) MarkRefunded(ctx context.Context, paymentID string, now time.Time) (repositories.PaymentReconcileResult, error) {
	if s.markRefundedFunc == nil {
		return repositories.PaymentReconcileResult{}, nil
	}
	return s.markRefundedFunc(ctx, paymentID, now)
}

var _ repositories.PaymentRepository = (*stubPaymentRepository)(nil)

type stubCheckoutGateway struct {
	requests []payments.CheckoutSessionRequest
	session  payments.CheckoutSession
	err      error

	refunds   []payments.RefundRequest
	refundErr error
}

func (s *stubCheckoutGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return s.session, nil
}

func (s *stubCheckoutGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error) {
	s.refunds = append(s.refunds, req)
	if s.refundErr != nil {
		return payments.PaymentDetails{}, s.refundErr
	}
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusRefunded}, nil
}

func newTestCheckoutService(t *testing.T, jobs repositories.JobRepository, pays repositories.PaymentRepository, gateway checkoutGateway) CheckoutService {
	t.Helper()
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Jobs:       jobs,
		Payments:   pays,
		Gateway:    gateway,
		AppBaseURL: "https://findmytreasure.example/",
		Clock:      func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func payableJob() domain.Job {
	return domain.Job{
		ID:              "job-1",
		UserID:          "user-1",
		UserEmail:       "ava@example.com",
		ItemDescription: "Gold wedding band",
		Status:          domain.JobStatusAssigned,
	}
}

func TestCreateCheckoutSessionHappyPath(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) { return payableJob(), nil },
	}
	var inserted domain.Payment
	pays := &stubPaymentRepository{
		insertFunc: func(_ context.Context, payment domain.Payment) (domain.Payment, error) {
			inserted = payment
			payment.ID = "pay-1"
			return payment, nil
		},
	}
	gateway := &stubCheckoutGateway{
		session: payments.CheckoutSession{
			ID:          "cs_test_1",
			RedirectURL: "https://checkout.stripe.com/pay/cs_test_1",
			IntentID:    "pi_1",
			ExpiresAt:   time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		},
	}
	svc := newTestCheckoutService(t, jobs, pays, gateway)

	session, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		JobID:       "job-1",
		Amount:      38000,
		PaymentType: domain.PaymentTypeDeposit,
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.SessionID != "cs_test_1" || session.RedirectURL == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(gateway.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(gateway.requests))
	}
	req := gateway.requests[0]
	if req.Description != "Recovery Service - Gold wedding band" {
		t.Fatalf("unexpected description %q", req.Description)
	}
	if req.Currency != "aud" {
		t.Fatalf("expected default aud currency, got %q", req.Currency)
	}
	if req.SuccessURL != "https://findmytreasure.example/confirmation?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %q", req.SuccessURL)
	}
	if req.CancelURL != "https://findmytreasure.example/checkout/job-1?cancelled=true" {
		t.Fatalf("unexpected cancel url %q", req.CancelURL)
	}
	if req.Metadata["itemId"] != "job-1" || req.Metadata["paymentType"] != "deposit" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
	if req.CustomerEmail != "ava@example.com" {
		t.Fatalf("expected job email fallback, got %q", req.CustomerEmail)
	}
	if req.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key")
	}

	if inserted.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", inserted.Status)
	}
	if inserted.JobID != "job-1" || inserted.SessionID != "cs_test_1" || inserted.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected payment record %+v", inserted)
	}
	if inserted.Amount != 38000 || inserted.Type != domain.PaymentTypeDeposit {
		t.Fatalf("unexpected payment amount/type %+v", inserted)
	}
}

func TestCreateCheckoutSessionRejectsInvalidInput(t *testing.T) {
	svc := newTestCheckoutService(t, &stubJobRepository{}, &stubPaymentRepository{}, &stubCheckoutGateway{})

	cases := map[string]CreateCheckoutSessionCommand{
		"missing job":  {Amount: 100},
		"zero amount":  {JobID: "job-1"},
		"negative":     {JobID: "job-1", Amount: -5},
		"unknown type": {JobID: "job-1", Amount: 100, PaymentType: domain.PaymentType("instalment")},
	}
	for name, cmd := range cases {
		if _, err := svc.CreateCheckoutSession(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("%s: expected ErrCheckoutInvalidInput, got %v", name, err)
		}
	}
}

func TestCreateCheckoutSessionRejectsUnpayableJobs(t *testing.T) {
	cases := []struct {
		name        string
		status      domain.JobStatus
		paymentType domain.PaymentType
		wantErr     bool
	}{
		{name: "cancelled job", status: domain.JobStatusCancelled, paymentType: domain.PaymentTypeFull, wantErr: true},
		{name: "cancelled finder fee", status: domain.JobStatusCancelled, paymentType: domain.PaymentTypeFinderFee, wantErr: true},
		{name: "recovered full", status: domain.JobStatusRecovered, paymentType: domain.PaymentTypeFull, wantErr: true},
		{name: "recovered finder fee", status: domain.JobStatusRecovered, paymentType: domain.PaymentTypeFinderFee, wantErr: false},
		{name: "in progress deposit", status: domain.JobStatusInProgress, paymentType: domain.PaymentTypeDeposit, wantErr: false},
	}
	for _, tc := range cases {
		job := payableJob()
		job.Status = tc.status
		jobs := &stubJobRepository{
			findFunc: func(context.Context, string) (domain.Job, error) { return job, nil },
		}
		gateway := &stubCheckoutGateway{session: payments.CheckoutSession{ID: "cs_1"}}
		svc := newTestCheckoutService(t, jobs, &stubPaymentRepository{}, gateway)

		_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
			JobID:       "job-1",
			Amount:      100,
			PaymentType: tc.paymentType,
		})
		if tc.wantErr && !errors.Is(err, ErrCheckoutJobNotPayable) {
			t.Fatalf("%s: expected ErrCheckoutJobNotPayable, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestCreateCheckoutSessionGatewayFailureWritesNoPayment(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) { return payableJob(), nil },
	}
	inserts := 0
	pays := &stubPaymentRepository{
		insertFunc: func(_ context.Context, payment domain.Payment) (domain.Payment, error) {
			inserts++
			return payment, nil
		},
	}
	gateway := &stubCheckoutGateway{err: errors.New("stripe down")}
	svc := newTestCheckoutService(t, jobs, pays, gateway)

	_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{JobID: "job-1", Amount: 100})
	if !errors.Is(err, ErrCheckoutGateway) {
		t.Fatalf("expected ErrCheckoutGateway, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("expected no payment insert after gateway failure, got %d", inserts)
	}
}

func TestCreateCheckoutSessionPersistenceFailure(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) { return payableJob(), nil },
	}
	pays := &stubPaymentRepository{
		insertFunc: func(context.Context, domain.Payment) (domain.Payment, error) {
			return domain.Payment{}, &stubRepoError{unavailable: true}
		},
	}
	gateway := &stubCheckoutGateway{session: payments.CheckoutSession{ID: "cs_1"}}
	svc := newTestCheckoutService(t, jobs, pays, gateway)

	_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{JobID: "job-1", Amount: 100})
	if !errors.Is(err, ErrCheckoutPersistence) {
		t.Fatalf("expected ErrCheckoutPersistence, got %v", err)
	}
}

func TestCreateCheckoutSessionUnknownJob(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) {
			return domain.Job{}, &stubRepoError{notFound: true}
		},
	}
	svc := newTestCheckoutService(t, jobs, &stubPaymentRepository{}, &stubCheckoutGateway{})

	if _, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{JobID: "missing", Amount: 100}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListJobPaymentsRequiresJob(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) {
			return domain.Job{}, &stubRepoError{notFound: true}
		},
	}
	svc := newTestCheckoutService(t, jobs, &stubPaymentRepository{}, &stubCheckoutGateway{})

	if _, err := svc.ListJobPayments(context.Background(), "job-missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := svc.ListJobPayments(context.Background(), "  "); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for blank id, got %v", err)
	}
}

func TestListJobPaymentsReturnsRecords(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) { return payableJob(), nil },
	}
	pays := &stubPaymentRepository{
		listByJobFunc: func(_ context.Context, jobID string) ([]domain.Payment, error) {
			return []domain.Payment{{ID: "pay-1", JobID: jobID, Amount: 38000}}, nil
		},
	}
	svc := newTestCheckoutService(t, jobs, pays, &stubCheckoutGateway{})

	records, err := svc.ListJobPayments(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("ListJobPayments: %v", err)
	}
	if len(records) != 1 || records[0].ID != "pay-1" || records[0].Amount != 38000 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestRefundPaymentHappyPath(t *testing.T) {
	settled := domain.Payment{
		ID:              "pay-1",
		JobID:           "job-1",
		PaymentIntentID: "pi_1",
		Amount:          38000,
		Status:          domain.PaymentStatusSucceeded,
		Type:            domain.PaymentTypeDeposit,
	}
	var markedID string
	pays := &stubPaymentRepository{
		findFunc: func(_ context.Context, paymentID string) (domain.Payment, error) {
			if paymentID != "pay-1" {
				t.Fatalf("unexpected payment lookup %s", paymentID)
			}
			return settled, nil
		},
		markRefundedFunc: func(_ context.Context, paymentID string, _ time.Time) (repositories.PaymentReconcileResult, error) {
			markedID = paymentID
			refunded := settled
			refunded.Status = domain.PaymentStatusRefunded
			return repositories.PaymentReconcileResult{
				Payment: refunded,
				Job:     domain.Job{ID: "job-1", PaymentStatus: domain.JobPaymentStatusRefunded},
				Applied: true,
				Found:   true,
			}, nil
		},
	}
	gateway := &stubCheckoutGateway{}
	svc := newTestCheckoutService(t, &stubJobRepository{}, pays, gateway)

	result, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{
		PaymentID: "pay-1",
		Reason:    "customer request",
		Actor:     "staff-1",
	})
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if len(gateway.refunds) != 1 {
		t.Fatalf("expected one gateway refund, got %d", len(gateway.refunds))
	}
	if gateway.refunds[0].IntentID != "pi_1" {
		t.Fatalf("unexpected refund intent %s", gateway.refunds[0].IntentID)
	}
	if gateway.refunds[0].IdempotencyKey == "" {
		t.Fatal("expected refund idempotency key")
	}
	if markedID != "pay-1" {
		t.Fatalf("expected MarkRefunded for pay-1, got %q", markedID)
	}
	if result.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("unexpected payment status %s", result.Payment.Status)
	}
	if result.Job.PaymentStatus != domain.JobPaymentStatusRefunded {
		t.Fatalf("unexpected job payment status %s", result.Job.PaymentStatus)
	}
}

func TestRefundPaymentRejectsUnsettled(t *testing.T) {
	cases := map[string]domain.Payment{
		"pending payment": {ID: "pay-1", PaymentIntentID: "pi_1", Status: domain.PaymentStatusPending},
		"failed payment":  {ID: "pay-1", PaymentIntentID: "pi_1", Status: domain.PaymentStatusFailed},
		"already refunded": {
			ID: "pay-1", PaymentIntentID: "pi_1", Status: domain.PaymentStatusRefunded,
		},
		"missing intent": {ID: "pay-1", Status: domain.PaymentStatusSucceeded},
	}
	for name, payment := range cases {
		t.Run(name, func(t *testing.T) {
			pays := &stubPaymentRepository{
				findFunc: func(context.Context, string) (domain.Payment, error) { return payment, nil },
			}
			gateway := &stubCheckoutGateway{}
			svc := newTestCheckoutService(t, &stubJobRepository{}, pays, gateway)

			_, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: "pay-1"})
			if !errors.Is(err, ErrPaymentNotRefundable) {
				t.Fatalf("expected ErrPaymentNotRefundable, got %v", err)
			}
			if len(gateway.refunds) != 0 {
				t.Fatal("expected no gateway refund attempt")
			}
		})
	}
}

func TestRefundPaymentGatewayFailure(t *testing.T) {
	pays := &stubPaymentRepository{
		findFunc: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay-1", PaymentIntentID: "pi_1", Status: domain.PaymentStatusSucceeded}, nil
		},
		markRefundedFunc: func(context.Context, string, time.Time) (repositories.PaymentReconcileResult, error) {
			t.Fatal("MarkRefunded must not run when the gateway rejects the refund")
			return repositories.PaymentReconcileResult{}, nil
		},
	}
	gateway := &stubCheckoutGateway{refundErr: errors.New("stripe: refund declined")}
	svc := newTestCheckoutService(t, &stubJobRepository{}, pays, gateway)

	if _, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: "pay-1"}); !errors.Is(err, ErrCheckoutGateway) {
		t.Fatalf("expected ErrCheckoutGateway, got %v", err)
	}
}

func TestRefundPaymentUnknownPayment(t *testing.T) {
	pays := &stubPaymentRepository{
		findFunc: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, &stubRepoError{notFound: true}
		},
	}
	svc := newTestCheckoutService(t, &stubJobRepository{}, pays, &stubCheckoutGateway{})

	if _, err := svc.RefundPayment(context.Background(), RefundPaymentCommand{PaymentID: "pay-404"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestCreateCheckoutSessionConflictReturnsExistingSession(t *testing.T) {
	jobs := &stubJobRepository{
		findFunc: func(context.Context, string) (domain.Job, error) { return payableJob(), nil },
	}
	pays := &stubPaymentRepository{
		insertFunc: func(context.Context, domain.Payment) (domain.Payment, error) {
			return domain.Payment{}, &stubRepoError{conflict: true}
		},
	}
	gateway := &stubCheckoutGateway{session: payments.CheckoutSession{
		ID:          "cs_test_1",
		IntentID:    "pi_1",
		RedirectURL: "https://checkout.stripe.com/pay/cs_test_1",
		ExpiresAt:   time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
	}}
	svc := newTestCheckoutService(t, jobs, pays, gateway)

	session, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		JobID:       "job-1",
		Amount:      38000,
		PaymentType: domain.PaymentTypeDeposit,
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.SessionID != "cs_test_1" || session.RedirectURL == "" {
		t.Fatalf("expected the replayed session back, got %+v", session)
	}
}

func TestCheckoutGatewayKeyTracksJobUpdates(t *testing.T) {
	createSession := func(t *testing.T, job domain.Job) payments.CheckoutSessionRequest {
		t.Helper()
		jobs := &stubJobRepository{
			findFunc: func(context.Context, string) (domain.Job, error) { return job, nil },
		}
		gateway := &stubCheckoutGateway{session: payments.CheckoutSession{ID: "cs_test_1"}}
		svc := newTestCheckoutService(t, jobs, &stubPaymentRepository{}, gateway)
		if _, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
			JobID:       job.ID,
			Amount:      38000,
			PaymentType: domain.PaymentTypeDeposit,
		}); err != nil {
			t.Fatalf("CreateCheckoutSession: %v", err)
		}
		if len(gateway.requests) != 1 {
			t.Fatalf("expected one gateway call, got %d", len(gateway.requests))
		}
		return gateway.requests[0]
	}

	job := payableJob()
	job.UpdatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	first := createSession(t, job)
	repeat := createSession(t, job)
	if first.IdempotencyKey != repeat.IdempotencyKey {
		t.Fatal("identical job state must reuse the gateway key")
	}

	job.UpdatedAt = job.UpdatedAt.Add(time.Hour)
	changed := createSession(t, job)
	if changed.IdempotencyKey == first.IdempotencyKey {
		t.Fatal("a changed job record must mint a fresh gateway key")
	}
}

func TestGetSessionPayment(t *testing.T) {
	pays := &stubPaymentRepository{
		findBySessionFunc: func(_ context.Context, sessionID string) (domain.Payment, error) {
			return domain.Payment{ID: "pay-1", JobID: "job-1", SessionID: sessionID, Status: domain.PaymentStatusSucceeded}, nil
		},
	}
	svc := newTestCheckoutService(t, &stubJobRepository{}, pays, &stubCheckoutGateway{})

	payment, err := svc.GetSessionPayment(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("GetSessionPayment: %v", err)
	}
	if payment.ID != "pay-1" || payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("unexpected payment %+v", payment)
	}

	if _, err := svc.GetSessionPayment(context.Background(), "  "); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for blank session id, got %v", err)
	}
}

func TestGetSessionPaymentUnknownSession(t *testing.T) {
	pays := &stubPaymentRepository{
		findBySessionFunc: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{}, &stubRepoError{notFound: true}
		},
	}
	svc := newTestCheckoutService(t, &stubJobRepository{}, pays, &stubCheckoutGateway{})

	if _, err := svc.GetSessionPayment(context.Background(), "cs_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
