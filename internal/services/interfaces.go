package services

import (
	"context"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Job                = domain.Job
	JobStatus          = domain.JobStatus
	JobPaymentStatus   = domain.JobPaymentStatus
	Payment            = domain.Payment
	PaymentType        = domain.PaymentType
	Location           = domain.Location
	PricingRates       = domain.PricingRates
	CostEstimate       = domain.CostEstimate
	SystemHealthReport = domain.SystemHealthReport
)

// BookingService owns the lost-item job lifecycle from public submission
// through staff status management.
type BookingService interface {
	SubmitJob(ctx context.Context, cmd SubmitJobCommand) (JobSubmission, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, query JobListQuery) (domain.CursorPage[Job], error)
	UpdateStatus(ctx context.Context, cmd UpdateJobStatusCommand) (Job, error)
	AssignWorker(ctx context.Context, cmd AssignWorkerCommand) (Job, error)
	UpdateNotes(ctx context.Context, cmd UpdateJobNotesCommand) (Job, error)
}

// CheckoutService coordinates gateway session creation and local payment records.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
	GetSessionPayment(ctx context.Context, sessionID string) (Payment, error)
	ListJobPayments(ctx context.Context, jobID string) ([]Payment, error)
	RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (RefundResult, error)
}

// WebhookService reconciles gateway callback events against local payment state.
type WebhookService interface {
	HandleCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error)
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SubmitJobCommand carries a public lost-item report.
type SubmitJobCommand struct {
	UserID           string
	UserName         string
	UserEmail        string
	UserPhone        string
	PreferredContact string
	ItemType         string
	ItemDescription  string
	EstimatedValue   float64
	DateLost         string
	TimeLost         string
	Location         *Location
	Circumstances    string
	Photos           []string
	TravelDistanceKm float64
	LabourHours      float64
}

// JobSubmission pairs the stored job with the estimate presented to the reporter.
type JobSubmission struct {
	Job      Job
	Estimate CostEstimate
}

// JobListQuery narrows and pages staff job listings.
type JobListQuery struct {
	Status     []JobStatus
	AssignedTo string
	Pagination Pagination
}

// UpdateJobStatusCommand requests a lifecycle transition on behalf of a staff member.
type UpdateJobStatusCommand struct {
	JobID  string
	Status JobStatus
	Actor  string
}

// AssignWorkerCommand records the recovery worker responsible for a job.
type AssignWorkerCommand struct {
	JobID      string
	WorkerID   string
	WorkerName string
	Actor      string
}

// UpdateJobNotesCommand patches staff note fields; nil pointers are left untouched.
type UpdateJobNotesCommand struct {
	JobID         string
	AdminNotes    *string
	RecoveryNotes *string
}

// CreateCheckoutSessionCommand describes the payment the customer is starting.
type CreateCheckoutSessionCommand struct {
	JobID         string
	Amount        int64
	PaymentType   PaymentType
	CustomerEmail string
	Description   string
}

// CheckoutSession is the caller-facing view of a created gateway session.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// RefundPaymentCommand requests a staff-triggered refund of a settled payment.
type RefundPaymentCommand struct {
	PaymentID string
	Reason    string
	Actor     string
}

// RefundResult reports the payment and job state after a refund.
type RefundResult struct {
	Payment Payment
	Job     Job
}

// CallbackResult summarises how a gateway callback was handled.
type CallbackResult struct {
	EventType string
	Handled   bool
	Duplicate bool
	JobID     string
	PaymentID string
}

// NotificationKind labels outbound notification messages.
type NotificationKind string

const (
	// NotificationPaymentConfirmed tells the customer their payment cleared.
	NotificationPaymentConfirmed NotificationKind = "payment-confirmed"
	// NotificationNewJobAlert tells staff a new recovery job was submitted.
	NotificationNewJobAlert NotificationKind = "new-job-alert"
	// NotificationStatusUpdate tells the customer their job changed status.
	NotificationStatusUpdate NotificationKind = "status-update"
)

// Notification is one outbound message handed to the dispatcher.
type Notification struct {
	Kind      NotificationKind
	JobID     string
	Recipient string
	Data      map[string]string
}

// NotificationDispatcher publishes notifications to the delivery pipeline.
// Dispatch is one-way; callers log failures and never propagate them.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) (string, error)
}
