package repositories

import (
	"context"
	"time"

	domain "github.com/findmytreasure/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// JobListFilter narrows and pages staff job listings.
type JobListFilter struct {
	Status     []domain.JobStatus
	UserID     string
	AssignedTo string
	Pagination domain.Pagination
}

// JobNotesUpdate carries the optional note fields a staff member may change.
// Nil pointers leave the stored value untouched.
type JobNotesUpdate struct {
	AdminNotes    *string
	RecoveryNotes *string
}

// JobRepository persists lost-item jobs and enforces lifecycle invariants at
// the mutation point.
type JobRepository interface {
	Insert(ctx context.Context, job domain.Job) (domain.Job, error)
	FindByID(ctx context.Context, jobID string) (domain.Job, error)
	List(ctx context.Context, filter JobListFilter) (domain.CursorPage[domain.Job], error)
	// UpdateStatus transitions the job inside a transaction after consulting
	// the domain transition table. A move into recovered stamps RecoveredAt.
	UpdateStatus(ctx context.Context, jobID string, next domain.JobStatus, now time.Time) (domain.Job, error)
	Assign(ctx context.Context, jobID string, workerID string, workerName string, now time.Time) (domain.Job, error)
	UpdateNotes(ctx context.Context, jobID string, update JobNotesUpdate, now time.Time) (domain.Job, error)
}

// PaymentReconcileResult reports the outcome of a transactional reconciliation.
type PaymentReconcileResult struct {
	Payment domain.Payment
	Job     domain.Job
	// Applied is false when the payment had already reached the target state
	// and the call was a duplicate-delivery no-op.
	Applied bool
	// Found is false when no payment matched the gateway identifiers.
	Found bool
}

// PaymentRepository persists gateway payment records keyed by session id and
// performs the atomic payment/job reconciliation writes.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (domain.Payment, error)
	ListByJob(ctx context.Context, jobID string) ([]domain.Payment, error)
	// ApplySessionSuccess marks the payment identified by sessionID as
	// succeeded and advances the linked job's payment status in a single
	// transaction. An already-succeeded payment yields Applied=false; an
	// unknown session yields Found=false. Neither is an error.
	ApplySessionSuccess(ctx context.Context, sessionID string, intentID string, now time.Time) (PaymentReconcileResult, error)
	// ApplyIntentFailure marks the payment identified by intentID as failed.
	// Payments that already settled are never downgraded.
	ApplyIntentFailure(ctx context.Context, intentID string, now time.Time) (PaymentReconcileResult, error)
	// MarkRefunded flips a settled payment and its job to refunded.
	MarkRefunded(ctx context.Context, paymentID string, now time.Time) (PaymentReconcileResult, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
