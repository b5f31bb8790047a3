package domain

import (
	"time"
)

// Pagination carries page size and opaque cursor token for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results plus the token for the following page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// JobStatus describes the recovery lifecycle state of a lost-item job.
type JobStatus string

const (
	// JobStatusPending indicates a freshly submitted report awaiting triage.
	JobStatusPending JobStatus = "pending"
	// JobStatusAssigned indicates a recovery worker has been assigned.
	JobStatusAssigned JobStatus = "assigned"
	// JobStatusInProgress indicates recovery work is underway.
	JobStatusInProgress JobStatus = "in-progress"
	// JobStatusRecovered indicates the item was recovered; terminal.
	JobStatusRecovered JobStatus = "recovered"
	// JobStatusCancelled indicates the job was cancelled; terminal.
	JobStatusCancelled JobStatus = "cancelled"
)

// JobPaymentStatus tracks how much of the job has been paid for. It moves
// independently of JobStatus; the two axes are correlated by convention only.
type JobPaymentStatus string

const (
	// JobPaymentStatusUnpaid is the initial payment state of every job.
	JobPaymentStatusUnpaid JobPaymentStatus = "unpaid"
	// JobPaymentStatusDepositPaid indicates the booking deposit has cleared.
	JobPaymentStatusDepositPaid JobPaymentStatus = "deposit-paid"
	// JobPaymentStatusPaid indicates the full amount has cleared.
	JobPaymentStatusPaid JobPaymentStatus = "paid"
	// JobPaymentStatusRefunded indicates a staff-triggered refund completed.
	JobPaymentStatusRefunded JobPaymentStatus = "refunded"
)

// Location pins the reported loss site with an optional search radius in metres.
type Location struct {
	Lat          float64
	Lng          float64
	Address      string
	SearchRadius float64
}

// Job is one lost-item recovery case, the root entity of the booking lifecycle.
type Job struct {
	ID               string
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
	Status           JobStatus
	AssignedTo       string
	AssignedToName   string
	PaymentStatus    JobPaymentStatus
	EstimatedCost    float64
	FindersFee       float64
	DepositAmount    *float64
	FinalCost        *float64
	AdminNotes       string
	RecoveryNotes    string
	RecoveryPhotos   []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	RecoveredAt      *time.Time
}

// PaymentStatus enumerates lifecycle states of a gateway payment session.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the session exists but has not settled.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSucceeded indicates the gateway confirmed the charge.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed indicates the gateway reported the charge failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a staff-triggered refund completed.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentType distinguishes what a payment session is charging for.
type PaymentType string

const (
	// PaymentTypeDeposit is the up-front booking deposit.
	PaymentTypeDeposit PaymentType = "deposit"
	// PaymentTypeFull is the complete recovery cost paid in one session.
	PaymentTypeFull PaymentType = "full"
	// PaymentTypeFinderFee is the success-contingent fee on the item value.
	PaymentTypeFinderFee PaymentType = "finder-fee"
)

// PaymentStatusForType maps a payment type to the job payment status that a
// successful charge of that type produces.
func PaymentStatusForType(t PaymentType) JobPaymentStatus {
	if t == PaymentTypeDeposit {
		return JobPaymentStatusDepositPaid
	}
	return JobPaymentStatusPaid
}

// Payment is the local record of one gateway checkout session, keyed 1:1 by
// the gateway session identifier.
type Payment struct {
	ID              string
	UserID          string
	JobID           string
	SessionID       string
	PaymentIntentID string
	Amount          int64
	Currency        string
	Status          PaymentStatus
	Type            PaymentType
	CreatedAt       time.Time
	CompletedAt     *time.Time
}
