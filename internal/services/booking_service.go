package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/repositories"
)

var (
	// ErrBookingInvalidInput indicates the caller supplied invalid submission data.
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingUnavailable indicates booking dependencies are currently unavailable.
	ErrBookingUnavailable = errors.New("booking: unavailable")
	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = errors.New("booking: job not found")
	// ErrIllegalTransition indicates the requested status change violates the lifecycle.
	ErrIllegalTransition = errors.New("booking: illegal status transition")
)

// TextSanitizer strips markup from free-text fields arriving through the
// public boundary.
type TextSanitizer interface {
	Sanitize(string) string
}

// BookingServiceDeps wires the dependencies required by the booking service.
type BookingServiceDeps struct {
	Jobs           repositories.JobRepository
	Rates          PricingRates
	Sanitizer      TextSanitizer
	Notifier       NotificationDispatcher
	StaffRecipient string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	jobs           repositories.JobRepository
	rates          PricingRates
	sanitizer      TextSanitizer
	notifier       NotificationDispatcher
	staffRecipient string
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
}

var _ BookingService = (*bookingService)(nil)

// NewBookingService constructs a BookingService validating required dependencies.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Jobs == nil {
		return nil, errors.New("booking service: job repository is required")
	}
	if deps.Rates.BaseRatePerHour <= 0 || deps.Rates.TravelRatePerKm <= 0 {
		return nil, errors.New("booking service: pricing rates are required")
	}

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &bookingService{
		jobs:           deps.Jobs,
		rates:          deps.Rates,
		sanitizer:      sanitizer,
		notifier:       deps.Notifier,
		staffRecipient: strings.TrimSpace(deps.StaffRecipient),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SubmitJob validates and stores a public lost-item report, folding the cost
// estimate into the created job.
func (s *bookingService) SubmitJob(ctx context.Context, cmd SubmitJobCommand) (JobSubmission, error) {
	name := strings.TrimSpace(cmd.UserName)
	email := strings.TrimSpace(cmd.UserEmail)
	itemType := strings.TrimSpace(cmd.ItemType)
	description := s.sanitizer.Sanitize(strings.TrimSpace(cmd.ItemDescription))
	if name == "" || itemType == "" || description == "" {
		return JobSubmission{}, ErrBookingInvalidInput
	}
	if email == "" || !strings.Contains(email, "@") {
		return JobSubmission{}, ErrBookingInvalidInput
	}
	if cmd.EstimatedValue < 0 {
		return JobSubmission{}, ErrBookingInvalidInput
	}

	estimate := Estimate(s.rates, EstimateInput{
		TravelDistanceKm: cmd.TravelDistanceKm,
		LabourHours:      cmd.LabourHours,
		ItemValue:        cmd.EstimatedValue,
	})

	now := s.now()
	job := domain.Job{
		UserID:           strings.TrimSpace(cmd.UserID),
		UserName:         s.sanitizer.Sanitize(name),
		UserEmail:        email,
		UserPhone:        strings.TrimSpace(cmd.UserPhone),
		PreferredContact: strings.TrimSpace(cmd.PreferredContact),
		ItemType:         itemType,
		ItemDescription:  description,
		EstimatedValue:   cmd.EstimatedValue,
		DateLost:         strings.TrimSpace(cmd.DateLost),
		TimeLost:         strings.TrimSpace(cmd.TimeLost),
		Location:         cmd.Location,
		Circumstances:    s.sanitizer.Sanitize(strings.TrimSpace(cmd.Circumstances)),
		Photos:           cmd.Photos,
		Status:           domain.JobStatusPending,
		PaymentStatus:    domain.JobPaymentStatusUnpaid,
		EstimatedCost:    estimate.Total,
		FindersFee:       estimate.FindersFee,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	saved, err := s.jobs.Insert(ctx, job)
	if err != nil {
		return JobSubmission{}, s.translateJobError(err)
	}

	s.dispatch(ctx, Notification{
		Kind:      NotificationNewJobAlert,
		JobID:     saved.ID,
		Recipient: s.staffRecipient,
		Data: map[string]string{
			"itemType":      saved.ItemType,
			"userName":      saved.UserName,
			"estimatedCost": fmt.Sprintf("%.2f", saved.EstimatedCost),
		},
	})

	return JobSubmission{Job: saved, Estimate: estimate}, nil
}

// GetJob loads a job by identifier.
func (s *bookingService) GetJob(ctx context.Context, jobID string) (Job, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return Job{}, ErrBookingInvalidInput
	}
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return Job{}, s.translateJobError(err)
	}
	return job, nil
}

// ListJobs returns the staff-facing job listing.
func (s *bookingService) ListJobs(ctx context.Context, query JobListQuery) (domain.CursorPage[Job], error) {
	page, err := s.jobs.List(ctx, repositories.JobListFilter{
		Status:     query.Status,
		AssignedTo: strings.TrimSpace(query.AssignedTo),
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Job]{}, s.translateJobError(err)
	}
	return page, nil
}

// UpdateStatus transitions a job through its lifecycle and tells the customer
// about the change.
func (s *bookingService) UpdateStatus(ctx context.Context, cmd UpdateJobStatusCommand) (Job, error) {
	id := strings.TrimSpace(cmd.JobID)
	if id == "" || strings.TrimSpace(string(cmd.Status)) == "" {
		return Job{}, ErrBookingInvalidInput
	}

	job, err := s.jobs.UpdateStatus(ctx, id, cmd.Status, s.now())
	if err != nil {
		var illegal *domain.ErrIllegalTransition
		if errors.As(err, &illegal) {
			return Job{}, fmt.Errorf("%w: %w", ErrIllegalTransition, illegal)
		}
		return Job{}, s.translateJobError(err)
	}

	s.logger(ctx, "booking.status_updated", map[string]any{
		"jobId":  job.ID,
		"status": string(job.Status),
		"actor":  strings.TrimSpace(cmd.Actor),
	})
	s.dispatch(ctx, Notification{
		Kind:      NotificationStatusUpdate,
		JobID:     job.ID,
		Recipient: job.UserEmail,
		Data: map[string]string{
			"status":   string(job.Status),
			"itemType": job.ItemType,
		},
	})

	return job, nil
}

// AssignWorker records the recovery worker on a job.
func (s *bookingService) AssignWorker(ctx context.Context, cmd AssignWorkerCommand) (Job, error) {
	id := strings.TrimSpace(cmd.JobID)
	worker := strings.TrimSpace(cmd.WorkerID)
	if id == "" || worker == "" {
		return Job{}, ErrBookingInvalidInput
	}
	job, err := s.jobs.Assign(ctx, id, worker, strings.TrimSpace(cmd.WorkerName), s.now())
	if err != nil {
		return Job{}, s.translateJobError(err)
	}
	return job, nil
}

// UpdateNotes patches staff note fields, stripping markup before storage.
func (s *bookingService) UpdateNotes(ctx context.Context, cmd UpdateJobNotesCommand) (Job, error) {
	id := strings.TrimSpace(cmd.JobID)
	if id == "" {
		return Job{}, ErrBookingInvalidInput
	}
	if cmd.AdminNotes == nil && cmd.RecoveryNotes == nil {
		return Job{}, ErrBookingInvalidInput
	}

	update := repositories.JobNotesUpdate{}
	if cmd.AdminNotes != nil {
		clean := s.sanitizer.Sanitize(strings.TrimSpace(*cmd.AdminNotes))
		update.AdminNotes = &clean
	}
	if cmd.RecoveryNotes != nil {
		clean := s.sanitizer.Sanitize(strings.TrimSpace(*cmd.RecoveryNotes))
		update.RecoveryNotes = &clean
	}

	job, err := s.jobs.UpdateNotes(ctx, id, update, s.now())
	if err != nil {
		return Job{}, s.translateJobError(err)
	}
	return job, nil
}

func (s *bookingService) dispatch(ctx context.Context, notification Notification) {
	if s.notifier == nil || strings.TrimSpace(notification.Recipient) == "" {
		return
	}
	if _, err := s.notifier.Dispatch(ctx, notification); err != nil {
		s.logger(ctx, "booking.notify_failed", map[string]any{
			"kind":  string(notification.Kind),
			"jobId": notification.JobID,
			"error": err.Error(),
		})
	}
}

func (s *bookingService) translateJobError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrJobNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrIllegalTransition, err)
		case repoErr.IsUnavailable():
			return ErrBookingUnavailable
		}
	}
	return ErrBookingUnavailable
}
