package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/findmytreasure/api/internal/domain"
	"github.com/findmytreasure/api/internal/platform/httpx"
	"github.com/findmytreasure/api/internal/services"
)

const (
	maxJobRequestBody = 64 * 1024

	defaultSubmitRateLimit  = 10
	defaultSubmitRateWindow = time.Minute
)

// JobHandlers exposes the public lost-item endpoints: report submission and
// the status lookup used by the confirmation page.
type JobHandlers struct {
	booking services.BookingService
	limiter rateLimiter
}

// JobHandlerOption customises the public job handlers.
type JobHandlerOption func(*JobHandlers)

// WithSubmitRateLimit caps anonymous report submissions per client IP within
// the given window. Zero values disable the limiter.
func WithSubmitRateLimit(limit int, window time.Duration) JobHandlerOption {
	return func(h *JobHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewJobHandlers constructs the public job handlers.
func NewJobHandlers(booking services.BookingService, opts ...JobHandlerOption) *JobHandlers {
	h := &JobHandlers{
		booking: booking,
		limiter: newSimpleRateLimiter(defaultSubmitRateLimit, defaultSubmitRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the public job endpoints under the provided router.
func (h *JobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs", h.submitJob)
	r.Get("/jobs/{jobID}", h.getJob)
}

type locationPayload struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Address      string  `json:"address,omitempty"`
	SearchRadius float64 `json:"searchRadius,omitempty"`
}

type submitJobRequest struct {
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	PreferredContact string           `json:"preferredContact"`
	ItemType         string           `json:"itemType"`
	ItemDescription  string           `json:"itemDescription"`
	EstimatedValue   float64          `json:"estimatedValue"`
	DateLost         string           `json:"dateLost"`
	TimeLost         string           `json:"timeLost"`
	Location         *locationPayload `json:"location"`
	Circumstances    string           `json:"circumstances"`
	Photos           []string         `json:"photos"`
	TravelDistanceKm float64          `json:"travelDistanceKm"`
	LabourHours      float64          `json:"labourHours"`
}

type estimatePayload struct {
	TravelCost   float64 `json:"travelCost"`
	LabourCost   float64 `json:"labourCost"`
	EquipmentFee float64 `json:"equipmentFee"`
	FindersFee   float64 `json:"findersFee"`
	Subtotal     float64 `json:"subtotal"`
	Total        float64 `json:"total"`
}

type submitJobResponse struct {
	JobID    string          `json:"jobId"`
	Status   string          `json:"status"`
	Estimate estimatePayload `json:"estimate"`
}

type jobResponse struct {
	ID               string           `json:"id"`
	ItemType         string           `json:"itemType"`
	ItemDescription  string           `json:"itemDescription"`
	Status           string           `json:"status"`
	PaymentStatus    string           `json:"paymentStatus"`
	EstimatedCost    float64          `json:"estimatedCost"`
	FindersFee       float64          `json:"findersFee"`
	DateLost         string           `json:"dateLost,omitempty"`
	TimeLost         string           `json:"timeLost,omitempty"`
	Location         *locationPayload `json:"location,omitempty"`
	AssignedToName   string           `json:"assignedToName,omitempty"`
	AdminNotes       string           `json:"adminNotes,omitempty"`
	RecoveryNotes    string           `json:"recoveryNotes,omitempty"`
	CreatedAt        string           `json:"createdAt,omitempty"`
	UpdatedAt        string           `json:"updatedAt,omitempty"`
	RecoveredAt      string           `json:"recoveredAt,omitempty"`
	UserName         string           `json:"userName,omitempty"`
	UserEmail        string           `json:"userEmail,omitempty"`
	UserPhone        string           `json:"userPhone,omitempty"`
	PreferredContact string           `json:"preferredContact,omitempty"`
}

func (h *JobHandlers) submitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.booking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many submissions; try again later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxJobRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req submitJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.SubmitJobCommand{
		UserName:         req.Name,
		UserEmail:        req.Email,
		UserPhone:        req.Phone,
		PreferredContact: req.PreferredContact,
		ItemType:         req.ItemType,
		ItemDescription:  req.ItemDescription,
		EstimatedValue:   req.EstimatedValue,
		DateLost:         req.DateLost,
		TimeLost:         req.TimeLost,
		Circumstances:    req.Circumstances,
		Photos:           req.Photos,
		TravelDistanceKm: req.TravelDistanceKm,
		LabourHours:      req.LabourHours,
	}
	if req.Location != nil {
		cmd.Location = &services.Location{
			Lat:          req.Location.Lat,
			Lng:          req.Location.Lng,
			Address:      req.Location.Address,
			SearchRadius: req.Location.SearchRadius,
		}
	}

	submission, err := h.booking.SubmitJob(ctx, cmd)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, submitJobResponse{
		JobID:  submission.Job.ID,
		Status: string(submission.Job.Status),
		Estimate: estimatePayload{
			TravelCost:   submission.Estimate.TravelCost,
			LabourCost:   submission.Estimate.LabourCost,
			EquipmentFee: submission.Estimate.EquipmentFee,
			FindersFee:   submission.Estimate.FindersFee,
			Subtotal:     submission.Estimate.Subtotal,
			Total:        submission.Estimate.Total,
		},
	})
}

func (h *JobHandlers) getJob(w http.ResponseWriter, r *http.Request) {
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

	job, err := h.booking.GetJob(ctx, jobID)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	// The public lookup omits staff-only fields.
	payload := jobToResponse(job)
	payload.AdminNotes = ""
	payload.UserEmail = ""
	payload.UserPhone = ""

	writeJSONResponse(w, http.StatusOK, payload)
}

func jobToResponse(job domain.Job) jobResponse {
	resp := jobResponse{
		ID:               job.ID,
		ItemType:         job.ItemType,
		ItemDescription:  job.ItemDescription,
		Status:           string(job.Status),
		PaymentStatus:    string(job.PaymentStatus),
		EstimatedCost:    job.EstimatedCost,
		FindersFee:       job.FindersFee,
		DateLost:         job.DateLost,
		TimeLost:         job.TimeLost,
		AssignedToName:   job.AssignedToName,
		AdminNotes:       job.AdminNotes,
		RecoveryNotes:    job.RecoveryNotes,
		CreatedAt:        formatTime(job.CreatedAt),
		UpdatedAt:        formatTime(job.UpdatedAt),
		RecoveredAt:      formatTimePtr(job.RecoveredAt),
		UserName:         job.UserName,
		UserEmail:        job.UserEmail,
		UserPhone:        job.UserPhone,
		PreferredContact: job.PreferredContact,
	}
	if job.Location != nil {
		resp.Location = &locationPayload{
			Lat:          job.Location.Lat,
			Lng:          job.Location.Lng,
			Address:      job.Location.Address,
			SearchRadius: job.Location.SearchRadius,
		}
	}
	return resp
}

// clientKey buckets submissions per client IP. RealIP middleware has already
// rewritten RemoteAddr when the request came through a proxy.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeBookingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBookingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrJobNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("job_not_found", "job not found", http.StatusNotFound))
	case errors.Is(err, services.ErrIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBookingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("booking_error", "failed to process booking request", http.StatusInternalServerError))
	}
}
