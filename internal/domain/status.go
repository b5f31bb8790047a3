package domain

import "fmt"

// ErrIllegalTransition reports a job status change the lifecycle does not allow.
type ErrIllegalTransition struct {
	From JobStatus
	To   JobStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal job status transition %s -> %s", e.From, e.To)
}

var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusAssigned, JobStatusCancelled},
	JobStatusAssigned:   {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusRecovered, JobStatusCancelled},
	JobStatusRecovered:  nil,
	JobStatusCancelled:  nil,
}

// CanTransition reports whether the job lifecycle permits moving from one
// status to another. Terminal statuses admit no outgoing transitions.
func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *ErrIllegalTransition when the requested
// status change is not a legal edge of the job lifecycle.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return &ErrIllegalTransition{From: from, To: to}
	}
	return nil
}

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status JobStatus) bool {
	return status == JobStatusRecovered || status == JobStatusCancelled
}
