package domain

import (
	"errors"
	"testing"
)

func TestValidateTransitionLegalEdges(t *testing.T) {
	legal := []struct {
		from JobStatus
		to   JobStatus
	}{
		{JobStatusPending, JobStatusAssigned},
		{JobStatusPending, JobStatusCancelled},
		{JobStatusAssigned, JobStatusInProgress},
		{JobStatusAssigned, JobStatusCancelled},
		{JobStatusInProgress, JobStatusRecovered},
		{JobStatusInProgress, JobStatusCancelled},
	}
	for _, tc := range legal {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be legal, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionRejectsIllegalEdges(t *testing.T) {
	illegal := []struct {
		from JobStatus
		to   JobStatus
	}{
		{JobStatusPending, JobStatusRecovered},
		{JobStatusPending, JobStatusInProgress},
		{JobStatusAssigned, JobStatusRecovered},
		{JobStatusRecovered, JobStatusPending},
		{JobStatusRecovered, JobStatusCancelled},
		{JobStatusCancelled, JobStatusAssigned},
		{JobStatusInProgress, JobStatusPending},
	}
	for _, tc := range illegal {
		err := ValidateTransition(tc.from, tc.to)
		if err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		var transitionErr *ErrIllegalTransition
		if !errors.As(err, &transitionErr) {
			t.Fatalf("expected ErrIllegalTransition, got %T", err)
		}
		if transitionErr.From != tc.from || transitionErr.To != tc.to {
			t.Fatalf("unexpected transition error payload: %+v", transitionErr)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	if !IsTerminalStatus(JobStatusRecovered) || !IsTerminalStatus(JobStatusCancelled) {
		t.Fatal("expected recovered and cancelled to be terminal")
	}
	if IsTerminalStatus(JobStatusPending) || IsTerminalStatus(JobStatusAssigned) || IsTerminalStatus(JobStatusInProgress) {
		t.Fatal("expected non-terminal statuses to report false")
	}
}
