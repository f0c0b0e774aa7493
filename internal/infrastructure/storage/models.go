package storage

import "time"

// RunStatus is the outcome of a reconciliation pass.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial means at least one payment failed but the pass finished.
	RunPartial RunStatus = "completed_with_errors"
	RunFailed  RunStatus = "failed"
)

// Run represents a reconciliation run record
type Run struct {
	ID                 int64      `json:"-"`
	RunID              string     `json:"run_id"`
	UserID             int64      `json:"user_id"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	PaymentsConsidered int        `json:"payments_considered"`
	SuggestionsCreated int        `json:"suggestions_created"`
	PaymentsSkipped    int        `json:"payments_skipped"`
	PaymentsErrored    int        `json:"payments_errored"`
	Status             RunStatus  `json:"status"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// MatcherCall represents one logged call to the AI matcher
type MatcherCall struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id,omitempty"`
	PaymentID       int64     `json:"payment_id"`
	Model           string    `json:"model"`
	Prompt          string    `json:"prompt"`
	Response        string    `json:"response"`
	MatchesReturned int       `json:"matches_returned"`
	Error           string    `json:"error,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
