package ledger

import (
	"fmt"
	"time"
)

// Confirm moves a PENDING suggestion to CONFIRMED and stamps who confirmed it and when.
// confirmedAt is set exactly once, here.
func (s *Suggestion) Confirm(userID int64, now time.Time) error {
	if s.Status != SuggestionPending {
		return fmt.Errorf("suggestion %d is %s, only pending suggestions can be confirmed: %w",
			s.ID, s.Status, ErrInvalidState)
	}
	s.Status = SuggestionConfirmed
	by := userID
	at := now
	s.ConfirmedBy = &by
	s.ConfirmedAt = &at
	return nil
}

// Reject moves a PENDING suggestion to REJECTED.
func (s *Suggestion) Reject() error {
	if s.Status != SuggestionPending {
		return fmt.Errorf("suggestion %d is %s, only pending suggestions can be rejected: %w",
			s.ID, s.Status, ErrInvalidState)
	}
	s.Status = SuggestionRejected
	return nil
}
