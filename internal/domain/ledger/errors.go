package ledger

import "errors"

// Error kinds. Callers wrap these with fmt.Errorf("...: %w", ErrX) and
// classify with errors.Is.
var (
	// ErrNotFound means a referenced user, payment, invoice or suggestion does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a transition was attempted from a terminal suggestion status.
	ErrInvalidState = errors.New("invalid state")

	// ErrMatchService means the AI matcher call failed or returned unusable content.
	ErrMatchService = errors.New("match service error")

	// ErrValidation means malformed input was supplied.
	ErrValidation = errors.New("validation error")

	// ErrConflict means a row changed between read and write (version mismatch).
	ErrConflict = errors.New("concurrent modification")

	// ErrRunInProgress means a reconciliation pass is already running for the user.
	ErrRunInProgress = errors.New("reconciliation already running")
)
