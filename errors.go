package modlife

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle manager errors
var (
	// Registry errors
	ErrModuleNotFound          = errors.New("module not found")
	ErrModuleAlreadyRegistered = errors.New("module already registered")
	ErrInvalidModule           = errors.New("invalid module descriptor")

	// Loader errors
	ErrInvalidStateTransition = errors.New("invalid lifecycle state transition")
	ErrLoadFailed             = errors.New("failed to load module implementation")
	ErrOperationInFlight      = errors.New("lifecycle operation already in flight for module")
	ErrNilArtifactSource      = errors.New("artifact source is nil")

	// Validation errors
	ErrValidationFailed = errors.New("module validation failed")

	// Monitor errors
	ErrInvalidSchedule = errors.New("invalid health check schedule")
)

// ValidationFailedError aggregates the validator errors that blocked a load.
// It unwraps to ErrValidationFailed so callers can match with errors.Is.
type ValidationFailedError struct {
	ModuleID string
	Errors   []ValidationIssue
}

// Error joins every validator error message into one line.
func (e *ValidationFailedError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, issue := range e.Errors {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("module %q validation failed: %s", e.ModuleID, strings.Join(msgs, "; "))
}

// Unwrap returns the sentinel so errors.Is(err, ErrValidationFailed) matches.
func (e *ValidationFailedError) Unwrap() error {
	return ErrValidationFailed
}
