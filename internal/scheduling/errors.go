package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrRepository              = errors.New("repository unavailable")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrDuplicateBooking is returned by repositories when a write would put a
	// second active appointment on the same doctor and timestamp.
	ErrDuplicateBooking = errors.New("doctor already has an active appointment at this time")

	ErrNotFound             = errors.New("not found")
	ErrDoctorNotFound       = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound      = fmt.Errorf("patient %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAvailabilityNotFound = fmt.Errorf("weekly availability %w", ErrNotFound)
	ErrExceptionNotFound    = fmt.Errorf("exception %w", ErrNotFound)
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RepositoryError wraps a transport or storage failure. It matches ErrRepository
// and unwraps to the underlying cause.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) Is(target error) bool {
	return target == ErrRepository
}

// wrapRepo leaves domain sentinels untouched so callers can still match them,
// and marks everything else as a repository failure.
func wrapRepo(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateBooking) ||
		errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrRepository) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &RepositoryError{Op: op, Err: err}
}
