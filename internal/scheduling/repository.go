package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DirectoryRepository resolves the people referenced by appointments.
type DirectoryRepository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// AvailabilityRepository stores the recurring weekly template.
type AvailabilityRepository interface {
	ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]WeeklyAvailability, error)
	CreateWeeklyAvailability(ctx context.Context, wa WeeklyAvailability) (*WeeklyAvailability, error)
	SetWeeklyAvailabilityActive(ctx context.Context, id uuid.UUID, active bool) (*WeeklyAvailability, error)
}

// ExceptionRepository stores date-specific blocks and openings.
type ExceptionRepository interface {
	ListExceptions(ctx context.Context, doctorID uuid.UUID) ([]Exception, error)
	CreateException(ctx context.Context, ex Exception) (*Exception, error)
	DeleteException(ctx context.Context, id uuid.UUID) error
}

// AppointmentRepository stores booked appointments.
//
// Create and UpdateStatusOrTime must be atomic and must refuse, with
// ErrDuplicateBooking, to leave two non-cancelled appointments on the same
// doctor and scheduled time.
type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListByDoctorAndRange returns appointments scheduled in [from, to), any status.
	ListByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateStatusOrTime(ctx context.Context, id uuid.UUID, changes AppointmentChanges) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	DirectoryRepository
	AvailabilityRepository
	ExceptionRepository
	AppointmentRepository
}
