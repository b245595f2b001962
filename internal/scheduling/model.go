package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Modality string

const (
	ModalityInPerson     Modality = "in_person"
	ModalityTelemedicine Modality = "telemedicine"
)

func (m Modality) Valid() bool {
	return m == ModalityInPerson || m == ModalityTelemedicine
}

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCheckedIn AppointmentStatus = "checked_in"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Occupies reports whether an appointment in this status holds its slot.
func (s AppointmentStatus) Occupies() bool {
	return s != StatusCancelled
}

type ExceptionKind string

const (
	ExceptionBlock   ExceptionKind = "block"
	ExceptionOpening ExceptionKind = "opening"
)

type Doctor struct {
	ID                 uuid.UUID
	Name               string
	Phone              *string
	DefaultSlotMinutes int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact returns the address notifications for this patient should go to,
// preferring the phone number.
func (p *Patient) Contact() string {
	switch {
	case p.Phone != nil && *p.Phone != "":
		return *p.Phone
	case p.Email != nil && *p.Email != "":
		return *p.Email
	default:
		return ""
	}
}

// WeeklyAvailability is a recurring open window on one weekday.
type WeeklyAvailability struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Weekday     Weekday
	StartTime   Clock
	EndTime     Clock
	SlotMinutes int
	Modality    Modality
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exception overrides the weekly template on a single date. A nil StartTime and
// EndTime covers the whole day.
type Exception struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        Date
	StartTime   *Clock
	EndTime     *Clock
	Kind        ExceptionKind
	SlotMinutes *int
	Modality    Modality
	Reason      string
	CreatedAt   time.Time
}

func (e Exception) WholeDay() bool {
	return e.StartTime == nil && e.EndTime == nil
}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Notes           string
	Modality        Modality
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppointmentChanges carries a partial update. Nil fields are left unchanged.
// When ExpectStatus is set the update only applies if the stored status still
// matches it; otherwise the repository returns ErrInvalidStatusTransition.
type AppointmentChanges struct {
	Status       *AppointmentStatus
	ScheduledAt  *time.Time
	ExpectStatus *AppointmentStatus
}

// Slot is a bookable start time. It is derived on every request and never stored.
type Slot struct {
	Date            Date      `json:"date"`
	Start           Clock     `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Modality        Modality  `json:"modality"`
	StartsAt        time.Time `json:"starts_at"`
}

// DayPlan is the slot generator's output for a single date.
type DayPlan struct {
	Date     Date
	Weekday  Weekday
	Slots    []Slot
	Warnings []string
}

// DayCount is the number of free slots on a date.
type DayCount struct {
	Date  Date   `json:"date"`
	Free  int    `json:"free"`
	Error string `json:"error,omitempty"`
}
