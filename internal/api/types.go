package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID        string `json:"doctor_id" validate:"required,uuid"`
	PatientID       string `json:"patient_id" validate:"required,uuid"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string `json:"time" validate:"required,datetime=15:04"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"gte=0,lte=480"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
	Modality        string `json:"modality,omitempty" validate:"omitempty,oneof=in_person telemedicine"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=requested confirmed checked_in completed cancelled no_show"`
}

type WeeklyAvailabilityRequest struct {
	Weekday     string `json:"weekday" validate:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime     string `json:"end_time" validate:"required,datetime=15:04"`
	SlotMinutes int    `json:"slot_minutes" validate:"required,gt=0,lte=480"`
	Modality    string `json:"modality,omitempty" validate:"omitempty,oneof=in_person telemedicine"`
	Active      *bool  `json:"active,omitempty"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type ExceptionRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime     string `json:"end_time,omitempty" validate:"omitempty,datetime=15:04"`
	Kind        string `json:"kind" validate:"required,oneof=block opening"`
	SlotMinutes *int   `json:"slot_minutes,omitempty" validate:"omitempty,gt=0,lte=480"`
	Modality    string `json:"modality,omitempty" validate:"omitempty,oneof=in_person telemedicine"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

type slotsQuery struct {
	Date string `validate:"required,datetime=2006-01-02"`
}

type countsQuery struct {
	From string `validate:"required,datetime=2006-01-02"`
	Days int    `validate:"gte=0"`
}

type listQuery struct {
	DoctorID string `validate:"required,uuid"`
	From     string `validate:"required,datetime=2006-01-02"`
	To       string `validate:"required,datetime=2006-01-02"`
}

// AppointmentResponse carries scheduled_at in UTC, and date and time in the
// clinic time zone.
type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	Modality        string    `json:"modality"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newAppointmentResponse(a *scheduling.Appointment, loc *time.Location) AppointmentResponse {
	local := a.ScheduledAt.In(loc)
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ScheduledAt:     a.ScheduledAt.UTC(),
		Date:            scheduling.DateOf(local).String(),
		Time:            scheduling.ClockOf(local).String(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
		Modality:        string(a.Modality),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type SlotsResponse struct {
	DoctorID uuid.UUID         `json:"doctor_id"`
	Date     scheduling.Date   `json:"date"`
	Slots    []scheduling.Slot `json:"slots"`
}

type CountsResponse struct {
	DoctorID uuid.UUID             `json:"doctor_id"`
	From     scheduling.Date       `json:"from"`
	Days     []scheduling.DayCount `json:"days"`
}

type WeeklyAvailabilityResponse struct {
	ID          uuid.UUID          `json:"id"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	Weekday     scheduling.Weekday `json:"weekday"`
	StartTime   scheduling.Clock   `json:"start_time"`
	EndTime     scheduling.Clock   `json:"end_time"`
	SlotMinutes int                `json:"slot_minutes"`
	Modality    string             `json:"modality"`
	Active      bool               `json:"active"`
	Warnings    []string           `json:"warnings,omitempty"`
}

func newWeeklyAvailabilityResponse(wa *scheduling.WeeklyAvailability, warnings []string) WeeklyAvailabilityResponse {
	return WeeklyAvailabilityResponse{
		ID:          wa.ID,
		DoctorID:    wa.DoctorID,
		Weekday:     wa.Weekday,
		StartTime:   wa.StartTime,
		EndTime:     wa.EndTime,
		SlotMinutes: wa.SlotMinutes,
		Modality:    string(wa.Modality),
		Active:      wa.Active,
		Warnings:    warnings,
	}
}

type ExceptionResponse struct {
	ID          uuid.UUID         `json:"id"`
	DoctorID    uuid.UUID         `json:"doctor_id"`
	Date        scheduling.Date   `json:"date"`
	StartTime   *scheduling.Clock `json:"start_time,omitempty"`
	EndTime     *scheduling.Clock `json:"end_time,omitempty"`
	Kind        string            `json:"kind"`
	SlotMinutes *int              `json:"slot_minutes,omitempty"`
	Modality    string            `json:"modality,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

func newExceptionResponse(ex *scheduling.Exception) ExceptionResponse {
	return ExceptionResponse{
		ID:          ex.ID,
		DoctorID:    ex.DoctorID,
		Date:        ex.Date,
		StartTime:   ex.StartTime,
		EndTime:     ex.EndTime,
		Kind:        string(ex.Kind),
		SlotMinutes: ex.SlotMinutes,
		Modality:    string(ex.Modality),
		Reason:      ex.Reason,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
