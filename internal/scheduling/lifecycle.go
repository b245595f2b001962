package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/events"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusRequested: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave this status.
func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether an appointment may move from one status to
// another. Staying in the same status is not a transition.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapRepo("load appointment", err)
	}
	return appt, nil
}

// ListAppointments returns a doctor's appointments scheduled on the dates from
// through to, inclusive, in any status.
func (s *Service) ListAppointments(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "from", Reason: "from and to are required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "to", Reason: "must not be before from"}
	}
	if from.AddDays(MaxCountDays).Before(to) {
		return nil, &ValidationError{Field: "to", Reason: fmt.Sprintf("range exceeds %d days", MaxCountDays)}
	}

	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, wrapRepo("load doctor", err)
	}

	start, _ := s.dayBounds(from, 0)
	_, end := s.dayBounds(to, 1)
	appts, err := s.repo.ListByDoctorAndRange(ctx, doctorID, start, end)
	if err != nil {
		return nil, wrapRepo("list appointments", err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// RescheduleAppointment moves an appointment to another free slot of the same
// doctor. The target is checked and written under the slot lock exactly like a
// new booking.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, date Date, at Clock) (*Appointment, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "is required"}
	}
	if !at.Valid() {
		return nil, &ValidationError{Field: "time", Reason: "time of day out of range"}
	}

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapRepo("load appointment", err)
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("reschedule %s appointment: %w", appt.Status, ErrInvalidStatusTransition)
	}

	target := date.At(at, s.loc).UTC()
	if minuteKey(target) == minuteKey(appt.ScheduledAt) {
		return appt, nil
	}

	plan, err := s.freeSlots(ctx, appt.DoctorID, date)
	if err != nil {
		return nil, err
	}
	slot, ok := findSlot(plan.Slots, at)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", date, at, ErrSlotUnavailable)
	}

	expect := appt.Status
	var updated *Appointment
	err = s.locker.WithSlotLock(ctx, redisclient.SlotKey(appt.DoctorID, slot.StartsAt), func(lockCtx context.Context) error {
		a, err := s.repo.UpdateStatusOrTime(lockCtx, appt.ID, AppointmentChanges{
			ScheduledAt:  &slot.StartsAt,
			ExpectStatus: &expect,
		})
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, ErrDuplicateBooking) {
			return nil, fmt.Errorf("%s %s: %w", date, at, ErrSlotUnavailable)
		}
		return nil, wrapRepo("reschedule appointment", err)
	}

	s.logger.Info("appointment rescheduled",
		zap.Stringer("appointment_id", updated.ID),
		zap.Time("from", appt.ScheduledAt),
		zap.Time("to", updated.ScheduledAt),
	)

	s.invalidateCounts(updated.DoctorID)
	s.emit(ctx, events.AppointmentRescheduled, updated, s.recipientFor(ctx, updated.PatientID))
	return updated, nil
}

// UpdateAppointmentStatus moves an appointment along its lifecycle. Setting
// the status it already has is a no-op.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapRepo("load appointment", err)
	}
	if appt.Status == status {
		return appt, nil
	}
	if !CanTransition(appt.Status, status) {
		return nil, fmt.Errorf("%s -> %s: %w", appt.Status, status, ErrInvalidStatusTransition)
	}

	from := appt.Status
	updated, err := s.repo.UpdateStatusOrTime(ctx, id, AppointmentChanges{
		Status:       &status,
		ExpectStatus: &from,
	})
	if err != nil {
		return nil, wrapRepo("update appointment status", err)
	}

	s.logger.Info("appointment status changed",
		zap.Stringer("appointment_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)

	if status == StatusCancelled {
		s.invalidateCounts(updated.DoctorID)
		s.emit(ctx, events.AppointmentCancelled, updated, s.recipientFor(ctx, updated.PatientID))
	}
	return updated, nil
}

// DeleteAppointment removes an appointment record, releasing its slot.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return wrapRepo("load appointment", err)
	}
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return wrapRepo("delete appointment", err)
	}
	s.invalidateCounts(appt.DoctorID)
	return nil
}

func (s *Service) recipientFor(ctx context.Context, patientID uuid.UUID) string {
	patient, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		s.logger.Warn("load patient for notification", zap.Stringer("patient_id", patientID), zap.Error(err))
		return ""
	}
	return patient.Contact()
}
