// Package events defines the booking events emitted after an appointment
// change has been committed.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	AppointmentBooked      Type = "appointment.booked"
	AppointmentRescheduled Type = "appointment.rescheduled"
	AppointmentCancelled   Type = "appointment.cancelled"
)

type BookingEvent struct {
	ID            uuid.UUID `json:"id"`
	Type          Type      `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Recipient     string    `json:"recipient,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher hands an event to whatever transports it to the notification
// dispatcher. A failed publish never undoes the change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev BookingEvent) error
}

// Handler processes one event. Returning an error leaves the event pending.
type Handler func(ctx context.Context, ev BookingEvent) error

// Consumer delivers events to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}
