package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Dispatcher turns booking events into patient notifications.
type Dispatcher struct {
	sender Sender
	loc    *time.Location
	logger *zap.Logger
}

func NewDispatcher(sender Sender, loc *time.Location, logger *zap.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{sender: sender, loc: loc, logger: logger}
}

// Run consumes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, consumer events.Consumer) error {
	return consumer.Consume(ctx, d.Handle)
}

// Handle sends the notification for one event. Events without a recipient
// are skipped; a failed send is returned so the event is retried.
func (d *Dispatcher) Handle(ctx context.Context, ev events.BookingEvent) error {
	channel := ChannelFor(ev.Recipient)

	msg, err := d.Message(ev)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(channel, "skipped").Inc()
		d.logger.Warn("skip event", zap.String("type", string(ev.Type)), zap.Error(err))
		return nil
	}

	err = d.sender.Send(ctx, ev.Recipient, msg, ev.AppointmentID.String())
	switch {
	case errors.Is(err, ErrNoRecipient):
		metrics.NotificationsTotal.WithLabelValues(channel, "skipped").Inc()
		d.logger.Info("no recipient for appointment", zap.Stringer("appointment_id", ev.AppointmentID))
		return nil
	case err != nil:
		metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return err
	}

	metrics.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
	return nil
}

// Message renders the patient-facing text for an event in the clinic time zone.
func (d *Dispatcher) Message(ev events.BookingEvent) (string, error) {
	at := ev.ScheduledAt.In(d.loc)
	when := fmt.Sprintf("%s at %s", at.Format("Mon 2 Jan 2006"), at.Format("15:04"))

	switch ev.Type {
	case events.AppointmentBooked:
		return fmt.Sprintf("Your appointment on %s has been booked.", when), nil
	case events.AppointmentRescheduled:
		return fmt.Sprintf("Your appointment has been moved to %s.", when), nil
	case events.AppointmentCancelled:
		return fmt.Sprintf("Your appointment on %s has been cancelled.", when), nil
	default:
		return "", fmt.Errorf("unknown event type %q", ev.Type)
	}
}
