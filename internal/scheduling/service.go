package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	DefaultCountDays = 90
	MaxCountDays     = 366

	publishTimeout = 2 * time.Second
)

// BookingRequest asks for one appointment at a given date and local time.
// DurationMinutes and Modality default to those of the slot.
type BookingRequest struct {
	DoctorID        uuid.UUID `validate:"required"`
	PatientID       uuid.UUID `validate:"required"`
	Date            Date
	Time            Clock
	DurationMinutes int      `validate:"gte=0,lte=480"`
	Notes           string   `validate:"max=2000"`
	Modality        Modality `validate:"omitempty,oneof=in_person telemedicine"`
}

type Service struct {
	repo            Repository
	locker          redisclient.Locker
	publisher       events.Publisher
	counts          *cache.Cache
	validate        *validator.Validate
	logger          *zap.Logger
	loc             *time.Location
	defaultSlotMins int
	now             func() time.Time
}

// NewService wires the orchestrator. publisher may be nil, in which case no
// booking events are emitted.
func NewService(repo Repository, locker redisclient.Locker, publisher events.Publisher, cfg config.Config, logger *zap.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	slotMins := cfg.DefaultSlotMins
	if slotMins <= 0 {
		slotMins = 30
	}
	ttl := cfg.CountsTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:            repo,
		locker:          locker,
		publisher:       publisher,
		counts:          cache.New(ttl, 2*ttl),
		validate:        validator.New(),
		logger:          logger,
		loc:             loc,
		defaultSlotMins: slotMins,
		now:             time.Now,
	}
}

// Location is the clinic time zone used to interpret dates and times.
func (s *Service) Location() *time.Location {
	return s.loc
}

// GetAvailableSlots returns the free slots of a doctor on a date, sorted by
// start time. It has no side effects. A slot reported here can still be taken
// before it is booked; BookAppointment is the authority.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]Slot, error) {
	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "is required"}
	}

	metrics.SlotQueriesTotal.WithLabelValues("slots").Inc()
	start := time.Now()
	defer func() {
		metrics.SlotGenerationSeconds.Observe(time.Since(start).Seconds())
	}()

	plan, err := s.freeSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return plan.Slots, nil
}

func (s *Service) dayInputs(ctx context.Context, doctorID uuid.UUID) (*Doctor, []WeeklyAvailability, []Exception, error) {
	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, nil, nil, wrapRepo("load doctor", err)
	}
	weekly, err := s.repo.ListWeeklyAvailability(ctx, doctorID)
	if err != nil {
		return nil, nil, nil, wrapRepo("list weekly availability", err)
	}
	exceptions, err := s.repo.ListExceptions(ctx, doctorID)
	if err != nil {
		return nil, nil, nil, wrapRepo("list exceptions", err)
	}
	return doctor, weekly, exceptions, nil
}

func (s *Service) slotMinutesFor(d *Doctor) int {
	if d != nil && d.DefaultSlotMinutes > 0 {
		return d.DefaultSlotMinutes
	}
	return s.defaultSlotMins
}

// dayBounds returns the UTC instants that open and close date in the clinic
// time zone.
func (s *Service) dayBounds(from Date, days int) (time.Time, time.Time) {
	return from.At(0, s.loc).UTC(), from.AddDays(days).At(0, s.loc).UTC()
}

func (s *Service) freeSlots(ctx context.Context, doctorID uuid.UUID, date Date) (DayPlan, error) {
	doctor, weekly, exceptions, err := s.dayInputs(ctx, doctorID)
	if err != nil {
		return DayPlan{}, err
	}

	plan, err := GenerateSlots(DayRequest{
		Date:               date,
		Weekly:             weekly,
		Exceptions:         exceptions,
		DefaultSlotMinutes: s.slotMinutesFor(doctor),
		Location:           s.loc,
	})
	if err != nil {
		return DayPlan{}, err
	}
	if len(plan.Warnings) > 0 {
		s.logger.Warn("overlapping availability windows",
			zap.Stringer("doctor_id", doctorID),
			zap.Stringer("date", date),
			zap.Strings("warnings", plan.Warnings),
		)
	}
	if len(plan.Slots) == 0 {
		plan.Slots = []Slot{}
		return plan, nil
	}

	from, to := s.dayBounds(date, 1)
	appointments, err := s.repo.ListByDoctorAndRange(ctx, doctorID, from, to)
	if err != nil {
		return DayPlan{}, wrapRepo("list appointments", err)
	}
	plan.Slots = FilterConflicts(plan.Slots, appointments)
	return plan, nil
}

func findSlot(slots []Slot, at Clock) (Slot, bool) {
	for _, sl := range slots {
		if sl.Start == at {
			return sl, true
		}
	}
	return Slot{}, false
}

// BookAppointment creates an appointment in a free slot.
//
// The free-slot check before the write is only an early exit. Two callers can
// both pass it; the slot lock and the repository's uniqueness guarantee make
// exactly one of them win, and the other gets ErrSlotUnavailable. That error
// can therefore occur right after GetAvailableSlots listed the slot as free.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.bookAppointment(ctx, req)
	metrics.BookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
	return appt, err
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) bookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "is required"}
	}
	if !req.Time.Valid() {
		return nil, &ValidationError{Field: "time", Reason: "time of day out of range"}
	}

	patient, err := s.repo.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, wrapRepo("load patient", err)
	}

	plan, err := s.freeSlots(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}
	slot, ok := findSlot(plan.Slots, req.Time)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", req.Date, req.Time, ErrSlotUnavailable)
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = slot.DurationMinutes
	}
	modality := req.Modality
	if modality == "" {
		modality = slot.Modality
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, redisclient.SlotKey(req.DoctorID, slot.StartsAt), func(lockCtx context.Context) error {
		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			ID:              uuid.New(),
			DoctorID:        req.DoctorID,
			PatientID:       req.PatientID,
			ScheduledAt:     slot.StartsAt,
			DurationMinutes: duration,
			Status:          StatusRequested,
			Notes:           req.Notes,
			Modality:        modality,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, ErrDuplicateBooking) {
			return nil, fmt.Errorf("%s %s: %w", req.Date, req.Time, ErrSlotUnavailable)
		}
		return nil, wrapRepo("create appointment", err)
	}

	s.logger.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.Stringer("doctor_id", created.DoctorID),
		zap.Stringer("patient_id", created.PatientID),
		zap.Time("scheduled_at", created.ScheduledAt),
	)

	s.invalidateCounts(req.DoctorID)
	s.emit(ctx, events.AppointmentBooked, created, patient.Contact())

	return created, nil
}

// emit publishes a booking event after the change is committed. Failures are
// logged and counted, never returned.
func (s *Service) emit(ctx context.Context, typ events.Type, appt *Appointment, recipient string) {
	if s.publisher == nil {
		return
	}

	ev := events.BookingEvent{
		ID:            uuid.New(),
		Type:          typ,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		ScheduledAt:   appt.ScheduledAt,
		Recipient:     recipient,
		OccurredAt:    s.now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		metrics.EventPublishFailures.Inc()
		s.logger.Error("publish booking event",
			zap.String("type", string(typ)),
			zap.Stringer("appointment_id", appt.ID),
			zap.Error(err),
		)
	}
}

// ComputeAvailabilityCounts returns the number of free slots per day for
// days consecutive dates starting at from. Results are a short-lived snapshot
// and must not be used in place of the check BookAppointment performs.
func (s *Service) ComputeAvailabilityCounts(ctx context.Context, doctorID uuid.UUID, from Date, days int) ([]DayCount, error) {
	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if from.IsZero() {
		return nil, &ValidationError{Field: "from", Reason: "is required"}
	}
	if days <= 0 {
		days = DefaultCountDays
	}
	if days > MaxCountDays {
		days = MaxCountDays
	}

	metrics.SlotQueriesTotal.WithLabelValues("counts").Inc()

	key := countsKey(doctorID, from, days)
	if cached, ok := s.counts.Get(key); ok {
		metrics.CountsCacheTotal.WithLabelValues("hit").Inc()
		return append([]DayCount(nil), cached.([]DayCount)...), nil
	}
	metrics.CountsCacheTotal.WithLabelValues("miss").Inc()

	doctor, weekly, exceptions, err := s.dayInputs(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	rangeFrom, rangeTo := s.dayBounds(from, days)
	appointments, err := s.repo.ListByDoctorAndRange(ctx, doctorID, rangeFrom, rangeTo)
	if err != nil {
		return nil, wrapRepo("list appointments", err)
	}
	taken := occupiedMinutes(appointments)

	counts := make([]DayCount, 0, days)
	for i := 0; i < days; i++ {
		day := from.AddDays(i)
		plan, err := GenerateSlots(DayRequest{
			Date:               day,
			Weekly:             weekly,
			Exceptions:         exceptions,
			DefaultSlotMinutes: s.slotMinutesFor(doctor),
			Location:           s.loc,
		})
		if err != nil {
			counts = append(counts, DayCount{Date: day, Error: err.Error()})
			continue
		}
		counts = append(counts, DayCount{Date: day, Free: countFree(plan.Slots, taken)})
	}

	s.counts.Set(key, counts, cache.DefaultExpiration)
	return append([]DayCount(nil), counts...), nil
}

func countsKey(doctorID uuid.UUID, from Date, days int) string {
	return fmt.Sprintf("%s|%s|%d", doctorID, from, days)
}

func (s *Service) invalidateCounts(doctorID uuid.UUID) {
	prefix := doctorID.String() + "|"
	for key := range s.counts.Items() {
		if strings.HasPrefix(key, prefix) {
			s.counts.Delete(key)
		}
	}
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: toSnake(fe.Field()), Reason: fmt.Sprintf("failed %q rule", fe.Tag())}
	}
	return &ValidationError{Reason: err.Error()}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
