package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	pub     *recordingPublisher
	doctor  Doctor
	patient Patient
}

// newFixture sets up a doctor available on Mondays from 09:00 to 12:00 in
// 30 minute slots.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	cfg := config.Config{Location: time.UTC, DefaultSlotMins: 30, CountsTTL: time.Minute}
	svc := NewService(repo, redisclient.NewLocalSlotLocker(), pub, cfg, zap.NewNop())

	phone := "+15550100"
	doctor := repo.AddDoctor(Doctor{Name: "Dr. Ada", DefaultSlotMinutes: 30})
	patient := repo.AddPatient(Patient{Name: "Grace", Phone: &phone})

	_, err := repo.CreateWeeklyAvailability(context.Background(), WeeklyAvailability{
		DoctorID: doctor.ID, Weekday: Monday,
		StartTime: NewClock(9, 0), EndTime: NewClock(12, 0),
		SlotMinutes: 30, Modality: ModalityInPerson, Active: true,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, pub: pub, doctor: doctor, patient: patient}
}

func (f *fixture) book(t *testing.T, date Date, at Clock) *Appointment {
	t.Helper()
	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: date, Time: at,
	})
	require.NoError(t, err)
	return appt
}

func TestGetAvailableSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00"}, starts(slots))

	appt := f.book(t, monday, NewClock(10, 0))
	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed)
	require.NoError(t, err)

	slots, err = f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30", "12:00"}, starts(slots))

	_, err = f.svc.CreateException(ctx, ExceptionInput{
		DoctorID: f.doctor.ID, Date: monday, Kind: ExceptionBlock,
		StartTime: clockPtr(11, 0), EndTime: clockPtr(12, 0),
	})
	require.NoError(t, err)

	slots, err = f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "12:00"}, starts(slots))
}

func TestGetAvailableSlotsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, monday, NewClock(9, 30))

	first, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	second, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetAvailableSlotsNoAvailability(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.GetAvailableSlots(context.Background(), f.doctor.ID, monday.AddDays(1))
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestGetAvailableSlotsUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetAvailableSlots(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestGetAvailableSlotsClinicTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	f := newFixture(t)
	f.svc = NewService(f.repo, redisclient.NewLocalSlotLocker(), nil, config.Config{Location: loc, DefaultSlotMins: 30}, zap.NewNop())

	appt := f.book(t, monday, NewClock(9, 0))
	assert.Equal(t, time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC), appt.ScheduledAt)

	slots, err := f.svc.GetAvailableSlots(context.Background(), f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, "09:30", slots[0].Start.String())
}

func TestBookAppointment(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, monday, NewClock(9, 0))
	assert.Equal(t, StatusRequested, appt.Status)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, ModalityInPerson, appt.Modality)
	assert.Equal(t, time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC), appt.ScheduledAt)

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, events.AppointmentBooked, ev.Type)
	assert.Equal(t, appt.ID, ev.AppointmentID)
	assert.Equal(t, "+15550100", ev.Recipient)
}

func TestBookAppointmentErrors(t *testing.T) {
	f := newFixture(t)
	f.book(t, monday, NewClock(9, 0))

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"taken slot", BookingRequest{DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday, Time: NewClock(9, 0)}, ErrSlotUnavailable},
		{"not a slot", BookingRequest{DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday, Time: NewClock(9, 10)}, ErrSlotUnavailable},
		{"no availability that day", BookingRequest{DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday.AddDays(2), Time: NewClock(9, 0)}, ErrSlotUnavailable},
		{"unknown doctor", BookingRequest{DoctorID: uuid.New(), PatientID: f.patient.ID, Date: monday, Time: NewClock(9, 30)}, ErrDoctorNotFound},
		{"unknown patient", BookingRequest{DoctorID: f.doctor.ID, PatientID: uuid.New(), Date: monday, Time: NewClock(9, 30)}, ErrPatientNotFound},
		{"missing patient", BookingRequest{DoctorID: f.doctor.ID, Date: monday, Time: NewClock(9, 30)}, ErrValidation},
		{"missing date", BookingRequest{DoctorID: f.doctor.ID, PatientID: f.patient.ID, Time: NewClock(9, 30)}, ErrValidation},
		{"bad modality", BookingRequest{DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday, Time: NewClock(9, 30), Modality: "carrier_pigeon"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBookAppointmentConcurrent(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, results[i] = f.svc.BookAppointment(context.Background(), BookingRequest{
				DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday, Time: NewClock(11, 0),
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	booked := 0
	for _, err := range results {
		if err == nil {
			booked++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	}
	assert.Equal(t, 1, booked)

	appts, err := f.svc.ListAppointments(context.Background(), f.doctor.ID, monday, monday)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestBookAppointmentLockHeld(t *testing.T) {
	f := newFixture(t)
	locker := redisclient.NewLocalSlotLocker()
	f.svc.locker = locker

	key := redisclient.SlotKey(f.doctor.ID, monday.At(NewClock(9, 0), time.UTC))
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		_, err := f.svc.BookAppointment(ctx, BookingRequest{
			DoctorID: f.doctor.ID, PatientID: f.patient.ID, Date: monday, Time: NewClock(9, 0),
		})
		return err
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookAppointmentPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("stream down")

	appt := f.book(t, monday, NewClock(9, 0))

	stored, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, stored.ID)
}

func TestBookAppointmentAfterCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.book(t, monday, NewClock(9, 0))
	_, err := f.svc.UpdateAppointmentStatus(ctx, first.ID, StatusCancelled)
	require.NoError(t, err)

	second := f.book(t, monday, NewClock(9, 0))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestComputeAvailabilityCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	counts, err := f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 8)
	require.NoError(t, err)
	require.Len(t, counts, 8)
	assert.Equal(t, 7, counts[0].Free)
	for _, c := range counts[1:7] {
		assert.Zero(t, c.Free, c.Date.String())
	}
	assert.Equal(t, 7, counts[7].Free)

	f.book(t, monday.AddDays(7), NewClock(10, 0))

	counts, err = f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 8)
	require.NoError(t, err)
	assert.Equal(t, 6, counts[7].Free)

	for _, c := range counts {
		slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, c.Date)
		require.NoError(t, err)
		assert.Equal(t, len(slots), c.Free, c.Date.String())
	}
}

func TestComputeAvailabilityCountsInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	counts, err := f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[0].Free)

	ex, err := f.svc.CreateException(ctx, ExceptionInput{DoctorID: f.doctor.ID, Date: monday, Kind: ExceptionBlock, Reason: "conference"})
	require.NoError(t, err)

	counts, err = f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 1)
	require.NoError(t, err)
	assert.Zero(t, counts[0].Free)

	require.NoError(t, f.svc.DeleteException(ctx, ex.ID))

	counts, err = f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[0].Free)
}

func TestComputeAvailabilityCountsDefaults(t *testing.T) {
	f := newFixture(t)

	counts, err := f.svc.ComputeAvailabilityCounts(context.Background(), f.doctor.ID, monday, 0)
	require.NoError(t, err)
	assert.Len(t, counts, DefaultCountDays)

	counts, err = f.svc.ComputeAvailabilityCounts(context.Background(), f.doctor.ID, monday, 1000)
	require.NoError(t, err)
	assert.Len(t, counts, MaxCountDays)
}

func TestComputeAvailabilityCountsInvalidDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.CreateWeeklyAvailability(ctx, WeeklyAvailability{
		DoctorID: f.doctor.ID, Weekday: Tuesday,
		StartTime: NewClock(12, 0), EndTime: NewClock(9, 0),
		SlotMinutes: 30, Active: true,
	})
	require.NoError(t, err)

	counts, err := f.svc.ComputeAvailabilityCounts(ctx, f.doctor.ID, monday, 2)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[0].Free)
	assert.Zero(t, counts[1].Free)
	assert.NotEmpty(t, counts[1].Error)
}

func TestUpdateAppointmentStatus(t *testing.T) {
	tests := []struct {
		path []AppointmentStatus
		ok   bool
	}{
		{[]AppointmentStatus{StatusConfirmed, StatusCheckedIn, StatusCompleted}, true},
		{[]AppointmentStatus{StatusConfirmed, StatusNoShow}, true},
		{[]AppointmentStatus{StatusCancelled}, true},
		{[]AppointmentStatus{StatusConfirmed, StatusConfirmed}, true},
		{[]AppointmentStatus{StatusCompleted}, false},
		{[]AppointmentStatus{StatusCheckedIn}, false},
		{[]AppointmentStatus{StatusCancelled, StatusConfirmed}, false},
		{[]AppointmentStatus{StatusConfirmed, StatusCheckedIn, StatusCancelled}, false},
	}
	for _, tt := range tests {
		f := newFixture(t)
		appt := f.book(t, monday, NewClock(9, 0))

		var err error
		for _, next := range tt.path {
			if _, err = f.svc.UpdateAppointmentStatus(context.Background(), appt.ID, next); err != nil {
				break
			}
		}
		if tt.ok {
			assert.NoError(t, err, "%v", tt.path)
		} else {
			assert.ErrorIs(t, err, ErrInvalidStatusTransition, "%v", tt.path)
		}
	}
}

func TestUpdateAppointmentStatusEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, monday, NewClock(9, 0))

	_, err := f.svc.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.AppointmentBooked, events.AppointmentCancelled}, f.pub.types())

	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, "lost")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdateAppointmentStatus(ctx, uuid.New(), StatusConfirmed)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRescheduleAppointment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, monday, NewClock(9, 0))
	f.book(t, monday, NewClock(10, 0))

	_, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday, NewClock(10, 0))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday, NewClock(11, 30))
	require.NoError(t, err)
	assert.Equal(t, monday.At(NewClock(11, 30), time.UTC), moved.ScheduledAt)
	assert.Equal(t, StatusRequested, moved.Status)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Contains(t, starts(slots), "09:00")
	assert.NotContains(t, starts(slots), "11:30")

	same, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday, NewClock(11, 30))
	require.NoError(t, err)
	assert.Equal(t, moved.ScheduledAt, same.ScheduledAt)

	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.RescheduleAppointment(ctx, appt.ID, monday, NewClock(9, 0))
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	assert.Equal(t, []events.Type{
		events.AppointmentBooked, events.AppointmentBooked,
		events.AppointmentRescheduled, events.AppointmentCancelled,
	}, f.pub.types())
}

func TestListAndDeleteAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.book(t, monday, NewClock(9, 0))
	f.book(t, monday.AddDays(7), NewClock(9, 0))

	appts, err := f.svc.ListAppointments(ctx, f.doctor.ID, monday, monday.AddDays(6))
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, a.ID, appts[0].ID)

	_, err = f.svc.ListAppointments(ctx, f.doctor.ID, monday, monday.AddDays(-1))
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.DeleteAppointment(ctx, a.ID))
	assert.ErrorIs(t, f.svc.DeleteAppointment(ctx, a.ID), ErrAppointmentNotFound)

	appts, err = f.svc.ListAppointments(ctx, f.doctor.ID, monday, monday)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestCreateWeeklyAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wa, warnings, err := f.svc.CreateWeeklyAvailability(ctx, WeeklyAvailabilityInput{
		DoctorID: f.doctor.ID, Weekday: Monday,
		StartTime: NewClock(11, 0), EndTime: NewClock(13, 0),
		SlotMinutes: 30, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ModalityInPerson, wa.Modality)
	require.Len(t, warnings, 1)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 9)

	_, err = f.svc.SetWeeklyAvailabilityActive(ctx, wa.ID, false)
	require.NoError(t, err)
	slots, err = f.svc.GetAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 7)

	_, _, err = f.svc.CreateWeeklyAvailability(ctx, WeeklyAvailabilityInput{
		DoctorID: f.doctor.ID, Weekday: Tuesday,
		StartTime: NewClock(13, 0), EndTime: NewClock(11, 0), SlotMinutes: 30,
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.svc.CreateWeeklyAvailability(ctx, WeeklyAvailabilityInput{
		DoctorID: f.doctor.ID, Weekday: 8,
		StartTime: NewClock(9, 0), EndTime: NewClock(11, 0), SlotMinutes: 30,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateExceptionValidation(t *testing.T) {
	f := newFixture(t)
	base := ExceptionInput{DoctorID: f.doctor.ID, Date: monday}

	tests := map[string]func(in *ExceptionInput){
		"unknown kind":       func(in *ExceptionInput) { in.Kind = "holiday" },
		"opening no times":   func(in *ExceptionInput) { in.Kind = ExceptionOpening },
		"only start":         func(in *ExceptionInput) { in.Kind = ExceptionBlock; in.StartTime = clockPtr(9, 0) },
		"block with minutes": func(in *ExceptionInput) { in.Kind = ExceptionBlock; in.SlotMinutes = intPtr(15) },
		"end before start": func(in *ExceptionInput) {
			in.Kind = ExceptionOpening
			in.StartTime, in.EndTime = clockPtr(14, 0), clockPtr(13, 0)
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := f.svc.CreateException(context.Background(), in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateExceptionOpening(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saturday := monday.AddDays(5)

	_, err := f.svc.CreateException(ctx, ExceptionInput{
		DoctorID: f.doctor.ID, Date: saturday, Kind: ExceptionOpening,
		StartTime: clockPtr(10, 0), EndTime: clockPtr(11, 0), Modality: ModalityTelemedicine,
	})
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, f.doctor.ID, saturday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30", "11:00"}, starts(slots))
	assert.Equal(t, ModalityTelemedicine, slots[0].Modality)
}

func TestDeleteExceptionNotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.DeleteException(context.Background(), uuid.New()), ErrExceptionNotFound)
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) ListExceptions(context.Context, uuid.UUID) ([]Exception, error) {
	return nil, errors.New("connection refused")
}

func TestRepositoryFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingRepo{f.repo}, redisclient.NewLocalSlotLocker(), nil, config.Config{}, nil)

	_, err := svc.GetAvailableSlots(context.Background(), f.doctor.ID, monday)
	assert.ErrorIs(t, err, ErrRepository)

	var repoErr *RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "list exceptions", repoErr.Op)
}
