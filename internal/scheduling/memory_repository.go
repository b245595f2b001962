package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by STORAGE=memory and by
// tests. It enforces the same active (doctor, scheduled_at) uniqueness as the
// Postgres schema.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	availability map[uuid.UUID]WeeklyAvailability
	exceptions   map[uuid.UUID]Exception
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		availability: make(map[uuid.UUID]WeeklyAvailability),
		exceptions:   make(map[uuid.UUID]Exception),
		appointments: make(map[uuid.UUID]Appointment),
		now:          time.Now,
	}
}

func (m *MemoryRepository) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt, d.UpdatedAt = m.now(), m.now()
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryRepository) AddPatient(p Patient) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = m.now(), m.now()
	m.patients[p.ID] = p
	return p
}

func (m *MemoryRepository) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) ListWeeklyAvailability(_ context.Context, doctorID uuid.UUID) ([]WeeklyAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []WeeklyAvailability
	for _, wa := range m.availability {
		if wa.DoctorID == doctorID {
			result = append(result, wa)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Weekday != result[j].Weekday {
			return result[i].Weekday < result[j].Weekday
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (m *MemoryRepository) CreateWeeklyAvailability(_ context.Context, wa WeeklyAvailability) (*WeeklyAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wa.ID == uuid.Nil {
		wa.ID = uuid.New()
	}
	wa.CreatedAt, wa.UpdatedAt = m.now(), m.now()
	m.availability[wa.ID] = wa
	return &wa, nil
}

func (m *MemoryRepository) SetWeeklyAvailabilityActive(_ context.Context, id uuid.UUID, active bool) (*WeeklyAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wa, ok := m.availability[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	wa.Active = active
	wa.UpdatedAt = m.now()
	m.availability[id] = wa
	return &wa, nil
}

func (m *MemoryRepository) ListExceptions(_ context.Context, doctorID uuid.UUID) ([]Exception, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Exception
	for _, ex := range m.exceptions {
		if ex.DoctorID == doctorID {
			result = append(result, ex)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *MemoryRepository) CreateException(_ context.Context, ex Exception) (*Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	ex.CreatedAt = m.now()
	m.exceptions[ex.ID] = ex
	return &ex, nil
}

func (m *MemoryRepository) DeleteException(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exceptions[id]; !ok {
		return ErrExceptionNotFound
	}
	delete(m.exceptions, id)
	return nil
}

func (m *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListByDoctorAndRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if a.ScheduledAt.Before(from) || !a.ScheduledAt.Before(to) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ScheduledAt = a.ScheduledAt.UTC()
	if m.slotTakenLocked(a.DoctorID, a.ScheduledAt, uuid.Nil) && a.Status.Occupies() {
		return nil, ErrDuplicateBooking
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = m.now(), m.now()
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *MemoryRepository) UpdateStatusOrTime(_ context.Context, id uuid.UUID, changes AppointmentChanges) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if changes.ExpectStatus != nil && a.Status != *changes.ExpectStatus {
		return nil, ErrInvalidStatusTransition
	}
	if changes.Status != nil {
		a.Status = *changes.Status
	}
	if changes.ScheduledAt != nil {
		a.ScheduledAt = changes.ScheduledAt.UTC()
	}
	if a.Status.Occupies() && m.slotTakenLocked(a.DoctorID, a.ScheduledAt, a.ID) {
		return nil, ErrDuplicateBooking
	}
	a.UpdatedAt = m.now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *MemoryRepository) slotTakenLocked(doctorID uuid.UUID, at time.Time, except uuid.UUID) bool {
	key := minuteKey(at)
	for id, a := range m.appointments {
		if id == except || a.DoctorID != doctorID || !a.Status.Occupies() {
			continue
		}
		if minuteKey(a.ScheduledAt) == key {
			return true
		}
	}
	return false
}
