package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func clockFromPg(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func clockToPg(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func optionalClockToPg(c *Clock) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return clockToPg(*c)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.DefaultSlotMinutes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAvailability(row pgx.Row) (*WeeklyAvailability, error) {
	var (
		wa         WeeklyAvailability
		weekday    int16
		start, end pgtype.Time
	)
	err := row.Scan(
		&wa.ID,
		&wa.DoctorID,
		&weekday,
		&start,
		&end,
		&wa.SlotMinutes,
		&wa.Modality,
		&wa.Active,
		&wa.CreatedAt,
		&wa.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	wa.Weekday = Weekday(weekday)
	wa.StartTime = clockFromPg(start)
	wa.EndTime = clockFromPg(end)
	return &wa, nil
}

func scanException(row pgx.Row) (*Exception, error) {
	var (
		ex         Exception
		date       time.Time
		start, end pgtype.Time
	)
	err := row.Scan(
		&ex.ID,
		&ex.DoctorID,
		&date,
		&start,
		&end,
		&ex.Kind,
		&ex.SlotMinutes,
		&ex.Modality,
		&ex.Reason,
		&ex.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, err
	}
	ex.Date = DateOf(date)
	if start.Valid {
		c := clockFromPg(start)
		ex.StartTime = &c
	}
	if end.Valid {
		c := clockFromPg(end)
		ex.EndTime = &c
	}
	return &ex, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&a.Modality,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.ScheduledAt = a.ScheduledAt.UTC()
	return &a, nil
}

const (
	availabilityColumns = `id, doctor_id, weekday, start_time, end_time, slot_minutes, modality, active, created_at, updated_at`
	exceptionColumns    = `id, doctor_id, exception_date, start_time, end_time, kind, slot_minutes, modality, reason, created_at`
	appointmentColumns  = `id, doctor_id, patient_id, scheduled_at, duration_minutes, status, notes, modality, created_at, updated_at`
)

// Directory

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, default_slot_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Weekly availability

func (r *PgRepository) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]WeeklyAvailability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM weekly_availability
		WHERE doctor_id = $1
		ORDER BY weekday, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WeeklyAvailability
	for rows.Next() {
		wa, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *wa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateWeeklyAvailability(ctx context.Context, wa WeeklyAvailability) (*WeeklyAvailability, error) {
	if wa.ID == uuid.Nil {
		wa.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_availability (id, doctor_id, weekday, start_time, end_time, slot_minutes, modality, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+availabilityColumns,
		wa.ID, wa.DoctorID, int16(wa.Weekday), clockToPg(wa.StartTime), clockToPg(wa.EndTime),
		wa.SlotMinutes, string(wa.Modality), wa.Active)
	return scanAvailability(row)
}

func (r *PgRepository) SetWeeklyAvailabilityActive(ctx context.Context, id uuid.UUID, active bool) (*WeeklyAvailability, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE weekly_availability
		SET active = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+availabilityColumns, id, active)
	return scanAvailability(row)
}

// Exceptions

func (r *PgRepository) ListExceptions(ctx context.Context, doctorID uuid.UUID) ([]Exception, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM availability_exceptions
		WHERE doctor_id = $1
		ORDER BY exception_date, start_time NULLS FIRST
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Exception
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateException(ctx context.Context, ex Exception) (*Exception, error) {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_exceptions (id, doctor_id, exception_date, start_time, end_time, kind, slot_minutes, modality, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING `+exceptionColumns,
		ex.ID, ex.DoctorID, ex.Date.midnightUTC(), optionalClockToPg(ex.StartTime), optionalClockToPg(ex.EndTime),
		string(ex.Kind), ex.SlotMinutes, string(ex.Modality), ex.Reason)
	return scanException(row)
}

func (r *PgRepository) DeleteException(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_exceptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateAppointment relies on the appointments_active_slot partial unique
// index; the insert either lands or fails as a whole.
func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, scheduled_at, duration_minutes, status, notes, modality, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, a.ScheduledAt.UTC(), a.DurationMinutes,
		string(a.Status), a.Notes, string(a.Modality))

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateStatusOrTime(ctx context.Context, id uuid.UUID, changes AppointmentChanges) (*Appointment, error) {
	var status *string
	if changes.Status != nil {
		s := string(*changes.Status)
		status = &s
	}
	var scheduledAt *time.Time
	if changes.ScheduledAt != nil {
		t := changes.ScheduledAt.UTC()
		scheduledAt = &t
	}
	var expect *string
	if changes.ExpectStatus != nil {
		e := string(*changes.ExpectStatus)
		expect = &e
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = COALESCE($2::text, status),
		    scheduled_at = COALESCE($3::timestamptz, scheduled_at),
		    updated_at = now()
		WHERE id = $1
		  AND ($4::text IS NULL OR status = $4::text)
		RETURNING `+appointmentColumns, id, status, scheduledAt, expect)

	updated, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		if errors.Is(err, ErrAppointmentNotFound) && expect != nil {
			// No row matched: tell a moved-on status apart from a missing row.
			var exists bool
			if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); qerr == nil && exists {
				return nil, ErrInvalidStatusTransition
			}
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}
