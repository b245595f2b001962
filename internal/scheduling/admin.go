package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WeeklyAvailabilityInput struct {
	DoctorID    uuid.UUID `validate:"required"`
	Weekday     Weekday   `validate:"min=1,max=7"`
	StartTime   Clock
	EndTime     Clock
	SlotMinutes int      `validate:"gt=0,lte=480"`
	Modality    Modality `validate:"omitempty,oneof=in_person telemedicine"`
	Active      bool
}

// CreateWeeklyAvailability adds a recurring window. Windows overlapping the
// doctor's other active windows on the same weekday are accepted; the overlaps
// are returned as warnings.
func (s *Service) CreateWeeklyAvailability(ctx context.Context, in WeeklyAvailabilityInput) (*WeeklyAvailability, []string, error) {
	if err := s.validateStruct(in); err != nil {
		return nil, nil, err
	}
	if err := validateWindow(in.StartTime, in.EndTime, in.SlotMinutes); err != nil {
		return nil, nil, err
	}
	if in.Modality == "" {
		in.Modality = ModalityInPerson
	}

	if _, err := s.repo.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, nil, wrapRepo("load doctor", err)
	}
	existing, err := s.repo.ListWeeklyAvailability(ctx, in.DoctorID)
	if err != nil {
		return nil, nil, wrapRepo("list weekly availability", err)
	}

	created, err := s.repo.CreateWeeklyAvailability(ctx, WeeklyAvailability{
		ID:          uuid.New(),
		DoctorID:    in.DoctorID,
		Weekday:     in.Weekday,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		SlotMinutes: in.SlotMinutes,
		Modality:    in.Modality,
		Active:      in.Active,
	})
	if err != nil {
		return nil, nil, wrapRepo("create weekly availability", err)
	}

	var warnings []string
	if created.Active {
		for _, wa := range existing {
			if !wa.Active || wa.Weekday != created.Weekday {
				continue
			}
			if wa.StartTime < created.EndTime && created.StartTime < wa.EndTime {
				warnings = append(warnings, fmt.Sprintf("overlaps %s window %s-%s", wa.Weekday, wa.StartTime, wa.EndTime))
			}
		}
	}
	if len(warnings) > 0 {
		s.logger.Warn("weekly availability overlaps existing windows",
			zap.Stringer("availability_id", created.ID),
			zap.Strings("warnings", warnings),
		)
	}

	s.invalidateCounts(in.DoctorID)
	return created, warnings, nil
}

// SetWeeklyAvailabilityActive toggles a window without deleting it.
func (s *Service) SetWeeklyAvailabilityActive(ctx context.Context, id uuid.UUID, active bool) (*WeeklyAvailability, error) {
	wa, err := s.repo.SetWeeklyAvailabilityActive(ctx, id, active)
	if err != nil {
		return nil, wrapRepo("update weekly availability", err)
	}
	s.invalidateCounts(wa.DoctorID)
	return wa, nil
}

type ExceptionInput struct {
	DoctorID    uuid.UUID `validate:"required"`
	Date        Date
	StartTime   *Clock
	EndTime     *Clock
	Kind        ExceptionKind `validate:"required,oneof=block opening"`
	SlotMinutes *int          `validate:"omitempty,gt=0,lte=480"`
	Modality    Modality      `validate:"omitempty,oneof=in_person telemedicine"`
	Reason      string        `validate:"max=500"`
}

func (s *Service) CreateException(ctx context.Context, in ExceptionInput) (*Exception, error) {
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	if err := validateException(in); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, wrapRepo("load doctor", err)
	}

	created, err := s.repo.CreateException(ctx, Exception{
		ID:          uuid.New(),
		DoctorID:    in.DoctorID,
		Date:        in.Date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Kind:        in.Kind,
		SlotMinutes: in.SlotMinutes,
		Modality:    in.Modality,
		Reason:      in.Reason,
	})
	if err != nil {
		return nil, wrapRepo("create exception", err)
	}

	s.logger.Info("availability exception created",
		zap.Stringer("exception_id", created.ID),
		zap.Stringer("doctor_id", created.DoctorID),
		zap.Stringer("date", created.Date),
		zap.String("kind", string(created.Kind)),
	)

	s.invalidateCounts(in.DoctorID)
	return created, nil
}

func validateException(in ExceptionInput) error {
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	if (in.StartTime == nil) != (in.EndTime == nil) {
		return &ValidationError{Field: "end_time", Reason: "start_time and end_time must be given together"}
	}
	switch in.Kind {
	case ExceptionOpening:
		if in.StartTime == nil {
			return &ValidationError{Field: "start_time", Reason: "an opening needs start_time and end_time"}
		}
	case ExceptionBlock:
		if in.SlotMinutes != nil {
			return &ValidationError{Field: "slot_minutes", Reason: "not allowed on a block"}
		}
	}
	if in.StartTime != nil {
		if !in.StartTime.Valid() || !in.EndTime.Valid() {
			return &ValidationError{Field: "start_time", Reason: "time of day out of range"}
		}
		if *in.EndTime <= *in.StartTime {
			return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
		}
	}
	return nil
}

// DeleteException removes an exception. The repository does not report which
// doctor it belonged to, so every cached count is dropped.
func (s *Service) DeleteException(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteException(ctx, id); err != nil {
		return wrapRepo("delete exception", err)
	}
	s.counts.Flush()
	return nil
}
