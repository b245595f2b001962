package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type handlers struct {
	svc      Service
	validate *validator.Validate
	logger   *zap.Logger
}

func (h *handlers) getSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	q := slotsQuery{Date: r.URL.Query().Get("date")}
	if !h.check(w, q) {
		return
	}
	date, err := scheduling.ParseDate(q.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slots, err := h.svc.GetAvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

func (h *handlers) getAvailabilityCounts(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	q := countsQuery{From: r.URL.Query().Get("from")}
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "days must be an integer")
			return
		}
		q.Days = days
	}
	if !h.check(w, q) {
		return
	}
	from, err := scheduling.ParseDate(q.From)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	counts, err := h.svc.ComputeAvailabilityCounts(r.Context(), doctorID, from, q.Days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountsResponse{DoctorID: doctorID, From: from, Days: counts})
}

func (h *handlers) createWeeklyAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var req WeeklyAvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	weekday, err := scheduling.ParseWeekday(req.Weekday)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	start, err := scheduling.ParseClock(req.StartTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := scheduling.ParseClock(req.EndTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	wa, warnings, err := h.svc.CreateWeeklyAvailability(r.Context(), scheduling.WeeklyAvailabilityInput{
		DoctorID:    doctorID,
		Weekday:     weekday,
		StartTime:   start,
		EndTime:     end,
		SlotMinutes: req.SlotMinutes,
		Modality:    scheduling.Modality(req.Modality),
		Active:      active,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWeeklyAvailabilityResponse(wa, warnings))
}

func (h *handlers) setWeeklyAvailabilityActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	wa, err := h.svc.SetWeeklyAvailabilityActive(r.Context(), id, *req.Active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWeeklyAvailabilityResponse(wa, nil))
}

func (h *handlers) createException(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	var req ExceptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	start, err := optionalClock(req.StartTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := optionalClock(req.EndTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ex, err := h.svc.CreateException(r.Context(), scheduling.ExceptionInput{
		DoctorID:    doctorID,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
		Kind:        scheduling.ExceptionKind(req.Kind),
		SlotMinutes: req.SlotMinutes,
		Modality:    scheduling.Modality(req.Modality),
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExceptionResponse(ex))
}

func (h *handlers) deleteException(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteException(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	at, err := scheduling.ParseClock(req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appt, err := h.svc.BookAppointment(r.Context(), scheduling.BookingRequest{
		DoctorID:        uuid.MustParse(req.DoctorID),
		PatientID:       uuid.MustParse(req.PatientID),
		Date:            date,
		Time:            at,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		Modality:        scheduling.Modality(req.Modality),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := listQuery{DoctorID: query.Get("doctor_id"), From: query.Get("from"), To: query.Get("to")}
	if !h.check(w, q) {
		return
	}
	from, err := scheduling.ParseDate(q.From)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	to, err := scheduling.ParseDate(q.To)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), uuid.MustParse(q.DoctorID), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	loc := h.svc.Location()
	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, newAppointmentResponse(&appts[i], loc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	at, err := scheduling.ParseClock(req.Time)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	appt, err := h.svc.RescheduleAppointment(r.Context(), id, date, at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *handlers) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateAppointmentStatus(r.Context(), id, scheduling.AppointmentStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppointmentResponse(appt, h.svc.Location()))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalClock(s string) (*scheduling.Clock, error) {
	if s == "" {
		return nil, nil
	}
	c, err := scheduling.ParseClock(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (h *handlers) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+toErrorCode(name), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return h.check(w, dst)
}

func (h *handlers) check(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("%s failed %q rule", fe.Field(), fe.Tag()))
		return false
	}
	writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	return false
}

func toErrorCode(param string) string {
	switch param {
	case "doctorID":
		return "doctor_id"
	default:
		return param
	}
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduling.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrRepository):
		h.logger.Error("repository failure", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "repository_unavailable", "storage is temporarily unavailable")
	default:
		h.logger.Error("unhandled error", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
