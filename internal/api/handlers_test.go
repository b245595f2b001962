package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const monday = "2025-01-06"

type testServer struct {
	handler http.Handler
	repo    *scheduling.MemoryRepository
	doctor  scheduling.Doctor
	patient scheduling.Patient
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	svc := scheduling.NewService(repo, redisclient.NewLocalSlotLocker(), nil,
		config.Config{Location: time.UTC, DefaultSlotMins: 30, CountsTTL: time.Minute}, zap.NewNop())

	ts := &testServer{
		handler: NewRouter(RouterConfig{Service: svc, HealthChecks: checks, Env: "test", Version: "dev"}),
		repo:    repo,
		doctor:  repo.AddDoctor(scheduling.Doctor{Name: "Dr. Ada", DefaultSlotMinutes: 30}),
		patient: repo.AddPatient(scheduling.Patient{Name: "Grace"}),
	}

	rec := ts.do(t, http.MethodPost, "/doctors/"+ts.doctor.ID.String()+"/weekly-availability", WeeklyAvailabilityRequest{
		Weekday: "monday", StartTime: "09:00", EndTime: "12:00", SlotMinutes: 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, at string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: monday, Time: at,
	})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func slotStarts(resp SlotsResponse) []string {
	out := make([]string, 0, len(resp.Slots))
	for _, s := range resp.Slots {
		out = append(out, s.Start.String())
	}
	return out
}

func TestGetSlots(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots?date="+monday, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00"}, slotStarts(resp))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetSlotsBadInput(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		path string
		code int
		err  string
	}{
		{"/doctors/not-a-uuid/slots?date=" + monday, http.StatusBadRequest, "invalid_doctor_id"},
		{"/doctors/" + ts.doctor.ID.String() + "/slots", http.StatusBadRequest, "validation_failed"},
		{"/doctors/" + ts.doctor.ID.String() + "/slots?date=06-01-2025", http.StatusBadRequest, "validation_failed"},
		{"/doctors/" + uuid.NewString() + "/slots?date=" + monday, http.StatusNotFound, "doctor_not_found"},
	}
	for _, tt := range tests {
		rec := ts.do(t, http.MethodGet, tt.path, nil)
		assert.Equal(t, tt.code, rec.Code, tt.path)
		assert.Equal(t, tt.err, decodeBody[ErrorResponse](t, rec).Error, tt.path)
	}
}

func TestBookAndManageAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.book(t, "10:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "requested", appt.Status)
	assert.Equal(t, monday, appt.Date)
	assert.Equal(t, "10:00", appt.Time)

	rec = ts.book(t, "10:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots?date="+monday, nil)
	assert.NotContains(t, slotStarts(decodeBody[SlotsResponse](t, rec)), "10:00")

	base := "/appointments/" + appt.ID.String()

	rec = ts.do(t, http.MethodPost, base+"/status", UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decodeBody[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, base+"/status", UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, base+"/reschedule", RescheduleRequest{Date: monday, Time: "11:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "11:30", decodeBody[AppointmentResponse](t, rec).Time)

	rec = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt.ID, decodeBody[AppointmentResponse](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/appointments?doctor_id="+ts.doctor.ID.String()+"&from="+monday+"&to="+monday, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)

	rec = ts.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeBody[ErrorResponse](t, rec).Error)
}

func TestBookAppointmentValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := map[string]BookAppointmentRequest{
		"bad doctor":    {DoctorID: "x", PatientID: ts.patient.ID.String(), Date: monday, Time: "09:00"},
		"bad date":      {DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: "2025/01/06", Time: "09:00"},
		"bad time":      {DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: monday, Time: "9am"},
		"bad modality":  {DoctorID: ts.doctor.ID.String(), PatientID: ts.patient.ID.String(), Date: monday, Time: "09:00", Modality: "fax"},
		"missing field": {DoctorID: ts.doctor.ID.String(), Date: monday, Time: "09:00"},
	}
	for name, body := range tests {
		rec := ts.do(t, http.MethodPost, "/appointments", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "validation_failed", decodeBody[ErrorResponse](t, rec).Error, name)
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeBody[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID.String(), PatientID: uuid.NewString(), Date: monday, Time: "09:00",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "patient_not_found", decodeBody[ErrorResponse](t, rec).Error)
}

func TestAvailabilityCounts(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.book(t, "09:00").Code)

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability-counts?from="+monday+"&days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[CountsResponse](t, rec)
	require.Len(t, resp.Days, 7)
	assert.Equal(t, 6, resp.Days[0].Free)
	assert.Zero(t, resp.Days[1].Free)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/availability-counts?from="+monday+"&days=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExceptions(t *testing.T) {
	ts := newTestServer(t)
	doctorPath := "/doctors/" + ts.doctor.ID.String()

	rec := ts.do(t, http.MethodPost, doctorPath+"/exceptions", ExceptionRequest{Date: monday, Kind: "block", Reason: "holiday"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ex := decodeBody[ExceptionResponse](t, rec)
	assert.Nil(t, ex.StartTime)

	rec = ts.do(t, http.MethodGet, doctorPath+"/slots?date="+monday, nil)
	assert.Empty(t, decodeBody[SlotsResponse](t, rec).Slots)

	rec = ts.do(t, http.MethodDelete, "/exceptions/"+ex.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/exceptions/"+ex.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, doctorPath+"/exceptions", ExceptionRequest{Date: monday, Kind: "opening"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeeklyAvailability(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/doctors/"+ts.doctor.ID.String()+"/weekly-availability", WeeklyAvailabilityRequest{
		Weekday: "monday", StartTime: "11:00", EndTime: "13:00", SlotMinutes: 30, Modality: "telemedicine",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wa := decodeBody[WeeklyAvailabilityResponse](t, rec)
	assert.Equal(t, scheduling.Monday, wa.Weekday)
	assert.True(t, wa.Active)
	assert.Len(t, wa.Warnings, 1)

	off := false
	rec = ts.do(t, http.MethodPatch, "/weekly-availability/"+wa.ID.String(), SetActiveRequest{Active: &off})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[WeeklyAvailabilityResponse](t, rec).Active)

	rec = ts.do(t, http.MethodPatch, "/weekly-availability/"+wa.ID.String(), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/doctors/"+ts.doctor.ID.String()+"/weekly-availability", WeeklyAvailabilityRequest{
		Weekday: "someday", StartTime: "09:00", EndTime: "10:00", SlotMinutes: 30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name   string
		checks []HealthCheck
		code   int
		status string
	}{
		{"all up", []HealthCheck{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: up}}, http.StatusOK, "ok"},
		{"redis down", []HealthCheck{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"postgres down", []HealthCheck{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: up}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		ts := newTestServer(t, tt.checks...)
		rec := ts.do(t, http.MethodGet, "/health/ready", nil)
		assert.Equal(t, tt.code, rec.Code, tt.name)
		assert.Equal(t, tt.status, decodeBody[ReadinessResponse](t, rec).Status, tt.name)
	}

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
