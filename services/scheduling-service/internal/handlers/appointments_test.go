package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/commands"
)

type fakeScheduler struct {
	bookErr       error
	rescheduleErr error
	cancelErr     error
	completeErr   error

	lastBook commands.BookCommand
}

func (f *fakeScheduler) Book(_ context.Context, cmd commands.BookCommand) (commands.BookResult, error) {
	f.lastBook = cmd
	if f.bookErr != nil {
		return commands.BookResult{}, f.bookErr
	}
	return commands.BookResult{
		AppointmentID: "apt-1",
		StartUTC:      cmd.StartUTC,
		EndUTC:        cmd.EndUTC,
		Version:       1,
	}, nil
}

func (f *fakeScheduler) Reschedule(_ context.Context, cmd commands.RescheduleCommand) (commands.RescheduleResult, error) {
	if f.rescheduleErr != nil {
		return commands.RescheduleResult{}, f.rescheduleErr
	}
	return commands.RescheduleResult{
		AppointmentID:    cmd.AppointmentID,
		StartUTC:         cmd.StartUTC,
		EndUTC:           cmd.EndUTC,
		PreviousStartUTC: cmd.StartUTC.Add(-24 * time.Hour),
		PreviousEndUTC:   cmd.EndUTC.Add(-24 * time.Hour),
		Version:          cmd.Version + 1,
	}, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, cmd commands.CancelCommand) (commands.CancelResult, error) {
	if f.cancelErr != nil {
		return commands.CancelResult{}, f.cancelErr
	}
	return commands.CancelResult{
		AppointmentID:      cmd.AppointmentID,
		Status:             appointment.StatusCancelled,
		CancelledUTC:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		CancellationReason: cmd.Reason,
		Version:            cmd.Version + 1,
	}, nil
}

func (f *fakeScheduler) Complete(_ context.Context, cmd commands.CompleteCommand) (commands.CompleteResult, error) {
	if f.completeErr != nil {
		return commands.CompleteResult{}, f.completeErr
	}
	return commands.CompleteResult{
		AppointmentID: cmd.AppointmentID,
		Status:        appointment.StatusCompleted,
		CompletedUTC:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Notes:         cmd.Notes,
		Version:       cmd.Version + 1,
	}, nil
}

type fakeReader struct {
	appts map[string]*appointment.Appointment
}

func (f *fakeReader) FindByID(_ context.Context, id string) (*appointment.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	return a, nil
}

func (f *fakeReader) ListByDoctor(_ context.Context, doctorID string, from, to time.Time, _ int) ([]*appointment.Appointment, error) {
	var out []*appointment.Appointment
	for _, a := range f.appts {
		if a.DoctorID == doctorID && a.StartUTC.Before(to) && a.EndUTC.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeReader) ListByPatient(_ context.Context, patientID string, _ int) ([]*appointment.Appointment, error) {
	var out []*appointment.Appointment
	for _, a := range f.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestHandler(sched *fakeScheduler, reader *fakeReader) *AppointmentHandler {
	if reader == nil {
		reader = &fakeReader{appts: map[string]*appointment.Appointment{}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAppointmentHandler(sched, reader, logger, fixedClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code, body.Error.Message
}

func TestBookCreated(t *testing.T) {
	sched := &fakeScheduler{}
	h := newTestHandler(sched, nil)

	body := `{"patient_id":"pat-1","doctor_id":"doc-1","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T10:30:00Z","notes":"first visit"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Book(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AppointmentID string `json:"appointment_id"`
		StartTime     string `json:"start_time"`
		EndTime       string `json:"end_time"`
		Version       int64  `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID != "apt-1" || resp.Version != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.StartTime != "2026-03-03T10:00:00Z" || resp.EndTime != "2026-03-03T10:30:00Z" {
		t.Fatalf("interval not echoed: %+v", resp)
	}
	if sched.lastBook.Notes != "first visit" {
		t.Fatalf("notes not forwarded: %q", sched.lastBook.Notes)
	}
	if sched.lastBook.StartUTC.Location() != time.UTC {
		t.Fatalf("start not normalized to UTC")
	}
}

func TestBookOffsetTimestampNormalized(t *testing.T) {
	sched := &fakeScheduler{}
	h := newTestHandler(sched, nil)

	body := `{"patient_id":"pat-1","doctor_id":"doc-1","start_time":"2026-03-03T11:00:00+01:00","end_time":"2026-03-03T11:30:00+01:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Book(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	want := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	if !sched.lastBook.StartUTC.Equal(want) {
		t.Fatalf("start %s, want %s", sched.lastBook.StartUTC, want)
	}
}

func TestBookStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"not found", &commands.Error{Kind: commands.KindNotFound, Code: "Patient.NotFound", Message: "patient does not exist"}, http.StatusNotFound, "Patient.NotFound"},
		{"validation", &commands.Error{Kind: commands.KindValidation, Code: "Appointment.TooSoon", Message: "too soon"}, http.StatusUnprocessableEntity, "Appointment.TooSoon"},
		{"conflict", &commands.Error{Kind: commands.KindConflict, Code: commands.CodeConflict, Message: "slot taken"}, http.StatusConflict, commands.CodeConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeScheduler{bookErr: tc.err}, nil)
			body := `{"patient_id":"pat-1","doctor_id":"doc-1","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T10:30:00Z"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.Book(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			code, _ := decodeError(t, rec)
			if code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, code)
			}
		})
	}
}

func TestBookBadRequests(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Book(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(`{"doctor_id":"doc-1"}`))
	rec = httptest.NewRecorder()
	h.Book(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec = httptest.NewRecorder()
	h.Book(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRescheduleReportsPreviousInterval(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, nil)

	body := `{"appointment_id":"apt-1","start_time":"2026-03-05T10:00:00Z","end_time":"2026-03-05T10:30:00Z","version":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/reschedule", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Reschedule(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AppointmentID     string `json:"appointment_id"`
		StartTime         string `json:"start_time"`
		EndTime           string `json:"end_time"`
		PreviousStartTime string `json:"previous_start_time"`
		PreviousEndTime   string `json:"previous_end_time"`
		Version           int64  `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID != "apt-1" || resp.Version != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.StartTime != "2026-03-05T10:00:00Z" || resp.EndTime != "2026-03-05T10:30:00Z" {
		t.Fatalf("new interval not echoed: %+v", resp)
	}
	if resp.PreviousStartTime != "2026-03-04T10:00:00Z" || resp.PreviousEndTime != "2026-03-04T10:30:00Z" {
		t.Fatalf("previous interval missing: %+v", resp)
	}
}

func TestRescheduleConflictStatus(t *testing.T) {
	h := newTestHandler(&fakeScheduler{
		rescheduleErr: &commands.Error{Kind: commands.KindConflict, Code: commands.CodeConflict, Message: "slot taken"},
	}, nil)

	body := `{"appointment_id":"apt-1","start_time":"2026-03-05T10:00:00Z","end_time":"2026-03-05T10:30:00Z","version":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/reschedule", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Reschedule(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCancelOK(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, nil)

	body := `{"appointment_id":"apt-1","reason":"sick","version":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status             string `json:"status"`
		CancelledAt        string `json:"cancelled_at"`
		CancellationReason string `json:"cancellation_reason"`
		Version            int64  `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != 2 {
		t.Fatalf("expected version 2, got %d", resp.Version)
	}
	if resp.Status != string(appointment.StatusCancelled) || resp.CancellationReason != "sick" {
		t.Fatalf("cancellation not reported: %+v", resp)
	}
	if resp.CancelledAt != "2026-03-02T09:00:00Z" {
		t.Fatalf("unexpected cancelled_at: %q", resp.CancelledAt)
	}
}

func TestCompleteOK(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, nil)

	body := `{"appointment_id":"apt-1","notes":"all clear","version":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		CompletedAt string `json:"completed_at"`
		Notes       string `json:"notes"`
		Version     int64  `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != string(appointment.StatusCompleted) || resp.Notes != "all clear" {
		t.Fatalf("completion not reported: %+v", resp)
	}
	if resp.CompletedAt != "2026-03-02T09:00:00Z" {
		t.Fatalf("unexpected completed_at: %q", resp.CompletedAt)
	}
}

func TestCompleteValidationStatus(t *testing.T) {
	h := newTestHandler(&fakeScheduler{
		completeErr: &commands.Error{Kind: commands.KindValidation, Code: "Appointment.CannotCompleteCancelled", Message: "cannot complete a cancelled appointment"},
	}, nil)

	body := `{"appointment_id":"apt-1","version":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	code, _ := decodeError(t, rec)
	if code != "Appointment.CannotCompleteCancelled" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestGetAppointment(t *testing.T) {
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	reader := &fakeReader{appts: map[string]*appointment.Appointment{
		"apt-1": {
			ID: "apt-1", PatientID: "pat-1", DoctorID: "doc-1",
			StartUTC: start, EndUTC: start.Add(30 * time.Minute),
			Status: appointment.StatusScheduled, Version: 1,
			CreatedAt: start.Add(-48 * time.Hour),
		},
	}}
	h := newTestHandler(&fakeScheduler{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/get?id=apt-1", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments/get?id=missing", nil)
	rec = httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListRequiresExactlyOneParty(t *testing.T) {
	h := newTestHandler(&fakeScheduler{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with no party, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments?doctor_id=doc-1&patient_id=pat-1", nil)
	rec = httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with both parties, got %d", rec.Code)
	}
}

func TestSlotsExcludesBookedIntervals(t *testing.T) {
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	reader := &fakeReader{appts: map[string]*appointment.Appointment{
		"apt-1": {
			ID: "apt-1", PatientID: "pat-1", DoctorID: "doc-1",
			StartUTC: start, EndUTC: start.Add(time.Hour),
			Status: appointment.StatusScheduled, Version: 1,
		},
	}}
	h := newTestHandler(&fakeScheduler{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/slots?doctor_id=doc-1&date=2026-03-03&duration_minutes=60&step_minutes=60", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Slots []struct {
			StartTime string `json:"start_time"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, s := range resp.Slots {
		if s.StartTime == "2026-03-03T09:00:00Z" {
			t.Fatalf("booked slot offered: %s", s.StartTime)
		}
	}
	// 23 hourly slots remain out of 24.
	if len(resp.Slots) != 23 {
		t.Fatalf("expected 23 slots, got %d", len(resp.Slots))
	}
}
