package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/availability"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/commands"
)

// Scheduler is the command surface the HTTP layer drives.
type Scheduler interface {
	Book(ctx context.Context, cmd commands.BookCommand) (commands.BookResult, error)
	Reschedule(ctx context.Context, cmd commands.RescheduleCommand) (commands.RescheduleResult, error)
	Cancel(ctx context.Context, cmd commands.CancelCommand) (commands.CancelResult, error)
	Complete(ctx context.Context, cmd commands.CompleteCommand) (commands.CompleteResult, error)
}

// Reader is the query surface backing GET endpoints.
type Reader interface {
	FindByID(ctx context.Context, id string) (*appointment.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, from, to time.Time, limit int) ([]*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*appointment.Appointment, error)
}

type AppointmentHandler struct {
	scheduler Scheduler
	reader    Reader
	logger    *slog.Logger
	clock     commands.Clock
}

func NewAppointmentHandler(scheduler Scheduler, reader Reader, logger *slog.Logger, clock commands.Clock) *AppointmentHandler {
	if clock == nil {
		clock = commands.UTCClock{}
	}
	return &AppointmentHandler{scheduler: scheduler, reader: reader, logger: logger, clock: clock}
}

type bookRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Notes     string `json:"notes"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Version       int64  `json:"version"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Reason        string `json:"reason"`
	Version       int64  `json:"version"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	Version       int64  `json:"version"`
}

type completeRequest struct {
	AppointmentID string `json:"appointment_id"`
	Notes         string `json:"notes"`
	Version       int64  `json:"version"`
}

type rescheduleResponse struct {
	AppointmentID     string `json:"appointment_id"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	PreviousStartTime string `json:"previous_start_time"`
	PreviousEndTime   string `json:"previous_end_time"`
	Version           int64  `json:"version"`
}

type cancelResponse struct {
	AppointmentID      string `json:"appointment_id"`
	Status             string `json:"status"`
	CancelledAt        string `json:"cancelled_at"`
	CancellationReason string `json:"cancellation_reason"`
	Version            int64  `json:"version"`
}

type completeResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CompletedAt   string `json:"completed_at"`
	Notes         string `json:"notes,omitempty"`
	Version       int64  `json:"version"`
}

type appointmentItem struct {
	AppointmentID      string `json:"appointment_id"`
	PatientID          string `json:"patient_id"`
	DoctorID           string `json:"doctor_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	Notes              string `json:"notes,omitempty"`
	CompletedAt        string `json:"completed_at,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	Version            int64  `json:"version"`
	CreatedAt          string `json:"created_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidBody", "invalid json body")
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.PatientID == "" || req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "patient_id and doctor_id are required")
		return
	}

	start, end, ok := parseInterval(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	res, err := h.scheduler.Book(r.Context(), commands.BookCommand{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StartUTC:  start,
		EndUTC:    end,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse{
		AppointmentID: res.AppointmentID,
		StartTime:     res.StartUTC.Format(time.RFC3339),
		EndTime:       res.EndUTC.Format(time.RFC3339),
		Version:       res.Version,
	})
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidBody", "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "appointment_id is required")
		return
	}

	start, end, ok := parseInterval(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	res, err := h.scheduler.Reschedule(r.Context(), commands.RescheduleCommand{
		AppointmentID: req.AppointmentID,
		StartUTC:      start,
		EndUTC:        end,
		Reason:        req.Reason,
		Version:       req.Version,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{
		AppointmentID:     res.AppointmentID,
		StartTime:         res.StartUTC.Format(time.RFC3339),
		EndTime:           res.EndUTC.Format(time.RFC3339),
		PreviousStartTime: res.PreviousStartUTC.Format(time.RFC3339),
		PreviousEndTime:   res.PreviousEndUTC.Format(time.RFC3339),
		Version:           res.Version,
	})
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidBody", "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "appointment_id is required")
		return
	}

	res, err := h.scheduler.Cancel(r.Context(), commands.CancelCommand{
		AppointmentID: req.AppointmentID,
		Reason:        req.Reason,
		Version:       req.Version,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		AppointmentID:      res.AppointmentID,
		Status:             string(res.Status),
		CancelledAt:        res.CancelledUTC.Format(time.RFC3339),
		CancellationReason: res.CancellationReason,
		Version:            res.Version,
	})
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidBody", "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "appointment_id is required")
		return
	}

	res, err := h.scheduler.Complete(r.Context(), commands.CompleteCommand{
		AppointmentID: req.AppointmentID,
		Notes:         req.Notes,
		Version:       req.Version,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{
		AppointmentID: res.AppointmentID,
		Status:        string(res.Status),
		CompletedAt:   res.CompletedUTC.Format(time.RFC3339),
		Notes:         res.Notes,
		Version:       res.Version,
	})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "id is required")
		return
	}

	a, err := h.reader.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Appointment.NotFound", "appointment does not exist")
			return
		}
		h.logger.Error("appointment lookup failed", "err", err, "id", id)
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toItem(a))
}

// List returns a doctor's appointments in a window, or a patient's recent
// appointments. Exactly one of doctor_id / patient_id must be given.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctor_id"))
	patientID := strings.TrimSpace(q.Get("patient_id"))
	if (doctorID == "") == (patientID == "") {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "exactly one of doctor_id or patient_id is required")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "Request.InvalidLimit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	var (
		appts []*appointment.Appointment
		err   error
	)
	if doctorID != "" {
		from, to, ok := parseWindow(w, q.Get("from"), q.Get("to"), h.clock.Now())
		if !ok {
			return
		}
		appts, err = h.reader.ListByDoctor(r.Context(), doctorID, from, to, limit)
	} else {
		appts, err = h.reader.ListByPatient(r.Context(), patientID, limit)
	}
	if err != nil {
		h.logger.Error("appointment list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

// Slots lists free start times for a doctor on a given UTC day.
func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	doctorID := strings.TrimSpace(q.Get("doctor_id"))
	if doctorID == "" {
		writeError(w, http.StatusBadRequest, "Request.MissingFields", "doctor_id is required")
		return
	}
	day, err := time.Parse("2006-01-02", q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidDate", "date must be YYYY-MM-DD")
		return
	}

	duration := 30 * time.Minute
	if raw := q.Get("duration_minutes"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || time.Duration(mins)*time.Minute < appointment.MinDuration || time.Duration(mins)*time.Minute > appointment.MaxDuration {
			writeError(w, http.StatusBadRequest, "Request.InvalidDuration", "duration_minutes out of range")
			return
		}
		duration = time.Duration(mins) * time.Minute
	}
	step := duration
	if raw := q.Get("step_minutes"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins <= 0 {
			writeError(w, http.StatusBadRequest, "Request.InvalidStep", "step_minutes must be positive")
			return
		}
		step = time.Duration(mins) * time.Minute
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	appts, err := h.reader.ListByDoctor(r.Context(), doctorID, dayStart, dayEnd, 500)
	if err != nil {
		h.logger.Error("slot listing failed", "err", err, "doctor_id", doctorID)
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		return
	}

	var busy []availability.Interval
	for _, a := range appts {
		if a.Status.Terminal() {
			continue
		}
		busy = append(busy, availability.Interval{Start: a.StartUTC, End: a.EndUTC})
	}

	earliest := h.clock.Now().Add(appointment.MinBookingLead)
	starts := availability.FreeSlots(dayStart, dayEnd, duration, step, busy, earliest)

	slots := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, slotItem{
			StartTime: s.Format(time.RFC3339),
			EndTime:   s.Add(duration).Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// writeCommandError is the single spot where command outcomes become HTTP
// statuses: not found 404, validation 422, conflict 409.
func (h *AppointmentHandler) writeCommandError(w http.ResponseWriter, err error) {
	if e, ok := commands.AsError(err); ok {
		switch e.Kind {
		case commands.KindNotFound:
			writeError(w, http.StatusNotFound, e.Code, e.Message)
		case commands.KindValidation:
			writeError(w, http.StatusUnprocessableEntity, e.Code, e.Message)
		case commands.KindConflict:
			writeError(w, http.StatusConflict, e.Code, e.Message)
		default:
			writeError(w, http.StatusInternalServerError, "Internal", "internal error")
		}
		return
	}
	h.logger.Error("command failed", "err", err)
	writeError(w, http.StatusInternalServerError, "Internal", "internal error")
}

func parseInterval(w http.ResponseWriter, startRaw, endRaw string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidStartTime", "start_time must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request.InvalidEndTime", "end_time must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	// Offsets are accepted on the wire; the domain runs on UTC instants.
	return start.UTC(), end.UTC(), true
}

func parseWindow(w http.ResponseWriter, fromRaw, toRaw string, now time.Time) (time.Time, time.Time, bool) {
	from := now.Truncate(24 * time.Hour)
	to := from.Add(7 * 24 * time.Hour)
	var err error
	if fromRaw != "" {
		from, err = time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Request.InvalidFrom", "from must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
	}
	if toRaw != "" {
		to, err = time.Parse(time.RFC3339, toRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Request.InvalidTo", "to must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "Request.InvalidWindow", "to must be after from")
		return time.Time{}, time.Time{}, false
	}
	return from.UTC(), to.UTC(), true
}

func toItem(a *appointment.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:      a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		StartTime:          a.StartUTC.Format(time.RFC3339),
		EndTime:            a.EndUTC.Format(time.RFC3339),
		Status:             string(a.Status),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CompletedUTC != nil {
		item.CompletedAt = a.CompletedUTC.Format(time.RFC3339)
	}
	if a.CancelledUTC != nil {
		item.CancelledAt = a.CancelledUTC.Format(time.RFC3339)
	}
	return item
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
