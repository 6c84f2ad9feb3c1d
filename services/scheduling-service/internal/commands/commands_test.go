package commands

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

// memStore keeps appointments in a map and enforces the same half-open
// overlap and version rules the pg repository does. Events handed to
// Insert/Update are recorded so tests can assert on the outbox feed.
type memStore struct {
	items  map[string]*appointment.Appointment
	events []appointment.Event

	failUpdateWith error
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*appointment.Appointment{}}
}

func (s *memStore) FindByID(_ context.Context, id string) (*appointment.Appointment, error) {
	a, ok := s.items[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) HasOverlap(_ context.Context, doctorID string, startUTC, endUTC time.Time, excludeID string) (bool, error) {
	for id, a := range s.items {
		if id == excludeID || a.DoctorID != doctorID || a.Status.Terminal() {
			continue
		}
		if startUTC.Before(a.EndUTC) && endUTC.After(a.StartUTC) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Insert(_ context.Context, a *appointment.Appointment, events []appointment.Event) error {
	cp := *a
	s.items[a.ID] = &cp
	s.events = append(s.events, events...)
	return nil
}

func (s *memStore) Update(_ context.Context, a *appointment.Appointment, events []appointment.Event) error {
	if s.failUpdateWith != nil {
		return s.failUpdateWith
	}
	stored, ok := s.items[a.ID]
	if !ok {
		return appointment.ErrNotFound
	}
	if stored.Version != a.Version {
		return appointment.ErrStaleVersion
	}
	cp := *a
	cp.Version = a.Version + 1
	s.items[a.ID] = &cp
	s.events = append(s.events, events...)
	return nil
}

func (s *memStore) ofType(eventType string) []appointment.Event {
	var out []appointment.Event
	for _, ev := range s.events {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type memDirectory struct {
	patients map[string]Contact
	doctors  map[string]bool
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		patients: map[string]Contact{"pat-1": {Email: "pat@example.com", Phone: "+15550100"}},
		doctors:  map[string]bool{"doc-1": true},
	}
}

func (d *memDirectory) PatientExists(_ context.Context, id string) (bool, error) {
	_, ok := d.patients[id]
	return ok, nil
}

func (d *memDirectory) DoctorExists(_ context.Context, id string) (bool, error) {
	return d.doctors[id], nil
}

func (d *memDirectory) PatientContact(_ context.Context, id string) (Contact, bool, error) {
	c, ok := d.patients[id]
	return c, ok, nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *memStore, *fixedClock) {
	t.Helper()
	store := newMemStore()
	clock := &fixedClock{now: testNow}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, newMemDirectory(), clock, logger, []time.Duration{24 * time.Hour})
	return h, store, clock
}

func mustBook(t *testing.T, h *Handler, start, end time.Time) BookResult {
	t.Helper()
	res, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1",
		DoctorID:  "doc-1",
		StartUTC:  start,
		EndUTC:    end,
	})
	if err != nil {
		t.Fatalf("book %s-%s: %v", start.Format("15:04"), end.Format("15:04"), err)
	}
	return res
}

func slot(hour, min, durMin int) (time.Time, time.Time) {
	start := time.Date(2026, 3, 3, hour, min, 0, 0, time.UTC)
	return start, start.Add(time.Duration(durMin) * time.Minute)
}

func TestBookEmitsBookedAndReminders(t *testing.T) {
	h, store, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	res := mustBook(t, h, start, end)
	if res.AppointmentID == "" {
		t.Fatalf("expected assigned id")
	}
	if res.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Version)
	}
	if !res.StartUTC.Equal(start) || !res.EndUTC.Equal(end) {
		t.Fatalf("booked interval not reported: %s-%s", res.StartUTC, res.EndUTC)
	}

	stored, err := store.FindByID(context.Background(), res.AppointmentID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != appointment.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", stored.Status)
	}

	booked := store.ofType(appointment.EventTypeBooked)
	if len(booked) != 1 {
		t.Fatalf("expected 1 booked event, got %d", len(booked))
	}
	if booked[0].AggregateID() != res.AppointmentID {
		t.Fatalf("booked event not stamped with id: %q", booked[0].AggregateID())
	}

	// Email and SMS reminder for the single 24h offset.
	reminders := store.ofType(appointment.EventTypeReminderRequested)
	if len(reminders) != 2 {
		t.Fatalf("expected 2 reminder events, got %d", len(reminders))
	}
	rr := reminders[0].(*appointment.ReminderRequested)
	if want := start.Add(-24 * time.Hour); !rr.RemindAtUTC.Equal(want) {
		t.Fatalf("remind at %s, want %s", rr.RemindAtUTC, want)
	}
}

func TestBookOverlapConflicts(t *testing.T) {
	h, _, _ := newTestHandler(t)

	s1, e1 := slot(10, 0, 30)
	mustBook(t, h, s1, e1)

	s2, e2 := slot(10, 15, 30)
	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1", StartUTC: s2, EndUTC: e2,
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != CodeConflict {
		t.Fatalf("expected code %s, got %s", CodeConflict, e.Code)
	}
}

func TestBookBackToBackSucceeds(t *testing.T) {
	h, _, _ := newTestHandler(t)

	s1, e1 := slot(10, 0, 30)
	mustBook(t, h, s1, e1)

	// Starts exactly where the first ends.
	s2, e2 := slot(10, 30, 30)
	mustBook(t, h, s2, e2)
}

func TestBookUnknownParties(t *testing.T) {
	h, _, _ := newTestHandler(t)
	start, end := slot(10, 0, 30)

	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "nobody", DoctorID: "doc-1", StartUTC: start, EndUTC: end,
	})
	if !IsNotFound(err) {
		t.Fatalf("expected not found for unknown patient, got %v", err)
	}

	_, err = h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "nobody", StartUTC: start, EndUTC: end,
	})
	if !IsNotFound(err) {
		t.Fatalf("expected not found for unknown doctor, got %v", err)
	}
}

func TestBookDurationBounds(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, _ := slot(10, 0, 30)
	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1",
		StartUTC: start, EndUTC: start.Add(appointment.MinDuration - time.Minute),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for short slot, got %v", err)
	}

	_, err = h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1",
		StartUTC: start, EndUTC: start.Add(appointment.MaxDuration + time.Minute),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for long slot, got %v", err)
	}

	// Exactly at the bounds is fine.
	mustBook(t, h, start, start.Add(appointment.MinDuration))
	s2 := start.Add(12 * time.Hour)
	mustBook(t, h, s2, s2.Add(appointment.MaxDuration))
}

func TestBookLeadTime(t *testing.T) {
	h, _, clock := newTestHandler(t)

	start := clock.now.Add(appointment.MinBookingLead - time.Minute)
	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1", StartUTC: start, EndUTC: start.Add(30 * time.Minute),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation inside booking lead, got %v", err)
	}

	start = clock.now.Add(appointment.MinBookingLead)
	mustBook(t, h, start, start.Add(30*time.Minute))
}

func TestBookNonUTCRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)

	zone := time.FixedZone("CET", 3600)
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, zone)
	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1", StartUTC: start, EndUTC: start.Add(30 * time.Minute),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for non-UTC start, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.StartNotUTC" {
		t.Fatalf("expected StartNotUTC code, got %s", e.Code)
	}
}

func TestRescheduleMovesAppointment(t *testing.T) {
	h, store, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	newStart, newEnd := slot(14, 0, 30)
	res, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newEnd,
		Reason:  "patient request",
		Version: booked.Version,
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Version)
	}
	if !res.StartUTC.Equal(newStart) || !res.EndUTC.Equal(newEnd) {
		t.Fatalf("new interval not reported: %s-%s", res.StartUTC, res.EndUTC)
	}
	if !res.PreviousStartUTC.Equal(start) || !res.PreviousEndUTC.Equal(end) {
		t.Fatalf("previous interval not reported: %s-%s", res.PreviousStartUTC, res.PreviousEndUTC)
	}

	stored, _ := store.FindByID(context.Background(), booked.AppointmentID)
	if stored.Status != appointment.StatusRescheduled {
		t.Fatalf("expected rescheduled, got %s", stored.Status)
	}
	if !stored.StartUTC.Equal(newStart) || !stored.EndUTC.Equal(newEnd) {
		t.Fatalf("interval not moved: %s-%s", stored.StartUTC, stored.EndUTC)
	}
	if stored.Notes != "patient request" {
		t.Fatalf("reason not recorded in notes: %q", stored.Notes)
	}

	evs := store.ofType(appointment.EventTypeRescheduled)
	if len(evs) != 1 {
		t.Fatalf("expected 1 rescheduled event, got %d", len(evs))
	}
	ev := evs[0].(*appointment.Rescheduled)
	if !ev.PreviousStartUTC.Equal(start) || !ev.PreviousEndUTC.Equal(end) {
		t.Fatalf("event missing previous interval: %s-%s", ev.PreviousStartUTC, ev.PreviousEndUTC)
	}
}

func TestRescheduleWindowClosed(t *testing.T) {
	h, _, clock := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	// 23h before start: inside the 24h cutoff.
	clock.now = start.Add(-23 * time.Hour)
	newStart, newEnd := slot(14, 0, 30)
	_, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newEnd,
		Version: booked.Version,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation inside cutoff, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.RescheduleWindowClosed" {
		t.Fatalf("expected RescheduleWindowClosed, got %s", e.Code)
	}

	// Exactly at the cutoff boundary is also closed.
	clock.now = start.Add(-appointment.RescheduleCutoff)
	_, err = h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newEnd,
		Version: booked.Version,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation at cutoff boundary, got %v", err)
	}
}

func TestRescheduleLeadTime(t *testing.T) {
	h, _, clock := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	// New slot one minute inside the minimum lead.
	newStart := clock.now.Add(appointment.MinRescheduleLead - time.Minute)
	_, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newStart.Add(30 * time.Minute),
		Version: booked.Version,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation inside reschedule lead, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.NewSlotTooSoon" {
		t.Fatalf("expected NewSlotTooSoon, got %s", e.Code)
	}

	// Exactly at the lead boundary is allowed.
	newStart = clock.now.Add(appointment.MinRescheduleLead)
	if _, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newStart.Add(30 * time.Minute),
		Version: booked.Version,
	}); err != nil {
		t.Fatalf("reschedule at lead boundary: %v", err)
	}
}

func TestRescheduleConflictExcludesSelf(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	s2, e2 := slot(11, 0, 30)
	mustBook(t, h, s2, e2)

	// Shifting within its own slot must not self-conflict.
	if _, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      start.Add(10 * time.Minute), EndUTC: end.Add(10 * time.Minute),
		Version: booked.Version,
	}); err != nil {
		t.Fatalf("self-overlapping reschedule: %v", err)
	}

	// Landing on the other appointment does conflict.
	_, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      s2.Add(5 * time.Minute), EndUTC: e2.Add(5 * time.Minute),
		Version: 2,
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRescheduleTerminalStates(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)
	if _, err := h.Cancel(context.Background(), CancelCommand{
		AppointmentID: booked.AppointmentID, Reason: "sick", Version: booked.Version,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	newStart, newEnd := slot(14, 0, 30)
	_, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID, StartUTC: newStart, EndUTC: newEnd, Version: 2,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for cancelled, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.CannotRescheduleCancelled" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestRescheduleStaleVersionConflicts(t *testing.T) {
	h, store, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)
	store.failUpdateWith = appointment.ErrStaleVersion

	newStart, newEnd := slot(14, 0, 30)
	_, err := h.Reschedule(context.Background(), RescheduleCommand{
		AppointmentID: booked.AppointmentID,
		StartUTC:      newStart, EndUTC: newEnd,
		Version: booked.Version,
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	h, store, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	res, err := h.Cancel(context.Background(), CancelCommand{
		AppointmentID: booked.AppointmentID, Reason: "patient is sick", Version: booked.Version,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Status != appointment.StatusCancelled || res.CancellationReason != "patient is sick" {
		t.Fatalf("cancellation not reported: %+v", res)
	}
	if !res.CancelledUTC.Equal(testNow) {
		t.Fatalf("cancelled at %s, want %s", res.CancelledUTC, testNow)
	}
	eventsAfterFirst := len(store.events)

	// Retried cancel with a different reason: success, original outcome
	// reported back, nothing changes.
	res2, err := h.Cancel(context.Background(), CancelCommand{
		AppointmentID: booked.AppointmentID, Reason: "changed my mind", Version: res.Version,
	})
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if res2.Version != res.Version {
		t.Fatalf("repeat cancel bumped version: %d -> %d", res.Version, res2.Version)
	}
	if res2.CancellationReason != "patient is sick" {
		t.Fatalf("repeat cancel reported new reason: %q", res2.CancellationReason)
	}
	if !res2.CancelledUTC.Equal(res.CancelledUTC) {
		t.Fatalf("repeat cancel reported new timestamp: %s", res2.CancelledUTC)
	}

	stored, _ := store.FindByID(context.Background(), booked.AppointmentID)
	if stored.CancellationReason != "patient is sick" {
		t.Fatalf("original reason overwritten: %q", stored.CancellationReason)
	}
	if !stored.CancelledUTC.Equal(res.CancelledUTC) {
		t.Fatalf("cancelled timestamp changed")
	}
	if len(store.events) != eventsAfterFirst {
		t.Fatalf("repeat cancel emitted events")
	}
}

func TestCancelRequiresReason(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	_, err := h.Cancel(context.Background(), CancelCommand{
		AppointmentID: booked.AppointmentID, Reason: "  ", Version: booked.Version,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for blank reason, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.ReasonRequired" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestCompleteUnknownAppointment(t *testing.T) {
	h, _, _ := newTestHandler(t)

	_, err := h.Complete(context.Background(), CompleteCommand{AppointmentID: "missing"})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteCancelledRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)
	if _, err := h.Cancel(context.Background(), CancelCommand{
		AppointmentID: booked.AppointmentID, Reason: "sick", Version: booked.Version,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := h.Complete(context.Background(), CompleteCommand{
		AppointmentID: booked.AppointmentID, Version: 2,
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation, got %v", err)
	}
	e, _ := AsError(err)
	if e.Code != "Appointment.CannotCompleteCancelled" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	h, store, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	booked := mustBook(t, h, start, end)

	res, err := h.Complete(context.Background(), CompleteCommand{
		AppointmentID: booked.AppointmentID, Notes: "all good", Version: booked.Version,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != appointment.StatusCompleted || res.Notes != "all good" {
		t.Fatalf("completion not reported: %+v", res)
	}
	if !res.CompletedUTC.Equal(testNow) {
		t.Fatalf("completed at %s, want %s", res.CompletedUTC, testNow)
	}
	eventsAfterFirst := len(store.events)

	res2, err := h.Complete(context.Background(), CompleteCommand{
		AppointmentID: booked.AppointmentID, Notes: "different notes", Version: res.Version,
	})
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if res2.Version != res.Version {
		t.Fatalf("repeat complete bumped version")
	}
	if res2.Notes != "all good" || !res2.CompletedUTC.Equal(res.CompletedUTC) {
		t.Fatalf("repeat complete changed reported outcome: %+v", res2)
	}

	stored, _ := store.FindByID(context.Background(), booked.AppointmentID)
	if stored.Notes != "all good" {
		t.Fatalf("notes overwritten on repeat: %q", stored.Notes)
	}
	if len(store.events) != eventsAfterFirst {
		t.Fatalf("repeat complete emitted events")
	}
}

func TestReminderSkippedWithoutContact(t *testing.T) {
	store := newMemStore()
	clock := &fixedClock{now: testNow}
	dir := newMemDirectory()
	dir.patients["pat-2"] = Contact{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, dir, clock, logger, []time.Duration{24 * time.Hour})

	start, end := slot(10, 0, 30)
	if _, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-2", DoctorID: "doc-1", StartUTC: start, EndUTC: end,
	}); err != nil {
		t.Fatalf("book: %v", err)
	}
	if n := len(store.ofType(appointment.EventTypeReminderRequested)); n != 0 {
		t.Fatalf("expected no reminders without contact, got %d", n)
	}
}

func TestNotesTooLongRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)

	start, end := slot(10, 0, 30)
	_, err := h.Book(context.Background(), BookCommand{
		PatientID: "pat-1", DoctorID: "doc-1",
		StartUTC: start, EndUTC: end,
		Notes: strings.Repeat("x", appointment.MaxNotesLen+1),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation for long notes, got %v", err)
	}
}
