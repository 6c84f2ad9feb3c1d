package appointment

import (
	"strings"
	"testing"
	"time"
)

var (
	testStart = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	testNow   = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newScheduled(t *testing.T) *Appointment {
	t.Helper()
	a, err := Schedule("patient-1", "doctor-1", testStart, testEnd, "")
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	a.ID = "appt-1"
	return a
}

func TestSchedule_RejectsNonUTC(t *testing.T) {
	dhaka := time.FixedZone("BST", 6*60*60)

	_, err := Schedule("p", "d", testStart.In(dhaka), testEnd, "")
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for non-UTC start, got %v", err)
	}
	var de *Error
	if !asDomainError(err, &de) || de.Code != "Appointment.StartNotUTC" {
		t.Fatalf("unexpected code: %v", err)
	}

	_, err = Schedule("p", "d", testStart, testEnd.In(dhaka), "")
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for non-UTC end, got %v", err)
	}
}

func TestSchedule_RejectsInvertedInterval(t *testing.T) {
	if _, err := Schedule("p", "d", testEnd, testStart, ""); !IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for start >= end, got %v", err)
	}
	if _, err := Schedule("p", "d", testStart, testStart, ""); !IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for zero-length interval, got %v", err)
	}
}

func TestSchedule_NotesBoundary(t *testing.T) {
	atMax := strings.Repeat("n", MaxNotesLen)
	a, err := Schedule("p", "d", testStart, testEnd, atMax)
	if err != nil {
		t.Fatalf("notes at max length should be accepted: %v", err)
	}
	if a.Notes != atMax {
		t.Fatal("notes not retained")
	}

	if _, err := Schedule("p", "d", testStart, testEnd, atMax+"n"); !IsInvalidArgument(err) {
		t.Fatalf("notes over max length should be rejected, got %v", err)
	}
}

func TestSchedule_EmitsBookedWithID(t *testing.T) {
	a := newScheduled(t)
	evs := a.TakeEvents()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	booked, ok := evs[0].(*Booked)
	if !ok {
		t.Fatalf("expected Booked, got %T", evs[0])
	}
	if booked.AppointmentID != "appt-1" {
		t.Fatalf("booked event not stamped with id: %q", booked.AppointmentID)
	}
	if a.PendingEvents() != 0 {
		t.Fatal("TakeEvents should clear the buffer")
	}
}

func TestReschedule_AppendsReasonToNotes(t *testing.T) {
	a := newScheduled(t)
	a.TakeEvents()

	newStart := testStart.Add(24 * time.Hour)
	newEnd := testEnd.Add(24 * time.Hour)
	if err := a.Reschedule(newStart, newEnd, "doctor unavailable"); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if a.Status != StatusRescheduled {
		t.Fatalf("expected rescheduled status, got %s", a.Status)
	}
	if a.Notes != "doctor unavailable" {
		t.Fatalf("expected reason as notes when notes empty, got %q", a.Notes)
	}

	if err := a.Reschedule(newStart.Add(time.Hour), newEnd.Add(time.Hour), "patient request"); err != nil {
		t.Fatalf("second Reschedule failed: %v", err)
	}
	if a.Notes != "doctor unavailable; patient request" {
		t.Fatalf("expected appended notes, got %q", a.Notes)
	}
}

func TestReschedule_EmitsPreviousInterval(t *testing.T) {
	a := newScheduled(t)
	a.TakeEvents()

	newStart := testStart.Add(48 * time.Hour)
	newEnd := testEnd.Add(48 * time.Hour)
	if err := a.Reschedule(newStart, newEnd, ""); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	evs := a.TakeEvents()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev, ok := evs[0].(*Rescheduled)
	if !ok {
		t.Fatalf("expected Rescheduled, got %T", evs[0])
	}
	if !ev.PreviousStartUTC.Equal(testStart) || !ev.PreviousEndUTC.Equal(testEnd) {
		t.Fatal("previous interval not carried on event")
	}
	if !ev.StartUTC.Equal(newStart) || !ev.EndUTC.Equal(newEnd) {
		t.Fatal("new interval not carried on event")
	}
}

func TestReschedule_ReasonTooLong(t *testing.T) {
	a := newScheduled(t)
	err := a.Reschedule(testStart, testEnd, strings.Repeat("r", MaxReasonLen+1))
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument, got %v", err)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	a := newScheduled(t)
	a.TakeEvents()

	if err := a.Complete("all good", testNow); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	firstCompleted := *a.CompletedUTC
	if a.Status != StatusCompleted || a.Notes != "all good" {
		t.Fatalf("unexpected state after complete: %s %q", a.Status, a.Notes)
	}
	if len(a.TakeEvents()) != 1 {
		t.Fatal("expected a Completed event on first call")
	}

	if err := a.Complete("different notes", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("repeat Complete should be a no-op, got %v", err)
	}
	if !a.CompletedUTC.Equal(firstCompleted) {
		t.Fatal("repeat Complete must not move CompletedUTC")
	}
	if a.Notes != "all good" {
		t.Fatal("repeat Complete must not change notes")
	}
	if a.PendingEvents() != 0 {
		t.Fatal("repeat Complete must not emit events")
	}
}

func TestComplete_AfterCancelFails(t *testing.T) {
	a := newScheduled(t)
	if err := a.Cancel("patient request", testNow); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	err := a.Complete("", testNow)
	if !IsInvalidOperation(err) {
		t.Fatalf("expected invalid-operation, got %v", err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	a := newScheduled(t)
	a.TakeEvents()

	if err := a.Cancel("patient request", testNow); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	firstCancelled := *a.CancelledUTC

	if err := a.Cancel("a different reason", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("repeat Cancel should be a no-op, got %v", err)
	}
	if a.CancellationReason != "patient request" {
		t.Fatalf("repeat Cancel must keep the original reason, got %q", a.CancellationReason)
	}
	if !a.CancelledUTC.Equal(firstCancelled) {
		t.Fatal("repeat Cancel must not move CancelledUTC")
	}
}

func TestCancel_AfterCompleteFails(t *testing.T) {
	a := newScheduled(t)
	if err := a.Complete("", testNow); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	err := a.Cancel("too late", testNow)
	if !IsInvalidOperation(err) {
		t.Fatalf("expected invalid-operation, got %v", err)
	}
	if a.CancelledUTC != nil {
		t.Fatal("failed Cancel must not set CancelledUTC")
	}
}

func TestCancel_ReasonValidation(t *testing.T) {
	a := newScheduled(t)
	if err := a.Cancel("", testNow); !IsInvalidArgument(err) {
		t.Fatalf("blank reason should be invalid-argument, got %v", err)
	}
	if err := a.Cancel("   ", testNow); !IsInvalidArgument(err) {
		t.Fatalf("whitespace reason should be invalid-argument, got %v", err)
	}

	atMax := strings.Repeat("r", MaxReasonLen)
	if err := a.Cancel(atMax, testNow); err != nil {
		t.Fatalf("reason at max length should be accepted: %v", err)
	}

	b := newScheduled(t)
	if err := b.Cancel(atMax+"r", testNow); !IsInvalidArgument(err) {
		t.Fatalf("reason over max length should be rejected, got %v", err)
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusScheduled.Terminal() || StatusRescheduled.Terminal() {
		t.Fatal("active statuses must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("completed/cancelled must be terminal")
	}
}

func asDomainError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
