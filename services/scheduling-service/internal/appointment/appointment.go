package appointment

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment is the aggregate root. All mutation goes through Schedule,
// Reschedule, Complete and Cancel; each transition buffers a domain event
// drained by the command handler after a successful commit.
//
// All instants are UTC. StartUTC < EndUTC always holds for a persisted
// appointment. Version is the optimistic concurrency token compared by the
// store at commit time.
type Appointment struct {
	ID                 string
	PatientID          string
	DoctorID           string
	StartUTC           time.Time
	EndUTC             time.Time
	Status             Status
	Notes              string
	CompletedUTC       *time.Time
	CancelledUTC       *time.Time
	CancellationReason string
	Version            int64
	CreatedAt          time.Time

	events []Event
}

// Schedule creates a new appointment in the scheduled state and emits a
// Booked event. Both instants must be UTC and start must precede end;
// temporal policy (duration, lead time) is the caller's concern.
func Schedule(patientID, doctorID string, startUTC, endUTC time.Time, notes string) (*Appointment, error) {
	if startUTC.Location() != time.UTC {
		return nil, invalidArgument("Appointment.StartNotUTC", "startUtc must be a UTC instant")
	}
	if endUTC.Location() != time.UTC {
		return nil, invalidArgument("Appointment.EndNotUTC", "endUtc must be a UTC instant")
	}
	if !startUTC.Before(endUTC) {
		return nil, invalidArgument("Appointment.InvalidInterval", "startUtc must be before endUtc")
	}
	if len(notes) > MaxNotesLen {
		return nil, invalidArgument("Appointment.NotesTooLong",
			fmt.Sprintf("notes must be at most %d characters", MaxNotesLen))
	}

	a := &Appointment{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartUTC:  startUTC,
		EndUTC:    endUTC,
		Status:    StatusScheduled,
		Notes:     notes,
		Version:   1,
	}
	a.emit(&Booked{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartUTC:  startUTC,
		EndUTC:    endUTC,
	})
	return a, nil
}

// Reschedule moves the appointment to the new interval and marks it
// rescheduled. If reason is non-empty it is appended to Notes.
//
// This is deliberately a pure mutation primitive: it does not refuse a
// terminal appointment and does not check newStart < newEnd. Callers (the
// reschedule command handler) own those rules together with the cutoff and
// lead-time policy, which depend on the current clock.
func (a *Appointment) Reschedule(newStartUTC, newEndUTC time.Time, reason string) error {
	if len(reason) > MaxReasonLen {
		return invalidArgument("Appointment.ReasonTooLong",
			fmt.Sprintf("reason must be at most %d characters", MaxReasonLen))
	}

	prevStart, prevEnd := a.StartUTC, a.EndUTC
	a.StartUTC = newStartUTC
	a.EndUTC = newEndUTC
	a.Status = StatusRescheduled
	if reason != "" {
		if a.Notes == "" {
			a.Notes = reason
		} else {
			a.Notes = a.Notes + "; " + reason
		}
	}
	a.emit(&Rescheduled{
		AppointmentID:    a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		PreviousStartUTC: prevStart,
		PreviousEndUTC:   prevEnd,
		StartUTC:         newStartUTC,
		EndUTC:           newEndUTC,
		Reason:           reason,
	})
	return nil
}

// Complete marks the appointment completed at now. Completing a cancelled
// appointment fails; completing an already-completed one is a no-op so client
// retries and duplicate event delivery stay safe.
func (a *Appointment) Complete(notes string, now time.Time) error {
	if a.Status == StatusCancelled {
		return invalidOperation("Appointment.CannotCompleteCancelled",
			"cannot complete a cancelled appointment")
	}
	if a.Status == StatusCompleted {
		return nil
	}
	if len(notes) > MaxNotesLen {
		return invalidArgument("Appointment.NotesTooLong",
			fmt.Sprintf("notes must be at most %d characters", MaxNotesLen))
	}

	completedAt := now.UTC()
	a.CompletedUTC = &completedAt
	a.Status = StatusCompleted
	a.Notes = notes
	a.emit(&Completed{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		CompletedUTC:  completedAt,
		Notes:         notes,
	})
	return nil
}

// Cancel marks the appointment cancelled at now with the given reason.
// Cancelling a completed appointment fails; repeat cancels are no-ops that
// retain the original reason and timestamp.
func (a *Appointment) Cancel(reason string, now time.Time) error {
	if a.Status == StatusCompleted {
		return invalidOperation("Appointment.CannotCancelCompleted",
			"cannot cancel a completed appointment")
	}
	if a.Status == StatusCancelled {
		return nil
	}
	if strings.TrimSpace(reason) == "" {
		return invalidArgument("Appointment.ReasonRequired", "cancellation reason is required")
	}
	if len(reason) > MaxReasonLen {
		return invalidArgument("Appointment.ReasonTooLong",
			fmt.Sprintf("reason must be at most %d characters", MaxReasonLen))
	}

	cancelledAt := now.UTC()
	a.CancelledUTC = &cancelledAt
	a.CancellationReason = reason
	a.Status = StatusCancelled
	a.emit(&Cancelled{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StartUTC:      a.StartUTC,
		EndUTC:        a.EndUTC,
		CancelledUTC:  cancelledAt,
		Reason:        reason,
	})
	return nil
}

func (a *Appointment) emit(ev Event) {
	a.events = append(a.events, ev)
}

// TakeEvents returns the buffered events and clears the buffer. The Booked
// event is emitted before the store assigns an id, so it is stamped here.
func (a *Appointment) TakeEvents() []Event {
	evs := a.events
	a.events = nil
	for _, ev := range evs {
		if b, ok := ev.(*Booked); ok && b.AppointmentID == "" {
			b.AppointmentID = a.ID
		}
	}
	return evs
}

// PendingEvents reports how many events are buffered without draining them.
func (a *Appointment) PendingEvents() int {
	return len(a.events)
}
