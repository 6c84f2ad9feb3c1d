package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

type RescheduleCommand struct {
	AppointmentID string
	StartUTC      time.Time
	EndUTC        time.Time
	Reason        string
	// Version is the caller's view of the aggregate. The commit fails with a
	// conflict if the stored row has moved on.
	Version int64
}

type RescheduleResult struct {
	AppointmentID    string
	StartUTC         time.Time
	EndUTC           time.Time
	PreviousStartUTC time.Time
	PreviousEndUTC   time.Time
	Version          int64
}

// Reschedule moves an existing appointment to a new interval. The cutoff is
// measured against the CURRENT start: inside RescheduleCutoff of the booked
// slot no move is allowed, regardless of where the new slot lies.
func (h *Handler) Reschedule(ctx context.Context, cmd RescheduleCommand) (RescheduleResult, error) {
	a, err := h.store.FindByID(ctx, cmd.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return RescheduleResult{}, notFound("Appointment.NotFound", "appointment does not exist")
		}
		return RescheduleResult{}, fmt.Errorf("load appointment: %w", err)
	}

	switch a.Status {
	case appointment.StatusCancelled:
		return RescheduleResult{}, validation("Appointment.CannotRescheduleCancelled",
			"cannot reschedule a cancelled appointment")
	case appointment.StatusCompleted:
		return RescheduleResult{}, validation("Appointment.CannotRescheduleCompleted",
			"cannot reschedule a completed appointment")
	}

	now := h.clock.Now()
	if !now.Before(a.StartUTC.Add(-appointment.RescheduleCutoff)) {
		return RescheduleResult{}, validation("Appointment.RescheduleWindowClosed",
			fmt.Sprintf("appointments may only be rescheduled up to %s before their start", appointment.RescheduleCutoff))
	}

	if cmd.StartUTC.Location() != time.UTC {
		return RescheduleResult{}, validation("Appointment.StartNotUTC", "startUtc must be a UTC instant")
	}
	if cmd.EndUTC.Location() != time.UTC {
		return RescheduleResult{}, validation("Appointment.EndNotUTC", "endUtc must be a UTC instant")
	}
	if !cmd.StartUTC.Before(cmd.EndUTC) {
		return RescheduleResult{}, validation("Appointment.InvalidInterval", "startUtc must be before endUtc")
	}
	if err := checkDuration(cmd.StartUTC, cmd.EndUTC); err != nil {
		return RescheduleResult{}, err
	}
	if cmd.StartUTC.Before(now.Add(appointment.MinRescheduleLead)) {
		return RescheduleResult{}, validation("Appointment.NewSlotTooSoon",
			fmt.Sprintf("new slot must start at least %s from now", appointment.MinRescheduleLead))
	}

	overlaps, err := h.conflicts.Overlaps(ctx, a.DoctorID, cmd.StartUTC, cmd.EndUTC, a.ID)
	if err != nil {
		return RescheduleResult{}, fmt.Errorf("detect conflicts: %w", err)
	}
	if overlaps {
		return RescheduleResult{}, conflict("doctor already has an appointment in this interval")
	}

	if cmd.Version != 0 {
		a.Version = cmd.Version
	}
	prevStart, prevEnd := a.StartUTC, a.EndUTC
	if err := a.Reschedule(cmd.StartUTC, cmd.EndUTC, cmd.Reason); err != nil {
		return RescheduleResult{}, fromDomain(err)
	}

	events := a.TakeEvents()
	events = append(events, h.reminderEvents(ctx, a, now)...)

	if err := h.store.Update(ctx, a, events); err != nil {
		switch {
		case errors.Is(err, appointment.ErrStaleVersion):
			return RescheduleResult{}, conflict("appointment was modified concurrently")
		case errors.Is(err, appointment.ErrConflict):
			return RescheduleResult{}, conflict("doctor already has an appointment in this interval")
		}
		return RescheduleResult{}, fmt.Errorf("update appointment: %w", err)
	}
	a.Version++

	h.logger.Info("appointment rescheduled",
		"appointment_id", a.ID,
		"doctor_id", a.DoctorID,
		"start", a.StartUTC,
	)
	return RescheduleResult{
		AppointmentID:    a.ID,
		StartUTC:         a.StartUTC,
		EndUTC:           a.EndUTC,
		PreviousStartUTC: prevStart,
		PreviousEndUTC:   prevEnd,
		Version:          a.Version,
	}, nil
}
