package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

type BookCommand struct {
	PatientID string
	DoctorID  string
	StartUTC  time.Time
	EndUTC    time.Time
	Notes     string
}

type BookResult struct {
	AppointmentID string
	StartUTC      time.Time
	EndUTC        time.Time
	Version       int64
}

// Book schedules a new appointment. Validation order: referenced parties
// exist, interval is well formed, duration and lead-time policy hold, the
// doctor's calendar is free. The store's exclusion constraint re-checks the
// calendar at commit, so a race between two concurrent bookings still comes
// back as a conflict.
func (h *Handler) Book(ctx context.Context, cmd BookCommand) (BookResult, error) {
	ok, err := h.directory.PatientExists(ctx, cmd.PatientID)
	if err != nil {
		return BookResult{}, fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return BookResult{}, notFound("Patient.NotFound", "patient does not exist")
	}
	ok, err = h.directory.DoctorExists(ctx, cmd.DoctorID)
	if err != nil {
		return BookResult{}, fmt.Errorf("check doctor: %w", err)
	}
	if !ok {
		return BookResult{}, notFound("Doctor.NotFound", "doctor does not exist")
	}

	a, err := appointment.Schedule(cmd.PatientID, cmd.DoctorID, cmd.StartUTC, cmd.EndUTC, cmd.Notes)
	if err != nil {
		return BookResult{}, fromDomain(err)
	}
	if err := checkDuration(a.StartUTC, a.EndUTC); err != nil {
		return BookResult{}, err
	}

	now := h.clock.Now()
	if a.StartUTC.Before(now.Add(appointment.MinBookingLead)) {
		return BookResult{}, validation("Appointment.TooSoon",
			fmt.Sprintf("appointment must start at least %s from now", appointment.MinBookingLead))
	}

	overlaps, err := h.conflicts.Overlaps(ctx, a.DoctorID, a.StartUTC, a.EndUTC, "")
	if err != nil {
		return BookResult{}, fmt.Errorf("detect conflicts: %w", err)
	}
	if overlaps {
		return BookResult{}, conflict("doctor already has an appointment in this interval")
	}

	// The id is assigned before the drain so the booked event carries it.
	a.ID = uuid.NewString()
	events := a.TakeEvents()
	events = append(events, h.reminderEvents(ctx, a, now)...)

	if err := h.store.Insert(ctx, a, events); err != nil {
		if errors.Is(err, appointment.ErrConflict) {
			return BookResult{}, conflict("doctor already has an appointment in this interval")
		}
		return BookResult{}, fmt.Errorf("insert appointment: %w", err)
	}

	h.logger.Info("appointment booked",
		"appointment_id", a.ID,
		"doctor_id", a.DoctorID,
		"patient_id", a.PatientID,
		"start", a.StartUTC,
	)
	return BookResult{
		AppointmentID: a.ID,
		StartUTC:      a.StartUTC,
		EndUTC:        a.EndUTC,
		Version:       a.Version,
	}, nil
}
