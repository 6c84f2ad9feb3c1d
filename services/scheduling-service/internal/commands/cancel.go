package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

type CancelCommand struct {
	AppointmentID string
	Reason        string
	Version       int64
}

type CancelResult struct {
	AppointmentID      string
	Status             appointment.Status
	CancelledUTC       time.Time
	CancellationReason string
	Version            int64
}

func cancelResult(a *appointment.Appointment) CancelResult {
	res := CancelResult{
		AppointmentID:      a.ID,
		Status:             a.Status,
		CancellationReason: a.CancellationReason,
		Version:            a.Version,
	}
	if a.CancelledUTC != nil {
		res.CancelledUTC = *a.CancelledUTC
	}
	return res
}

// Cancel cancels an appointment. Repeat cancels succeed without touching the
// row or emitting anything, so a retried request cannot overwrite the
// original reason or timestamp.
func (h *Handler) Cancel(ctx context.Context, cmd CancelCommand) (CancelResult, error) {
	a, err := h.store.FindByID(ctx, cmd.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return CancelResult{}, notFound("Appointment.NotFound", "appointment does not exist")
		}
		return CancelResult{}, fmt.Errorf("load appointment: %w", err)
	}

	if cmd.Version != 0 {
		a.Version = cmd.Version
	}
	if err := a.Cancel(cmd.Reason, h.clock.Now()); err != nil {
		return CancelResult{}, fromDomain(err)
	}
	if a.PendingEvents() == 0 {
		// Already cancelled; report the original reason and timestamp.
		return cancelResult(a), nil
	}

	if err := h.store.Update(ctx, a, a.TakeEvents()); err != nil {
		if errors.Is(err, appointment.ErrStaleVersion) {
			return CancelResult{}, conflict("appointment was modified concurrently")
		}
		return CancelResult{}, fmt.Errorf("update appointment: %w", err)
	}
	a.Version++

	h.logger.Info("appointment cancelled", "appointment_id", a.ID, "reason", cmd.Reason)
	return cancelResult(a), nil
}
