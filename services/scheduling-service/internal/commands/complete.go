package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

type CompleteCommand struct {
	AppointmentID string
	Notes         string
	Version       int64
}

type CompleteResult struct {
	AppointmentID string
	Status        appointment.Status
	CompletedUTC  time.Time
	Notes         string
	Version       int64
}

func completeResult(a *appointment.Appointment) CompleteResult {
	res := CompleteResult{
		AppointmentID: a.ID,
		Status:        a.Status,
		Notes:         a.Notes,
		Version:       a.Version,
	}
	if a.CompletedUTC != nil {
		res.CompletedUTC = *a.CompletedUTC
	}
	return res
}

// Complete marks an appointment completed. A repeat completion is a no-op
// success; completing a cancelled appointment is rejected by the aggregate.
func (h *Handler) Complete(ctx context.Context, cmd CompleteCommand) (CompleteResult, error) {
	a, err := h.store.FindByID(ctx, cmd.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return CompleteResult{}, notFound("Appointment.NotFound", "appointment does not exist")
		}
		return CompleteResult{}, fmt.Errorf("load appointment: %w", err)
	}

	if cmd.Version != 0 {
		a.Version = cmd.Version
	}
	if err := a.Complete(cmd.Notes, h.clock.Now()); err != nil {
		return CompleteResult{}, fromDomain(err)
	}
	if a.PendingEvents() == 0 {
		// Already completed; report the original timestamp and notes.
		return completeResult(a), nil
	}

	if err := h.store.Update(ctx, a, a.TakeEvents()); err != nil {
		if errors.Is(err, appointment.ErrStaleVersion) {
			return CompleteResult{}, conflict("appointment was modified concurrently")
		}
		return CompleteResult{}, fmt.Errorf("update appointment: %w", err)
	}
	a.Version++

	h.logger.Info("appointment completed", "appointment_id", a.ID)
	return completeResult(a), nil
}
