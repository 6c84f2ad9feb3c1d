package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

// Handler orchestrates the four scheduling commands. Each command is an
// independent, short-lived unit of work: existence checks, conflict
// detection, the aggregate transition, then a single store call that commits
// the row together with the drained events. There is no in-process locking;
// the store's version column and overlap constraint resolve concurrent
// writers.
type Handler struct {
	store     Store
	directory Directory
	clock     Clock
	conflicts *ConflictDetector
	logger    *slog.Logger

	// reminderOffsets are subtracted from the appointment start to derive
	// reminder fan-out times on book/reschedule.
	reminderOffsets []time.Duration
}

func NewHandler(store Store, directory Directory, clock Clock, logger *slog.Logger, reminderOffsets []time.Duration) *Handler {
	if clock == nil {
		clock = UTCClock{}
	}
	return &Handler{
		store:           store,
		directory:       directory,
		clock:           clock,
		conflicts:       NewConflictDetector(store),
		logger:          logger,
		reminderOffsets: reminderOffsets,
	}
}

// checkDuration enforces the policy duration bounds on an already-ordered
// interval.
func checkDuration(startUTC, endUTC time.Time) error {
	d := endUTC.Sub(startUTC)
	if d < appointment.MinDuration {
		return validation("Appointment.DurationTooShort",
			fmt.Sprintf("appointment must last at least %s", appointment.MinDuration))
	}
	if d > appointment.MaxDuration {
		return validation("Appointment.DurationTooLong",
			fmt.Sprintf("appointment must last at most %s", appointment.MaxDuration))
	}
	return nil
}

// reminderEvents builds reminder fan-out events for each configured offset
// whose remind-at instant is still in the future. A patient without a cached
// contact gets no reminders; that is not an error.
func (h *Handler) reminderEvents(ctx context.Context, a *appointment.Appointment, now time.Time) []appointment.Event {
	if len(h.reminderOffsets) == 0 {
		return nil
	}
	contact, ok, err := h.directory.PatientContact(ctx, a.PatientID)
	if err != nil {
		h.logger.Warn("patient contact lookup failed; skipping reminders", "err", err, "patient_id", a.PatientID)
		return nil
	}
	if !ok {
		return nil
	}

	var events []appointment.Event
	for _, offset := range h.reminderOffsets {
		remindAt := a.StartUTC.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		if contact.Email != "" {
			events = append(events, &appointment.ReminderRequested{
				AppointmentID: a.ID,
				PatientID:     a.PatientID,
				DoctorID:      a.DoctorID,
				Channel:       "email",
				Recipient:     contact.Email,
				StartUTC:      a.StartUTC,
				RemindAtUTC:   remindAt,
			})
		}
		if contact.Phone != "" {
			events = append(events, &appointment.ReminderRequested{
				AppointmentID: a.ID,
				PatientID:     a.PatientID,
				DoctorID:      a.DoctorID,
				Channel:       "sms",
				Recipient:     contact.Phone,
				StartUTC:      a.StartUTC,
				RemindAtUTC:   remindAt,
			})
		}
	}
	return events
}
