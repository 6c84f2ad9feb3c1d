package appointment

import "time"

// Scheduling policy constants. Handlers consult these for temporal rules;
// the aggregate only uses the length limits.
const (
	MinDuration = 10 * time.Minute
	MaxDuration = 8 * time.Hour

	// MinBookingLead is how far before the start a booking must be made.
	MinBookingLead = 15 * time.Minute

	// RescheduleCutoff closes rescheduling within this window before the
	// appointment's current start.
	RescheduleCutoff = 24 * time.Hour

	// MinRescheduleLead is how far before the new start a reschedule must land.
	MinRescheduleLead = 2 * time.Hour

	MaxNotesLen  = 1024
	MaxReasonLen = 512
)
