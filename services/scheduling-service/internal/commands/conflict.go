package commands

import (
	"context"
	"time"
)

// ConflictDetector asks the store whether any other non-cancelled
// appointment for the doctor overlaps the candidate interval. Half-open
// rule: [a.start, a.end) overlaps [b.start, b.end) iff a.start < b.end and
// a.end > b.start, so back-to-back bookings never conflict.
//
// This reads committed state only. Two concurrent inserts can both pass it;
// the store's exclusion constraint is what finally rejects the loser.
type ConflictDetector struct {
	store Store
}

func NewConflictDetector(store Store) *ConflictDetector {
	return &ConflictDetector{store: store}
}

// Overlaps reports whether the candidate interval collides with another
// appointment. excludeID ignores the appointment being moved on reschedule.
func (d *ConflictDetector) Overlaps(ctx context.Context, doctorID string, startUTC, endUTC time.Time, excludeID string) (bool, error) {
	return d.store.HasOverlap(ctx, doctorID, startUTC, endUTC, excludeID)
}
