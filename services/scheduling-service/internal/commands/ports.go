package commands

import (
	"context"
	"time"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

// Store is the persistence contract the command handlers run against.
// Insert and Update persist the appointment row and append the given events
// to the transactional outbox in one transaction, so a committed state
// change and its events cannot diverge.
//
// Implementations map driver-level failures onto the appointment sentinels:
// FindByID returns appointment.ErrNotFound, Insert returns
// appointment.ErrConflict when the store's overlap constraint rejects the
// row, and Update returns appointment.ErrStaleVersion when the optimistic
// version no longer matches (or appointment.ErrConflict if the moved
// interval violates the overlap constraint).
type Store interface {
	FindByID(ctx context.Context, id string) (*appointment.Appointment, error)
	HasOverlap(ctx context.Context, doctorID string, startUTC, endUTC time.Time, excludeID string) (bool, error)
	Insert(ctx context.Context, a *appointment.Appointment, events []appointment.Event) error
	Update(ctx context.Context, a *appointment.Appointment, events []appointment.Event) error
}

// Contact is a patient's reachable endpoints, used for reminder fan-out.
type Contact struct {
	Email string
	Phone string
}

// Directory answers existence checks against the patient/doctor registry.
// The default implementation reads the local cache maintained from
// directory-service events.
type Directory interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
	PatientContact(ctx context.Context, patientID string) (Contact, bool, error)
}

// Clock supplies "now" so lead-time checks and terminal timestamps stay
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type UTCClock struct{}

func (UTCClock) Now() time.Time { return time.Now().UTC() }
