package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/outbox"
)

// AppointmentRepository persists the appointment aggregate. The appointments
// table carries a gist exclusion constraint over (doctor_id, interval) for
// active rows, so an overlap slipping past the pre-check is rejected at
// commit with a 23P01, surfaced as appointment.ErrConflict.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: ob}
}

const appointmentColumns = `
	id, patient_id, doctor_id, start_time, end_time, status,
	COALESCE(notes, ''), completed_at, cancelled_at, COALESCE(cancellation_reason, ''),
	version, created_at`

func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*appointment.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// HasOverlap applies the half-open overlap test against active rows only.
// excludeID skips the appointment being moved; empty means no exclusion.
func (r *AppointmentRepository) HasOverlap(ctx context.Context, doctorID string, startUTC, endUTC time.Time, excludeID string) (bool, error) {
	var exclude any
	if excludeID != "" {
		exclude = excludeID
	}
	var overlaps bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
				AND status IN ('scheduled', 'rescheduled')
				AND start_time < $3
				AND end_time > $2
				AND ($4::uuid IS NULL OR id <> $4::uuid)
		)
	`, doctorID, startUTC, endUTC, exclude).Scan(&overlaps)
	if err != nil {
		return false, err
	}
	return overlaps, nil
}

func (r *AppointmentRepository) Insert(ctx context.Context, a *appointment.Appointment, events []appointment.Event) error {
	envelopes, err := outbox.FromDomain(events)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, start_time, end_time, status, notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, a.ID, a.PatientID, a.DoctorID, a.StartUTC, a.EndUTC, a.Status, a.Notes, a.Version).Scan(&a.CreatedAt)
	if err != nil {
		if isExclusion(err) {
			return appointment.ErrConflict
		}
		return err
	}

	if err := r.outbox.InsertTx(ctx, tx, envelopes); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update commits the aggregate with an optimistic version check. Zero rows
// touched means another writer got there first.
func (r *AppointmentRepository) Update(ctx context.Context, a *appointment.Appointment, events []appointment.Event) error {
	envelopes, err := outbox.FromDomain(events)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			status = $5,
			notes = $6,
			completed_at = $7,
			cancelled_at = $8,
			cancellation_reason = NULLIF($9, ''),
			version = version + 1
		WHERE id = $1 AND version = $2
	`, a.ID, a.Version, a.StartUTC, a.EndUTC, a.Status, a.Notes,
		a.CompletedUTC, a.CancelledUTC, a.CancellationReason)
	if err != nil {
		if isExclusion(err) {
			return appointment.ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrStaleVersion
	}

	if err := r.outbox.InsertTx(ctx, tx, envelopes); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListByDoctor returns a doctor's appointments intersecting [from, to),
// newest first within the window.
func (r *AppointmentRepository) ListByDoctor(ctx context.Context, doctorID string, from, to time.Time, limit int) ([]*appointment.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
		LIMIT $4
	`, doctorID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]*appointment.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartUTC,
		&a.EndUTC,
		&a.Status,
		&a.Notes,
		&a.CompletedUTC,
		&a.CancelledUTC,
		&a.CancellationReason,
		&a.Version,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrNotFound
		}
		return nil, err
	}
	a.StartUTC = a.StartUTC.UTC()
	a.EndUTC = a.EndUTC.UTC()
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]*appointment.Appointment, error) {
	var appts []*appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func isExclusion(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
