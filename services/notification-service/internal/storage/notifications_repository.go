package storage

import (
	"context"
	"time"

	"github.com/arefin-khan/clinicsched/libs/db"
)

// Notification is one delivery attempt recorded for audit. Kind is what
// was communicated (reminder, cancellation, reschedule), Status is the
// delivery outcome.
type Notification struct {
	AppointmentID string
	PatientID     string
	Channel       string
	Recipient     string
	Kind          string
	Body          string
	Status        string
	FailureReason string
}

type NotificationRecord struct {
	ID            int64
	AppointmentID string
	PatientID     string
	Channel       string
	Recipient     string
	Kind          string
	Body          string
	Status        string
	FailureReason string
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, patient_id, channel, recipient, kind, body, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`, n.AppointmentID, n.PatientID, n.Channel, n.Recipient, n.Kind, n.Body, n.Status, n.FailureReason)
	return err
}

func (r *Repository) ListByAppointment(ctx context.Context, appointmentID string, limit int) ([]NotificationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, patient_id, channel, recipient, kind, body, status, COALESCE(failure_reason, ''), created_at
		FROM notifications
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		if err := rows.Scan(&n.ID, &n.AppointmentID, &n.PatientID, &n.Channel, &n.Recipient, &n.Kind, &n.Body, &n.Status, &n.FailureReason, &n.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
