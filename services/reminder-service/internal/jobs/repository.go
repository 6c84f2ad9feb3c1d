package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/arefin-khan/clinicsched/libs/otel"
)

// Job is one scheduled reminder delivery. The idempotency key makes the
// consumer safe against redelivered reminder requests; appointment_start
// ties the job to a concrete slot so a reschedule voids only the jobs
// for the old time.
type Job struct {
	ID               int64
	IdempotencyKey   string
	AppointmentID    string
	PatientID        string
	DoctorID         string
	Channel          string
	Recipient        string
	RemindAt         time.Time
	AppointmentStart time.Time
	Traceparent      string
	Tracestate       string
	Attempts         int
	MaxAttempts      int
	NextRunAt        time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO reminder_jobs (idempotency_key, appointment_id, patient_id, doctor_id, channel, recipient, remind_at, appointment_start, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.AppointmentID, job.PatientID, job.DoctorID, job.Channel, job.Recipient, job.RemindAt, job.AppointmentStart, traceparent, tracestate)
	return err
}

// VoidByAppointment cancels pending jobs for an appointment. A zero
// appointmentStart voids every pending job; a non-zero one voids only the
// jobs scheduled against that slot.
func (r *Repository) VoidByAppointment(ctx context.Context, tx pgx.Tx, appointmentID string, appointmentStart time.Time, reason string) (int64, error) {
	var start any
	if !appointmentStart.IsZero() {
		start = appointmentStart
	}
	tag, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'voided', last_error = $3, updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
		  AND ($2::timestamptz IS NULL OR appointment_start = $2::timestamptz)
	`, appointmentID, start, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, appointment_id, patient_id, doctor_id, channel, recipient, remind_at, appointment_start, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.AppointmentID, &j.PatientID, &j.DoctorID, &j.Channel, &j.Recipient, &j.RemindAt, &j.AppointmentStart, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
