package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/commands"
)

// DirectoryRepository reads and maintains the local patient/doctor cache
// tables fed by directory-service events. The scheduling command path only
// ever touches this cache, never the directory service itself.
type DirectoryRepository struct {
	pool *db.Pool
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

type PatientRecord struct {
	PatientID string
	FullName  string
	Email     string
	Phone     string
	Active    bool
	UpdatedAt time.Time
}

type DoctorRecord struct {
	DoctorID  string
	FullName  string
	Specialty string
	Active    bool
	UpdatedAt time.Time
}

func (r *DirectoryRepository) UpsertPatient(ctx context.Context, tx pgx.Tx, p PatientRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO patients_cache (patient_id, full_name, email, phone, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id)
		DO UPDATE SET full_name = EXCLUDED.full_name,
		              email = EXCLUDED.email,
		              phone = EXCLUDED.phone,
		              active = EXCLUDED.active,
		              updated_at = now()
	`, p.PatientID, p.FullName, p.Email, p.Phone, p.Active)
	return err
}

func (r *DirectoryRepository) UpsertDoctor(ctx context.Context, tx pgx.Tx, d DoctorRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO doctors_cache (doctor_id, full_name, specialty, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id)
		DO UPDATE SET full_name = EXCLUDED.full_name,
		              specialty = EXCLUDED.specialty,
		              active = EXCLUDED.active,
		              updated_at = now()
	`, d.DoctorID, d.FullName, d.Specialty, d.Active)
	return err
}

func (r *DirectoryRepository) PatientExists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patients_cache WHERE patient_id = $1 AND active
		)
	`, patientID).Scan(&exists)
	return exists, err
}

func (r *DirectoryRepository) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctors_cache WHERE doctor_id = $1 AND active
		)
	`, doctorID).Scan(&exists)
	return exists, err
}

func (r *DirectoryRepository) PatientContact(ctx context.Context, patientID string) (commands.Contact, bool, error) {
	var c commands.Contact
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(email, ''), COALESCE(phone, '')
		FROM patients_cache
		WHERE patient_id = $1 AND active
	`, patientID).Scan(&c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return commands.Contact{}, false, nil
		}
		return commands.Contact{}, false, err
	}
	return c, true, nil
}
