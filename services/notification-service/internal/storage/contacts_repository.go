package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/arefin-khan/clinicsched/libs/db"
)

// Contact is the locally cached patient contact info, fed by directory
// events. Lifecycle notices (cancellation, reschedule) resolve their
// recipient here because those events carry no contact details.
type Contact struct {
	PatientID string
	FullName  string
	Email     string
	Phone     string
	Active    bool
}

type ContactsRepository struct {
	pool *db.Pool
}

func NewContactsRepository(pool *db.Pool) *ContactsRepository {
	return &ContactsRepository{pool: pool}
}

func (r *ContactsRepository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_contacts (patient_id, full_name, email, phone, active)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		ON CONFLICT (patient_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    active = EXCLUDED.active,
		    updated_at = now()
	`, c.PatientID, c.FullName, c.Email, c.Phone, c.Active)
	return err
}

// Get returns (contact, false, nil) when the patient is unknown.
func (r *ContactsRepository) Get(ctx context.Context, patientID string) (Contact, bool, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id, full_name, COALESCE(email, ''), COALESCE(phone, ''), active
		FROM patient_contacts
		WHERE patient_id = $1
	`, patientID).Scan(&c.PatientID, &c.FullName, &c.Email, &c.Phone, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, false, nil
		}
		return Contact{}, false, err
	}
	return c, true, nil
}
