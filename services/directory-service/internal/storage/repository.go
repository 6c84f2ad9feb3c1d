package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arefin-khan/clinicsched/libs/db"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type Patient struct {
	ID        string
	FullName  string
	Email     string
	Phone     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        string
	FullName  string
	Specialty string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Repository) CreatePatient(ctx context.Context, tx pgx.Tx, fullName, email, phone string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO patients (full_name, email, phone)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		RETURNING id
	`, fullName, email, phone).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdatePatient(ctx context.Context, tx pgx.Tx, p Patient) error {
	tag, err := tx.Exec(ctx, `
		UPDATE patients
		SET full_name = $2,
			email = NULLIF($3, ''),
			phone = NULLIF($4, ''),
			active = $5,
			updated_at = now()
		WHERE id = $1
	`, p.ID, p.FullName, p.Email, p.Phone, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetPatient(ctx context.Context, patientID string) (Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, COALESCE(email, ''), COALESCE(phone, ''), active, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Patient{}, ErrNotFound
		}
		return Patient{}, err
	}
	return p, nil
}

func (r *Repository) ListPatients(ctx context.Context, limit int) ([]Patient, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, COALESCE(email, ''), COALESCE(phone, ''), active, created_at, updated_at
		FROM patients
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return patients, nil
}

func (r *Repository) CreateDoctor(ctx context.Context, tx pgx.Tx, fullName, specialty string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO doctors (full_name, specialty)
		VALUES ($1, $2)
		RETURNING id
	`, fullName, specialty).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateDoctor(ctx context.Context, tx pgx.Tx, d Doctor) error {
	tag, err := tx.Exec(ctx, `
		UPDATE doctors
		SET full_name = $2,
			specialty = $3,
			active = $4,
			updated_at = now()
		WHERE id = $1
	`, d.ID, d.FullName, d.Specialty, d.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetDoctor(ctx context.Context, doctorID string) (Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, specialty, active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, doctorID).Scan(&d.ID, &d.FullName, &d.Specialty, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Doctor{}, ErrNotFound
		}
		return Doctor{}, err
	}
	return d, nil
}

func (r *Repository) ListDoctors(ctx context.Context, limit int) ([]Doctor, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, specialty, active, created_at, updated_at
		FROM doctors
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FullName, &d.Specialty, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return doctors, nil
}
