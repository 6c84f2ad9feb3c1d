package directory

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/storage"
)

// Topics published by directory-service that feed the local cache.
const (
	TopicPatientRegistered = "directory.patient.registered.v1"
	TopicPatientUpdated    = "directory.patient.updated.v1"
	TopicDoctorRegistered  = "directory.doctor.registered.v1"
	TopicDoctorUpdated     = "directory.doctor.updated.v1"
)

func Topics() []string {
	return []string{
		TopicPatientRegistered,
		TopicPatientUpdated,
		TopicDoctorRegistered,
		TopicDoctorUpdated,
	}
}

type patientPayload struct {
	PatientID string `json:"patient_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Active    bool   `json:"active"`
}

type doctorPayload struct {
	DoctorID  string `json:"doctor_id"`
	FullName  string `json:"full_name"`
	Specialty string `json:"specialty"`
	Active    bool   `json:"active"`
}

// Applier folds directory events into the patients/doctors cache tables.
// Malformed payloads are logged and dropped, not retried.
type Applier struct {
	pool   *db.Pool
	repo   *storage.DirectoryRepository
	logger *slog.Logger
}

func NewApplier(pool *db.Pool, repo *storage.DirectoryRepository, logger *slog.Logger) *Applier {
	return &Applier{pool: pool, repo: repo, logger: logger}
}

func (a *Applier) Handle(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case TopicPatientRegistered, TopicPatientUpdated:
		return a.applyPatient(ctx, msg)
	case TopicDoctorRegistered, TopicDoctorUpdated:
		return a.applyDoctor(ctx, msg)
	default:
		a.logger.Warn("unexpected topic", "topic", msg.Topic)
		return nil
	}
}

func (a *Applier) applyPatient(ctx context.Context, msg kafka.Message) error {
	var payload patientPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		a.logger.Error("invalid patient payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.PatientID == "" {
		a.logger.Error("patient event missing patient_id", "topic", msg.Topic)
		return nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := a.repo.UpsertPatient(ctx, tx, storage.PatientRecord{
		PatientID: payload.PatientID,
		FullName:  payload.FullName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Active:    payload.Active,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (a *Applier) applyDoctor(ctx context.Context, msg kafka.Message) error {
	var payload doctorPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		a.logger.Error("invalid doctor payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.DoctorID == "" {
		a.logger.Error("doctor event missing doctor_id", "topic", msg.Topic)
		return nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := a.repo.UpsertDoctor(ctx, tx, storage.DoctorRecord{
		DoctorID:  payload.DoctorID,
		FullName:  payload.FullName,
		Specialty: payload.Specialty,
		Active:    payload.Active,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
