package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/arefin-khan/clinicsched/services/directory-service/internal/outbox"
	"github.com/arefin-khan/clinicsched/services/directory-service/internal/storage"
)

// Handler is the patient/doctor registry surface. Every mutation writes the
// registry row and its lifecycle event in one transaction; downstream caches
// follow from the outbox feed.
type Handler struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outboxRepo: outboxRepo, logger: logger}
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

func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.FullName == "" {
		http.Error(w, "full_name is required", http.StatusBadRequest)
		return
	}
	if req.Email == "" && req.Phone == "" {
		http.Error(w, "at least one of email or phone is required", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		h.fail(w, "begin tx", err)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	id, err := h.repo.CreatePatient(r.Context(), tx, req.FullName, req.Email, req.Phone)
	if err != nil {
		h.fail(w, "create patient", err)
		return
	}
	if err := h.emit(r.Context(), tx, outbox.TopicPatientRegistered, "patient", id, patientPayload{
		PatientID: id, FullName: req.FullName, Email: req.Email, Phone: req.Phone, Active: true,
	}); err != nil {
		h.fail(w, "emit patient event", err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.fail(w, "commit", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"patient_id": id})
}

func (h *Handler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.PatientID == "" || req.FullName == "" {
		http.Error(w, "patient_id and full_name are required", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		h.fail(w, "begin tx", err)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	err = h.repo.UpdatePatient(r.Context(), tx, storage.Patient{
		ID:       req.PatientID,
		FullName: req.FullName,
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Active:   req.Active,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.fail(w, "update patient", err)
		return
	}
	if err := h.emit(r.Context(), tx, outbox.TopicPatientUpdated, "patient", req.PatientID, req); err != nil {
		h.fail(w, "emit patient event", err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.fail(w, "commit", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"patient_id": req.PatientID})
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		h.listPatients(w, r)
		return
	}
	p, err := h.repo.GetPatient(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.fail(w, "get patient", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(patientPayload{
		PatientID: p.ID, FullName: p.FullName, Email: p.Email, Phone: p.Phone, Active: p.Active,
	})
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	patients, err := h.repo.ListPatients(r.Context(), limit)
	if err != nil {
		h.fail(w, "list patients", err)
		return
	}
	items := make([]patientPayload, 0, len(patients))
	for _, p := range patients {
		items = append(items, patientPayload{
			PatientID: p.ID, FullName: p.FullName, Email: p.Email, Phone: p.Phone, Active: p.Active,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"patients": items})
}

func (h *Handler) RegisterDoctor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName  string `json:"full_name"`
		Specialty string `json:"specialty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Specialty = strings.TrimSpace(req.Specialty)
	if req.FullName == "" {
		http.Error(w, "full_name is required", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		h.fail(w, "begin tx", err)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	id, err := h.repo.CreateDoctor(r.Context(), tx, req.FullName, req.Specialty)
	if err != nil {
		h.fail(w, "create doctor", err)
		return
	}
	if err := h.emit(r.Context(), tx, outbox.TopicDoctorRegistered, "doctor", id, doctorPayload{
		DoctorID: id, FullName: req.FullName, Specialty: req.Specialty, Active: true,
	}); err != nil {
		h.fail(w, "emit doctor event", err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.fail(w, "commit", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"doctor_id": id})
}

func (h *Handler) UpdateDoctor(w http.ResponseWriter, r *http.Request) {
	var req doctorPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.DoctorID == "" || req.FullName == "" {
		http.Error(w, "doctor_id and full_name are required", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		h.fail(w, "begin tx", err)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	err = h.repo.UpdateDoctor(r.Context(), tx, storage.Doctor{
		ID:        req.DoctorID,
		FullName:  req.FullName,
		Specialty: strings.TrimSpace(req.Specialty),
		Active:    req.Active,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.fail(w, "update doctor", err)
		return
	}
	if err := h.emit(r.Context(), tx, outbox.TopicDoctorUpdated, "doctor", req.DoctorID, req); err != nil {
		h.fail(w, "emit doctor event", err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.fail(w, "commit", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"doctor_id": req.DoctorID})
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		h.listDoctors(w, r)
		return
	}
	d, err := h.repo.GetDoctor(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.fail(w, "get doctor", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doctorPayload{
		DoctorID: d.ID, FullName: d.FullName, Specialty: d.Specialty, Active: d.Active,
	})
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	doctors, err := h.repo.ListDoctors(r.Context(), limit)
	if err != nil {
		h.fail(w, "list doctors", err)
		return
	}
	items := make([]doctorPayload, 0, len(doctors))
	for _, d := range doctors {
		items = append(items, doctorPayload{
			DoctorID: d.ID, FullName: d.FullName, Specialty: d.Specialty, Active: d.Active,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"doctors": items})
}

func (h *Handler) emit(ctx context.Context, tx pgx.Tx, topic, aggregateType, aggregateID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     topic,
		Payload:       body,
	})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
