//go:build protogen

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/arefin-khan/clinicsched/libs/runtime"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/directory"
)

func setupDirectoryRoutes(ctx context.Context, mux *http.ServeMux, logger *slog.Logger) {
	addr := runtime.Getenv("DIRECTORY_GRPC_ADDR", "directory-service:9090")
	provider, err := directory.NewProvider(addr)
	if err != nil || provider == nil {
		logger.Error("directory provider init failed", "err", err)
		return
	}

	mux.HandleFunc("/debug/directory/patient", func(w http.ResponseWriter, r *http.Request) {
		patientID := r.URL.Query().Get("patient_id")
		if patientID == "" {
			http.Error(w, "patient_id is required", http.StatusBadRequest)
			return
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		contact, ok, err := provider.PatientContact(reqCtx, patientID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"patient_id": patientID,
			"active":     ok,
			"email":      contact.Email,
			"phone":      contact.Phone,
		})
	})
}
