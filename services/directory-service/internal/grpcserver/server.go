//go:build protogen

package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	directoryv1 "github.com/arefin-khan/clinicsched/protos/gen/clinicdirectory/v1"
	"github.com/arefin-khan/clinicsched/services/directory-service/internal/storage"
)

type server struct {
	directoryv1.UnimplementedDirectoryServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	directoryv1.RegisterDirectoryServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetPatient(ctx context.Context, req *directoryv1.GetPatientRequest) (*directoryv1.GetPatientResponse, error) {
	if req.GetPatientId() == "" {
		return nil, status.Error(codes.InvalidArgument, "patient_id is required")
	}
	p, err := s.repo.GetPatient(ctx, req.GetPatientId())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "patient not found")
		}
		return nil, status.Error(codes.Internal, "patient lookup failed")
	}
	return &directoryv1.GetPatientResponse{
		PatientId: p.ID,
		FullName:  p.FullName,
		Email:     p.Email,
		Phone:     p.Phone,
		Active:    p.Active,
	}, nil
}

func (s *server) GetDoctor(ctx context.Context, req *directoryv1.GetDoctorRequest) (*directoryv1.GetDoctorResponse, error) {
	if req.GetDoctorId() == "" {
		return nil, status.Error(codes.InvalidArgument, "doctor_id is required")
	}
	d, err := s.repo.GetDoctor(ctx, req.GetDoctorId())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "doctor not found")
		}
		return nil, status.Error(codes.Internal, "doctor lookup failed")
	}
	return &directoryv1.GetDoctorResponse{
		DoctorId:  d.ID,
		FullName:  d.FullName,
		Specialty: d.Specialty,
		Active:    d.Active,
	}, nil
}
