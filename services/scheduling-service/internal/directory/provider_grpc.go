//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/arefin-khan/clinicsched/libs/grpcx"
	directoryv1 "github.com/arefin-khan/clinicsched/protos/gen/clinicdirectory/v1"
	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/commands"
)

// Provider asks directory-service directly instead of the local cache. Used
// as a fallback lookup path when the cache has not caught up yet.
type Provider interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
	PatientContact(ctx context.Context, patientID string) (commands.Contact, bool, error)
}

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) PatientExists(ctx context.Context, patientID string) (bool, error) {
	resp, err := p.client.GetPatient(ctx, &directoryv1.GetPatientRequest{PatientId: patientID})
	if err != nil {
		return false, err
	}
	return resp.GetActive(), nil
}

func (p *grpcProvider) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	resp, err := p.client.GetDoctor(ctx, &directoryv1.GetDoctorRequest{DoctorId: doctorID})
	if err != nil {
		return false, err
	}
	return resp.GetActive(), nil
}

func (p *grpcProvider) PatientContact(ctx context.Context, patientID string) (commands.Contact, bool, error) {
	resp, err := p.client.GetPatient(ctx, &directoryv1.GetPatientRequest{PatientId: patientID})
	if err != nil {
		return commands.Contact{}, false, err
	}
	if !resp.GetActive() {
		return commands.Contact{}, false, nil
	}
	return commands.Contact{Email: resp.GetEmail(), Phone: resp.GetPhone()}, true, nil
}
