package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Provider is the resolved identity of a clinician, as supplied by the
// identity collaborator. StandardFee is the default consultation fee used
// when an appointment is not bound to a care service.
type Provider struct {
	ID          uuid.UUID
	FullName    string
	Specialty   string
	StandardFee float64
}

type Patient struct {
	ID       uuid.UUID
	FullName string
	Email    string
	Phone    string
}

// IdentityResolver resolves provider and patient references. The scheduling
// core consumes identities, it does not manage them.
type IdentityResolver interface {
	Provider(ctx context.Context, id uuid.UUID) (*Provider, error)
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
}
