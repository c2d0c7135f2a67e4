// Package identity resolves provider and patient references for the
// scheduling core. Identity management itself lives elsewhere; this is the
// read-only seam the core consumes.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

// PgResolver reads the providers and patients tables.
type PgResolver struct {
	pool *pgxpool.Pool
}

func NewPgResolver(pool *pgxpool.Pool) *PgResolver {
	return &PgResolver{pool: pool}
}

func (r *PgResolver) Provider(ctx context.Context, id uuid.UUID) (*scheduling.Provider, error) {
	var p scheduling.Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, specialty, standard_fee
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.Specialty, &p.StandardFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &scheduling.NotFoundError{Resource: "provider", ID: id}
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}

	return &p, nil
}

func (r *PgResolver) Patient(ctx context.Context, id uuid.UUID) (*scheduling.Patient, error) {
	var p scheduling.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, phone
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.Email, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &scheduling.NotFoundError{Resource: "patient", ID: id}
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}

	return &p, nil
}
