// Package organization stores the tenant-equivalent root entity every other
// record is scoped to: Organization is a plain row, not a schema (see
// DESIGN.md's multi-tenancy decision).
package organization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an organization id has no matching row.
var ErrNotFound = errors.New("organization: not found")

// Organization is the root tenant entity.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Store persists Organization rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an organization Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new organization.
func (s *Store) Create(ctx context.Context, name string) (Organization, error) {
	org := Organization{ID: uuid.New(), Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, now()) RETURNING created_at`,
		org.ID, org.Name,
	).Scan(&org.CreatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("organization: creating: %w", err)
	}
	return org, nil
}

// Get fetches an organization by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Organization, error) {
	var org Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("organization: loading: %w", err)
	}
	return org, nil
}
