// Package connection stores PlatformConnection rows: one per
// (organization, platform, external account) credential grant, with a
// one-to-one EncryptedCredentials row held separately in pkg/cryptostore.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singura/singura/pkg/connector"
)

// Status is the lifecycle state of a platform connection.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
	StatusError   Status = "error"
)

// ErrNotFound is returned when a connection id has no matching row.
var ErrNotFound = errors.New("connection: not found")

// PlatformConnection links an organization to a credentialed platform
// account that discovery runs against.
type PlatformConnection struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	Platform          connector.Platform
	ExternalAccountID string
	Status            Status
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Store persists PlatformConnection rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new platform connection in the active state.
func (s *Store) Create(ctx context.Context, orgID uuid.UUID, platform connector.Platform, externalAccountID string) (PlatformConnection, error) {
	conn := PlatformConnection{
		ID:                uuid.New(),
		OrganizationID:    orgID,
		Platform:          platform,
		ExternalAccountID: externalAccountID,
		Status:            StatusActive,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO platform_connections (id, organization_id, platform, external_account_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, conn.ID, conn.OrganizationID, conn.Platform, conn.ExternalAccountID, conn.Status).Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return PlatformConnection{}, fmt.Errorf("connection: creating: %w", err)
	}
	return conn, nil
}

// Get fetches a connection by id, scoped to the owning organization.
func (s *Store) Get(ctx context.Context, orgID, id uuid.UUID) (PlatformConnection, error) {
	var c PlatformConnection
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, platform, external_account_id, status, COALESCE(last_error, ''), created_at, updated_at
		FROM platform_connections WHERE organization_id = $1 AND id = $2
	`, orgID, id).Scan(&c.ID, &c.OrganizationID, &c.Platform, &c.ExternalAccountID, &c.Status, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlatformConnection{}, ErrNotFound
	}
	if err != nil {
		return PlatformConnection{}, fmt.Errorf("connection: loading: %w", err)
	}
	return c, nil
}

// GetByID fetches a connection by id without organization scoping, for
// trusted internal callers (the OAuth lifecycle manager, the discovery
// worker) that don't yet have an organization id in hand.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (PlatformConnection, error) {
	var c PlatformConnection
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, platform, external_account_id, status, COALESCE(last_error, ''), created_at, updated_at
		FROM platform_connections WHERE id = $1
	`, id).Scan(&c.ID, &c.OrganizationID, &c.Platform, &c.ExternalAccountID, &c.Status, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlatformConnection{}, ErrNotFound
	}
	if err != nil {
		return PlatformConnection{}, fmt.Errorf("connection: loading: %w", err)
	}
	return c, nil
}

// ListActive returns all active connections for an organization, optionally
// filtered to one platform.
func (s *Store) ListActive(ctx context.Context, orgID uuid.UUID, platform connector.Platform) ([]PlatformConnection, error) {
	query := `
		SELECT id, organization_id, platform, external_account_id, status, COALESCE(last_error, ''), created_at, updated_at
		FROM platform_connections WHERE organization_id = $1 AND status = $2`
	args := []any{orgID, StatusActive}
	if platform != "" {
		query += ` AND platform = $3`
		args = append(args, platform)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("connection: listing: %w", err)
	}
	defer rows.Close()

	var out []PlatformConnection
	for rows.Next() {
		var c PlatformConnection
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Platform, &c.ExternalAccountID, &c.Status, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAllActive returns every active connection across every organization,
// for the worker's scheduled discovery loop.
func (s *Store) ListAllActive(ctx context.Context) ([]PlatformConnection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, platform, external_account_id, status, COALESCE(last_error, ''), created_at, updated_at
		FROM platform_connections WHERE status = $1
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("connection: listing all active: %w", err)
	}
	defer rows.Close()

	var out []PlatformConnection
	for rows.Next() {
		var c PlatformConnection
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Platform, &c.ExternalAccountID, &c.Status, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetStatus transitions a connection to a new status and clears any stored
// error, whatever the new status is. SetError records an error status
// together with its reason.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE platform_connections SET status = $1, last_error = NULL, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("connection: updating status: %w", err)
	}
	return nil
}

// SetError transitions a connection to StatusError and records a
// human-readable reason, for the OAuth lifecycle to report a refresh
// failure that requires the user to re-authenticate.
func (s *Store) SetError(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE platform_connections SET status = $1, last_error = $2, updated_at = now() WHERE id = $3`,
		StatusError, lastError, id)
	if err != nil {
		return fmt.Errorf("connection: recording refresh error: %w", err)
	}
	return nil
}
