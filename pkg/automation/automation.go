// Package automation stores DiscoveredAutomation rows — the canonical,
// deduplicated record of every automation actor found by a connector —
// and serves the read API over them.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singura/singura/pkg/connector"
	"github.com/singura/singura/pkg/detection"
)

// ErrNotFound is returned when no automation matches the lookup.
var ErrNotFound = errors.New("automation: not found")

// Type classifies the kind of actor a discovered automation is.
type Type string

const (
	TypeBot             Type = "bot"
	TypeScript          Type = "script"
	TypeWorkflow        Type = "workflow"
	TypeIntegration     Type = "integration"
	TypeServiceAccount  Type = "service_account"
)

// ClassifyType derives an automation's Type from a connector's raw,
// platform-native metadata. Every connector in this platform surfaces OAuth
// app grants, so integration is the default absent a more specific signal
// in Raw["automation_type"].
func ClassifyType(raw map[string]any) Type {
	if v, ok := raw["automation_type"].(string); ok {
		switch Type(v) {
		case TypeBot, TypeScript, TypeWorkflow, TypeIntegration, TypeServiceAccount:
			return Type(v)
		}
	}
	return TypeIntegration
}

// DetectionMetadata summarizes what the detection pipeline and platform
// metadata together know about an automation's provenance and legitimacy.
type DetectionMetadata struct {
	DetectionPatterns    []string `json:"detectionPatterns,omitempty"`
	AIProvider           string   `json:"aiProvider,omitempty"`
	LegitimacyScore      *float64 `json:"legitimacyScore,omitempty"`
	VerifiedPublisher    bool     `json:"verifiedPublisher,omitempty"`
	WellKnownIntegration bool     `json:"wellKnownIntegration,omitempty"`
}

// TrustFactors mirrors the trust signals DetectionMetadata carries into the
// risk-factor shape the risk engine sums. The scoring pipeline does not call
// it: reassessments after discovery are scored from detector factors only.
func (d DetectionMetadata) TrustFactors() []detection.Factor {
	var factors []detection.Factor
	if d.VerifiedPublisher {
		factors = append(factors, detection.Factor{
			Type:        detection.FactorTypeTrustSignal,
			Score:       -30,
			Description: "publisher is verified",
		})
	}
	if d.WellKnownIntegration {
		factors = append(factors, detection.Factor{
			Type:        detection.FactorTypeTrustSignal,
			Score:       -30,
			Description: "well-known marketplace integration",
		})
	}
	return factors
}

// detectionMetadataFromRaw derives DetectionMetadata from a connector's raw,
// platform-native automation metadata, grounding VerifiedPublisher and
// WellKnownIntegration on the same raw keys detection.TrustFactors reads.
func detectionMetadataFromRaw(raw map[string]any) DetectionMetadata {
	var meta DetectionMetadata
	if v, ok := raw["verified_publisher"].(bool); ok {
		meta.VerifiedPublisher = v
	}
	if v, ok := raw["marketplace_verified"].(bool); ok {
		meta.WellKnownIntegration = v
	}
	if v, ok := raw["ai_provider"].(string); ok {
		meta.AIProvider = v
	}
	return meta
}

// DiscoveredAutomation is the persisted, canonical record for an automation
// actor found on a platform connection.
type DiscoveredAutomation struct {
	ID                   uuid.UUID          `json:"id"`
	OrganizationID       uuid.UUID          `json:"organization_id"`
	PlatformConnectionID uuid.UUID          `json:"platform_connection_id"`
	DiscoveryRunID       uuid.UUID          `json:"discovery_run_id"`
	Platform             connector.Platform `json:"platform"`
	ExternalID           string             `json:"external_id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	AutomationType       Type               `json:"automation_type"`
	PermissionsRequired  []string           `json:"permissions_required"`
	OwnerExternalID      string             `json:"owner_external_id"`
	DetectionMetadata    DetectionMetadata  `json:"detection_metadata"`
	FirstSeenAt          time.Time          `json:"first_seen_at"`
	LastSeenAt           time.Time          `json:"last_seen_at"`
}

// Store persists DiscoveredAutomation rows, upserting by the natural key
// (organization_id, platform_connection_id, external_id) so re-running
// discovery against the same connection never creates duplicates.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an automation Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Upsert inserts a new automation or refreshes last_seen_at and mutable
// fields for an existing one, keyed by (organization, connection, external
// id). runID is the discovery run that found or touched the row this time;
// it becomes the row's discovery_run_id whether this is an insert or an
// update, since that field tracks the most recent run that observed the
// automation. Returns the row's id and whether it was newly created.
func (s *Store) Upsert(ctx context.Context, orgID, connectionID, runID uuid.UUID, a connector.CanonicalAutomation) (uuid.UUID, bool, error) {
	var id uuid.UUID
	var inserted bool

	automationType := ClassifyType(a.Raw)
	detectionMetadata, err := json.Marshal(detectionMetadataFromRaw(a.Raw))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("automation: encoding detection metadata: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO discovered_automations
			(id, organization_id, platform_connection_id, discovery_run_id, platform, external_id, name, description,
			 automation_type, permissions_required, owner_external_id, detection_metadata, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (organization_id, platform_connection_id, external_id) DO UPDATE SET
			discovery_run_id = EXCLUDED.discovery_run_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			permissions_required = EXCLUDED.permissions_required,
			owner_external_id = EXCLUDED.owner_external_id,
			detection_metadata = EXCLUDED.detection_metadata,
			last_seen_at = now()
		RETURNING id, (xmax = 0) AS inserted
	`, uuid.New(), orgID, connectionID, runID, a.Platform, a.ExternalID, a.Name, a.Description,
		automationType, a.PermissionsRequired, a.OwnerExternalID, detectionMetadata).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("automation: upserting: %w", err)
	}

	return id, inserted, nil
}

// Get fetches an automation by its internal id, scoped to the organization.
func (s *Store) Get(ctx context.Context, orgID, id uuid.UUID) (DiscoveredAutomation, error) {
	return s.scanOne(ctx, `
		SELECT id, organization_id, platform_connection_id, discovery_run_id, platform, external_id, name, description,
		       automation_type, permissions_required, owner_external_id, detection_metadata, first_seen_at, last_seen_at
		FROM discovered_automations WHERE organization_id = $1 AND id = $2
	`, orgID, id)
}

// GetByExternalID fetches an automation by its platform-native id. Per the
// read API's lookup rule, a request using a raw external id (not a UUID)
// against the id-keyed endpoint must 404 rather than silently falling back
// here — callers enforce that at the handler layer, this method is the
// explicit external-id path.
func (s *Store) GetByExternalID(ctx context.Context, orgID, connectionID uuid.UUID, externalID string) (DiscoveredAutomation, error) {
	return s.scanOne(ctx, `
		SELECT id, organization_id, platform_connection_id, discovery_run_id, platform, external_id, name, description,
		       automation_type, permissions_required, owner_external_id, detection_metadata, first_seen_at, last_seen_at
		FROM discovered_automations
		WHERE organization_id = $1 AND platform_connection_id = $2 AND external_id = $3
	`, orgID, connectionID, externalID)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (DiscoveredAutomation, error) {
	var a DiscoveredAutomation
	var rawMetadata []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.OrganizationID, &a.PlatformConnectionID, &a.DiscoveryRunID, &a.Platform, &a.ExternalID, &a.Name, &a.Description,
		&a.AutomationType, &a.PermissionsRequired, &a.OwnerExternalID, &rawMetadata, &a.FirstSeenAt, &a.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DiscoveredAutomation{}, ErrNotFound
	}
	if err != nil {
		return DiscoveredAutomation{}, fmt.Errorf("automation: loading: %w", err)
	}
	if err := json.Unmarshal(rawMetadata, &a.DetectionMetadata); err != nil {
		return DiscoveredAutomation{}, fmt.Errorf("automation: decoding detection metadata: %w", err)
	}
	return a, nil
}

// List returns automations for an organization ordered by most recently
// seen first, using keyset pagination.
func (s *Store) List(ctx context.Context, orgID uuid.UUID, after *time.Time, afterID *uuid.UUID, limit int) ([]DiscoveredAutomation, error) {
	query := `
		SELECT id, organization_id, platform_connection_id, discovery_run_id, platform, external_id, name, description,
		       automation_type, permissions_required, owner_external_id, detection_metadata, first_seen_at, last_seen_at
		FROM discovered_automations
		WHERE organization_id = $1`
	args := []any{orgID}

	if after != nil && afterID != nil {
		query += fmt.Sprintf(` AND (last_seen_at, id) < ($%d, $%d)`, len(args)+1, len(args)+2)
		args = append(args, *after, *afterID)
	}

	query += fmt.Sprintf(` ORDER BY last_seen_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation: listing: %w", err)
	}
	defer rows.Close()

	var out []DiscoveredAutomation
	for rows.Next() {
		var a DiscoveredAutomation
		var rawMetadata []byte
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.PlatformConnectionID, &a.DiscoveryRunID, &a.Platform, &a.ExternalID, &a.Name,
			&a.Description, &a.AutomationType, &a.PermissionsRequired, &a.OwnerExternalID, &rawMetadata, &a.FirstSeenAt, &a.LastSeenAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawMetadata, &a.DetectionMetadata); err != nil {
			return nil, fmt.Errorf("automation: decoding detection metadata: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
