// Package connector defines the common contract every SaaS platform
// integration implements: list the automation actors visible through that
// platform's admin API, and stream the activity events they generate.
package connector

import (
	"context"
	"time"
)

// Platform identifies a supported SaaS platform.
type Platform string

const (
	PlatformSlack     Platform = "slack"
	PlatformGoogle    Platform = "google"
	PlatformMicrosoft Platform = "microsoft"
)

// ActionType classifies what an automation did in a single activity event.
type ActionType string

const (
	ActionMessageSent       ActionType = "message_sent"
	ActionFileAccessed      ActionType = "file_accessed"
	ActionFileShared        ActionType = "file_shared"
	ActionDataExported      ActionType = "data_exported"
	ActionPermissionGrant   ActionType = "permission_granted"
	ActionAPICall           ActionType = "api_call"
	ActionWorkflowTriggered ActionType = "workflow_triggered"
)

// CanonicalAutomation is a platform's automation actor (bot, app, OAuth
// grant, workflow) normalized to a single cross-platform shape.
type CanonicalAutomation struct {
	ExternalID          string
	Platform            Platform
	Name                string
	Description         string
	PermissionsRequired []string
	CreatedAt           time.Time
	OwnerExternalID     string
	Raw                 map[string]any
}

// ActivityEvent is a single normalized action performed by an automation.
type ActivityEvent struct {
	ExternalID           string
	AutomationExternalID string
	Platform             Platform
	Action               ActionType
	OccurredAt           time.Time
	ActorExternalID      string
	TargetResource       string
	DataVolumeBytes      int64
	Metadata             map[string]any
}

// Connector is implemented by every platform integration.
type Connector interface {
	Platform() Platform

	// ListAutomations enumerates every automation actor currently visible
	// through the platform's admin API.
	ListAutomations(ctx context.Context) ([]CanonicalAutomation, error)

	// StreamActivity returns activity events for the given automation in
	// [since, until). Malformed events are dropped rather than aborting
	// the whole call; callers can inspect DroppedCount on the result.
	StreamActivity(ctx context.Context, automationExternalID string, since, until time.Time) (ActivityBatch, error)
}

// ActivityBatch is the result of a StreamActivity call.
type ActivityBatch struct {
	Events       []ActivityEvent
	DroppedCount int
}

// TokenSource supplies the bearer credential a connector should use for its
// next call. Implementations typically wrap an oauthlifecycle.Manager so
// the connector never sees refresh logic.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
