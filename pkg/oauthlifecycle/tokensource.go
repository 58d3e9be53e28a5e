package oauthlifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/singura/singura/pkg/connector"
)

// ConnectionTokenSource adapts a Manager into a connector.TokenSource bound
// to one connection, so connectors never see connection ids or refresh
// logic directly.
type ConnectionTokenSource struct {
	manager      *Manager
	connectionID uuid.UUID
	platform     connector.Platform
}

// NewConnectionTokenSource binds manager to a single connection/platform.
func NewConnectionTokenSource(manager *Manager, connectionID uuid.UUID, platform connector.Platform) *ConnectionTokenSource {
	return &ConnectionTokenSource{manager: manager, connectionID: connectionID, platform: platform}
}

func (t *ConnectionTokenSource) AccessToken(ctx context.Context) (string, error) {
	return t.manager.GetValid(ctx, t.connectionID, t.platform)
}
