// Package oauthlifecycle manages the refresh/revoke lifecycle of OAuth
// credentials for platform connections. Concurrent callers asking for the
// same connection's token collapse into a single upstream refresh call via
// singleflight.
package oauthlifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/singura/singura/pkg/connection"
	"github.com/singura/singura/pkg/connector"
	"github.com/singura/singura/pkg/cryptostore"
	"github.com/singura/singura/pkg/realtime"
)

// ErrInvalidGrant means the refresh token itself is no longer valid — the
// connection must be re-authorized by the user, retrying will never help.
var ErrInvalidGrant = errors.New("oauthlifecycle: refresh token is invalid or revoked")

// platformEndpoints builds the platform-to-oauth2.Endpoint map for token
// refresh requests. Microsoft's endpoint is tenant-scoped: microsoftTenantID
// is normally the operator's own Azure AD tenant rather than "common", since
// refreshing a token against the wrong tenant's authority fails even with a
// correct client secret.
func platformEndpoints(microsoftTenantID string) map[connector.Platform]oauth2.Endpoint {
	if microsoftTenantID == "" {
		microsoftTenantID = "common"
	}
	return map[connector.Platform]oauth2.Endpoint{
		connector.PlatformGoogle: {
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		connector.PlatformSlack: {
			AuthURL:  "https://slack.com/oauth/v2/authorize",
			TokenURL: "https://slack.com/api/oauth.v2.access",
		},
		connector.PlatformMicrosoft: {
			AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", microsoftTenantID),
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", microsoftTenantID),
		},
	}
}

// ClientCredentials holds the app-level client id/secret used to exchange a
// refresh token with a platform's token endpoint.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Manager implements getValid/refresh/revoke for platform connections.
type Manager struct {
	store      *cryptostore.Store
	logger     *slog.Logger
	clients    map[connector.Platform]ClientCredentials
	endpoints  map[connector.Platform]oauth2.Endpoint
	group      singleflight.Group
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time

	// connections and hub are consulted only on a terminal refresh
	// failure, to mark the connection status=error and notify dashboard
	// subscribers. Both are nil-safe: a Manager built without them (e.g.
	// the zero-value Manager used in singleflight-only tests) simply
	// skips that side effect.
	connections *connection.Store
	hub         *realtime.Hub
}

// New builds a Manager. clients supplies per-platform OAuth app credentials;
// microsoftTenantID scopes the Microsoft Graph token endpoint to a specific
// Azure AD tenant rather than the multi-tenant "common" authority. connections
// and hub let a terminal refresh failure mark the connection status=error and
// emit a system.notification; pass nil for either to disable that wiring.
func New(store *cryptostore.Store, logger *slog.Logger, clients map[connector.Platform]ClientCredentials, microsoftTenantID string, maxRetries int, baseDelay time.Duration, connections *connection.Store, hub *realtime.Hub) *Manager {
	return &Manager{
		store:       store,
		logger:      logger,
		clients:     clients,
		endpoints:   platformEndpoints(microsoftTenantID),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		now:         time.Now,
		connections: connections,
		hub:         hub,
	}
}

// expirySkew is the safety margin GetValid applies before a token's
// reported expiry: a token expiring within this window is refreshed
// proactively rather than risk the downstream call seeing it expire
// mid-request.
const expirySkew = 5 * time.Minute

func (m *Manager) GetValid(ctx context.Context, connectionID uuid.UUID, platform connector.Platform) (string, error) {
	creds, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("oauthlifecycle: loading credentials: %w", err)
	}

	// An absent expiry means the platform never reports one; treat the
	// credential as always valid rather than refreshing on every call.
	if creds.ExpiresAt.IsZero() || m.now().Add(expirySkew).Before(creds.ExpiresAt) {
		return creds.AccessToken, nil
	}

	refreshed, err := m.Refresh(ctx, connectionID, platform)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent callers for the same connectionID share one upstream call.
func (m *Manager) Refresh(ctx context.Context, connectionID uuid.UUID, platform connector.Platform) (cryptostore.Credentials, error) {
	key := connectionID.String()

	result, err, _ := m.group.Do(key, func() (any, error) {
		return m.refreshWithRetry(ctx, connectionID, platform)
	})
	if err != nil {
		return cryptostore.Credentials{}, err
	}
	return result.(cryptostore.Credentials), nil
}

func (m *Manager) refreshWithRetry(ctx context.Context, connectionID uuid.UUID, platform connector.Platform) (cryptostore.Credentials, error) {
	creds, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: loading credentials: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(m.baseDelay, attempt)
			select {
			case <-ctx.Done():
				return cryptostore.Credentials{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		refreshed, err := m.exchangeRefreshToken(ctx, platform, creds.RefreshToken)
		if err == nil {
			refreshed.RefreshToken = coalesceRefreshToken(refreshed.RefreshToken, creds.RefreshToken)
			if storeErr := m.store.Store(ctx, connectionID, refreshed); storeErr != nil {
				return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: persisting refreshed credentials: %w", storeErr)
			}
			return refreshed, nil
		}

		if errors.Is(err, ErrInvalidGrant) {
			m.recordRefreshFailure(ctx, connectionID, "invalid_grant: re-authenticate this connection")
			return cryptostore.Credentials{}, err
		}

		lastErr = err
		m.logger.Warn("oauthlifecycle: refresh attempt failed, retrying",
			"connection_id", connectionID, "platform", platform, "attempt", attempt, "error", err)
	}

	m.recordRefreshFailure(ctx, connectionID, lastErr.Error())
	return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: refresh failed after %d attempts: %w", m.maxRetries+1, lastErr)
}

// recordRefreshFailure marks a connection status=error with a descriptive
// lastError and notifies dashboard subscribers, once a refresh has
// exhausted its retries or hit a non-retryable invalid_grant. Both the
// connection store and the event hub are optional: a Manager built without
// them (e.g. in isolated singleflight tests) skips this entirely.
func (m *Manager) recordRefreshFailure(ctx context.Context, connectionID uuid.UUID, reason string) {
	if m.connections == nil {
		return
	}

	lastError := fmt.Sprintf("refresh_failed: %s", reason)
	if err := m.connections.SetError(ctx, connectionID, lastError); err != nil {
		m.logger.Error("oauthlifecycle: recording connection error status", "connection_id", connectionID, "error", err)
		return
	}

	if m.hub == nil {
		return
	}
	conn, err := m.connections.GetByID(ctx, connectionID)
	if err != nil {
		m.logger.Error("oauthlifecycle: loading connection to notify of refresh failure", "connection_id", connectionID, "error", err)
		return
	}
	m.hub.Broadcast(conn.OrganizationID, realtime.MessageSystemNotification, realtime.SystemNotificationPayload{
		Level:   "error",
		Message: fmt.Sprintf("connection %s needs attention: %s", connectionID, lastError),
	})
}

// Revoke clears stored credentials for connectionID. Platforms that expose
// a token-revocation endpoint should additionally call it before this, but
// a failed upstream revoke must not block the local credential from being
// forgotten.
func (m *Manager) Revoke(ctx context.Context, connectionID uuid.UUID) error {
	return m.store.Remove(ctx, connectionID)
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, platform connector.Platform, refreshToken string) (cryptostore.Credentials, error) {
	creds, ok := m.clients[platform]
	if !ok {
		return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: no OAuth client configured for platform %q", platform)
	}
	endpoint, ok := m.endpoints[platform]
	if !ok {
		return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: no token endpoint known for platform %q", platform)
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
	}

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return cryptostore.Credentials{}, ErrInvalidGrant
		}
		return cryptostore.Credentials{}, fmt.Errorf("oauthlifecycle: exchanging refresh token: %w", err)
	}

	return cryptostore.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func isInvalidGrant(err error) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return rErr.ErrorCode == "invalid_grant"
	}
	return false
}

func coalesceRefreshToken(fresh, previous string) string {
	if fresh != "" {
		return fresh
	}
	return previous
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}
