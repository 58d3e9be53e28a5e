// Package discovery orchestrates running a connector against a platform
// connection: enumerate automations, upsert them idempotently, then stream
// each one's recent activity into the detection pipeline.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singura/singura/pkg/automation"
	"github.com/singura/singura/pkg/connector"
)

// Status is the terminal or in-flight state of a DiscoveryRun.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ErrAlreadyRunning is returned when a discovery run is requested for a
// connection that already has one in flight.
var ErrAlreadyRunning = errors.New("discovery: a run is already in progress for this connection")

// Run is a single discovery execution against one platform connection.
type Run struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	PlatformConnectionID uuid.UUID
	Status               Status
	AutomationsFound     int
	ActivityEventsFound  int
	ErrorMessage         string
	StartedAt            time.Time
	CompletedAt          *time.Time
}

// ActivityHandler receives each activity event discovered during a run, for
// hand-off into the detection pipeline. It must not block.
type ActivityHandler func(ctx context.Context, orgID, connectionID uuid.UUID, automationID uuid.UUID, event connector.ActivityEvent)

// AutomationDiscoveredHandler fires once per automation newly created by a
// run (never on an update to an existing one), so a caller can give it an
// initial risk assessment and announce it on the realtime bus. It must not
// block.
type AutomationDiscoveredHandler func(ctx context.Context, orgID, connectionID, automationID uuid.UUID, a connector.CanonicalAutomation)

// ProgressNotifier receives discovery.progress events for the realtime bus,
// at the start (0%) and end (100%) of a run.
type ProgressNotifier interface {
	Progress(orgID, connectionID uuid.UUID, progress int, status Status, itemsFound int)
}

// CredentialChecker validates that a connection still has usable credentials
// before a run touches the platform. *oauthlifecycle.Manager satisfies this
// directly.
type CredentialChecker interface {
	GetValid(ctx context.Context, connectionID uuid.UUID, platform connector.Platform) (string, error)
}

// Orchestrator runs discovery against platform connections, enforcing that
// at most one run is in flight per connection at a time.
type Orchestrator struct {
	pool          *pgxpool.Pool
	automations   *automation.Store
	logger        *slog.Logger
	notifier      ProgressNotifier
	credentials   CredentialChecker
	windowDefault time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// New creates an Orchestrator. credentials is consulted at the start of
// every run to confirm the connection still has usable credentials; pass
// the oauthlifecycle.Manager already wired for token refresh.
func New(pool *pgxpool.Pool, automations *automation.Store, logger *slog.Logger, notifier ProgressNotifier, credentials CredentialChecker, windowDefault time.Duration) *Orchestrator {
	return &Orchestrator{
		pool:          pool,
		automations:   automations,
		logger:        logger,
		notifier:      notifier,
		credentials:   credentials,
		windowDefault: windowDefault,
		running:       make(map[uuid.UUID]struct{}),
	}
}

// RunFor executes discovery for a single platform connection using conn.
// onActivity is invoked for every activity event found; onDiscovered fires
// once per newly created automation. Both hooks are the ones the scoring
// pipeline attaches to.
func (o *Orchestrator) RunFor(ctx context.Context, orgID, connectionID uuid.UUID, platform connector.Platform, conn connector.Connector, onActivity ActivityHandler, onDiscovered AutomationDiscoveredHandler) (Run, error) {
	if err := o.acquire(connectionID); err != nil {
		return Run{}, err
	}
	defer o.release(connectionID)

	run := Run{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		PlatformConnectionID: connectionID,
		Status:               StatusRunning,
		StartedAt:            time.Now(),
	}

	if _, err := o.credentials.GetValid(ctx, connectionID, platform); err != nil {
		run.Status = StatusFailed
		run.ErrorMessage = fmt.Sprintf("no valid credentials for connection %s: %v", connectionID, err)
		if insertErr := o.insertRun(ctx, run); insertErr != nil {
			o.logger.Error("discovery: recording failed run", "error", insertErr, "run_id", run.ID)
		}
		o.finish(ctx, run)
		return run, fmt.Errorf("discovery: %s", run.ErrorMessage)
	}

	if err := o.insertRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("discovery: recording run start: %w", err)
	}
	if o.notifier != nil {
		o.notifier.Progress(orgID, connectionID, 0, run.Status, 0)
	}

	automations, err := conn.ListAutomations(ctx)
	if err != nil {
		run.Status = StatusFailed
		run.ErrorMessage = err.Error()
		o.finish(ctx, run)
		return run, fmt.Errorf("discovery: listing automations: %w", err)
	}

	until := time.Now()
	since := until.Add(-o.windowDefault)

	var partialFailure bool
	for _, a := range automations {
		automationID, created, err := o.automations.Upsert(ctx, orgID, connectionID, run.ID, a)
		if err != nil {
			o.logger.Error("discovery: upserting automation", "error", err, "external_id", a.ExternalID)
			partialFailure = true
			continue
		}
		run.AutomationsFound++

		if created && onDiscovered != nil {
			onDiscovered(ctx, orgID, connectionID, automationID, a)
		}

		batch, err := conn.StreamActivity(ctx, a.ExternalID, since, until)
		if err != nil {
			o.logger.Error("discovery: streaming activity", "error", err, "external_id", a.ExternalID)
			partialFailure = true
			continue
		}

		for _, ev := range batch.Events {
			run.ActivityEventsFound++
			if onActivity != nil {
				onActivity(ctx, orgID, connectionID, automationID, ev)
			}
		}
	}

	switch {
	case partialFailure && run.AutomationsFound > 0:
		run.Status = StatusPartial
	case partialFailure:
		run.Status = StatusFailed
	default:
		run.Status = StatusSucceeded
	}

	o.finish(ctx, run)
	return run, nil
}

func (o *Orchestrator) acquire(connectionID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[connectionID]; ok {
		return ErrAlreadyRunning
	}
	o.running[connectionID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(connectionID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, connectionID)
}

func (o *Orchestrator) insertRun(ctx context.Context, run Run) error {
	_, err := o.pool.Exec(ctx, `
		INSERT INTO discovery_runs (id, organization_id, platform_connection_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.OrganizationID, run.PlatformConnectionID, run.Status, run.StartedAt)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, run Run) {
	now := time.Now()
	run.CompletedAt = &now

	_, err := o.pool.Exec(ctx, `
		UPDATE discovery_runs
		SET status = $1, automations_found = $2, activity_events_found = $3, error_message = $4, completed_at = $5
		WHERE id = $6
	`, run.Status, run.AutomationsFound, run.ActivityEventsFound, nullIfEmpty(run.ErrorMessage), now, run.ID)
	if err != nil {
		o.logger.Error("discovery: recording run completion", "error", err, "run_id", run.ID)
	}

	if o.notifier != nil {
		o.notifier.Progress(run.OrganizationID, run.PlatformConnectionID, 100, run.Status, run.AutomationsFound)
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
