package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/singura/singura/pkg/connector"
	"github.com/singura/singura/pkg/correlation"
	"github.com/singura/singura/pkg/detection"
	"github.com/singura/singura/pkg/discovery"
	"github.com/singura/singura/pkg/realtime"
	"github.com/singura/singura/pkg/risk"
)

// scoringPipeline wires a discovery run's activity stream into detection,
// risk scoring, and cross-automation correlation. It is attached to the
// discovery.Orchestrator as an ActivityHandler and an AutomationDiscoveredHandler;
// finish runs synchronously at the end of each RunFor call, once every
// automation's events for that run are collected.
type scoringPipeline struct {
	detector   *detection.Engine
	risk       *risk.Engine
	correlator *correlation.Correlator
	hub        *realtime.Hub
	logger     *slog.Logger

	mu     sync.Mutex
	events map[uuid.UUID][]connector.ActivityEvent
}

func newScoringPipeline(detector *detection.Engine, riskEngine *risk.Engine, correlator *correlation.Correlator, hub *realtime.Hub, logger *slog.Logger) *scoringPipeline {
	return &scoringPipeline{
		detector:   detector,
		risk:       riskEngine,
		correlator: correlator,
		hub:        hub,
		logger:     logger,
		events:     make(map[uuid.UUID][]connector.ActivityEvent),
	}
}

// onActivity is the discovery.ActivityHandler hook: it only buffers events,
// since detectors need a full window's worth of activity per automation,
// not one event at a time.
func (p *scoringPipeline) onActivity(_ context.Context, _, _, automationID uuid.UUID, event connector.ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[automationID] = append(p.events[automationID], event)
}

// onDiscovered is the discovery.AutomationDiscoveredHandler hook: it fires
// once per newly created automation row, giving every automation an initial
// risk.history entry (classified initial_discovery since there is no prior
// assessment) and broadcasting automation.discovered to the dashboard.
func (p *scoringPipeline) onDiscovered(ctx context.Context, orgID, _, automationID uuid.UUID, a connector.CanonicalAutomation) {
	factors := detection.TrustFactors(a.Raw)

	assessment, _, err := p.risk.Reassess(ctx, orgID, automationID, factors, risk.TriggerAuto)
	if err != nil {
		p.logger.Error("scoring pipeline: initial risk assessment failed", "error", err, "automation_id", automationID)
		return
	}

	p.hub.Broadcast(orgID, realtime.MessageAutomationDiscovered, realtime.AutomationDiscoveredPayload{
		AutomationID: automationID,
		Name:         a.Name,
		Platform:     string(a.Platform),
		RiskLevel:    string(assessment.Level),
	})
}

// finish scores every automation touched by the run just completed and
// correlates them against each other, then clears its buffer for the next
// run. Call this after discovery.Orchestrator.RunFor returns.
func (p *scoringPipeline) finish(ctx context.Context, orgID uuid.UUID) {
	p.mu.Lock()
	batch := p.events
	p.events = make(map[uuid.UUID][]connector.ActivityEvent)
	p.mu.Unlock()

	candidates := make([]correlation.Candidate, 0, len(batch))
	for automationID, events := range batch {
		result := p.detector.Evaluate(ctx, automationID.String(), events)
		if len(result.FailedDetectors) > 0 {
			p.logger.Warn("scoring pipeline: detectors failed", "automation_id", automationID, "failed", result.FailedDetectors)
		}

		// TriggerAuto lets the engine classify the trigger from which factor
		// type moved (activity_spike, permission_change, ...) instead of
		// forcing every reassessment to read as a generic detector_update.
		if _, _, err := p.risk.Reassess(ctx, orgID, automationID, result.Factors, risk.TriggerAuto); err != nil {
			p.logger.Error("scoring pipeline: risk reassessment failed", "error", err, "automation_id", automationID)
		}

		candidates = append(candidates, correlation.Candidate{
			AutomationID: automationID,
			Fingerprint:  correlation.ComputeFingerprint(events),
			Events:       events,
		})
	}

	if len(candidates) > 1 {
		if _, err := p.correlator.Correlate(ctx, orgID, candidates); err != nil {
			p.logger.Error("scoring pipeline: correlation failed", "error", err)
		}
	}
}

// realtimeNotifier adapts discovery.ProgressNotifier to the realtime bus,
// emitting discovery.progress at 0% (run start) and 100% (run finish) per
// the discovery run's lifecycle.
type realtimeNotifier struct {
	hub *realtime.Hub
}

func (n *realtimeNotifier) Progress(orgID, connectionID uuid.UUID, progress int, status discovery.Status, itemsFound int) {
	n.hub.Broadcast(orgID, realtime.MessageDiscoveryProgress, realtime.DiscoveryProgressPayload{
		ConnectionID: connectionID,
		Progress:     float64(progress),
		Status:       string(status),
		ItemsFound:   itemsFound,
	})
}

// realtimeAlertSink adapts the realtime bus to risk.AlertSink.
type realtimeAlertSink struct {
	hub *realtime.Hub
}

func (s *realtimeAlertSink) Publish(_ context.Context, alert risk.HighAlert) {
	s.hub.Broadcast(alert.OrganizationID, realtime.MessageRiskHighAlert, realtime.RiskHighAlertPayload{
		AutomationID: alert.AutomationID,
		RiskScore:    alert.NewScore,
		RiskLevel:    string(alert.Level),
	})
}

func (s *realtimeAlertSink) PublishScoreUpdate(_ context.Context, update risk.ScoreUpdate) {
	s.hub.Broadcast(update.OrganizationID, realtime.MessageRiskScoreUpdated, realtime.RiskScoreUpdatedPayload{
		AutomationID: update.AutomationID,
		OldScore:     update.PreviousScore,
		NewScore:     update.NewScore,
		Reason:       string(update.Trigger),
	})
}
