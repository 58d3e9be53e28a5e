// Package detection runs a fixed panel of heuristic detectors over an
// automation's recent activity and fuses their outputs into risk factors.
// Each detector runs isolated: a panic or error in one never prevents the
// others from contributing.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/singura/singura/internal/telemetry"
	"github.com/singura/singura/pkg/connector"
)

// FactorType classifies the nature of a risk factor's contribution, used by
// the risk engine to work out why a score moved (see risk.classifyTrigger).
type FactorType string

const (
	// FactorTypeActivity covers behavioral signals derived from an
	// automation's activity stream: rate, batching, timing, off-hours use,
	// and data volume.
	FactorTypeActivity FactorType = "activity"
	// FactorTypePermission covers a permission-escalation signal.
	FactorTypePermission FactorType = "permission"
	// FactorTypeAIProvider covers the direct shadow-AI signal: activity
	// referencing a known AI provider endpoint or model.
	FactorTypeAIProvider FactorType = "ai_provider"
	// FactorTypeTrustSignal covers signals that reduce risk, such as a
	// verified publisher or a well-known marketplace listing. Always
	// carries a negative Score.
	FactorTypeTrustSignal FactorType = "trust_signal"
)

// Factor is one signed signal contributing toward an automation's risk
// score. Negative scores reduce risk (e.g. a verified-publisher signal);
// a zero score means the detector evaluated but found nothing to report.
type Factor struct {
	Type        FactorType `json:"type"`
	Score       float64    `json:"score"`
	Detector    string     `json:"detector,omitempty"`
	Description string     `json:"description,omitempty"`
}

// TrustFactors derives risk-reducing factors from a connector's raw,
// platform-native automation metadata. These never come from the activity
// stream, so they sit outside the Detector panel: callers fold them into
// the factor set passed to risk.Engine.Reassess alongside detector output.
func TrustFactors(raw map[string]any) []Factor {
	var factors []Factor
	if verified, ok := raw["verified_publisher"].(bool); ok && verified {
		factors = append(factors, Factor{
			Type:        FactorTypeTrustSignal,
			Score:       -30,
			Description: "publisher is verified",
		})
	}
	if verified, ok := raw["marketplace_verified"].(bool); ok && verified {
		factors = append(factors, Factor{
			Type:        FactorTypeTrustSignal,
			Score:       -30,
			Description: "listed in a verified marketplace",
		})
	}
	return factors
}

// Result is the fused output of running every detector over one
// automation's activity window.
type Result struct {
	AutomationID    string
	Factors         []Factor
	FailedDetectors []string
}

// Detector evaluates a window of activity events for one automation and
// returns the Factor its signal contributes; a zero Score means the signal
// did not trigger.
type Detector interface {
	Name() string
	Evaluate(ctx context.Context, events []connector.ActivityEvent) (Factor, error)
}

// Engine runs every registered Detector and fuses their output.
type Engine struct {
	detectors []Detector
	logger    *slog.Logger
}

// New builds an Engine from the given detectors.
func New(logger *slog.Logger, detectors ...Detector) *Engine {
	return &Engine{detectors: detectors, logger: logger}
}

// Names returns the registered detector names, in evaluation order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		names[i] = d.Name()
	}
	return names
}

// Evaluate runs every detector over events, isolating failures so one
// detector's error or panic doesn't discard the others' signals.
func (e *Engine) Evaluate(ctx context.Context, automationID string, events []connector.ActivityEvent) Result {
	result := Result{AutomationID: automationID}

	for _, d := range e.detectors {
		factor, err := e.runIsolated(ctx, d, events)
		if err != nil {
			e.logger.Warn("detection: detector failed", "detector", d.Name(), "automation_id", automationID, "error", err)
			result.FailedDetectors = append(result.FailedDetectors, d.Name())
			telemetry.DetectorInvocationsTotal.WithLabelValues(d.Name(), "error").Inc()
			continue
		}
		result.Factors = append(result.Factors, factor)
		outcome := "no_trigger"
		if factor.Score != 0 {
			outcome = "triggered"
		}
		telemetry.DetectorInvocationsTotal.WithLabelValues(d.Name(), outcome).Inc()
	}

	return result
}

// runIsolated recovers a panicking detector into an error so the engine
// loop keeps going.
func (e *Engine) runIsolated(ctx context.Context, d Detector, events []connector.ActivityEvent) (factor Factor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
		}
	}()
	return d.Evaluate(ctx, events)
}

// windowStats are shared summary statistics several detectors compute from
// the same event slice.
type windowStats struct {
	count      int
	span       time.Duration
	intervals  []time.Duration
	totalBytes int64
}

func computeWindowStats(events []connector.ActivityEvent) windowStats {
	if len(events) == 0 {
		return windowStats{}
	}

	stats := windowStats{count: len(events)}
	sorted := make([]connector.ActivityEvent, len(events))
	copy(sorted, events)
	sortByOccurredAt(sorted)

	stats.span = sorted[len(sorted)-1].OccurredAt.Sub(sorted[0].OccurredAt)
	for i := 1; i < len(sorted); i++ {
		stats.intervals = append(stats.intervals, sorted[i].OccurredAt.Sub(sorted[i-1].OccurredAt))
	}
	for _, e := range sorted {
		stats.totalBytes += e.DataVolumeBytes
	}

	return stats
}

func sortByOccurredAt(events []connector.ActivityEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].OccurredAt.Before(events[j-1].OccurredAt); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
