// Package risk scores automations from detection factors and keeps an
// append-only history of every reassessment.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singura/singura/internal/telemetry"
	"github.com/singura/singura/pkg/detection"
)

// Level buckets a numeric score into an operator-facing severity.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Trigger classifies why a new assessment was appended.
type Trigger string

const (
	// TriggerAuto asks Reassess to classify the trigger itself by
	// inspecting which factors changed since the previous assessment.
	// Automatic scoring passes (e.g. the post-discovery pipeline) pass
	// this; operator-initiated calls pass TriggerManualReassessment
	// explicitly instead.
	TriggerAuto               Trigger = ""
	TriggerInitialDiscovery   Trigger = "initial_discovery"
	TriggerActivitySpike      Trigger = "activity_spike"
	TriggerPermissionChange   Trigger = "permission_change"
	TriggerDetectorUpdate     Trigger = "detector_update"
	TriggerManualReassessment Trigger = "manual_reassessment"
)

// rapidChangeDelta is the absolute score movement between two consecutive
// assessments that counts as a rapid change worth flagging, independent of
// direction or how much time elapsed between them.
const rapidChangeDelta = 50.0

// Assessment is one append-only row in an automation's risk history.
type Assessment struct {
	ID           uuid.UUID
	AutomationID uuid.UUID
	Score        float64
	Level        Level
	Trigger      Trigger
	Factors      []detection.Factor
	RapidChange  bool
	CreatedAt    time.Time
}

// HighAlert is emitted when a reassessment is both a rapid change and lands
// at LevelHigh or above.
type HighAlert struct {
	OrganizationID uuid.UUID
	AutomationID   uuid.UUID
	PreviousScore  float64
	NewScore       float64
	Level          Level
	Trigger        Trigger
}

// ScoreUpdate is emitted whenever an automation's score changes, regardless
// of severity, so subscribers can track movement without polling.
type ScoreUpdate struct {
	OrganizationID uuid.UUID
	AutomationID   uuid.UUID
	PreviousScore  float64
	NewScore       float64
	Level          Level
	Trigger        Trigger
}

// AlertSink receives HighAlert and ScoreUpdate events for onward delivery to
// the realtime bus and metrics.
type AlertSink interface {
	Publish(ctx context.Context, alert HighAlert)
	PublishScoreUpdate(ctx context.Context, update ScoreUpdate)
}

// Engine computes and persists risk assessments.
type Engine struct {
	pool *pgxpool.Pool
	sink AlertSink
}

// New creates a risk Engine. sink may be nil to disable alerting.
func New(pool *pgxpool.Pool, sink AlertSink) *Engine {
	return &Engine{pool: pool, sink: sink}
}

// Score sums every factor's signed contribution and clamps the result to
// [0,100]. Negative factors (e.g. a verified-publisher trust signal) pull
// the score down; a factor with Score 0 contributes nothing.
func Score(factors []detection.Factor) float64 {
	var sum float64
	for _, f := range factors {
		sum += f.Score
	}
	return clamp(sum, 0, 100)
}

// LevelFor buckets a 0-100 score into a Level.
func LevelFor(score float64) Level {
	switch {
	case score >= 85:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Reassess computes a new score from factors and appends it to the
// automation's history when the score differs from the previous assessment,
// or when trigger is TriggerManualReassessment (an operator-requested
// reassessment is recorded even if the score didn't move, to preserve the
// audit trail). Pass TriggerAuto to let the engine classify the trigger from
// which factors changed since the last assessment.
//
// A rapid change (|Δscore| > 50 against the previous assessment) is flagged
// on the new entry and fires a HighAlert when the new level is high or
// critical. Any score change, rapid or not, fires a ScoreUpdate.
func (e *Engine) Reassess(ctx context.Context, orgID, automationID uuid.UUID, factors []detection.Factor, trigger Trigger) (Assessment, bool, error) {
	score := Score(factors)
	level := LevelFor(score)

	previous, hasPrevious, err := e.latest(ctx, automationID)
	if err != nil {
		return Assessment{}, false, fmt.Errorf("risk: loading previous assessment: %w", err)
	}

	if trigger == TriggerAuto {
		trigger = classifyTrigger(previous, hasPrevious, factors)
	}

	if hasPrevious && trigger != TriggerManualReassessment && previous.Score == score {
		return previous, false, nil
	}

	assessment := Assessment{
		ID:           uuid.New(),
		AutomationID: automationID,
		Score:        score,
		Level:        level,
		Trigger:      trigger,
		Factors:      factors,
	}
	if hasPrevious {
		assessment.RapidChange = math.Abs(assessment.Score-previous.Score) > rapidChangeDelta
	}

	if err := e.insert(ctx, &assessment); err != nil {
		return Assessment{}, false, fmt.Errorf("risk: persisting assessment: %w", err)
	}

	if hasPrevious && e.sink != nil && previous.Score != assessment.Score {
		e.sink.PublishScoreUpdate(ctx, ScoreUpdate{
			OrganizationID: orgID,
			AutomationID:   automationID,
			PreviousScore:  previous.Score,
			NewScore:       assessment.Score,
			Level:          assessment.Level,
			Trigger:        trigger,
		})
	}

	if hasPrevious && e.sink != nil && assessment.RapidChange && isHighSeverity(assessment.Level) {
		alert := HighAlert{
			OrganizationID: orgID,
			AutomationID:   automationID,
			PreviousScore:  previous.Score,
			NewScore:       assessment.Score,
			Level:          assessment.Level,
			Trigger:        trigger,
		}
		e.sink.Publish(ctx, alert)
		telemetry.RiskHighAlertsTotal.WithLabelValues(string(trigger)).Inc()
	}

	return assessment, true, nil
}

func isHighSeverity(level Level) bool {
	return level == LevelHigh || level == LevelCritical
}

// classifyTrigger works out why a reassessment happened by comparing the
// factor contributions behind the previous assessment against the new set,
// grouped by type: a stronger permission-type contribution means
// permission_change, a stronger activity-type contribution means
// activity_spike, and anything else new is a detector_update. A first-ever
// assessment is always initial_discovery.
func classifyTrigger(previous Assessment, hasPrevious bool, factors []detection.Factor) Trigger {
	if !hasPrevious {
		return TriggerInitialDiscovery
	}

	prevByType := sumByType(previous.Factors)
	curByType := sumByType(factors)

	if curByType[detection.FactorTypePermission] > prevByType[detection.FactorTypePermission] {
		return TriggerPermissionChange
	}
	if curByType[detection.FactorTypeActivity] > prevByType[detection.FactorTypeActivity] {
		return TriggerActivitySpike
	}
	return TriggerDetectorUpdate
}

func sumByType(factors []detection.Factor) map[detection.FactorType]float64 {
	sums := make(map[detection.FactorType]float64, len(factors))
	for _, f := range factors {
		sums[f.Type] += f.Score
	}
	return sums
}

func (e *Engine) latest(ctx context.Context, automationID uuid.UUID) (Assessment, bool, error) {
	var a Assessment
	var rawFactors []byte
	err := e.pool.QueryRow(ctx, `
		SELECT id, automation_id, score, level, trigger, factors, rapid_change, created_at
		FROM risk_assessments WHERE automation_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, automationID).Scan(&a.ID, &a.AutomationID, &a.Score, &a.Level, &a.Trigger, &rawFactors, &a.RapidChange, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assessment{}, false, nil
		}
		return Assessment{}, false, err
	}
	if err := json.Unmarshal(rawFactors, &a.Factors); err != nil {
		return Assessment{}, false, fmt.Errorf("risk: decoding stored factors: %w", err)
	}
	return a, true, nil
}

func (e *Engine) insert(ctx context.Context, a *Assessment) error {
	rawFactors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("risk: encoding factors: %w", err)
	}
	return e.pool.QueryRow(ctx, `
		INSERT INTO risk_assessments (id, automation_id, score, level, trigger, factors, rapid_change, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at
	`, a.ID, a.AutomationID, a.Score, a.Level, a.Trigger, rawFactors, a.RapidChange).Scan(&a.CreatedAt)
}

// Trend returns the ordered history of assessments for an automation.
func (e *Engine) Trend(ctx context.Context, automationID uuid.UUID, since time.Time) ([]Assessment, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, automation_id, score, level, trigger, factors, rapid_change, created_at
		FROM risk_assessments WHERE automation_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, automationID, since)
	if err != nil {
		return nil, fmt.Errorf("risk: loading trend: %w", err)
	}
	defer rows.Close()

	var out []Assessment
	for rows.Next() {
		var a Assessment
		var rawFactors []byte
		if err := rows.Scan(&a.ID, &a.AutomationID, &a.Score, &a.Level, &a.Trigger, &rawFactors, &a.RapidChange, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawFactors, &a.Factors); err != nil {
			return nil, fmt.Errorf("risk: decoding stored factors: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PeakAndAverage summarizes an automation's score history since a cutoff.
func PeakAndAverage(history []Assessment) (peak, average float64) {
	if len(history) == 0 {
		return 0, 0
	}
	var sum float64
	for _, a := range history {
		sum += a.Score
		if a.Score > peak {
			peak = a.Score
		}
	}
	return peak, sum / float64(len(history))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
