// Package quality tracks detector accuracy against ground truth and flags
// drift against previously recorded baselines.
package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Label is the human-confirmed ground truth for an automation used to
// evaluate detector output.
type Label string

const (
	LabelMalicious  Label = "malicious"
	LabelLegitimate Label = "legitimate"
)

// GroundTruthRecord is one labeled automation in an evaluation set.
type GroundTruthRecord struct {
	AutomationID uuid.UUID
	Label        Label
}

// Prediction is a detector's verdict on an automation, mirroring the
// detection engine's output shape for quality evaluation.
type Prediction struct {
	AutomationID uuid.UUID
	Predicted    Label
	Confidence   float64
	DetectorName string
	Timestamp    time.Time
}

// ConfusionMatrix tallies prediction outcomes against ground truth.
type ConfusionMatrix struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	TrueNegatives  int
}

// EvaluationResult is the full output of scoring a detector's predictions
// against a ground truth set.
type EvaluationResult struct {
	DetectorName    string
	SampleSize      int
	Precision       float64
	Recall          float64
	F1              float64
	ConfusionMatrix ConfusionMatrix
	FalsePositives  []uuid.UUID
	FalseNegatives  []uuid.UUID
}

// Evaluate scores predictions against ground truth. An automation labeled
// malicious with no corresponding prediction counts as a false negative —
// silence is not innocence.
func Evaluate(detectorName string, groundTruth []GroundTruthRecord, predictions []Prediction) EvaluationResult {
	predicted := make(map[uuid.UUID]Prediction, len(predictions))
	for _, p := range predictions {
		predicted[p.AutomationID] = p
	}

	var matrix ConfusionMatrix
	var falsePositives, falseNegatives []uuid.UUID

	for _, gt := range groundTruth {
		p, hasPrediction := predicted[gt.AutomationID]

		switch {
		case gt.Label == LabelMalicious && hasPrediction && p.Predicted == LabelMalicious:
			matrix.TruePositives++
		case gt.Label == LabelMalicious && (!hasPrediction || p.Predicted == LabelLegitimate):
			matrix.FalseNegatives++
			falseNegatives = append(falseNegatives, gt.AutomationID)
		case gt.Label == LabelLegitimate && hasPrediction && p.Predicted == LabelMalicious:
			matrix.FalsePositives++
			falsePositives = append(falsePositives, gt.AutomationID)
		case gt.Label == LabelLegitimate && (!hasPrediction || p.Predicted == LabelLegitimate):
			matrix.TrueNegatives++
		}
	}

	precision := ratio(matrix.TruePositives, matrix.TruePositives+matrix.FalsePositives)
	recall := ratio(matrix.TruePositives, matrix.TruePositives+matrix.FalseNegatives)

	return EvaluationResult{
		DetectorName:    detectorName,
		SampleSize:      len(groundTruth),
		Precision:       precision,
		Recall:          recall,
		F1:              harmonicMean(precision, recall),
		ConfusionMatrix: matrix,
		FalsePositives:  falsePositives,
		FalseNegatives:  falseNegatives,
	}
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func harmonicMean(precision, recall float64) float64 {
	if precision == 0 || recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// primarySampleSize is the minimum sample count for a baseline to be
// treated as authoritative rather than merely informative.
const primarySampleSize = 100

// defaultMaxBaselinesPerDetector bounds how much history is retained per
// detector when a Store is built with NewStore, which callers that don't
// need the configurable limit can use directly.
const defaultMaxBaselinesPerDetector = 10

// DetectorBaseline is a versioned snapshot of a detector's measured
// accuracy, used as the reference point for drift detection.
type DetectorBaseline struct {
	ID           uuid.UUID
	DetectorName string
	Version      int
	Precision    float64
	Recall       float64
	F1           float64
	SampleSize   int
	CreatedAt    time.Time
}

// IsPrimary reports whether this baseline meets the sample-size bar to be
// treated as authoritative for drift comparisons.
func (b DetectorBaseline) IsPrimary() bool {
	return b.SampleSize >= primarySampleSize
}

// Store persists detector baselines.
type Store struct {
	pool           *pgxpool.Pool
	maxPerDetector int
}

// NewStore creates a baseline Store retaining defaultMaxBaselinesPerDetector
// versions per detector.
func NewStore(pool *pgxpool.Pool) *Store {
	return NewStoreWithRetention(pool, defaultMaxBaselinesPerDetector)
}

// NewStoreWithRetention creates a baseline Store with an operator-configured
// per-detector history limit.
func NewStoreWithRetention(pool *pgxpool.Pool, maxPerDetector int) *Store {
	return &Store{pool: pool, maxPerDetector: maxPerDetector}
}

// Record appends a new baseline version for a detector, then trims history
// back down to maxPerDetector by deleting the oldest rows.
func (s *Store) Record(ctx context.Context, result EvaluationResult) (DetectorBaseline, error) {
	version, err := s.nextVersion(ctx, result.DetectorName)
	if err != nil {
		return DetectorBaseline{}, fmt.Errorf("quality: computing next baseline version: %w", err)
	}

	b := DetectorBaseline{
		ID:           uuid.New(),
		DetectorName: result.DetectorName,
		Version:      version,
		Precision:    result.Precision,
		Recall:       result.Recall,
		F1:           result.F1,
		SampleSize:   result.SampleSize,
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO detector_baselines (id, detector_name, version, precision, recall, f1, sample_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING created_at
	`, b.ID, b.DetectorName, b.Version, b.Precision, b.Recall, b.F1, b.SampleSize).Scan(&b.CreatedAt)
	if err != nil {
		return DetectorBaseline{}, fmt.Errorf("quality: inserting baseline: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM detector_baselines
		WHERE detector_name = $1 AND id NOT IN (
			SELECT id FROM detector_baselines WHERE detector_name = $1
			ORDER BY version DESC LIMIT $2
		)
	`, b.DetectorName, s.maxPerDetector); err != nil {
		return DetectorBaseline{}, fmt.Errorf("quality: trimming baseline history: %w", err)
	}

	return b, nil
}

func (s *Store) nextVersion(ctx context.Context, detectorName string) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM detector_baselines WHERE detector_name = $1
	`, detectorName).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// PriorTo returns the baseline immediately preceding the given version, for
// comparing the two most recent evaluations of a detector.
func (s *Store) PriorTo(ctx context.Context, detectorName string, version int) (DetectorBaseline, bool, error) {
	var b DetectorBaseline
	err := s.pool.QueryRow(ctx, `
		SELECT id, detector_name, version, precision, recall, f1, sample_size, created_at
		FROM detector_baselines WHERE detector_name = $1 AND version < $2
		ORDER BY version DESC LIMIT 1
	`, detectorName, version).Scan(&b.ID, &b.DetectorName, &b.Version, &b.Precision, &b.Recall, &b.F1, &b.SampleSize, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DetectorBaseline{}, false, nil
		}
		return DetectorBaseline{}, false, err
	}
	return b, true, nil
}

// Latest returns the most recent baseline for a detector, if any.
func (s *Store) Latest(ctx context.Context, detectorName string) (DetectorBaseline, bool, error) {
	var b DetectorBaseline
	err := s.pool.QueryRow(ctx, `
		SELECT id, detector_name, version, precision, recall, f1, sample_size, created_at
		FROM detector_baselines WHERE detector_name = $1
		ORDER BY version DESC LIMIT 1
	`, detectorName).Scan(&b.ID, &b.DetectorName, &b.Version, &b.Precision, &b.Recall, &b.F1, &b.SampleSize, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DetectorBaseline{}, false, nil
		}
		return DetectorBaseline{}, false, err
	}
	return b, true, nil
}
