package quality

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func syntheticGroundTruth(malicious, legitimate int) []GroundTruthRecord {
	var records []GroundTruthRecord
	for i := 0; i < malicious; i++ {
		records = append(records, GroundTruthRecord{AutomationID: uuid.New(), Label: LabelMalicious})
	}
	for i := 0; i < legitimate; i++ {
		records = append(records, GroundTruthRecord{AutomationID: uuid.New(), Label: LabelLegitimate})
	}
	return records
}

func TestEvaluateComputesPrecisionRecallF1(t *testing.T) {
	malicious := uuid.New()
	falsePositive := uuid.New()
	missedMalicious := uuid.New()

	groundTruth := []GroundTruthRecord{
		{AutomationID: malicious, Label: LabelMalicious},
		{AutomationID: missedMalicious, Label: LabelMalicious},
		{AutomationID: falsePositive, Label: LabelLegitimate},
	}
	predictions := []Prediction{
		{AutomationID: malicious, Predicted: LabelMalicious},
		{AutomationID: falsePositive, Predicted: LabelMalicious},
		// missedMalicious has no prediction at all: must count as a false negative.
	}

	result := Evaluate("velocity", groundTruth, predictions)

	if result.ConfusionMatrix.TruePositives != 1 {
		t.Errorf("TP = %d, want 1", result.ConfusionMatrix.TruePositives)
	}
	if result.ConfusionMatrix.FalsePositives != 1 {
		t.Errorf("FP = %d, want 1", result.ConfusionMatrix.FalsePositives)
	}
	if result.ConfusionMatrix.FalseNegatives != 1 {
		t.Errorf("FN = %d, want 1", result.ConfusionMatrix.FalseNegatives)
	}
	if len(result.FalseNegatives) != 1 || result.FalseNegatives[0] != missedMalicious {
		t.Errorf("expected missing malicious automation recorded as a false negative, got %v", result.FalseNegatives)
	}

	wantPrecision := 0.5
	wantRecall := 0.5
	if result.Precision != wantPrecision {
		t.Errorf("Precision = %v, want %v", result.Precision, wantPrecision)
	}
	if result.Recall != wantRecall {
		t.Errorf("Recall = %v, want %v", result.Recall, wantRecall)
	}
	if result.F1 != wantRecall {
		t.Errorf("F1 = %v, want %v", result.F1, wantRecall)
	}
}

func TestEvaluateHighAccuracyYieldsHighF1(t *testing.T) {
	groundTruth := syntheticGroundTruth(100, 100)

	var predictions []Prediction
	maliciousCorrect := int(0.95 * 100) // recall 0.95
	for i, gt := range groundTruth {
		if gt.Label == LabelMalicious && i < maliciousCorrect {
			predictions = append(predictions, Prediction{AutomationID: gt.AutomationID, Predicted: LabelMalicious})
		}
	}
	// Add enough false positives among legitimate records to land precision at 0.92.
	truePositives := float64(len(predictions))
	falsePositivesNeeded := int(math.Round(truePositives/0.92 - truePositives))
	count := 0
	for _, gt := range groundTruth {
		if count >= falsePositivesNeeded {
			break
		}
		if gt.Label == LabelLegitimate {
			predictions = append(predictions, Prediction{AutomationID: gt.AutomationID, Predicted: LabelMalicious})
			count++
		}
	}

	result := Evaluate("ai_provider", groundTruth, predictions)

	if result.F1 < 0.93 {
		t.Errorf("expected F1 >= 0.93 for precision=0.92/recall=0.95, got %v (precision=%v recall=%v)", result.F1, result.Precision, result.Recall)
	}
}

func TestHarmonicMeanZeroWhenEitherMetricZero(t *testing.T) {
	if got := harmonicMean(0, 1); got != 0 {
		t.Errorf("harmonicMean(0,1) = %v, want 0", got)
	}
	if got := harmonicMean(1, 0); got != 0 {
		t.Errorf("harmonicMean(1,0) = %v, want 0", got)
	}
}

func TestDetectDriftCriticalPrecisionDrop(t *testing.T) {
	baseline := DetectorBaseline{DetectorName: "velocity", Precision: 0.92, Recall: 0.9, F1: 0.91, SampleSize: 150}
	current := EvaluationResult{DetectorName: "velocity", Precision: 0.84, Recall: 0.9, F1: 0.87}

	alerts := DetectDrift(baseline, current)

	var precisionAlert *DriftAlert
	for i := range alerts {
		if alerts[i].Metric == "precision" {
			precisionAlert = &alerts[i]
		}
	}
	if precisionAlert == nil {
		t.Fatal("expected a precision drift alert")
	}
	if precisionAlert.Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", precisionAlert.Severity)
	}
	if precisionAlert.PercentageChange > -0.07 {
		t.Errorf("PercentageChange = %v, want <= -0.07", precisionAlert.PercentageChange)
	}
}

func TestDetectDriftIsSymmetricAcrossRepeatedCalls(t *testing.T) {
	baseline := DetectorBaseline{DetectorName: "batch_operation", Precision: 0.9, Recall: 0.88, F1: 0.89, SampleSize: 120}
	current := EvaluationResult{DetectorName: "batch_operation", Precision: 0.8, Recall: 0.8, F1: 0.8}

	first := DetectDrift(baseline, current)
	second := DetectDrift(baseline, current)

	if len(first) != len(second) {
		t.Fatalf("expected identical alert counts, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("alert %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDetectDriftNoAlertWhenWithinThreshold(t *testing.T) {
	baseline := DetectorBaseline{DetectorName: "off_hours", Precision: 0.9, Recall: 0.9, F1: 0.9, SampleSize: 200}
	current := EvaluationResult{DetectorName: "off_hours", Precision: 0.89, Recall: 0.89, F1: 0.89}

	if alerts := DetectDrift(baseline, current); len(alerts) != 0 {
		t.Errorf("expected no alerts for a 1%% drop, got %+v", alerts)
	}
}

func TestDetectDriftFlagsNonPrimaryBaselineButStillAlerts(t *testing.T) {
	baseline := DetectorBaseline{DetectorName: "regular_interval", Precision: 0.9, Recall: 0.9, F1: 0.9, SampleSize: 40}
	current := EvaluationResult{DetectorName: "regular_interval", Precision: 0.8, Recall: 0.9, F1: 0.85}

	alerts := DetectDrift(baseline, current)
	if len(alerts) == 0 {
		t.Fatal("expected a drift alert even for a below-primary-sample-size baseline")
	}
	if alerts[0].BaselineIsPrimary {
		t.Error("expected BaselineIsPrimary to be false for a 40-sample baseline")
	}
}
