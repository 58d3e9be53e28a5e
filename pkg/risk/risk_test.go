package risk

import (
	"testing"

	"github.com/singura/singura/pkg/detection"
)

func TestScoreSumsSignedFactors(t *testing.T) {
	factors := []detection.Factor{
		{Detector: "a", Type: detection.FactorTypeActivity, Score: 45},
		{Detector: "b", Type: detection.FactorTypeActivity, Score: 27},
	}
	if got := Score(factors); got != 72 {
		t.Errorf("Score = %v, want 72", got)
	}
}

func TestScoreNegativeFactorsReduceScore(t *testing.T) {
	factors := []detection.Factor{
		{Detector: "ai_provider", Type: detection.FactorTypeAIProvider, Score: 48},
		{Detector: "trust", Type: detection.FactorTypeTrustSignal, Score: -30},
	}
	if got := Score(factors); got != 18 {
		t.Errorf("Score = %v, want 18", got)
	}
}

func TestScoreClampsToZero(t *testing.T) {
	factors := []detection.Factor{
		{Detector: "trust", Type: detection.FactorTypeTrustSignal, Score: -30},
	}
	if got := Score(factors); got != 0 {
		t.Errorf("Score = %v, want 0", got)
	}
}

func TestScoreClampsToOneHundred(t *testing.T) {
	factors := []detection.Factor{
		{Detector: "a", Type: detection.FactorTypeActivity, Score: 80},
		{Detector: "b", Type: detection.FactorTypeAIProvider, Score: 60},
	}
	if got := Score(factors); got != 100 {
		t.Errorf("Score = %v, want 100", got)
	}
}

func TestScoreEmptyFactors(t *testing.T) {
	if got := Score(nil); got != 0 {
		t.Errorf("Score(nil) = %v, want 0", got)
	}
}

func TestLevelForThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{29.9, LevelLow},
		{30, LevelMedium},
		{59.9, LevelMedium},
		{60, LevelHigh},
		{84.9, LevelHigh},
		{85, LevelCritical},
		{100, LevelCritical},
	}
	for _, c := range cases {
		if got := LevelFor(c.score); got != c.want {
			t.Errorf("LevelFor(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestClassifyTriggerInitialDiscovery(t *testing.T) {
	factors := []detection.Factor{{Type: detection.FactorTypeActivity, Score: 45}}
	if got := classifyTrigger(Assessment{}, false, factors); got != TriggerInitialDiscovery {
		t.Errorf("classifyTrigger with no previous assessment = %v, want %v", got, TriggerInitialDiscovery)
	}
}

func TestClassifyTriggerActivitySpike(t *testing.T) {
	previous := Assessment{Factors: []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
	}}
	current := []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
		{Type: detection.FactorTypeActivity, Score: 27},
	}
	if got := classifyTrigger(previous, true, current); got != TriggerActivitySpike {
		t.Errorf("classifyTrigger = %v, want %v", got, TriggerActivitySpike)
	}
}

func TestClassifyTriggerPermissionChange(t *testing.T) {
	previous := Assessment{Factors: []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
	}}
	current := []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
		{Type: detection.FactorTypePermission, Score: 30},
	}
	if got := classifyTrigger(previous, true, current); got != TriggerPermissionChange {
		t.Errorf("classifyTrigger = %v, want %v", got, TriggerPermissionChange)
	}
}

func TestClassifyTriggerDetectorUpdateFallback(t *testing.T) {
	previous := Assessment{Factors: []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
	}}
	current := []detection.Factor{
		{Type: detection.FactorTypeActivity, Score: 20},
		{Type: detection.FactorTypeTrustSignal, Score: -30},
	}
	if got := classifyTrigger(previous, true, current); got != TriggerDetectorUpdate {
		t.Errorf("classifyTrigger = %v, want %v", got, TriggerDetectorUpdate)
	}
}

func TestRapidChangeOnLargeDrop(t *testing.T) {
	previous := Assessment{Score: 78}
	current := Assessment{Score: 22}
	if delta := current.Score - previous.Score; -delta <= rapidChangeDelta {
		t.Fatalf("test fixture delta %v does not exceed rapidChangeDelta", delta)
	}
	// Mirrors the |Δscore| > 50 rule applied inline in Reassess.
	if !(abs(current.Score-previous.Score) > rapidChangeDelta) {
		t.Error("expected a 56-point drop to count as a rapid change")
	}
}

func TestRapidChangeRequiresLargeDelta(t *testing.T) {
	if abs(35-20.0) > rapidChangeDelta {
		t.Error("a 15-point move should not count as a rapid change")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestPeakAndAverage(t *testing.T) {
	history := []Assessment{{Score: 10}, {Score: 50}, {Score: 30}}
	peak, avg := PeakAndAverage(history)
	if peak != 50 {
		t.Errorf("peak = %v, want 50", peak)
	}
	if avg != 30 {
		t.Errorf("average = %v, want 30", avg)
	}
}

func TestPeakAndAverageEmpty(t *testing.T) {
	peak, avg := PeakAndAverage(nil)
	if peak != 0 || avg != 0 {
		t.Errorf("PeakAndAverage(nil) = (%v, %v), want (0, 0)", peak, avg)
	}
}
