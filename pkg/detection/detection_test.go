package detection

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/singura/singura/pkg/connector"
)

type stubDetector struct {
	name    string
	factor  Factor
	err     error
	panics  bool
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Evaluate(context.Context, []connector.ActivityEvent) (Factor, error) {
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return Factor{}, s.err
	}
	return s.factor, nil
}

func TestEngineIsolatesDetectorErrors(t *testing.T) {
	engine := New(slog.Default(),
		&stubDetector{name: "good", factor: Factor{Detector: "good", Type: FactorTypeActivity, Score: 10}},
		&stubDetector{name: "bad", err: errors.New("boom")},
	)

	result := engine.Evaluate(context.Background(), "automation-1", nil)

	if len(result.Factors) != 1 || result.Factors[0].Detector != "good" {
		t.Errorf("expected only the good detector's factor to survive, got %+v", result.Factors)
	}
	if len(result.FailedDetectors) != 1 || result.FailedDetectors[0] != "bad" {
		t.Errorf("expected bad detector to be recorded as failed, got %v", result.FailedDetectors)
	}
}

func TestEngineIsolatesDetectorPanics(t *testing.T) {
	engine := New(slog.Default(),
		&stubDetector{name: "panics", panics: true},
		&stubDetector{name: "fine", factor: Factor{Detector: "fine", Type: FactorTypeActivity, Score: 10}},
	)

	result := engine.Evaluate(context.Background(), "automation-1", nil)

	if len(result.Factors) != 1 || result.Factors[0].Detector != "fine" {
		t.Errorf("expected only the non-panicking detector's factor to survive, got %+v", result.Factors)
	}
	if len(result.FailedDetectors) != 1 || result.FailedDetectors[0] != "panics" {
		t.Errorf("expected panicking detector to be recorded as failed, got %v", result.FailedDetectors)
	}
}

func makeEvents(n int, interval time.Duration) []connector.ActivityEvent {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	events := make([]connector.ActivityEvent, n)
	for i := 0; i < n; i++ {
		events[i] = connector.ActivityEvent{
			ExternalID: "e" + string(rune('a'+i)),
			OccurredAt: start.Add(time.Duration(i) * interval),
		}
	}
	return events
}

func TestVelocityDetectorTriggersAboveThreshold(t *testing.T) {
	d := &VelocityDetector{ThresholdPerSecond: 1.0}
	events := makeEvents(20, 100*time.Millisecond) // 10 events/sec

	factor, err := d.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if factor.Score == 0 {
		t.Error("expected velocity detector to trigger on a high event rate")
	}
}

func TestVelocityDetectorDoesNotTriggerBelowThreshold(t *testing.T) {
	d := &VelocityDetector{ThresholdPerSecond: 100.0}
	events := makeEvents(5, time.Second)

	factor, err := d.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if factor.Score != 0 {
		t.Error("expected velocity detector not to trigger on a low event rate")
	}
}

func TestOffHoursDetectorWrapsMidnight(t *testing.T) {
	d := &OffHoursDetector{StartHour: 20, EndHour: 6}
	events := []connector.ActivityEvent{
		{OccurredAt: time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)},
		{OccurredAt: time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)},
	}

	factor, err := d.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if factor.Score == 0 {
		t.Error("expected off-hours detector to trigger for late-night activity")
	}
}

func TestRegularIntervalDetectorTriggersOnLowVariance(t *testing.T) {
	d := &RegularIntervalDetector{MaxStdDevMs: 50, MinSamples: 3}
	events := makeEvents(10, 5*time.Second) // perfectly regular

	factor, err := d.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if factor.Score == 0 {
		t.Error("expected regular-interval detector to trigger on perfectly spaced events")
	}
}

func TestAIProviderDetectorMatchesTargetResource(t *testing.T) {
	d := NewAIProviderDetector()
	events := []connector.ActivityEvent{
		{TargetResource: "https://api.openai.com/v1/chat/completions"},
	}

	factor, err := d.Evaluate(context.Background(), events)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if factor.Score == 0 {
		t.Error("expected AI provider detector to trigger on an OpenAI endpoint reference")
	}
}
