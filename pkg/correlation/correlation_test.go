package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/singura/singura/pkg/connector"
)

func TestMatchingFingerprintsDetectsSharedAIProvider(t *testing.T) {
	a := Fingerprint{AIProviderFP: "x"}
	b := Fingerprint{AIProviderFP: "x"}

	types := matchingFingerprints(a, b)
	if len(types) != 1 || types[0] != LinkAIProvider {
		t.Errorf("expected a single ai_provider match, got %v", types)
	}
}

func TestMatchingFingerprintsIgnoresBlankFields(t *testing.T) {
	a := Fingerprint{}
	b := Fingerprint{}

	if types := matchingFingerprints(a, b); len(types) != 0 {
		t.Errorf("expected no matches between two empty fingerprints, got %v", types)
	}
}

func TestCombinedConfidenceCapsAtOne(t *testing.T) {
	got := combinedConfidence([]LinkType{LinkAIProvider, LinkDataFlow, LinkTiming, LinkBehavior})
	if got != 1.0 {
		t.Errorf("combinedConfidence = %v, want 1.0", got)
	}
}

func TestDominantLinkTypePicksHighestConfidence(t *testing.T) {
	got := dominantLinkType([]LinkType{LinkTiming, LinkAIProvider, LinkBehavior})
	if got != LinkAIProvider {
		t.Errorf("dominantLinkType = %v, want ai_provider", got)
	}
}

func TestHasTemporalChainRequiresForwardOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := []connector.ActivityEvent{{OccurredAt: base}}
	bForward := []connector.ActivityEvent{{OccurredAt: base.Add(2 * time.Minute)}}
	bBackward := []connector.ActivityEvent{{OccurredAt: base.Add(-2 * time.Minute)}}

	if !hasTemporalChain(a, bForward, 5*time.Minute) {
		t.Error("expected a forward-ordered event within the window to form a chain")
	}
	if hasTemporalChain(a, bBackward, 5*time.Minute) {
		t.Error("an event that precedes a should not count as a data_flow chain")
	}
}

func TestHasTemporalChainRespectsWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := []connector.ActivityEvent{{OccurredAt: base}}
	b := []connector.ActivityEvent{{OccurredAt: base.Add(10 * time.Minute)}}

	if hasTemporalChain(a, b, 5*time.Minute) {
		t.Error("an event outside the window should not form a chain")
	}
}

func TestAIProviderFingerprintMatchesOnSharedProvider(t *testing.T) {
	events1 := []connector.ActivityEvent{{TargetResource: "https://api.openai.com/v1/chat/completions"}}
	events2 := []connector.ActivityEvent{{TargetResource: "openai-proxy.internal/v1/completions"}}

	fp1 := aiProviderFingerprint(events1)
	fp2 := aiProviderFingerprint(events2)

	if fp1 == "" || fp1 != fp2 {
		t.Errorf("expected both event sets to fingerprint to the same openai signature, got %q vs %q", fp1, fp2)
	}
}

func TestComputeFingerprintIsDeterministic(t *testing.T) {
	events := []connector.ActivityEvent{
		{Action: connector.ActionDataExported, OccurredAt: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)},
		{Action: connector.ActionFileAccessed, OccurredAt: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)},
	}

	fp1 := ComputeFingerprint(events)
	fp2 := ComputeFingerprint(events)

	if fp1 != fp2 {
		t.Errorf("ComputeFingerprint should be deterministic for identical inputs, got %+v vs %+v", fp1, fp2)
	}
}

func TestCandidateAutomationIDsRemainDistinctInLink(t *testing.T) {
	// Sanity check that a Link built from two distinct candidate ids keeps
	// them distinct. It does not run Correlate's pairwise iteration.
	a := uuid.New()
	b := uuid.New()
	link := Link{AutomationAID: a, AutomationBID: b}
	if link.AutomationAID == link.AutomationBID {
		t.Error("a correlation link must not reference the same automation twice")
	}
}
