// Package correlation links automations across platforms that are likely
// the same underlying actor — a workflow calling an AI provider from one
// platform and writing results into another — by comparing behavioral
// fingerprints.
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/singura/singura/internal/telemetry"
	"github.com/singura/singura/pkg/connector"
)

// LinkType classifies why two automations were correlated.
type LinkType string

const (
	LinkAIProvider LinkType = "ai_provider"
	LinkTiming     LinkType = "timing"
	LinkBehavior   LinkType = "behavior"
	LinkDataFlow   LinkType = "data_flow"
)

// confidenceTable gives the base confidence score (0-1) contributed by a
// matching fingerprint of each type. Multiple matching fingerprint types
// between the same pair combine additively, capped at 1.0.
var confidenceTable = map[LinkType]float64{
	LinkAIProvider: 0.5,
	LinkTiming:     0.25,
	LinkBehavior:   0.2,
	LinkDataFlow:   0.4,
}

// Fingerprint is a derived signature used to compare two automations.
type Fingerprint struct {
	AIProviderFP string
	TimingFP     string
	BehaviorFP   string
}

// ComputeFingerprint derives an automation's comparison signature from its
// recent activity.
func ComputeFingerprint(events []connector.ActivityEvent) Fingerprint {
	return Fingerprint{
		AIProviderFP: aiProviderFingerprint(events),
		TimingFP:     timingFingerprint(events),
		BehaviorFP:   behaviorFingerprint(events),
	}
}

func aiProviderFingerprint(events []connector.ActivityEvent) string {
	providers := make(map[string]struct{})
	for _, e := range events {
		for _, token := range []string{"openai", "anthropic", "azure-openai", "bedrock", "vertex-ai", "cohere"} {
			if strings.Contains(strings.ToLower(e.TargetResource), token) {
				providers[token] = struct{}{}
			}
		}
	}
	return hashSortedSet(providers)
}

func timingFingerprint(events []connector.ActivityEvent) string {
	if len(events) == 0 {
		return ""
	}
	buckets := make(map[int]struct{})
	for _, e := range events {
		// Bucket by hour-of-day: a shared schedule is a shared fingerprint
		// even across different calendar days.
		buckets[e.OccurredAt.UTC().Hour()] = struct{}{}
	}
	ints := make([]int, 0, len(buckets))
	for h := range buckets {
		ints = append(ints, h)
	}
	sort.Ints(ints)

	h := sha256.New()
	for _, v := range ints {
		fmt.Fprintf(h, "%d,", v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func behaviorFingerprint(events []connector.ActivityEvent) string {
	actions := make(map[string]struct{})
	for _, e := range events {
		actions[string(e.Action)] = struct{}{}
	}
	return hashSortedSet(actions)
}

func hashSortedSet(set map[string]struct{}) string {
	if len(set) == 0 {
		return ""
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(strings.Join(keys, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Link is a persisted correlation between two automations.
type Link struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	AutomationAID  uuid.UUID
	AutomationBID  uuid.UUID
	LinkType       LinkType
	Confidence     float64
	CreatedAt      time.Time
}

// Candidate pairs an automation with its fingerprint and recent activity,
// the input to link formation.
type Candidate struct {
	AutomationID uuid.UUID
	Fingerprint  Fingerprint
	Events       []connector.ActivityEvent
}

// Store persists correlation links.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a correlation Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Save(ctx context.Context, link Link) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO correlation_links (id, organization_id, automation_a_id, automation_b_id, link_type, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (organization_id, automation_a_id, automation_b_id, link_type) DO UPDATE SET
			confidence = GREATEST(correlation_links.confidence, EXCLUDED.confidence)
	`, uuid.New(), link.OrganizationID, link.AutomationAID, link.AutomationBID, link.LinkType, link.Confidence)
	return err
}

// Correlator finds and persists links between automations in the same
// organization.
type Correlator struct {
	store  *Store
	logger *slog.Logger
}

// New creates a Correlator.
func New(store *Store, logger *slog.Logger) *Correlator {
	return &Correlator{store: store, logger: logger}
}

// Correlate compares every pair in candidates and persists a Link for any
// pair whose combined confidence from matching fingerprints is non-zero. A
// data_flow link additionally requires a temporal chain: at least one event
// in B must follow an event in A within dataFlowWindow, consistent with A's
// output feeding B's input rather than the two merely sharing a schedule.
const dataFlowWindow = 5 * time.Minute

func (c *Correlator) Correlate(ctx context.Context, orgID uuid.UUID, candidates []Candidate) ([]Link, error) {
	var links []Link

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			matchTypes := matchingFingerprints(a.Fingerprint, b.Fingerprint)

			if hasTemporalChain(a.Events, b.Events, dataFlowWindow) {
				matchTypes = append(matchTypes, LinkDataFlow)
			}

			if len(matchTypes) == 0 {
				continue
			}

			confidence := combinedConfidence(matchTypes)
			linkType := dominantLinkType(matchTypes)

			link := Link{
				ID:             uuid.New(),
				OrganizationID: orgID,
				AutomationAID:  a.AutomationID,
				AutomationBID:  b.AutomationID,
				LinkType:       linkType,
				Confidence:     confidence,
			}

			if err := c.store.Save(ctx, link); err != nil {
				c.logger.Error("correlation: saving link", "error", err)
				continue
			}
			telemetry.CorrelationLinksFormedTotal.WithLabelValues(string(linkType)).Inc()
			links = append(links, link)
		}
	}

	return links, nil
}

func matchingFingerprints(a, b Fingerprint) []LinkType {
	var types []LinkType
	if a.AIProviderFP != "" && a.AIProviderFP == b.AIProviderFP {
		types = append(types, LinkAIProvider)
	}
	if a.TimingFP != "" && a.TimingFP == b.TimingFP {
		types = append(types, LinkTiming)
	}
	if a.BehaviorFP != "" && a.BehaviorFP == b.BehaviorFP {
		types = append(types, LinkBehavior)
	}
	return types
}

// hasTemporalChain reports whether some event in b occurs within window
// after some event in a — the directional ordering a data_flow link
// requires, distinct from the two automations simply overlapping in time.
func hasTemporalChain(a, b []connector.ActivityEvent, window time.Duration) bool {
	for _, ea := range a {
		for _, eb := range b {
			delta := eb.OccurredAt.Sub(ea.OccurredAt)
			if delta > 0 && delta <= window {
				return true
			}
		}
	}
	return false
}

func combinedConfidence(types []LinkType) float64 {
	var sum float64
	for _, t := range types {
		sum += confidenceTable[t]
	}
	if sum > 1.0 {
		sum = 1.0
	}
	return sum
}

func dominantLinkType(types []LinkType) LinkType {
	best := types[0]
	for _, t := range types[1:] {
		if confidenceTable[t] > confidenceTable[best] {
			best = t
		}
	}
	return best
}
