package detection

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/singura/singura/pkg/connector"
)

// VelocityDetector triggers when an automation's event rate over the
// window exceeds a threshold of events per second.
type VelocityDetector struct {
	ThresholdPerSecond float64
}

func (d *VelocityDetector) Name() string { return "velocity" }

// velocityMaxScore is the most a pure event-rate signal can contribute;
// rate alone is a noisy indicator next to batching or timing regularity, so
// it is capped lower than those.
const velocityMaxScore = 25.0

func (d *VelocityDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	stats := computeWindowStats(events)
	if stats.count < 2 || stats.span <= 0 {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	rate := float64(stats.count) / stats.span.Seconds()
	if rate <= d.ThresholdPerSecond {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	return Factor{
		Detector:    d.Name(),
		Type:        FactorTypeActivity,
		Score:       clamp01(rate/(d.ThresholdPerSecond*4)) * velocityMaxScore,
		Description: fmt.Sprintf("event rate %.2f/s exceeds threshold %.2f/s", rate, d.ThresholdPerSecond),
	}, nil
}

// BatchOperationDetector triggers when at least MinCount events land within
// a WindowSeconds-wide sliding window, signaling a bulk/scripted action
// rather than organic usage.
type BatchOperationDetector struct {
	WindowSeconds int
	MinCount      int
}

func (d *BatchOperationDetector) Name() string { return "batch_operation" }

const batchOperationMaxScore = 25.0

func (d *BatchOperationDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	if len(events) < d.MinCount {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	sorted := make([]connector.ActivityEvent, len(events))
	copy(sorted, events)
	sortByOccurredAt(sorted)

	window := time.Duration(d.WindowSeconds) * time.Second
	best := 0
	for i := range sorted {
		count := 1
		for j := i + 1; j < len(sorted) && sorted[j].OccurredAt.Sub(sorted[i].OccurredAt) <= window; j++ {
			count++
		}
		if count > best {
			best = count
		}
	}

	if best < d.MinCount {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	return Factor{
		Detector:    d.Name(),
		Type:        FactorTypeActivity,
		Score:       clamp01(float64(best)/float64(d.MinCount*3)) * batchOperationMaxScore,
		Description: fmt.Sprintf("%d events within a %ds window (min %d)", best, d.WindowSeconds, d.MinCount),
	}, nil
}

// OffHoursDetector triggers when a meaningful share of activity occurs
// outside the configured working-hours window (in UTC).
type OffHoursDetector struct {
	StartHour int // off-hours begin, e.g. 20
	EndHour   int // off-hours end, e.g. 6
}

func (d *OffHoursDetector) Name() string { return "off_hours" }

const offHoursMaxScore = 20.0

func (d *OffHoursDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	if len(events) == 0 {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	offHours := 0
	for _, e := range events {
		if d.isOffHours(e.OccurredAt) {
			offHours++
		}
	}

	ratio := float64(offHours) / float64(len(events))
	if ratio < 0.5 {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	return Factor{
		Detector:    d.Name(),
		Type:        FactorTypeActivity,
		Score:       clamp01(ratio) * offHoursMaxScore,
		Description: fmt.Sprintf("%.0f%% of activity occurred off-hours (%02d:00-%02d:00 UTC)", ratio*100, d.StartHour, d.EndHour),
	}, nil
}

func (d *OffHoursDetector) isOffHours(t time.Time) bool {
	h := t.UTC().Hour()
	if d.StartHour < d.EndHour {
		return h >= d.StartHour && h < d.EndHour
	}
	// Wraps midnight, e.g. 20 -> 6.
	return h >= d.StartHour || h < d.EndHour
}

// RegularIntervalDetector triggers when consecutive events are spaced with
// unusually low timing variance — a signature of a scheduled script rather
// than a human operator.
type RegularIntervalDetector struct {
	MaxStdDevMs int
	MinSamples  int
}

func (d *RegularIntervalDetector) Name() string { return "regular_interval" }

const regularIntervalMaxScore = 20.0

func (d *RegularIntervalDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	stats := computeWindowStats(events)
	minSamples := d.MinSamples
	if minSamples == 0 {
		minSamples = 5
	}
	if len(stats.intervals) < minSamples {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	stdDevMs := stdDevMillis(stats.intervals)
	threshold := float64(d.MaxStdDevMs)
	if stdDevMs > threshold {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	return Factor{
		Detector:    d.Name(),
		Type:        FactorTypeActivity,
		Score:       clamp01(1-stdDevMs/math.Max(threshold, 1)) * regularIntervalMaxScore,
		Description: fmt.Sprintf("interval std dev %.0fms is below the %.0fms human-variance threshold", stdDevMs, threshold),
	}, nil
}

func stdDevMillis(intervals []time.Duration) float64 {
	if len(intervals) == 0 {
		return 0
	}
	var sum float64
	for _, d := range intervals {
		sum += float64(d.Milliseconds())
	}
	mean := sum / float64(len(intervals))

	var variance float64
	for _, d := range intervals {
		diff := float64(d.Milliseconds()) - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))

	return math.Sqrt(variance)
}

// AIProviderDetector triggers when activity metadata references a known AI
// provider endpoint or model identifier, the direct "shadow AI" signal the
// platform is named for.
type AIProviderDetector struct {
	Providers []string
}

func NewAIProviderDetector() *AIProviderDetector {
	return &AIProviderDetector{Providers: []string{"openai", "anthropic", "azure-openai", "bedrock", "vertex-ai", "cohere"}}
}

func (d *AIProviderDetector) Name() string { return "ai_provider" }

// aiProviderScore is fixed rather than scaled: a single confirmed reference
// to a known AI provider endpoint is the direct shadow-AI signal this
// platform exists to surface, so its weight doesn't dilute with volume.
const aiProviderScore = 35.0

func (d *AIProviderDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	for _, e := range events {
		target := strings.ToLower(e.TargetResource)
		for _, provider := range d.Providers {
			if strings.Contains(target, provider) {
				return Factor{
					Detector:    d.Name(),
					Type:        FactorTypeAIProvider,
					Score:       aiProviderScore,
					Description: fmt.Sprintf("activity references AI provider %q", provider),
				}, nil
			}
		}
		if meta, ok := e.Metadata["provider"]; ok {
			if s, ok := meta.(string); ok {
				for _, provider := range d.Providers {
					if strings.EqualFold(s, provider) {
						return Factor{
							Detector:    d.Name(),
							Type:        FactorTypeAIProvider,
							Score:       aiProviderScore,
							Description: fmt.Sprintf("activity metadata tags AI provider %q", provider),
						}, nil
					}
				}
			}
		}
	}
	return Factor{Detector: d.Name(), Type: FactorTypeAIProvider}, nil
}

// PermissionEscalationDetector triggers when a permission-granting action
// appears in the window.
type PermissionEscalationDetector struct{}

func (d *PermissionEscalationDetector) Name() string { return "permission_escalation" }

const permissionEscalationScore = 30.0

func (d *PermissionEscalationDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	for _, e := range events {
		if e.Action == connector.ActionPermissionGrant {
			return Factor{
				Detector:    d.Name(),
				Type:        FactorTypePermission,
				Score:       permissionEscalationScore,
				Description: "automation was granted additional permissions during the observed window",
			}, nil
		}
	}
	return Factor{Detector: d.Name(), Type: FactorTypePermission}, nil
}

// DataVolumeDetector triggers when total bytes moved in the window exceed
// BaselineFactor times a supplied historical baseline.
type DataVolumeDetector struct {
	BaselineFactor float64
	BaselineBytes  int64 // 0 disables the detector (no baseline yet)
}

func (d *DataVolumeDetector) Name() string { return "data_volume" }

const dataVolumeMaxScore = 25.0

func (d *DataVolumeDetector) Evaluate(_ context.Context, events []connector.ActivityEvent) (Factor, error) {
	if d.BaselineBytes <= 0 {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	stats := computeWindowStats(events)
	threshold := float64(d.BaselineBytes) * d.BaselineFactor
	if float64(stats.totalBytes) <= threshold {
		return Factor{Detector: d.Name(), Type: FactorTypeActivity}, nil
	}

	return Factor{
		Detector:    d.Name(),
		Type:        FactorTypeActivity,
		Score:       clamp01(float64(stats.totalBytes)/(threshold*2)) * dataVolumeMaxScore,
		Description: fmt.Sprintf("transferred %d bytes, %.1fx the established baseline", stats.totalBytes, float64(stats.totalBytes)/float64(d.BaselineBytes)),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
