package quality

import (
	"fmt"

	"github.com/singura/singura/internal/telemetry"
)

// Severity classifies how concerning a drift alert is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// metricThreshold holds the warning/critical drop thresholds for one metric,
// expressed as an absolute percentage-point drop from baseline.
type metricThreshold struct {
	metric   string
	warning  float64
	critical float64
}

var thresholds = []metricThreshold{
	{metric: "precision", warning: 0.05, critical: 0.07},
	{metric: "recall", warning: 0.03, critical: 0.05},
	{metric: "f1", warning: 0.05, critical: 0.07},
}

// DriftAlert reports a detector's current metric falling meaningfully below
// its recorded baseline.
type DriftAlert struct {
	DetectorName      string
	Metric            string
	BaselineValue     float64
	CurrentValue      float64
	PercentageChange  float64
	Severity          Severity
	Message           string
	BaselineIsPrimary bool
}

// DetectDrift compares a current evaluation against a baseline and returns
// one alert per metric that dropped enough to cross the warning threshold.
// Baselines below the primary sample-size bar still participate — they are
// flagged via BaselineIsPrimary rather than suppressed, since a small sample
// is still better evidence than none.
func DetectDrift(baseline DetectorBaseline, current EvaluationResult) []DriftAlert {
	metrics := map[string][2]float64{
		"precision": {baseline.Precision, current.Precision},
		"recall":    {baseline.Recall, current.Recall},
		"f1":        {baseline.F1, current.F1},
	}

	var alerts []DriftAlert
	for _, th := range thresholds {
		values := metrics[th.metric]
		baselineValue, currentValue := values[0], values[1]

		drop := baselineValue - currentValue
		if drop < th.warning {
			continue
		}

		severity := SeverityWarning
		if drop >= th.critical {
			severity = SeverityCritical
		}

		var pctChange float64
		if baselineValue != 0 {
			pctChange = (currentValue - baselineValue) / baselineValue
		}

		alert := DriftAlert{
			DetectorName:      current.DetectorName,
			Metric:            th.metric,
			BaselineValue:     baselineValue,
			CurrentValue:      currentValue,
			PercentageChange:  pctChange,
			Severity:          severity,
			BaselineIsPrimary: baseline.IsPrimary(),
			Message: fmt.Sprintf(
				"%s %s dropped from %.2f to %.2f (%.1f%%)",
				current.DetectorName, th.metric, baselineValue, currentValue, pctChange*100,
			),
		}
		alerts = append(alerts, alert)

		telemetry.QualityDriftAlertsTotal.WithLabelValues(current.DetectorName, string(severity)).Inc()
	}

	return alerts
}
