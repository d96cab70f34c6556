package anomalies

import (
	"fmt"
	"sort"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

const DefaultContinuityPeriods int = 3

type Config struct {
	// ContinuityPeriods is the number of consecutive non-zero periods that count as continuous use.
	ContinuityPeriods int `yaml:"continuityPeriods"`
	// ErrorFactor raises threshold alerts to severity error when consumption exceeds
	// threshold * factor. Zero disables it.
	ErrorFactor float64 `yaml:"errorFactor"`
}

type Detector interface {
	// Detect returns candidate alerts for buckets that start at or after since.
	Detect(series aggregation.Series, pref types.Preference, since time.Time) []types.Alert
}

type detector struct {
	cfg Config
}

func NewDetector(cfg Config) Detector {
	if cfg.ContinuityPeriods <= 0 {
		cfg.ContinuityPeriods = DefaultContinuityPeriods
	}

	return &detector{cfg: cfg}
}

func (d *detector) Detect(series aggregation.Series, pref types.Preference, since time.Time) []types.Alert {
	alerts := []types.Alert{}

	deviceIDs := make([]string, 0, len(series.Devices))
	for id := range series.Devices {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	for _, id := range deviceIDs {
		alerts = append(alerts, d.threshold(series.Devices[id], pref, since)...)
		alerts = append(alerts, d.continuity(series.Devices[id], since)...)
	}

	alerts = append(alerts, d.threshold(series.WholeHouse, pref, since)...)
	alerts = append(alerts, d.continuity(series.WholeHouse, since)...)

	return alerts
}

func (d *detector) threshold(buckets []types.Bucket, pref types.Preference, since time.Time) []types.Alert {
	alerts := []types.Alert{}

	for _, b := range buckets {
		if b.PeriodStart.Before(since) || b.TotalKwh <= pref.ThresholdKwh {
			continue
		}

		severity := types.SeverityWarning
		if d.cfg.ErrorFactor > 0 && b.TotalKwh > pref.ThresholdKwh*d.cfg.ErrorFactor {
			severity = types.SeverityError
		}

		alerts = append(alerts, types.Alert{
			Severity:    severity,
			Message:     fmt.Sprintf("%s used %.2f kWh during the %s starting %s, above the %.2f kWh threshold", subject(b.DeviceID), b.TotalKwh, b.Granularity, b.PeriodStart.Format(time.RFC3339), pref.ThresholdKwh),
			DeviceID:    b.DeviceID,
			Rule:        types.RuleThreshold,
			PeriodStart: b.PeriodStart,
			Granularity: b.Granularity,
			Value:       b.TotalKwh,
		})
	}

	return alerts
}

// continuity reports a run of non-zero periods reaching the end of the series, provided the
// series had at least one idle period before the run.
func (d *detector) continuity(buckets []types.Bucket, since time.Time) []types.Alert {
	n := d.cfg.ContinuityPeriods
	if len(buckets) <= n {
		return nil
	}

	runStart := len(buckets)
	for runStart > 0 && buckets[runStart-1].TotalKwh > 0 {
		runStart--
	}

	runLength := len(buckets) - runStart
	if runLength < n || runStart == 0 {
		return nil
	}

	onset := buckets[runStart+n-1].PeriodStart
	if onset.Before(since) {
		return nil
	}

	total := 0.0
	for _, b := range buckets[runStart:] {
		total += b.TotalKwh
	}

	first := buckets[runStart]

	return []types.Alert{{
		Severity:    types.SeverityInfo,
		Message:     fmt.Sprintf("%s shows continuous consumption for %d consecutive %ss since %s", subject(first.DeviceID), runLength, first.Granularity, first.PeriodStart.Format(time.RFC3339)),
		DeviceID:    first.DeviceID,
		Rule:        types.RuleContinuity,
		PeriodStart: first.PeriodStart,
		Granularity: first.Granularity,
		Value:       total,
	}}
}

func subject(deviceID string) string {
	if deviceID == "" {
		return "The household"
	}
	return fmt.Sprintf("Device %s", deviceID)
}
