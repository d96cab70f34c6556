package aggregation

import (
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

// Align truncates t to the start of its period in UTC. Weeks start on Monday.
func Align(t time.Time, granularity types.Granularity) time.Time {
	t = t.UTC()

	switch granularity {
	case types.Hour:
		return t.Truncate(time.Hour)
	case types.Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case types.Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}

	return t
}

// DefaultRange returns the range shown when a client does not ask for one: the current day by
// hour, the last 7 days by day and the last 4 weeks by week.
func DefaultRange(granularity types.Granularity, now time.Time) (time.Time, time.Time) {
	switch granularity {
	case types.Day:
		today := Align(now, types.Day)
		return today.AddDate(0, 0, -6), today.AddDate(0, 0, 1)
	case types.Week:
		week := Align(now, types.Week)
		return week.AddDate(0, 0, -21), week.AddDate(0, 0, 7)
	default:
		today := Align(now, types.Day)
		return today, today.AddDate(0, 0, 1)
	}
}

// WithCost returns a copy of the buckets with cost set from the price per kWh.
func WithCost(buckets []types.Bucket, pricePerKwh float64) []types.Bucket {
	priced := make([]types.Bucket, len(buckets))
	for i, b := range buckets {
		cost := b.TotalKwh * pricePerKwh
		b.Cost = &cost
		priced[i] = b
	}
	return priced
}
