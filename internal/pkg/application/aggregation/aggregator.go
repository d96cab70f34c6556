package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/samples"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var ErrInvalidRange = fmt.Errorf("invalid range")
var ErrInvalidGranularity = fmt.Errorf("%w: unknown granularity", ErrInvalidRange)
var ErrRangeTooLarge = fmt.Errorf("%w: too many buckets", ErrInvalidRange)

const (
	DefaultMaxBuckets            int           = 10000
	DefaultMaxSampleGap          time.Duration = time.Hour
	DefaultDefaultSampleInterval time.Duration = time.Hour
)

type Config struct {
	MaxBuckets            int           `yaml:"maxBuckets"`
	MaxSampleGap          time.Duration `yaml:"maxSampleGap"`
	DefaultSampleInterval time.Duration `yaml:"defaultSampleInterval"`
}

// Series holds the buckets of every known device and the whole house for one range.
type Series struct {
	WholeHouse []types.Bucket
	Devices    map[string][]types.Bucket
}

type Aggregator interface {
	// Aggregate returns buckets for one device, or for the whole house when deviceID is empty.
	Aggregate(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error)
	AggregateAll(ctx context.Context, granularity types.Granularity, from, to time.Time) (Series, error)
}

type aggregator struct {
	store samples.SampleStore
	cfg   Config
}

func New(store samples.SampleStore, cfg Config) Aggregator {
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = DefaultMaxBuckets
	}
	if cfg.MaxSampleGap <= 0 {
		cfg.MaxSampleGap = DefaultMaxSampleGap
	}
	if cfg.DefaultSampleInterval <= 0 {
		cfg.DefaultSampleInterval = DefaultDefaultSampleInterval
	}

	return &aggregator{
		store: store,
		cfg:   cfg,
	}
}

func (a *aggregator) Aggregate(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error) {
	start, count, err := a.buckets(granularity, from, to)
	if err != nil {
		return nil, err
	}

	if deviceID != "" {
		return a.device(ctx, deviceID, granularity, start, count), nil
	}

	series := a.all(ctx, granularity, start, count)
	return series.WholeHouse, nil
}

func (a *aggregator) AggregateAll(ctx context.Context, granularity types.Granularity, from, to time.Time) (Series, error) {
	start, count, err := a.buckets(granularity, from, to)
	if err != nil {
		return Series{}, err
	}

	return a.all(ctx, granularity, start, count), nil
}

func (a *aggregator) buckets(granularity types.Granularity, from, to time.Time) (time.Time, int, error) {
	if !granularity.Valid() {
		return time.Time{}, 0, fmt.Errorf("%w (%s)", ErrInvalidGranularity, granularity)
	}

	if to.Before(from) {
		return time.Time{}, 0, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	if to.Equal(from) {
		return from.UTC(), 0, nil
	}

	start := Align(from, granularity)
	end := Align(to, granularity)
	if end.Before(to) {
		end = end.Add(granularity.Duration())
	}

	n := end.Sub(start) / granularity.Duration()
	if n > time.Duration(a.cfg.MaxBuckets) {
		return time.Time{}, 0, fmt.Errorf("%w: %d buckets requested, limit is %d", ErrRangeTooLarge, n, a.cfg.MaxBuckets)
	}

	return start, int(n), nil
}

func (a *aggregator) all(ctx context.Context, granularity types.Granularity, start time.Time, count int) Series {
	series := Series{
		WholeHouse: emptyBuckets("", granularity, start, count),
		Devices:    map[string][]types.Bucket{},
	}

	for _, deviceID := range a.store.DeviceIDs(ctx) {
		buckets := a.device(ctx, deviceID, granularity, start, count)
		for i := range buckets {
			series.WholeHouse[i].TotalKwh += buckets[i].TotalKwh
		}
		series.Devices[deviceID] = buckets
	}

	return series
}

func (a *aggregator) device(ctx context.Context, deviceID string, granularity types.Granularity, start time.Time, count int) []types.Bucket {
	buckets := emptyBuckets(deviceID, granularity, start, count)
	if count == 0 {
		return buckets
	}

	end := start.Add(time.Duration(count) * granularity.Duration())
	window := a.store.Window(ctx, deviceID, start, end)

	for i, s := range window {
		if s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}

		held := a.held(window, i)
		idx := int(s.Timestamp.Sub(start) / granularity.Duration())
		buckets[idx].TotalKwh += s.Watts * held.Hours() / 1000.0
	}

	return buckets
}

// held returns for how long the sample at index i keeps its reading.
func (a *aggregator) held(window []types.Sample, i int) time.Duration {
	var d time.Duration

	switch {
	case i+1 < len(window):
		d = window[i+1].Timestamp.Sub(window[i].Timestamp)
	case i > 0:
		d = window[i].Timestamp.Sub(window[i-1].Timestamp)
	default:
		return a.cfg.DefaultSampleInterval
	}

	if d > a.cfg.MaxSampleGap {
		return a.cfg.MaxSampleGap
	}

	return d
}

func emptyBuckets(deviceID string, granularity types.Granularity, start time.Time, count int) []types.Bucket {
	buckets := make([]types.Bucket, count)
	for i := range buckets {
		buckets[i] = types.Bucket{
			DeviceID:    deviceID,
			PeriodStart: start.Add(time.Duration(i) * granularity.Duration()),
			Granularity: granularity,
		}
	}
	return buckets
}
