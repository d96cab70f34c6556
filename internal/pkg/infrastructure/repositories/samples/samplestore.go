package samples

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var ErrDuplicateSample = fmt.Errorf("duplicate sample")

type SampleStore interface {
	Add(ctx context.Context, sample types.Sample) error
	// Window returns the samples of a device within [from, to) together with the closest
	// sample on each side of the interval, ordered by timestamp.
	Window(ctx context.Context, deviceID string, from, to time.Time) []types.Sample
	Latest(ctx context.Context, deviceID string) (types.Sample, bool)
	DeviceIDs(ctx context.Context) []string
	Prune(ctx context.Context, now time.Time) int
	Retention() time.Duration
}

type store struct {
	mu        sync.RWMutex
	series    map[string][]types.Sample
	retention time.Duration
}

func NewSampleStore(retention time.Duration) SampleStore {
	return &store{
		series:    map[string][]types.Sample{},
		retention: retention,
	}
}

func (s *store) Retention() time.Duration {
	return s.retention
}

func (s *store) Add(ctx context.Context, sample types.Sample) error {
	sample.Timestamp = sample.Timestamp.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[sample.DeviceID]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(sample.Timestamp)
	})

	if idx < len(series) && series[idx].Timestamp.Equal(sample.Timestamp) {
		return fmt.Errorf("%w: %s at %s", ErrDuplicateSample, sample.DeviceID, sample.Timestamp.Format(time.RFC3339))
	}

	if idx == len(series) {
		s.series[sample.DeviceID] = append(series, sample)
		return nil
	}

	grown := make([]types.Sample, 0, len(series)+1)
	grown = append(grown, series[:idx]...)
	grown = append(grown, sample)
	grown = append(grown, series[idx:]...)
	s.series[sample.DeviceID] = grown

	return nil
}

func (s *store) Window(ctx context.Context, deviceID string, from, to time.Time) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[deviceID]
	if len(series) == 0 {
		return []types.Sample{}
	}

	first := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(from)
	})
	last := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(to)
	})

	if first > 0 {
		first--
	}
	if last < len(series) {
		last++
	}

	window := make([]types.Sample, last-first)
	copy(window, series[first:last])

	return window
}

func (s *store) Latest(ctx context.Context, deviceID string) (types.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[deviceID]
	if len(series) == 0 {
		return types.Sample{}, false
	}

	return series[len(series)-1], true
}

func (s *store) DeviceIDs(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Prune drops samples older than now minus the retention and returns how many were removed.
func (s *store) Prune(ctx context.Context, now time.Time) int {
	if s.retention <= 0 {
		return 0
	}

	cutoff := now.Add(-s.retention)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, series := range s.series {
		idx := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})

		if idx == 0 {
			continue
		}

		removed += idx

		if idx == len(series) {
			delete(s.series, id)
			continue
		}

		kept := make([]types.Sample, len(series)-idx)
		copy(kept, series[idx:])
		s.series[id] = kept
	}

	return removed
}
