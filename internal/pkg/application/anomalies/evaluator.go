package anomalies

import (
	"context"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

type Ledger interface {
	Raise(ctx context.Context, alert types.Alert) (types.Alert, bool, error)
}

type Preferences interface {
	Get(ctx context.Context) (types.Preference, error)
}

type Evaluator interface {
	// Evaluate runs the detector over the range and records new alerts. Only alerts that
	// were not already held by the ledger are returned.
	Evaluate(ctx context.Context, granularity types.Granularity, from, to, since time.Time) ([]types.Alert, error)
}

type evaluator struct {
	aggregator  aggregation.Aggregator
	detector    Detector
	ledger      Ledger
	preferences Preferences
	metrics     *metrics.Metrics
}

func NewEvaluator(a aggregation.Aggregator, d Detector, l Ledger, p Preferences, m *metrics.Metrics) Evaluator {
	return &evaluator{
		aggregator:  a,
		detector:    d,
		ledger:      l,
		preferences: p,
		metrics:     m,
	}
}

func (e *evaluator) Evaluate(ctx context.Context, granularity types.Granularity, from, to, since time.Time) ([]types.Alert, error) {
	log := logging.GetLoggerFromContext(ctx)

	series, err := e.aggregator.AggregateAll(ctx, granularity, from, to)
	if err != nil {
		return nil, err
	}

	pref, err := e.preferences.Get(ctx)
	if err != nil {
		return nil, err
	}

	e.metrics.Evaluations.Inc()

	created := []types.Alert{}

	for _, candidate := range e.detector.Detect(series, pref, since) {
		alert, isNew, err := e.ledger.Raise(ctx, candidate)
		if err != nil {
			return created, err
		}

		if isNew {
			created = append(created, alert)
		}
	}

	log.Debug().Msgf("evaluated %s buckets, %d new alerts", granularity, len(created))

	return created, nil
}
