package application

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/alerts"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/anomalies"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/exports"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/watchdog"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	alertrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/alerts"
	devicerepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/devices"
	prefrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/samples"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var ErrDeviceNotFound = devicerepo.ErrDeviceNotFound
var ErrExportsDisabled = fmt.Errorf("exports are not configured")

type App interface {
	Start(ctx context.Context)
	Stop()

	ListDevices(ctx context.Context) ([]types.DeviceConsumption, error)
	GetDevice(ctx context.Context, deviceID string) (types.DeviceConsumption, error)

	IngestSamples(ctx context.Context, source string, batch []types.Sample) types.IngestResult
	IngestPayload(ctx context.Context, source string, body []byte) (types.IngestResult, error)
	Ingestor() ingestion.Ingestor

	Consumption(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error)
	EvaluateAlerts(ctx context.Context, granularity types.Granularity, from, to time.Time) ([]types.Alert, error)

	ListAlerts(ctx context.Context, states ...types.AlertState) ([]types.Alert, error)
	MarkAlertRead(ctx context.Context, alertID string) error
	ClearReadAlerts(ctx context.Context) ([]string, error)
	ClearAllAlerts(ctx context.Context) ([]string, error)

	GetPreferences(ctx context.Context) (types.Preference, error)
	SetPreferences(ctx context.Context, p types.Preference) (types.Preference, error)

	Export(ctx context.Context, granularity types.Granularity, from, to time.Time) (types.Export, error)
}

// Storage groups the repositories the application is built on.
type Storage struct {
	Samples     samples.SampleStore
	Devices     devicerepo.DeviceRepository
	Alerts      alertrepo.AlertRepository
	Preferences prefrepo.PreferenceRepository
}

type app struct {
	cfg *Config
	now func() time.Time

	devices     devicerepo.DeviceRepository
	store       samples.SampleStore
	aggregator  aggregation.Aggregator
	ingestor    ingestion.Ingestor
	alerts      alerts.AlertService
	preferences preferences.PreferenceService
	evaluator   anomalies.Evaluator
	exporter    exports.Exporter
	watchdog    watchdog.Watchdog
}

// New wires the application services. The exporter may be nil when no export target is configured.
func New(cfg *Config, s Storage, publisher alerts.Publisher, exporter exports.Exporter, m *metrics.Metrics, notifiers ...alerts.Notifier) App {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	aggregator := aggregation.New(s.Samples, cfg.Aggregation)
	alertSvc := alerts.New(s.Alerts, publisher, m, notifiers...)
	prefSvc := preferences.New(s.Preferences)
	evaluator := anomalies.NewEvaluator(aggregator, anomalies.NewDetector(cfg.Detector), alertSvc, prefSvc, m)

	return &app{
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		devices:     s.Devices,
		store:       s.Samples,
		aggregator:  aggregator,
		ingestor:    ingestion.New(s.Samples, s.Devices, m),
		alerts:      alertSvc,
		preferences: prefSvc,
		evaluator:   evaluator,
		exporter:    exporter,
		watchdog:    watchdog.New(cfg.Scheduler, evaluator, s.Samples),
	}
}

func (a *app) Start(ctx context.Context) {
	a.watchdog.Start(ctx)
}

func (a *app) Stop() {
	a.watchdog.Stop()
}

func (a *app) ListDevices(ctx context.Context) ([]types.DeviceConsumption, error) {
	devices, err := a.devices.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]types.DeviceConsumption, 0, len(devices))
	for _, d := range devices {
		dc, err := a.withConsumption(ctx, d)
		if err != nil {
			return nil, err
		}
		result = append(result, dc)
	}

	return result, nil
}

func (a *app) GetDevice(ctx context.Context, deviceID string) (types.DeviceConsumption, error) {
	d, err := a.devices.GetByID(ctx, deviceID)
	if err != nil {
		return types.DeviceConsumption{}, err
	}

	return a.withConsumption(ctx, d)
}

func (a *app) withConsumption(ctx context.Context, d types.Device) (types.DeviceConsumption, error) {
	dc := types.DeviceConsumption{Device: d, Status: types.DeviceInactive}

	if latest, ok := a.store.Latest(ctx, d.DeviceID); ok {
		observed := latest.Timestamp
		dc.CurrentWatts = latest.Watts
		dc.LastObserved = &observed

		if latest.Watts > 0 && a.now().Sub(observed) <= a.staleAfter() {
			dc.Status = types.DeviceActive
		}
	}

	today := aggregation.Align(a.now(), types.Day)

	buckets, err := a.aggregator.Aggregate(ctx, d.DeviceID, types.Day, today, today.Add(types.Day.Duration()))
	if err != nil {
		return types.DeviceConsumption{}, err
	}

	if len(buckets) > 0 {
		dc.TodayKwh = buckets[0].TotalKwh
	}

	return dc, nil
}

// staleAfter is how old the latest sample of an active device may be.
func (a *app) staleAfter() time.Duration {
	if a.cfg.Aggregation.MaxSampleGap > 0 {
		return a.cfg.Aggregation.MaxSampleGap
	}
	return aggregation.DefaultMaxSampleGap
}

func (a *app) IngestSamples(ctx context.Context, source string, batch []types.Sample) types.IngestResult {
	return a.ingestor.IngestBatch(ctx, source, batch)
}

func (a *app) IngestPayload(ctx context.Context, source string, body []byte) (types.IngestResult, error) {
	return a.ingestor.IngestPayload(ctx, source, body)
}

func (a *app) Ingestor() ingestion.Ingestor {
	return a.ingestor
}

func (a *app) Consumption(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error) {
	if deviceID != "" {
		exists, err := a.devices.Exists(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
	}

	buckets, err := a.aggregator.Aggregate(ctx, deviceID, granularity, from, to)
	if err != nil {
		return nil, err
	}

	pref, err := a.preferences.Get(ctx)
	if err != nil {
		return nil, err
	}

	if pref.Unit == types.UnitCost {
		return aggregation.WithCost(buckets, a.cfg.Tariff.PricePerKwh), nil
	}

	return buckets, nil
}

func (a *app) EvaluateAlerts(ctx context.Context, granularity types.Granularity, from, to time.Time) ([]types.Alert, error) {
	return a.evaluator.Evaluate(ctx, granularity, from, to, time.Time{})
}

func (a *app) ListAlerts(ctx context.Context, states ...types.AlertState) ([]types.Alert, error) {
	return a.alerts.List(ctx, states...)
}

func (a *app) MarkAlertRead(ctx context.Context, alertID string) error {
	return a.alerts.MarkRead(ctx, alertID)
}

func (a *app) ClearReadAlerts(ctx context.Context) ([]string, error) {
	return a.alerts.ClearRead(ctx)
}

func (a *app) ClearAllAlerts(ctx context.Context) ([]string, error) {
	return a.alerts.ClearAll(ctx)
}

func (a *app) GetPreferences(ctx context.Context) (types.Preference, error) {
	return a.preferences.Get(ctx)
}

func (a *app) SetPreferences(ctx context.Context, p types.Preference) (types.Preference, error) {
	return a.preferences.Set(ctx, p)
}

func (a *app) Export(ctx context.Context, granularity types.Granularity, from, to time.Time) (types.Export, error) {
	if a.exporter == nil {
		return types.Export{}, ErrExportsDisabled
	}

	return a.exporter.Export(ctx, granularity, from, to)
}
