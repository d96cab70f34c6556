package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/samples"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var ErrInvalidSample = fmt.Errorf("invalid sample")
var ErrUnknownDevice = fmt.Errorf("unknown device")
var ErrDuplicateSample = samples.ErrDuplicateSample

// MaxClockSkew is how far into the future a sample timestamp may be.
const MaxClockSkew time.Duration = 5 * time.Minute

type DeviceRegistry interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, source string, sample types.Sample) error
	IngestBatch(ctx context.Context, source string, batch []types.Sample) types.IngestResult
	// IngestPayload decodes a JSON sample or array of samples and ingests every element that
	// decodes. The error is only set when the payload as a whole is not JSON.
	IngestPayload(ctx context.Context, source string, body []byte) (types.IngestResult, error)
}

type ingestor struct {
	store   samples.SampleStore
	devices DeviceRegistry
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store samples.SampleStore, devices DeviceRegistry, m *metrics.Metrics) Ingestor {
	return &ingestor{
		store:   store,
		devices: devices,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (i *ingestor) Ingest(ctx context.Context, source string, sample types.Sample) error {
	err := i.ingest(ctx, sample)
	if err != nil {
		i.metrics.SamplesRejected.WithLabelValues(reason(err)).Inc()
		return err
	}

	i.metrics.SamplesIngested.WithLabelValues(source).Inc()
	return nil
}

func (i *ingestor) IngestBatch(ctx context.Context, source string, batch []types.Sample) types.IngestResult {
	result := types.IngestResult{
		Rejected: []types.Rejection{},
	}

	for idx, s := range batch {
		i.record(ctx, &result, idx, s, i.Ingest(ctx, source, s))
	}

	return result
}

func (i *ingestor) IngestPayload(ctx context.Context, source string, body []byte) (types.IngestResult, error) {
	result := types.IngestResult{
		Rejected: []types.Rejection{},
	}

	decoded, err := DecodeSamples(body)
	if err != nil {
		return result, err
	}

	for idx, d := range decoded {
		err := d.Err
		if err != nil {
			i.metrics.SamplesRejected.WithLabelValues(reason(err)).Inc()
		} else {
			err = i.Ingest(ctx, source, d.Sample)
		}

		i.record(ctx, &result, idx, d.Sample, err)
	}

	return result, nil
}

func (i *ingestor) record(ctx context.Context, result *types.IngestResult, idx int, s types.Sample, err error) {
	if err != nil {
		log := logging.GetLoggerFromContext(ctx)
		log.Debug().Err(err).Str("deviceID", s.DeviceID).Msg("sample rejected")
		result.Rejected = append(result.Rejected, types.Rejection{Index: idx, Error: err.Error()})
		return
	}

	result.Accepted++
}

func (i *ingestor) ingest(ctx context.Context, s types.Sample) error {
	if s.DeviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidSample)
	}

	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}

	if math.IsNaN(s.Watts) || math.IsInf(s.Watts, 0) || s.Watts < 0 {
		return fmt.Errorf("%w: watts must be a non-negative number", ErrInvalidSample)
	}

	now := i.now()

	if s.Timestamp.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidSample, s.Timestamp.Format(time.RFC3339))
	}

	if r := i.store.Retention(); r > 0 && s.Timestamp.Before(now.Add(-r)) {
		return fmt.Errorf("%w: timestamp %s is outside the retention window", ErrInvalidSample, s.Timestamp.Format(time.RFC3339))
	}

	exists, err := i.devices.Exists(ctx, s.DeviceID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, s.DeviceID)
	}

	return i.store.Add(ctx, s)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSample):
		return "invalid"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrDuplicateSample):
		return "duplicate"
	}
	return "error"
}

// Decoded is one element of a sample payload. Err is set when the element could not be decoded.
type Decoded struct {
	Sample types.Sample
	Err    error
}

// DecodeSamples accepts a single JSON sample or an array of samples. Elements are decoded one
// by one so a malformed element is reported at its index without affecting the others.
func DecodeSamples(body []byte) ([]Decoded, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	elements := []json.RawMessage{}

	if body[0] == '[' {
		if err := json.Unmarshal(body, &elements); err != nil {
			return nil, err
		}
	} else {
		if !json.Valid(body) {
			return nil, fmt.Errorf("payload is not valid json")
		}
		elements = append(elements, json.RawMessage(body))
	}

	decoded := make([]Decoded, 0, len(elements))
	for _, raw := range elements {
		s := types.Sample{}
		if err := json.Unmarshal(raw, &s); err != nil {
			decoded = append(decoded, Decoded{Err: fmt.Errorf("%w: %s", ErrInvalidSample, err.Error())})
			continue
		}
		decoded = append(decoded, Decoded{Sample: s})
	}

	return decoded, nil
}
