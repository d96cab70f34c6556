package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrBadRequest = fmt.Errorf("bad request")

type EnergyManagementClient interface {
	SendSamples(ctx context.Context, samples ...types.Sample) (types.IngestResult, error)
	GetConsumption(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error)
	GetAlerts(ctx context.Context, states ...types.AlertState) ([]types.Alert, error)
	MarkRead(ctx context.Context, alertID string) error
	ClearRead(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) ([]string, error)
	GetPreferences(ctx context.Context) (types.Preference, error)
	SetPreferences(ctx context.Context, p types.Preference) (types.Preference, error)
}

type energyMgmtClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("energy-mgmt-client")

func New(energyMgmtUrl string) EnergyManagementClient {
	return &energyMgmtClient{
		url: strings.TrimSuffix(energyMgmtUrl, "/"),
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *energyMgmtClient) SendSamples(ctx context.Context, samples ...types.Sample) (types.IngestResult, error) {
	var err error
	ctx, span := tracer.Start(ctx, "send-samples")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	result := types.IngestResult{}
	err = c.do(ctx, http.MethodPost, "/api/v0/samples", samples, http.StatusAccepted, &result)

	return result, err
}

func (c *energyMgmtClient) GetConsumption(ctx context.Context, deviceID string, granularity types.Granularity, from, to time.Time) ([]types.Bucket, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-consumption")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	q := url.Values{}
	q.Set("granularity", string(granularity))
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	if deviceID != "" {
		q.Set("deviceID", deviceID)
	}

	buckets := []types.Bucket{}
	err = c.do(ctx, http.MethodGet, "/api/v0/consumption?"+q.Encode(), nil, http.StatusOK, &buckets)

	return buckets, err
}

func (c *energyMgmtClient) GetAlerts(ctx context.Context, states ...types.AlertState) ([]types.Alert, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-alerts")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	path := "/api/v0/alerts"
	if len(states) > 0 {
		path += "?state=" + url.QueryEscape(string(states[0]))
	}

	alerts := []types.Alert{}
	err = c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &alerts)

	return alerts, err
}

func (c *energyMgmtClient) MarkRead(ctx context.Context, alertID string) error {
	var err error
	ctx, span := tracer.Start(ctx, "mark-alert-read")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body := struct {
		State types.AlertState `json:"state"`
	}{State: types.AlertRead}

	err = c.do(ctx, http.MethodPatch, "/api/v0/alerts/"+url.PathEscape(alertID), body, http.StatusNoContent, nil)

	return err
}

func (c *energyMgmtClient) ClearRead(ctx context.Context) ([]string, error) {
	var err error
	ctx, span := tracer.Start(ctx, "clear-read-alerts")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var ids []string
	ids, err = c.clear(ctx, "/api/v0/alerts?state=read")

	return ids, err
}

func (c *energyMgmtClient) ClearAll(ctx context.Context) ([]string, error) {
	var err error
	ctx, span := tracer.Start(ctx, "clear-all-alerts")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var ids []string
	ids, err = c.clear(ctx, "/api/v0/alerts")

	return ids, err
}

func (c *energyMgmtClient) clear(ctx context.Context, path string) ([]string, error) {
	result := struct {
		Cleared []string `json:"cleared"`
	}{}

	err := c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, &result)
	if err != nil {
		return nil, err
	}

	if result.Cleared == nil {
		return []string{}, nil
	}

	return result.Cleared, nil
}

func (c *energyMgmtClient) GetPreferences(ctx context.Context) (types.Preference, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-preferences")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	p := types.Preference{}
	err = c.do(ctx, http.MethodGet, "/api/v0/preferences", nil, http.StatusOK, &p)

	return p, err
}

func (c *energyMgmtClient) SetPreferences(ctx context.Context, p types.Preference) (types.Preference, error) {
	var err error
	ctx, span := tracer.Start(ctx, "set-preferences")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	saved := types.Preference{}
	err = c.do(ctx, http.MethodPut, "/api/v0/preferences", p, http.StatusOK, &saved)

	return saved, err
}

func (c *energyMgmtClient) do(ctx context.Context, method, path string, body any, expected int, result any) error {
	log := zerolog.Ctx(ctx)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expected {
		log.Debug().Msgf("%s %s returned status code %d", method, path, resp.StatusCode)
		return statusError(resp.StatusCode, respBody)
	}

	if result == nil {
		return nil
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}

func statusError(code int, body []byte) error {
	msg := struct {
		Error string `json:"error"`
	}{}
	_ = json.Unmarshal(body, &msg)

	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg.Error)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, msg.Error)
	}

	return fmt.Errorf("request failed with status code %d", code)
}
