package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	alertrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/alerts"
	devicerepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/devices"
	prefrepo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/samples"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

const devicesCsv string = `deviceID;name;category;nominalWatts
D;Dryer;appliance;2000
heatpump;Heat pump;heating;2200`

func TestHealthEndpointReturns204(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodGet, "/health", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestMetricsAreExposed(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	postSamples(is, ts, []types.Sample{{DeviceID: "D", Timestamp: time.Now().UTC().Add(-time.Minute), Watts: 100}})

	resp, body := testRequest(is, ts, http.MethodGet, "/metrics", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `energy_samples_ingested_total{source="http"} 1`))
}

func TestListAndGetDevices(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, body := testRequest(is, ts, http.MethodGet, "/api/v0/devices", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	devices := []types.DeviceConsumption{}
	is.NoErr(json.Unmarshal([]byte(body), &devices))
	is.Equal(len(devices), 2)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/devices/heatpump", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/devices/toaster", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestIngestReportsRejections(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	now := time.Now().UTC().Add(-time.Minute)
	result := postSamples(is, ts, []types.Sample{
		{DeviceID: "D", Timestamp: now, Watts: 100},
		{DeviceID: "toaster", Timestamp: now, Watts: 800},
		{DeviceID: "D", Timestamp: now, Watts: -5},
	})

	is.Equal(result.Accepted, 1)
	is.Equal(len(result.Rejected), 2)
	is.Equal(result.Rejected[0].Index, 1)
}

func TestIngestKeepsValidSamplesOfMalformedBatch(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	ts1 := time.Now().UTC().Add(-2 * time.Minute).Format(time.RFC3339)
	ts2 := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)

	body := fmt.Sprintf(`[{"deviceID":"D","timestamp":"%s","watts":100},{"deviceID":"D","timestamp":"not-a-time","watts":100},{"deviceID":"heatpump","timestamp":"%s","watts":1500}]`, ts1, ts2)

	resp, respBody := testRequest(is, ts, http.MethodPost, "/api/v0/samples", strings.NewReader(body))
	is.Equal(resp.StatusCode, http.StatusAccepted)

	result := types.IngestResult{}
	is.NoErr(json.Unmarshal([]byte(respBody), &result))
	is.Equal(result.Accepted, 2)
	is.Equal(len(result.Rejected), 1)
	is.Equal(result.Rejected[0].Index, 1)

	_, respBody = testRequest(is, ts, http.MethodGet, "/api/v0/devices/heatpump", nil)
	device := types.DeviceConsumption{}
	is.NoErr(json.Unmarshal([]byte(respBody), &device))
	is.Equal(device.CurrentWatts, 1500.0)
	is.Equal(device.Status, types.DeviceActive)
}

func TestIngestWithBadJSON(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodPost, "/api/v0/samples", strings.NewReader(`{"deviceID":`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

func TestConsumptionByHourAndDay(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	day := aggregation.Align(time.Now().UTC(), types.Day).AddDate(0, 0, -1)

	batch := []types.Sample{}
	for h := 0; h < 24; h++ {
		batch = append(batch, types.Sample{DeviceID: "D", Timestamp: day.Add(time.Duration(h) * time.Hour), Watts: 500})
	}
	postSamples(is, ts, batch)

	buckets := getConsumption(is, ts, "hour", day, day.Add(24*time.Hour), "D")
	is.Equal(len(buckets), 24)
	is.Equal(buckets[0].TotalKwh, 0.5)

	buckets = getConsumption(is, ts, "day", day, day.Add(24*time.Hour), "")
	is.Equal(len(buckets), 1)
	is.Equal(buckets[0].TotalKwh, 12.0)
	is.Equal(buckets[0].DeviceID, "")
}

func TestConsumptionDefaultsToToday(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, body := testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=hour", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	buckets := []types.Bucket{}
	is.NoErr(json.Unmarshal([]byte(body), &buckets))
	is.Equal(len(buckets), 24)
	is.True(strings.Contains(body, `"deviceID":null`))
}

func TestConsumptionWithInvalidRange(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=month", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=hour&from=2024-03-04T10:00:00Z&to=2024-03-04T09:00:00Z", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=hour&from=yesterday", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=hour&from=2000-01-01T00:00:00Z&to=2024-01-01T00:00:00Z", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodGet, "/api/v0/consumption?granularity=hour&deviceID=toaster", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestAlertLifecycle(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	hour := aggregation.Align(time.Now().UTC(), types.Hour).Add(-2 * time.Hour)
	postSamples(is, ts, []types.Sample{{DeviceID: "heatpump", Timestamp: hour, Watts: 3000}})

	path := evaluationPath(hour, hour.Add(time.Hour))

	resp, body := testRequest(is, ts, http.MethodPost, path, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	created := []types.Alert{}
	is.NoErr(json.Unmarshal([]byte(body), &created))
	is.Equal(len(created), 2)

	_, body = testRequest(is, ts, http.MethodPost, path, nil)
	is.Equal(strings.TrimSpace(body), "[]")

	resp, _ = testRequest(is, ts, http.MethodPatch, "/api/v0/alerts/"+created[0].ID, strings.NewReader(`{"state":"read"}`))
	is.Equal(resp.StatusCode, http.StatusNoContent)

	resp, _ = testRequest(is, ts, http.MethodPatch, "/api/v0/alerts/"+created[0].ID, strings.NewReader(`{"state":"unread"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = testRequest(is, ts, http.MethodGet, "/api/v0/alerts?state=read", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	read := []types.Alert{}
	is.NoErr(json.Unmarshal([]byte(body), &read))
	is.Equal(len(read), 1)

	resp, _ = testRequest(is, ts, http.MethodDelete, "/api/v0/alerts?state=read", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, _ = testRequest(is, ts, http.MethodPatch, "/api/v0/alerts/"+created[0].ID, strings.NewReader(`{"state":"read"}`))
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, ts, http.MethodDelete, "/api/v0/alerts", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	_, body = testRequest(is, ts, http.MethodGet, "/api/v0/alerts", nil)
	is.Equal(strings.TrimSpace(body), "[]")
}

func TestListAlertsWithUnknownState(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodGet, "/api/v0/alerts?state=cleared", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodDelete, "/api/v0/alerts?state=unread", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

func TestPreferences(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, body := testRequest(is, ts, http.MethodGet, "/api/v0/preferences", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	p := types.Preference{}
	is.NoErr(json.Unmarshal([]byte(body), &p))
	is.Equal(p, types.DefaultPreference())

	resp, _ = testRequest(is, ts, http.MethodPut, "/api/v0/preferences", strings.NewReader(`{"thresholdKwh":0,"unit":"kWh","notificationChannels":[]}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, http.MethodPut, "/api/v0/preferences", strings.NewReader(`{"thresholdKwh":4,"unit":"cost","notificationChannels":["sms","push"]}`))
	is.Equal(resp.StatusCode, http.StatusOK)

	_, body = testRequest(is, ts, http.MethodGet, "/api/v0/preferences", nil)
	is.NoErr(json.Unmarshal([]byte(body), &p))
	is.Equal(p.Unit, types.UnitCost)
	is.Equal(p.NotificationChannels, []types.Channel{types.ChannelPush, types.ChannelSMS})
}

func TestExportWithoutBucket(t *testing.T) {
	is, ts := testSetup(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodPost, "/api/v0/exports?granularity=day", nil)
	is.Equal(resp.StatusCode, http.StatusNotImplemented)
}

func postSamples(is *is.I, ts *httptest.Server, batch []types.Sample) types.IngestResult {
	b, err := json.Marshal(batch)
	is.NoErr(err)

	resp, body := testRequest(is, ts, http.MethodPost, "/api/v0/samples", bytes.NewReader(b))
	is.Equal(resp.StatusCode, http.StatusAccepted)

	result := types.IngestResult{}
	is.NoErr(json.Unmarshal([]byte(body), &result))

	return result
}

func getConsumption(is *is.I, ts *httptest.Server, granularity string, from, to time.Time, deviceID string) []types.Bucket {
	q := url.Values{}
	q.Set("granularity", granularity)
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	if deviceID != "" {
		q.Set("deviceID", deviceID)
	}

	resp, body := testRequest(is, ts, http.MethodGet, "/api/v0/consumption?"+q.Encode(), nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	buckets := []types.Bucket{}
	is.NoErr(json.Unmarshal([]byte(body), &buckets))

	return buckets
}

func evaluationPath(from, to time.Time) string {
	q := url.Values{}
	q.Set("granularity", "hour")
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	return "/api/v0/alerts/evaluations?" + q.Encode()
}

func testSetup(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := context.Background()
	conn := database.NewSQLiteConnector(zerolog.Logger{})

	devices, err := devicerepo.NewDeviceRepository(conn)
	is.NoErr(err)
	is.NoErr(devices.Seed(ctx, bytes.NewBufferString(devicesCsv)))

	alerts, err := alertrepo.NewAlertRepository(conn)
	is.NoErr(err)

	prefs, err := prefrepo.NewPreferenceRepository(conn)
	is.NoErr(err)

	m := metrics.NewNop()

	app := application.New(application.DefaultConfig(), application.Storage{
		Samples:     samples.NewSampleStore(35 * 24 * time.Hour),
		Devices:     devices,
		Alerts:      alerts,
		Preferences: prefs,
	}, nil, nil, m)

	r := RegisterHandlers(zerolog.Logger{}, router.New("test"), app, nil, m)

	return is, httptest.NewServer(r)
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, err := http.NewRequest(method, ts.URL+path, body)
	is.NoErr(err)

	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, string(respBody)
}
