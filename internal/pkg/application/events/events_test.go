package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/matryer/is"
)

func TestConfig(t *testing.T) {
	is := is.New(t)
	config := strings.NewReader(`
notifications:
  - id: household-alerts
    name: Alerts for the household dashboard
    type: energy.alert
    subscribers:
    - endpoint: http://api-notification:8990
`)
	cfg, err := LoadConfiguration(config)

	is.NoErr(err)
	is.Equal(len(cfg.Notifications), 1)
	is.Equal(cfg.Notifications[0].ID, "household-alerts")
	is.Equal(cfg.Notifications[0].Subscribers[0].Endpoint, "http://api-notification:8990")
}

func TestAlertIsSentToSubscriber(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	var eventType string
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		eventType = r.Header.Get("Ce-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := New(&Config{
		Notifications: []Notification{
			{Type: AlertCreatedType, Subscribers: []SubscriberConfig{{Endpoint: server.URL}}},
		},
	})
	is.NoErr(err)

	err = sender.AlertCreated(context.Background(), types.Alert{
		ID:        "a1",
		CreatedAt: time.Now().UTC(),
		Severity:  types.SeverityWarning,
		DeviceID:  "heatpump",
		Rule:      types.RuleThreshold,
	})
	is.NoErr(err)

	mu.Lock()
	defer mu.Unlock()
	is.Equal(eventType, AlertCreatedType)
	is.Equal(body["deviceID"], "heatpump")
}

func TestNoSubscribersIsANoop(t *testing.T) {
	is := is.New(t)

	sender, err := New(nil)
	is.NoErr(err)

	is.NoErr(sender.AlertsCleared(context.Background(), []string{"a1"}))
}
