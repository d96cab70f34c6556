package webevents

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

const (
	AlertCreatedEvent  string = "alertCreated"
	AlertsClearedEvent string = "alertsCleared"
)

type WebEvents interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
	Shutdown()
	Publish(event string, data any) error

	AlertCreated(ctx context.Context, alert types.Alert) error
	AlertsCleared(ctx context.Context, alertIDs []string) error
}

type webEvents struct {
	s       *gosse.Server
	closing atomic.Bool
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{}),
	}
}

func (we *webEvents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if we.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	we.s.ServeHTTP(w, r)
}

// Shutdown ends every open event stream and refuses new ones. The go-sse
// dispatch loop is left running since disconnecting clients still report to it.
func (we *webEvents) Shutdown() {
	if we.closing.Swap(true) {
		return
	}

	we.s.Restart()
}

func (we *webEvents) Publish(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	message := gosse.NewMessage("", string(b), event)
	we.s.SendMessage("", message)

	return nil
}

func (we *webEvents) AlertCreated(ctx context.Context, alert types.Alert) error {
	return we.Publish(AlertCreatedEvent, alert)
}

func (we *webEvents) AlertsCleared(ctx context.Context, alertIDs []string) error {
	return we.Publish(AlertsClearedEvent, struct {
		IDs []string `json:"ids"`
	}{IDs: alertIDs})
}
