package webevents

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/matryer/is"
)

func TestPublishWithoutClients(t *testing.T) {
	is := is.New(t)

	we := New()
	defer we.Shutdown()

	is.NoErr(we.AlertCreated(context.Background(), types.Alert{ID: "a1"}))
	is.NoErr(we.AlertsCleared(context.Background(), []string{"a1"}))
}

func TestPublishRejectsUnencodableData(t *testing.T) {
	is := is.New(t)

	we := New()
	defer we.Shutdown()

	err := we.Publish("broken", make(chan int))
	is.True(err != nil)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	is := is.New(t)

	we := New()
	ts := httptest.NewServer(we)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v0/events")
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)

	server := we.(*webEvents).s
	for i := 0; server.ClientCount() == 0; i++ {
		is.True(i < 100) // client never registered
		time.Sleep(10 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()

	we.Shutdown()

	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(5 * time.Second):
		t.Fatal("event stream still open after shutdown")
	}

	late, err := http.Get(ts.URL + "/api/v0/events")
	is.NoErr(err)
	late.Body.Close()
	is.Equal(late.StatusCode, http.StatusServiceUnavailable)

	is.NoErr(we.AlertCreated(context.Background(), types.Alert{ID: "a2"}))
}
