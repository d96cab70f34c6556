package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestThatCountersAreExposed(t *testing.T) {
	is := is.New(t)
	m := NewNop()

	m.SamplesIngested.WithLabelValues("http").Add(3)
	m.AlertsRaised.WithLabelValues("threshold", "warning").Inc()

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	is.NoErr(err)
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	body := string(b)

	is.True(strings.Contains(body, `energy_samples_ingested_total{source="http"} 3`))
	is.True(strings.Contains(body, `energy_alerts_raised_total{rule="threshold",severity="warning"} 1`))
}
