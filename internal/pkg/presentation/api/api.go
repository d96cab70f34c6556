package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/alerts"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/preferences"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	o11y "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

var tracer = otel.Tracer("iot-energy-mgmt/api")

var errBadRequest = fmt.Errorf("bad request")

func RegisterHandlers(log zerolog.Logger, router *chi.Mux, app application.App, we webevents.WebEvents, m *metrics.Metrics) *chi.Mux {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Handle("/metrics", m.Handler())

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", listDevicesHandler(log, app))
			r.Get("/{deviceID}", getDeviceHandler(log, app))
		})

		r.Post("/samples", ingestSamplesHandler(log, app))
		r.Get("/consumption", consumptionHandler(log, app))

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", listAlertsHandler(log, app))
			r.Delete("/", clearAlertsHandler(log, app))
			r.Post("/evaluations", evaluateAlertsHandler(log, app))
			r.Patch("/{alertID}", patchAlertHandler(log, app))
		})

		r.Get("/preferences", getPreferencesHandler(log, app))
		r.Put("/preferences", setPreferencesHandler(log, app))

		r.Post("/exports", exportHandler(log, app))

		if we != nil {
			r.Get("/events", we.ServeHTTP)
		}
	})

	return router
}

func listDevicesHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-devices")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		devices, err := app.ListDevices(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to list devices")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, devices)
	}
}

func getDeviceHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")
		requestLogger = requestLogger.With().Str("deviceID", deviceID).Logger()

		device, err := app.GetDevice(ctx, deviceID)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to get device")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func ingestSamplesHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "ingest-samples")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			writeError(w, fmt.Errorf("%w: %s", errBadRequest, err.Error()))
			return
		}

		result, err := app.IngestPayload(ctx, "http", body)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to unmarshal body")
			writeError(w, fmt.Errorf("%w: %s", errBadRequest, err.Error()))
			return
		}

		writeJSON(w, http.StatusAccepted, result)
	}
}

func consumptionHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-consumption")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		granularity, from, to, err := rangeFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}

		deviceID := r.URL.Query().Get("deviceID")

		buckets, err := app.Consumption(ctx, deviceID, granularity, from, to)
		if err != nil {
			requestLogger.Debug().Err(err).Str("deviceID", deviceID).Msg("unable to aggregate consumption")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, buckets)
	}
}

func evaluateAlertsHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "evaluate-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		granularity, from, to, err := rangeFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}

		created, err := app.EvaluateAlerts(ctx, granularity, from, to)
		if err != nil {
			requestLogger.Error().Err(err).Msg("evaluation failed")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, created)
	}
}

func listAlertsHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		states := []types.AlertState{}
		if s := r.URL.Query().Get("state"); s != "" {
			states = append(states, types.AlertState(s))
		}

		list, err := app.ListAlerts(ctx, states...)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to list alerts")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func patchAlertHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "patch-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alertID := chi.URLParam(r, "alertID")
		requestLogger = requestLogger.With().Str("alertID", alertID).Logger()

		patch := struct {
			State types.AlertState `json:"state"`
		}{}

		err = json.NewDecoder(r.Body).Decode(&patch)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to unmarshal body")
			writeError(w, fmt.Errorf("%w: %s", errBadRequest, err.Error()))
			return
		}

		if patch.State != types.AlertRead {
			err = fmt.Errorf("%w: alerts can only be marked as read", errBadRequest)
			writeError(w, err)
			return
		}

		err = app.MarkAlertRead(ctx, alertID)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to mark alert as read")
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func clearAlertsHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "clear-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		var cleared []string

		switch state := r.URL.Query().Get("state"); state {
		case "":
			cleared, err = app.ClearAllAlerts(ctx)
		case string(types.AlertRead):
			cleared, err = app.ClearReadAlerts(ctx)
		default:
			err = fmt.Errorf("%w: only read alerts can be cleared selectively", errBadRequest)
		}

		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to clear alerts")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Cleared []string `json:"cleared"`
		}{Cleared: cleared})
	}
}

func getPreferencesHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-preferences")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		p, err := app.GetPreferences(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to get preferences")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

func setPreferencesHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "set-preferences")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		p := types.Preference{}

		err = json.NewDecoder(r.Body).Decode(&p)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to unmarshal body")
			writeError(w, fmt.Errorf("%w: %s", errBadRequest, err.Error()))
			return
		}

		saved, err := app.SetPreferences(ctx, p)
		if err != nil {
			requestLogger.Debug().Err(err).Msg("unable to save preferences")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, saved)
	}
}

func exportHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "export")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		granularity, from, to, err := rangeFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}

		export, err := app.Export(ctx, granularity, from, to)
		if err != nil {
			requestLogger.Error().Err(err).Msg("export failed")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, export)
	}
}

// rangeFromQuery reads granularity, from and to. Missing bounds fall back to the default
// range of the granularity.
func rangeFromQuery(r *http.Request) (types.Granularity, time.Time, time.Time, error) {
	q := r.URL.Query()

	granularity := types.Hour
	if g := q.Get("granularity"); g != "" {
		granularity = types.Granularity(g)
	}

	if !granularity.Valid() {
		return "", time.Time{}, time.Time{}, fmt.Errorf("%w (%s)", aggregation.ErrInvalidGranularity, granularity)
	}

	from, to := aggregation.DefaultRange(granularity, time.Now().UTC())

	var err error
	if f := q.Get("from"); f != "" {
		from, err = time.Parse(time.RFC3339, f)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("%w: from is not a RFC3339 timestamp", aggregation.ErrInvalidRange)
		}
	}

	if t := q.Get("to"); t != "" {
		to, err = time.Parse(time.RFC3339, t)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("%w: to is not a RFC3339 timestamp", aggregation.ErrInvalidRange)
		}
	}

	return granularity, from, to, nil
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, aggregation.ErrInvalidRange),
		errors.Is(err, preferences.ErrInvalidPreference),
		errors.Is(err, alerts.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrDeviceNotFound),
		errors.Is(err, alerts.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrExportsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)

	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}

	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
