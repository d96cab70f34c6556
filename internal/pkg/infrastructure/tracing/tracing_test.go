package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitWithoutEndpointIsANoop(t *testing.T) {
	is := is.New(t)

	cleanup, err := Init(context.Background(), zerolog.Logger{}, "", "svc", "v1")
	is.NoErr(err)
	cleanup()
}

func TestTraceIDIsAddedToLogger(t *testing.T) {
	is := is.New(t)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	buf := &bytes.Buffer{}
	traceID, ctx, _ := AddTraceIDToLoggerAndStoreInContext(span, zerolog.New(buf), ctx)
	is.True(traceID != "")

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msg("hello")

	is.True(strings.Contains(buf.String(), traceID))
}
