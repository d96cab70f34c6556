package ingestion

import (
	"context"

	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
)

const SampleTopic string = "energy.sample"

func NewSampleTopicHandler(ing Ingestor) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		ctx = logging.NewContextWithLogger(ctx, logger)

		result, err := ing.IngestPayload(ctx, "amqp", msg.Body)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		if len(result.Rejected) > 0 {
			logger.Warn().Msgf("%d of %d samples rejected", len(result.Rejected), result.Accepted+len(result.Rejected))
		}

		logger.Debug().Msgf("%s handled", msg.RoutingKey)
	}
}
