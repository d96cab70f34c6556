package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
)

const DefaultKafkaTopic string = "energy-samples"

// DefaultRetryDelay is the pause after a failed read before the next attempt.
const DefaultRetryDelay time.Duration = 2 * time.Second

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaGateway struct {
	reader     MessageReader
	ing        ingestion.Ingestor
	retryDelay time.Duration
}

func NewKafkaGateway(brokers []string, topic, groupID string, ing ingestion.Ingestor) *KafkaGateway {
	if topic == "" {
		topic = DefaultKafkaTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &KafkaGateway{
		reader:     reader,
		ing:        ing,
		retryDelay: DefaultRetryDelay,
	}
}

// Run consumes samples until the context is cancelled or the reader is closed.
func (g *KafkaGateway) Run(ctx context.Context) error {
	log := logging.GetLoggerFromContext(ctx)

	for {
		msg, err := g.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			log.Error().Err(err).Msgf("failed to read kafka message, retrying in %s", g.retryDelay)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(g.retryDelay):
			}
			continue
		}

		result, err := g.ing.IngestPayload(ctx, "kafka", msg.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping undecodable kafka message")
			continue
		}

		if len(result.Rejected) > 0 {
			log.Warn().Int64("offset", msg.Offset).Msgf("%d of %d samples rejected", len(result.Rejected), result.Accepted+len(result.Rejected))
		}
	}
}

func (g *KafkaGateway) Close() error {
	return g.reader.Close()
}
