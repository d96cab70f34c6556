package gateway

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
)

const DefaultMQTTTopic string = "energy/samples"

type MQTTGateway struct {
	client mqtt.Client
	topic  string
	ing    ingestion.Ingestor
}

func NewMQTTGateway(broker, clientID, topic string, ing ingestion.Ingestor) *MQTTGateway {
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	return &MQTTGateway{
		client: mqtt.NewClient(opts),
		topic:  topic,
		ing:    ing,
	}
}

func (g *MQTTGateway) Start(ctx context.Context) error {
	log := logging.GetLoggerFromContext(ctx)

	if token := g.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}

	if token := g.client.Subscribe(g.topic, 1, g.handler(ctx)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe to %s failed: %w", g.topic, token.Error())
	}

	log.Info().Msgf("receiving samples from mqtt topic %s", g.topic)

	return nil
}

func (g *MQTTGateway) Stop() {
	g.client.Disconnect(250)
}

func (g *MQTTGateway) handler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		log := logging.GetLoggerFromContext(ctx).With().Str("topic", msg.Topic()).Logger()

		result, err := g.ing.IngestPayload(ctx, "mqtt", msg.Payload())
		if err != nil {
			log.Error().Err(err).Msg("failed to unmarshal mqtt payload")
			return
		}

		if len(result.Rejected) > 0 {
			log.Warn().Msgf("%d of %d samples rejected", len(result.Rejected), result.Accepted+len(result.Rejected))
		}
	}
}
