package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Preferences interface {
	Get(ctx context.Context) (types.Preference, error)
}

// Dispatcher sends new alerts to the notification channels enabled in the household preferences.
type Dispatcher struct {
	sns         SNSPublisher
	topicArn    string
	preferences Preferences
}

func NewDispatcher(client SNSPublisher, topicArn string, p Preferences) *Dispatcher {
	return &Dispatcher{
		sns:         client,
		topicArn:    topicArn,
		preferences: p,
	}
}

func (d *Dispatcher) AlertCreated(ctx context.Context, alert types.Alert) error {
	pref, err := d.preferences.Get(ctx)
	if err != nil {
		return err
	}

	if len(pref.NotificationChannels) == 0 {
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	log := logging.GetLoggerFromContext(ctx).With().Str("alertID", alert.ID).Logger()

	for _, channel := range pref.NotificationChannels {
		input := &sns.PublishInput{
			TopicArn: aws.String(d.topicArn),
			Subject:  aws.String(subject(alert)),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"channel": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(channel)),
				},
				"severity": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(alert.Severity)),
				},
			},
		}

		result, err := d.sns.Publish(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to publish to SNS: %w", err)
		}

		log.Debug().Str("channel", string(channel)).Msgf("alert sent, message id %s", aws.ToString(result.MessageId))
	}

	return nil
}

func (d *Dispatcher) AlertsCleared(ctx context.Context, alertIDs []string) error {
	return nil
}

func subject(alert types.Alert) string {
	switch alert.Severity {
	case types.SeverityError:
		return "Energy alert: action needed"
	case types.SeverityWarning:
		return "Energy alert: high consumption"
	}
	return "Energy notice"
}
