package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/metrics"
	repo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/alerts"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/google/uuid"
)

var ErrAlertNotFound = repo.ErrAlertNotFound
var ErrInvalidState = fmt.Errorf("invalid alert state")

type Publisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type Notifier interface {
	AlertCreated(ctx context.Context, alert types.Alert) error
	AlertsCleared(ctx context.Context, alertIDs []string) error
}

type AlertService interface {
	Raise(ctx context.Context, alert types.Alert) (types.Alert, bool, error)
	MarkRead(ctx context.Context, alertID string) error
	ClearRead(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) ([]string, error)
	List(ctx context.Context, states ...types.AlertState) ([]types.Alert, error)
}

type alertSvc struct {
	mu        sync.Mutex
	repo      repo.AlertRepository
	publisher Publisher
	notifiers []Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(r repo.AlertRepository, p Publisher, m *metrics.Metrics, notifiers ...Notifier) AlertService {
	return &alertSvc{
		repo:      r,
		publisher: p,
		notifiers: notifiers,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (svc *alertSvc) Raise(ctx context.Context, alert types.Alert) (types.Alert, bool, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	alert.ID = uuid.NewString()
	alert.CreatedAt = svc.now()
	alert.State = types.AlertUnread

	created, err := svc.repo.Add(ctx, alert)
	if err != nil || !created {
		return types.Alert{}, false, err
	}

	svc.metrics.AlertsRaised.WithLabelValues(alert.Rule, string(alert.Severity)).Inc()

	log := logging.GetLoggerFromContext(ctx).With().Str("alertID", alert.ID).Str("deviceID", alert.DeviceID).Logger()
	log.Info().Msgf("%s alert raised: %s", alert.Severity, alert.Message)

	svc.publish(ctx, &types.AlertCreated{Alert: alert, Timestamp: alert.CreatedAt})

	for _, n := range svc.notifiers {
		if err := n.AlertCreated(ctx, alert); err != nil {
			log.Error().Err(err).Msg("failed to notify about new alert")
		}
	}

	return alert, true, nil
}

func (svc *alertSvc) MarkRead(ctx context.Context, alertID string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	alert, err := svc.repo.GetByID(ctx, alertID)
	if err != nil {
		return err
	}

	if alert.State == types.AlertRead {
		return nil
	}

	err = svc.repo.SetState(ctx, alertID, types.AlertRead)
	if err != nil {
		return err
	}

	svc.publish(ctx, &types.AlertMarkedRead{ID: alertID, Timestamp: svc.now()})

	return nil
}

func (svc *alertSvc) ClearRead(ctx context.Context) ([]string, error) {
	return svc.clear(ctx, types.AlertRead)
}

func (svc *alertSvc) ClearAll(ctx context.Context) ([]string, error) {
	return svc.clear(ctx)
}

func (svc *alertSvc) clear(ctx context.Context, states ...types.AlertState) ([]string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	ids, err := svc.repo.Clear(ctx, states...)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return ids, nil
	}

	svc.metrics.AlertsCleared.Add(float64(len(ids)))

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("%d alerts cleared", len(ids))

	svc.publish(ctx, &types.AlertsCleared{IDs: ids, Timestamp: svc.now()})

	for _, n := range svc.notifiers {
		if err := n.AlertsCleared(ctx, ids); err != nil {
			log.Error().Err(err).Msg("failed to notify about cleared alerts")
		}
	}

	return ids, nil
}

func (svc *alertSvc) List(ctx context.Context, states ...types.AlertState) ([]types.Alert, error) {
	for _, s := range states {
		if s != types.AlertUnread && s != types.AlertRead {
			return nil, ErrInvalidState
		}
	}

	return svc.repo.GetAll(ctx, states...)
}

func (svc *alertSvc) publish(ctx context.Context, msg messaging.TopicMessage) {
	if svc.publisher == nil {
		return
	}

	if err := svc.publisher.PublishOnTopic(ctx, msg); err != nil {
		log := logging.GetLoggerFromContext(ctx)
		log.Error().Err(err).Msgf("failed to publish %s", msg.TopicName())
	}
}
