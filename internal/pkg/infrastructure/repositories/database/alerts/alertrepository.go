package alerts

import (
	"context"
	"errors"
	"fmt"

	. "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var ErrAlertNotFound = fmt.Errorf("alert not found")

type AlertRepository interface {
	// Add stores the alert unless an unread or read alert with the same key exists.
	Add(ctx context.Context, alert types.Alert) (bool, error)
	GetByID(ctx context.Context, alertID string) (types.Alert, error)
	GetAll(ctx context.Context, states ...types.AlertState) ([]types.Alert, error)
	SetState(ctx context.Context, alertID string, state types.AlertState) error
	// Clear marks matching alerts as cleared and removes them. No states means every alert.
	Clear(ctx context.Context, states ...types.AlertState) ([]string, error)
}

type alertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(connect ConnectorFunc) (AlertRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Alert{})
	if err != nil {
		return nil, err
	}

	return &alertRepository{
		db: impl,
	}, nil
}

func (r *alertRepository) Add(ctx context.Context, alert types.Alert) (bool, error) {
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64

		err := tx.Model(&Alert{}).
			Where("dedup_key = ? AND state IN ?", alert.Key(), []string{string(types.AlertUnread), string(types.AlertRead)}).
			Count(&count).Error
		if err != nil {
			return err
		}

		if count > 0 {
			return nil
		}

		a := newAlert(alert)
		if err := tx.Create(&a).Error; err != nil {
			return err
		}

		created = true
		return nil
	})

	return created, err
}

func (r *alertRepository) GetByID(ctx context.Context, alertID string) (types.Alert, error) {
	a := Alert{}

	err := r.db.WithContext(ctx).Where("id = ?", alertID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Alert{}, ErrAlertNotFound
		}
		return types.Alert{}, err
	}

	return a.Type(), nil
}

func (r *alertRepository) GetAll(ctx context.Context, states ...types.AlertState) ([]types.Alert, error) {
	alerts := []Alert{}

	query := r.db.WithContext(ctx).Order("created_at desc").Order("period_start desc").Order("device_id")
	if len(states) > 0 {
		query = query.Where("state IN ?", toStrings(states))
	}

	err := query.Find(&alerts).Error
	if err != nil {
		return []types.Alert{}, err
	}

	return lo.Map(alerts, func(a Alert, _ int) types.Alert {
		return a.Type()
	}), nil
}

func (r *alertRepository) SetState(ctx context.Context, alertID string, state types.AlertState) error {
	result := r.db.WithContext(ctx).Model(&Alert{}).Where("id = ?", alertID).Update("state", string(state))
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}

	return nil
}

func (r *alertRepository) Clear(ctx context.Context, states ...types.AlertState) ([]string, error) {
	ids := []string{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&Alert{})
		if len(states) > 0 {
			query = query.Where("state IN ?", toStrings(states))
		}

		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}

		if len(ids) == 0 {
			return nil
		}

		err := tx.Model(&Alert{}).Where("id IN ?", ids).Update("state", string(types.AlertCleared)).Error
		if err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).Delete(&Alert{}).Error
	})

	if err != nil {
		return []string{}, err
	}

	return ids, nil
}

func toStrings(states []types.AlertState) []string {
	return lo.Map(states, func(s types.AlertState, _ int) string {
		return string(s)
	})
}
