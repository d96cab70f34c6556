package alerts

import (
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"gorm.io/gorm"
)

type Alert struct {
	ID        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	DedupKey    string `gorm:"index"`
	Severity    string
	Message     string
	State       string `gorm:"index"`
	DeviceID    string
	Rule        string
	Granularity string
	PeriodStart time.Time
	Value       float64
}

func newAlert(a types.Alert) Alert {
	return Alert{
		ID:          a.ID,
		CreatedAt:   a.CreatedAt.UTC(),
		DedupKey:    a.Key(),
		Severity:    string(a.Severity),
		Message:     a.Message,
		State:       string(a.State),
		DeviceID:    a.DeviceID,
		Rule:        a.Rule,
		Granularity: string(a.Granularity),
		PeriodStart: a.PeriodStart.UTC(),
		Value:       a.Value,
	}
}

func (a Alert) Type() types.Alert {
	return types.Alert{
		ID:          a.ID,
		CreatedAt:   a.CreatedAt.UTC(),
		Severity:    types.Severity(a.Severity),
		Message:     a.Message,
		State:       types.AlertState(a.State),
		DeviceID:    a.DeviceID,
		Rule:        a.Rule,
		Granularity: types.Granularity(a.Granularity),
		PeriodStart: a.PeriodStart.UTC(),
		Value:       a.Value,
	}
}
