package devices

import (
	"time"

	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

type Device struct {
	DeviceID     string `gorm:"primaryKey"`
	Name         string
	Category     string `gorm:"index"`
	NominalWatts float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (d Device) Type() types.Device {
	return types.Device{
		DeviceID:     d.DeviceID,
		Name:         d.Name,
		Category:     d.Category,
		NominalWatts: d.NominalWatts,
	}
}
