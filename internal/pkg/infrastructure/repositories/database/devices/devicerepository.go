package devices

import (
	"context"
	"errors"
	"fmt"
	"io"

	. "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"gorm.io/gorm"
)

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrDeviceExists = fmt.Errorf("device already exists")

type DeviceRepository interface {
	GetAll(ctx context.Context) ([]types.Device, error)
	GetByID(ctx context.Context, deviceID string) (types.Device, error)
	Exists(ctx context.Context, deviceID string) (bool, error)
	Add(ctx context.Context, device types.Device) error
	Seed(ctx context.Context, reader io.Reader) error
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(connect ConnectorFunc) (DeviceRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Device{})
	if err != nil {
		return nil, err
	}

	return &deviceRepository{
		db: impl,
	}, nil
}

func (d *deviceRepository) GetAll(ctx context.Context) ([]types.Device, error) {
	var devices []Device

	err := d.db.WithContext(ctx).Order("device_id").Find(&devices).Error
	if err != nil {
		return []types.Device{}, err
	}

	result := make([]types.Device, 0, len(devices))
	for _, dev := range devices {
		result = append(result, dev.Type())
	}

	return result, nil
}

func (d *deviceRepository) GetByID(ctx context.Context, deviceID string) (types.Device, error) {
	device := Device{}

	err := d.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Device{}, ErrDeviceNotFound
		}
		return types.Device{}, err
	}

	return device.Type(), nil
}

func (d *deviceRepository) Exists(ctx context.Context, deviceID string) (bool, error) {
	var count int64

	err := d.db.WithContext(ctx).Model(&Device{}).Where("device_id = ?", deviceID).Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (d *deviceRepository) Add(ctx context.Context, device types.Device) error {
	exists, err := d.Exists(ctx, device.DeviceID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.DeviceID)
	}

	return d.db.WithContext(ctx).Create(&Device{
		DeviceID:     device.DeviceID,
		Name:         device.Name,
		Category:     device.Category,
		NominalWatts: device.NominalWatts,
	}).Error
}
