package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNoPreference = fmt.Errorf("no preference saved")

const householdID uint = 1

type Preference struct {
	ID           uint `gorm:"primaryKey"`
	UpdatedAt    time.Time
	ThresholdKwh float64
	Unit         string
	Channels     string
}

type PreferenceRepository interface {
	Get(ctx context.Context) (types.Preference, error)
	Save(ctx context.Context, p types.Preference) error
}

type preferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(connect ConnectorFunc) (PreferenceRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Preference{})
	if err != nil {
		return nil, err
	}

	return &preferenceRepository{
		db: impl,
	}, nil
}

func (r *preferenceRepository) Get(ctx context.Context) (types.Preference, error) {
	p := Preference{}

	err := r.db.WithContext(ctx).First(&p, householdID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Preference{}, ErrNoPreference
		}
		return types.Preference{}, err
	}

	channels := []types.Channel{}
	if p.Channels != "" {
		channels = lo.Map(strings.Split(p.Channels, ","), func(s string, _ int) types.Channel {
			return types.Channel(s)
		})
	}

	return types.Preference{
		ThresholdKwh:         p.ThresholdKwh,
		Unit:                 types.Unit(p.Unit),
		NotificationChannels: channels,
	}, nil
}

func (r *preferenceRepository) Save(ctx context.Context, p types.Preference) error {
	channels := lo.Map(p.NotificationChannels, func(c types.Channel, _ int) string {
		return string(c)
	})

	row := Preference{
		ID:           householdID,
		ThresholdKwh: p.ThresholdKwh,
		Unit:         string(p.Unit),
		Channels:     strings.Join(channels, ","),
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}
