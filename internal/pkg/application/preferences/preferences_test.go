package preferences

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	repo "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database/preferences"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestDefaultsWhenNothingIsSaved(t *testing.T) {
	is, ctx, svc := testSetup(t)

	p, err := svc.Get(ctx)
	is.NoErr(err)
	is.Equal(p.ThresholdKwh, 2.5)
	is.Equal(p.Unit, types.UnitKwh)
	is.Equal(p.NotificationChannels, []types.Channel{types.ChannelEmail})
}

func TestSetReplacesPreference(t *testing.T) {
	is, ctx, svc := testSetup(t)

	saved, err := svc.Set(ctx, types.Preference{
		ThresholdKwh:         5,
		Unit:                 types.UnitCost,
		NotificationChannels: []types.Channel{types.ChannelSMS, types.ChannelEmail, types.ChannelSMS},
	})
	is.NoErr(err)
	is.Equal(saved.NotificationChannels, []types.Channel{types.ChannelEmail, types.ChannelSMS})

	p, err := svc.Get(ctx)
	is.NoErr(err)
	is.Equal(p, saved)
}

func TestInvalidPreferences(t *testing.T) {
	is, ctx, svc := testSetup(t)

	invalid := []types.Preference{
		{ThresholdKwh: 0, Unit: types.UnitKwh},
		{ThresholdKwh: -1, Unit: types.UnitKwh},
		{ThresholdKwh: math.NaN(), Unit: types.UnitKwh},
		{ThresholdKwh: 2, Unit: "MWh"},
		{ThresholdKwh: 2, Unit: types.UnitKwh, NotificationChannels: []types.Channel{"pigeon"}},
	}

	for _, p := range invalid {
		_, err := svc.Set(ctx, p)
		is.True(errors.Is(err, ErrInvalidPreference))
	}

	p, err := svc.Get(ctx)
	is.NoErr(err)
	is.Equal(p, types.DefaultPreference())
}

func testSetup(t *testing.T) (*is.I, context.Context, PreferenceService) {
	is := is.New(t)

	r, err := repo.NewPreferenceRepository(database.NewSQLiteConnector(zerolog.Logger{}))
	is.NoErr(err)

	return is, context.Background(), New(r)
}
