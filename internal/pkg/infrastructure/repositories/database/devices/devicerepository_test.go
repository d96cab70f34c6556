package devices

import (
	"bytes"
	"context"
	"errors"
	"testing"

	. "github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

const devicesCsv string = `deviceID;name;category;nominalWatts
fridge;Kitchen fridge;Appliance;150
heatpump;Heat pump;Heating;2200
tv;Living room TV;entertainment;95.5`

func TestSeedDevices(t *testing.T) {
	is, ctx, r := testSetup(t)

	err := r.Seed(ctx, bytes.NewBuffer([]byte(devicesCsv)))
	is.NoErr(err)

	devices, err := r.GetAll(ctx)
	is.NoErr(err)
	is.Equal(len(devices), 3)
	is.Equal(devices[0].DeviceID, "fridge")
	is.Equal(devices[0].Category, "appliance")
	is.Equal(devices[2].NominalWatts, 95.5)
}

func TestSeedTwiceKeepsDevices(t *testing.T) {
	is, ctx, r := testSetup(t)

	is.NoErr(r.Seed(ctx, bytes.NewBuffer([]byte(devicesCsv))))
	is.NoErr(r.Seed(ctx, bytes.NewBuffer([]byte(devicesCsv))))

	devices, err := r.GetAll(ctx)
	is.NoErr(err)
	is.Equal(len(devices), 3)
}

func TestSeedRejectsDuplicateRows(t *testing.T) {
	is, ctx, r := testSetup(t)

	csv := devicesCsv + "\nfridge;Another fridge;appliance;100"

	err := r.Seed(ctx, bytes.NewBuffer([]byte(csv)))
	is.True(err != nil)
}

func TestSeedRejectsBadWatts(t *testing.T) {
	is, ctx, r := testSetup(t)

	err := r.Seed(ctx, bytes.NewBuffer([]byte("deviceID;name;category;nominalWatts\noven;Oven;appliance;lots")))
	is.True(err != nil)
}

func TestGetByID(t *testing.T) {
	is, ctx, r := testSetup(t)

	is.NoErr(r.Add(ctx, types.Device{DeviceID: "oven", Name: "Oven", Category: "appliance", NominalWatts: 3000}))

	d, err := r.GetByID(ctx, "oven")
	is.NoErr(err)
	is.Equal(d.Name, "Oven")

	_, err = r.GetByID(ctx, "missing")
	is.True(errors.Is(err, ErrDeviceNotFound))
}

func TestAddExistingDevice(t *testing.T) {
	is, ctx, r := testSetup(t)

	is.NoErr(r.Add(ctx, types.Device{DeviceID: "oven"}))

	err := r.Add(ctx, types.Device{DeviceID: "oven"})
	is.True(errors.Is(err, ErrDeviceExists))

	ok, err := r.Exists(ctx, "oven")
	is.NoErr(err)
	is.True(ok)
}

func testSetup(t *testing.T) (*is.I, context.Context, DeviceRepository) {
	is := is.New(t)
	ctx := context.Background()

	r, err := NewDeviceRepository(NewSQLiteConnector(zerolog.Logger{}))
	is.NoErr(err)

	return is, ctx, r
}
