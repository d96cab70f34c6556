package devices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

// Seed loads devices from a ';' separated file with the columns deviceID;name;category;nominalWatts.
// The first row is a header. Devices that already exist are left untouched.
func (d *deviceRepository) Seed(ctx context.Context, reader io.Reader) error {
	r := csv.NewReader(reader)
	r.Comma = ';'
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	records, err := getRecordsFromRows(rows)
	if err != nil {
		return err
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("loaded %d devices from file", len(records))

	for _, device := range records {
		err := d.Add(ctx, device)
		if errors.Is(err, ErrDeviceExists) {
			log.Debug().Str("deviceID", device.DeviceID).Msg("device already seeded")
		} else if err != nil {
			log.Error().Err(err).Str("deviceID", device.DeviceID).Msg("could not seed device")
		}
	}

	return nil
}

func getRecordsFromRows(rows [][]string) ([]types.Device, error) {
	records := []types.Device{}
	seen := map[string]bool{}

	for i, r := range rows {
		if i == 0 {
			continue
		}

		if len(r) < 4 {
			return nil, fmt.Errorf("row %d: expected 4 columns, got %d", i+1, len(r))
		}

		deviceID := strings.TrimSpace(r[0])
		if deviceID == "" {
			return nil, fmt.Errorf("row %d: missing device id", i+1)
		}

		if seen[deviceID] {
			return nil, fmt.Errorf("row %d: duplicate device id %s", i+1, deviceID)
		}
		seen[deviceID] = true

		watts, err := strconv.ParseFloat(strings.TrimSpace(r[3]), 64)
		if err != nil || watts < 0 {
			return nil, fmt.Errorf("row %d: invalid nominal watts %q", i+1, r[3])
		}

		records = append(records, types.Device{
			DeviceID:     deviceID,
			Name:         strings.TrimSpace(r[1]),
			Category:     strings.ToLower(strings.TrimSpace(r[2])),
			NominalWatts: watts,
		})
	}

	return records, nil
}
