package application

import (
	"io"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/anomalies"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/events"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/watchdog"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
	yaml "gopkg.in/yaml.v2"
)

const DefaultPricePerKwh float64 = 0.25

type TariffConfig struct {
	PricePerKwh float64 `yaml:"pricePerKwh"`
}

type Config struct {
	Aggregation   aggregation.Config    `yaml:"aggregation"`
	Detector      anomalies.Config      `yaml:"detector"`
	Scheduler     watchdog.Config       `yaml:"scheduler"`
	Tariff        TariffConfig          `yaml:"tariff"`
	Notifications []events.Notification `yaml:"notifications"`
}

func DefaultConfig() *Config {
	return &Config{
		Aggregation: aggregation.Config{
			MaxBuckets:            aggregation.DefaultMaxBuckets,
			MaxSampleGap:          aggregation.DefaultMaxSampleGap,
			DefaultSampleInterval: aggregation.DefaultDefaultSampleInterval,
		},
		Detector: anomalies.Config{
			ContinuityPeriods: anomalies.DefaultContinuityPeriods,
		},
		Scheduler: watchdog.Config{
			Interval:    watchdog.DefaultInterval,
			Granularity: types.Hour,
			Lookback:    watchdog.DefaultLookback,
		},
		Tariff: TariffConfig{
			PricePerKwh: DefaultPricePerKwh,
		},
	}
}

// Events returns the cloudevents subscriber part of the configuration.
func (c *Config) Events() *events.Config {
	return &events.Config{Notifications: c.Notifications}
}

// LoadConfiguration reads a yaml configuration. Settings missing from the file keep their defaults.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
