package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestWholeHouseBucketHasNullDevice(t *testing.T) {
	is := is.New(t)

	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	b, err := json.Marshal(Bucket{PeriodStart: start, Granularity: Hour, TotalKwh: 1.5})
	is.NoErr(err)
	is.True(strings.Contains(string(b), `"deviceID":null`))
	is.True(strings.Contains(string(b), `"totalKwh":1.5`))

	decoded := Bucket{}
	is.NoErr(json.Unmarshal(b, &decoded))
	is.True(decoded.WholeHouse())
	is.True(decoded.PeriodStart.Equal(start))
}

func TestDeviceBucketKeepsDevice(t *testing.T) {
	is := is.New(t)

	b, err := json.Marshal([]Bucket{{DeviceID: "fridge", Granularity: Day}})
	is.NoErr(err)
	is.True(strings.Contains(string(b), `"deviceID":"fridge"`))

	decoded := []Bucket{}
	is.NoErr(json.Unmarshal(b, &decoded))
	is.Equal(decoded[0].DeviceID, "fridge")
	is.Equal(decoded[0].Granularity, Day)
}
