package types

import (
	"encoding/json"
	"time"
)

type Sample struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
	Watts     float64   `json:"watts"`
}

type Device struct {
	DeviceID     string  `json:"deviceID"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	NominalWatts float64 `json:"nominalWatts"`
}

// DeviceConsumption is a device enriched with values derived from its samples.
type DeviceConsumption struct {
	Device
	Status       DeviceStatus `json:"status"`
	CurrentWatts float64      `json:"currentWatts"`
	LastObserved *time.Time   `json:"lastObserved,omitempty"`
	TodayKwh     float64      `json:"todayKwh"`
}

// DeviceStatus tells if a device is drawing power according to a recent sample.
type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "active"
	DeviceInactive DeviceStatus = "inactive"
)

type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
	Week Granularity = "week"
)

func (g Granularity) Valid() bool {
	return g == Hour || g == Day || g == Week
}

func (g Granularity) Duration() time.Duration {
	switch g {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	}
	return 0
}

type Bucket struct {
	DeviceID    string      `json:"deviceID"`
	PeriodStart time.Time   `json:"periodStart"`
	Granularity Granularity `json:"granularity"`
	TotalKwh    float64     `json:"totalKwh"`
	Cost        *float64    `json:"cost,omitempty"`
}

// WholeHouse reports if the bucket is a total over all devices.
func (b Bucket) WholeHouse() bool {
	return b.DeviceID == ""
}

// MarshalJSON writes the device of a whole-house bucket as null.
func (b Bucket) MarshalJSON() ([]byte, error) {
	type bucket Bucket

	var deviceID *string
	if !b.WholeHouse() {
		deviceID = &b.DeviceID
	}

	return json.Marshal(struct {
		bucket
		DeviceID *string `json:"deviceID"`
	}{bucket(b), deviceID})
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type AlertState string

const (
	AlertUnread  AlertState = "unread"
	AlertRead    AlertState = "read"
	AlertCleared AlertState = "cleared"
)

const (
	RuleThreshold  = "threshold"
	RuleContinuity = "continuity"
)

type Alert struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"createdAt"`
	Severity    Severity    `json:"severity"`
	Message     string      `json:"message"`
	State       AlertState  `json:"state"`
	DeviceID    string      `json:"deviceID,omitempty"`
	Rule        string      `json:"rule"`
	PeriodStart time.Time   `json:"periodStart"`
	Granularity Granularity `json:"granularity"`
	Value       float64     `json:"value"`
}

// Key identifies the anomaly condition an alert represents.
func (a Alert) Key() string {
	return a.DeviceID + "|" + a.Rule + "|" + string(a.Granularity) + "|" + a.PeriodStart.UTC().Format(time.RFC3339)
}

type Unit string

const (
	UnitKwh  Unit = "kWh"
	UnitCost Unit = "cost"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

type Preference struct {
	ThresholdKwh         float64   `json:"thresholdKwh"`
	Unit                 Unit      `json:"unit"`
	NotificationChannels []Channel `json:"notificationChannels"`
}

func DefaultPreference() Preference {
	return Preference{
		ThresholdKwh:         2.5,
		Unit:                 UnitKwh,
		NotificationChannels: []Channel{ChannelEmail},
	}
}

type Rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type IngestResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

type Export struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
