package types

import "time"

type AlertCreated struct {
	Alert     Alert     `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertCreated) ContentType() string {
	return "application/json"
}
func (a *AlertCreated) TopicName() string {
	return "alert.created"
}

type AlertMarkedRead struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertMarkedRead) ContentType() string {
	return "application/json"
}
func (a *AlertMarkedRead) TopicName() string {
	return "alert.read"
}

type AlertsCleared struct {
	IDs       []string  `json:"ids"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertsCleared) ContentType() string {
	return "application/json"
}
func (a *AlertsCleared) TopicName() string {
	return "alerts.cleared"
}
