package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of a fired alert.
type AlertStatus string

const (
	AlertStatusFired        AlertStatus = "FIRED"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
)

// ParseAlertStatus converts a string to AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case AlertStatusFired:
		return AlertStatusFired, nil
	case AlertStatusAcknowledged:
		return AlertStatusAcknowledged, nil
	case AlertStatusResolved:
		return AlertStatusResolved, nil
	default:
		return "", fmt.Errorf("invalid alert status: %q", s)
	}
}

// AlertHistory is the persisted record of one alert firing.
type AlertHistory struct {
	ID             string      `json:"id"`
	RuleID         string      `json:"ruleId"`
	TrapID         string      `json:"trapId"`
	TeamID         string      `json:"teamId"`
	TrapName       string      `json:"trapName"`
	ChannelID      string      `json:"channelId"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	AcknowledgedBy string      `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledgedAt,omitempty"`
	ResolvedBy     string      `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
}

// IsAcknowledged reports whether acknowledgment fields are set.
func (h *AlertHistory) IsAcknowledged() bool {
	return h.AcknowledgedAt != nil
}
