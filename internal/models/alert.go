package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

// AlertRule binds a trap to a notification channel.
// Rules on the same trap throttle independently.
type AlertRule struct {
	ID              string    `json:"id"`
	TeamID          string    `json:"teamId"`
	TrapID          string    `json:"trapId"`
	ChannelID       string    `json:"channelId"`
	Severity        Severity  `json:"severity"`
	ThrottleMinutes int       `json:"throttleMinutes"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewAlertRule creates a new active AlertRule with initialized timestamps.
func NewAlertRule(teamID, trapID, channelID string, severity Severity) *AlertRule {
	now := time.Now()
	return &AlertRule{
		TeamID:    teamID,
		TrapID:    trapID,
		ChannelID: channelID,
		Severity:  severity,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Throttle returns the throttle interval as a duration.
func (r *AlertRule) Throttle() time.Duration {
	return time.Duration(r.ThrottleMinutes) * time.Minute
}
