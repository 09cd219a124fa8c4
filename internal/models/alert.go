package models

import "time"

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "OPEN"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// AlertState is the derived record for one (rule, target) pair. There is
// at most one row per pair; a renewed violation reopens the same row
// instead of creating a new one.
type AlertState struct {
	AlertID         string      `gorm:"primarykey" json:"alert_id"`
	RuleID          string      `gorm:"not null;index:idx_alerts_rule_target,priority:1" json:"rule_id"`
	TargetID        string      `gorm:"not null;index:idx_alerts_rule_target,priority:2" json:"target_id"`
	Status          AlertStatus `gorm:"not null;index" json:"status"`
	Severity        Severity    `json:"severity"`
	Message         string      `json:"message"`
	OpenedAt        time.Time   `json:"opened_at"`
	LastEvaluatedAt time.Time   `json:"last_evaluated_at"`
	LastValue       *float64    `json:"last_value,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt       time.Time   `json:"-"`
	UpdatedAt       time.Time   `json:"-"`
}

// AlertKey builds the stable alert identifier for a (rule, target) pair.
func AlertKey(ruleID, targetID string) string {
	return ruleID + ":" + targetID
}
