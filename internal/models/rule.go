package models

import "time"

type Comparator string

const (
	ComparatorGT     Comparator = "gt"
	ComparatorLT     Comparator = "lt"
	ComparatorGTE    Comparator = "gte"
	ComparatorLTE    Comparator = "lte"
	ComparatorEQ     Comparator = "eq"
	ComparatorAbsent Comparator = "absent"
)

// Aggregation selects the windowed value a threshold rule compares
// against its threshold.
type Aggregation string

const (
	AggregationLast Aggregation = "last"
	AggregationAvg  Aggregation = "avg"
	AggregationMin  Aggregation = "min"
	AggregationMax  Aggregation = "max"
	AggregationSum  Aggregation = "sum"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EvaluationRule describes one condition the evaluator checks per target.
// Threshold is nil only for absence rules.
type EvaluationRule struct {
	RuleID      string      `gorm:"primarykey" json:"rule_id"`
	Name        string      `gorm:"uniqueIndex;not null" json:"name"`
	MetricName  string      `gorm:"not null;index" json:"metric_name"`
	Comparator  Comparator  `gorm:"not null" json:"comparator"`
	Aggregation Aggregation `gorm:"default:last" json:"aggregation"`
	Threshold   *float64    `json:"threshold,omitempty"`
	WindowSec   int         `gorm:"not null" json:"window_sec"`
	Severity    Severity    `gorm:"not null" json:"severity"`
	Enabled     bool        `gorm:"default:true;index" json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Window returns the rule's evaluation window as a duration.
func (r *EvaluationRule) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}
