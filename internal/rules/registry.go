// Package rules owns the lifecycle of evaluation rules.
package rules

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
)

// Registry holds evaluation rules. Administrative writes are infrequent
// and serialized externally; the evaluator only takes snapshots.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// ListEnabledRules returns a snapshot of the currently enabled rules.
// Changes made after the snapshot take effect starting next cycle.
func (r *Registry) ListEnabledRules() ([]models.EvaluationRule, error) {
	var rules []models.EvaluationRule
	if err := r.db.Where("enabled = ?", true).Order("created_at asc").Find(&rules).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list enabled rules")
	}
	return rules, nil
}

// ListRules returns all rules, optionally filtered by enabled state.
func (r *Registry) ListRules(enabled *bool) ([]models.EvaluationRule, error) {
	query := r.db.Order("created_at asc")
	if enabled != nil {
		query = query.Where("enabled = ?", *enabled)
	}
	var rules []models.EvaluationRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list rules")
	}
	return rules, nil
}

// GetRule fetches one rule; returns nil when absent.
func (r *Registry) GetRule(ruleID string) (*models.EvaluationRule, error) {
	var rule models.EvaluationRule
	err := r.db.First(&rule, "rule_id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to read rule %s", ruleID)
	}
	return &rule, nil
}

// CreateRule validates and stores a new rule, assigning a rule_id when
// the caller did not provide one.
func (r *Registry) CreateRule(rule *models.EvaluationRule) error {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	if rule.Aggregation == "" {
		rule.Aggregation = models.AggregationLast
	}
	if err := Validate(rule); err != nil {
		return err
	}
	if err := r.db.Create(rule).Error; err != nil {
		return errs.StoreUnavailable(err, "failed to create rule %s", rule.Name)
	}
	return nil
}

// UpdateRule validates and replaces an existing rule's definition.
func (r *Registry) UpdateRule(rule *models.EvaluationRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	res := r.db.Model(&models.EvaluationRule{}).Where("rule_id = ?", rule.RuleID).Updates(map[string]interface{}{
		"name":        rule.Name,
		"metric_name": rule.MetricName,
		"comparator":  rule.Comparator,
		"aggregation": rule.Aggregation,
		"threshold":   rule.Threshold,
		"window_sec":  rule.WindowSec,
		"severity":    rule.Severity,
		"enabled":     rule.Enabled,
	})
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to update rule %s", rule.RuleID)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRule removes a rule. Alert states derived from it are kept for
// history and eventually pruned by retention.
func (r *Registry) DeleteRule(ruleID string) error {
	res := r.db.Delete(&models.EvaluationRule{}, "rule_id = ?", ruleID)
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to delete rule %s", ruleID)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetEnabled flips a rule on or off. Takes effect next cycle.
func (r *Registry) SetEnabled(ruleID string, enabled bool) error {
	res := r.db.Model(&models.EvaluationRule{}).Where("rule_id = ?", ruleID).Update("enabled", enabled)
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to set enabled=%v on rule %s", enabled, ruleID)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Validate checks a rule definition. Invalid rules are configuration
// errors: the evaluator skips them for the cycle, other rules proceed.
func Validate(rule *models.EvaluationRule) error {
	if rule.Name == "" {
		return errs.Configuration("rule name must not be empty")
	}
	if rule.MetricName == "" {
		return errs.Configuration("rule %s: metric_name must not be empty", rule.Name)
	}
	if rule.WindowSec <= 0 {
		return errs.Configuration("rule %s: window_sec must be positive", rule.Name)
	}
	switch rule.Comparator {
	case models.ComparatorGT, models.ComparatorLT, models.ComparatorGTE,
		models.ComparatorLTE, models.ComparatorEQ:
		if rule.Threshold == nil {
			return errs.Configuration("rule %s: threshold required for comparator %s", rule.Name, rule.Comparator)
		}
	case models.ComparatorAbsent:
		// No threshold; the predicate is "no sample present in window".
	default:
		return errs.Configuration("rule %s: unknown comparator %q", rule.Name, rule.Comparator)
	}
	switch rule.Aggregation {
	case models.AggregationLast, models.AggregationAvg, models.AggregationMin,
		models.AggregationMax, models.AggregationSum:
	default:
		return errs.Configuration("rule %s: unknown aggregation %q", rule.Name, rule.Aggregation)
	}
	switch rule.Severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	default:
		return errs.Configuration("rule %s: unknown severity %q", rule.Name, rule.Severity)
	}
	return nil
}
