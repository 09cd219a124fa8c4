// Package store provides typed access to the persisted collections:
// metric samples, rollups, alert states and loop checkpoints.
package store

import (
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// MetricTarget identifies one series (metric, target) pair.
type MetricTarget struct {
	MetricName string
	TargetID   string
}

// AlertFilter narrows ListAlertStates results. Zero values mean no filter.
type AlertFilter struct {
	Status   models.AlertStatus
	RuleID   string
	TargetID string
}

// WriteSample persists one sample. The write is idempotent over the
// natural key (metric_name, target_id, timestamp): replaying a sample
// is a no-op, not an error.
func (s *Store) WriteSample(sample *models.MetricSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "metric_name"}, {Name: "target_id"}, {Name: "timestamp"},
		},
		DoNothing: true,
	}).Create(sample)
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to write sample %s/%s", sample.MetricName, sample.TargetID)
	}
	return nil
}

func validateSample(sample *models.MetricSample) error {
	if sample == nil {
		return errs.Validation("sample is nil")
	}
	if sample.MetricName == "" {
		return errs.Validation("metric_name must not be empty")
	}
	if sample.TargetID == "" {
		return errs.Validation("target_id must not be empty")
	}
	if sample.Timestamp.IsZero() {
		return errs.Validation("timestamp must be set")
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return errs.Validation("value must be a finite number")
	}
	return nil
}

// ReadWindow returns the samples for one series inside [since, until),
// ordered by timestamp ascending. Callers resume by re-issuing the call
// with a later since; no cursor state is kept here.
func (s *Store) ReadWindow(metric, target string, since, until time.Time) ([]models.MetricSample, error) {
	var samples []models.MetricSample
	err := s.db.
		Where("metric_name = ? AND target_id = ? AND timestamp >= ? AND timestamp < ?", metric, target, since, until).
		Order("timestamp asc").
		Find(&samples).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to read window for %s/%s", metric, target)
	}
	return samples, nil
}

// DistinctTargets lists the targets that produced samples for the metric
// inside [since, until).
func (s *Store) DistinctTargets(metric string, since, until time.Time) ([]string, error) {
	var targets []string
	err := s.db.Model(&models.MetricSample{}).
		Where("metric_name = ? AND timestamp >= ? AND timestamp < ?", metric, since, until).
		Distinct().
		Pluck("target_id", &targets).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list targets for %s", metric)
	}
	return targets, nil
}

// KnownTargets lists every target ever seen for the metric. Used by
// absence rules, which must consider targets that stopped reporting.
func (s *Store) KnownTargets(metric string) ([]string, error) {
	var targets []string
	err := s.db.Model(&models.MetricSample{}).
		Where("metric_name = ?", metric).
		Distinct().
		Pluck("target_id", &targets).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list known targets for %s", metric)
	}
	return targets, nil
}

// SeriesInWindow lists the distinct (metric, target) pairs with samples
// inside [since, until). The rollup loop iterates these.
func (s *Store) SeriesInWindow(since, until time.Time) ([]MetricTarget, error) {
	var pairs []MetricTarget
	err := s.db.Model(&models.MetricSample{}).
		Select("metric_name, target_id").
		Where("timestamp >= ? AND timestamp < ?", since, until).
		Group("metric_name, target_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list series in window")
	}
	return pairs, nil
}

// UpsertAlertState writes the state keyed by alert_id. Last writer wins;
// the evaluator is the single writer for a given (rule, target) within a
// cycle, and reruns of an uncommitted cycle write the same values again.
func (s *Store) UpsertAlertState(state *models.AlertState) error {
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "alert_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "severity", "message", "opened_at",
			"last_evaluated_at", "last_value", "resolved_at", "updated_at",
		}),
	}).Create(state)
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to upsert alert state %s", state.AlertID)
	}
	return nil
}

// GetAlertState fetches one alert state; returns nil when absent.
func (s *Store) GetAlertState(alertID string) (*models.AlertState, error) {
	var state models.AlertState
	err := s.db.First(&state, "alert_id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to read alert state %s", alertID)
	}
	return &state, nil
}

// ListAlertStates returns alert states matching the filter, newest first.
func (s *Store) ListAlertStates(filter AlertFilter) ([]models.AlertState, error) {
	query := s.db.Model(&models.AlertState{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	var states []models.AlertState
	if err := query.Order("opened_at desc").Find(&states).Error; err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list alert states")
	}
	return states, nil
}

// OpenAlertTargets lists the targets holding an OPEN alert for the rule.
func (s *Store) OpenAlertTargets(ruleID string) ([]string, error) {
	var targets []string
	err := s.db.Model(&models.AlertState{}).
		Where("rule_id = ? AND status = ?", ruleID, models.AlertStatusOpen).
		Pluck("target_id", &targets).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list open alert targets for rule %s", ruleID)
	}
	return targets, nil
}

// GetCheckpoint fetches the loop's checkpoint; returns nil when the loop
// has never committed.
func (s *Store) GetCheckpoint(loopName string) (*models.EvaluationCheckpoint, error) {
	var cp models.EvaluationCheckpoint
	err := s.db.First(&cp, "loop_name = ?", loopName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to read checkpoint for loop %s", loopName)
	}
	return &cp, nil
}

// SetCheckpoint upserts the loop's checkpoint. LastProcessedTimestamp is
// monotonic: an attempt to move it backwards keeps the stored value.
func (s *Store) SetCheckpoint(cp *models.EvaluationCheckpoint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.EvaluationCheckpoint
		err := tx.First(&existing, "loop_name = ?", cp.LoopName).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && cp.LastProcessedTimestamp.Before(existing.LastProcessedTimestamp) {
			cp.LastProcessedTimestamp = existing.LastProcessedTimestamp
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "loop_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "last_processed_timestamp"}),
		}).Create(cp).Error
	})
	if err != nil {
		return errs.StoreUnavailable(err, "failed to set checkpoint for loop %s", cp.LoopName)
	}
	return nil
}

// UpsertRollup writes one aggregation bucket, keyed by
// (metric_name, target_id, bucket).
func (s *Store) UpsertRollup(rollup *models.MetricRollup) error {
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "metric_name"}, {Name: "target_id"}, {Name: "bucket"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"count", "min", "max", "sum", "avg", "updated_at"}),
	}).Create(rollup)
	if res.Error != nil {
		return errs.StoreUnavailable(res.Error, "failed to upsert rollup %s/%s", rollup.MetricName, rollup.TargetID)
	}
	return nil
}

// ReadRollups returns buckets for one series inside [since, until),
// ordered by bucket ascending.
func (s *Store) ReadRollups(metric, target string, since, until time.Time) ([]models.MetricRollup, error) {
	var rollups []models.MetricRollup
	err := s.db.
		Where("metric_name = ? AND target_id = ? AND bucket >= ? AND bucket < ?", metric, target, since, until).
		Order("bucket asc").
		Find(&rollups).Error
	if err != nil {
		return nil, errs.StoreUnavailable(err, "failed to read rollups for %s/%s", metric, target)
	}
	return rollups, nil
}

// DeleteSamplesBefore prunes raw samples older than cutoff.
func (s *Store) DeleteSamplesBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.MetricSample{})
	if res.Error != nil {
		return 0, errs.StoreUnavailable(res.Error, "failed to prune samples")
	}
	return res.RowsAffected, nil
}

// DeleteResolvedAlertsBefore prunes RESOLVED alerts whose resolution is
// older than cutoff. OPEN alerts are never touched.
func (s *Store) DeleteResolvedAlertsBefore(cutoff time.Time) (int64, error) {
	res := s.db.
		Where("status = ? AND resolved_at IS NOT NULL AND resolved_at < ?", models.AlertStatusResolved, cutoff).
		Delete(&models.AlertState{})
	if res.Error != nil {
		return 0, errs.StoreUnavailable(res.Error, "failed to prune resolved alerts")
	}
	return res.RowsAffected, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errs.StoreUnavailable(err, "failed to get underlying *sql.DB")
	}
	if err := sqlDB.Ping(); err != nil {
		return errs.StoreUnavailable(err, "database ping failed")
	}
	return nil
}
