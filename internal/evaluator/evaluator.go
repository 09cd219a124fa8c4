// Package evaluator implements the periodic evaluation cycle: it pulls
// the window of samples ingested since the last checkpoint, applies the
// enabled rules and writes the resulting alert-state transitions.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/rules"
	"github.com/perfeye/internal/store"
	"github.com/perfeye/internal/tracker"
)

// LoopName identifies this loop's checkpoint record.
const LoopName = "evaluator"

type Evaluator struct {
	store    *store.Store
	registry *rules.Registry
	tracker  *tracker.Tracker
	log      *logrus.Logger

	// lag keeps the window's upper bound behind wall clock so samples
	// that arrive slightly out of order still land inside the window.
	lag time.Duration
	now func() time.Time
}

func New(st *store.Store, reg *rules.Registry, tr *tracker.Tracker, log *logrus.Logger, lag time.Duration) *Evaluator {
	return &Evaluator{
		store:    st,
		registry: reg,
		tracker:  tr,
		log:      log,
		lag:      lag,
		now:      time.Now,
	}
}

func (e *Evaluator) Name() string { return LoopName }

// RunCycle executes one evaluation cycle over the window
// [checkpoint, now-lag). The checkpoint advances only after every rule
// evaluation committed; a failure mid-cycle leaves it untouched and the
// next cycle reprocesses the same window. All alert-state writes are
// idempotent, so reprocessing converges to the same state.
func (e *Evaluator) RunCycle(ctx context.Context) error {
	started := e.now()
	upper := started.Add(-e.lag)

	cp, err := e.store.GetCheckpoint(LoopName)
	if err != nil {
		return errs.CycleFailure(err, "failed to load checkpoint")
	}
	var since time.Time
	if cp != nil {
		since = cp.LastProcessedTimestamp
	}
	if !upper.After(since) {
		return nil
	}

	ruleSet, err := e.registry.ListEnabledRules()
	if err != nil {
		return errs.CycleFailure(err, "failed to snapshot rules")
	}

	for i := range ruleSet {
		rule := &ruleSet[i]
		if err := rules.Validate(rule); err != nil {
			e.log.WithFields(logrus.Fields{
				"loop": LoopName,
				"rule": rule.Name,
			}).WithError(err).Warn("skipping invalid rule for this cycle")
			continue
		}
		if err := e.evaluateRule(ctx, rule, since, upper); err != nil {
			return errs.CycleFailure(err, "rule %s aborted the cycle", rule.Name)
		}
	}

	if err := e.store.SetCheckpoint(&models.EvaluationCheckpoint{
		LoopName:               LoopName,
		LastRunAt:              started,
		LastProcessedTimestamp: upper,
	}); err != nil {
		return errs.CycleFailure(err, "failed to commit checkpoint")
	}

	e.log.WithFields(logrus.Fields{
		"loop":  LoopName,
		"since": since,
		"until": upper,
		"rules": len(ruleSet),
	}).Debug("evaluation cycle committed")
	return nil
}

// evaluateRule applies one rule to every candidate target. Candidates
// are the targets that reported the rule's metric inside the cycle
// window, plus targets holding an OPEN alert for the rule (so they can
// resolve). Absence rules additionally cover every target ever seen for
// the metric, since silence is exactly what they detect.
func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.EvaluationRule, since, upper time.Time) error {
	observed, err := e.store.DistinctTargets(rule.MetricName, since, upper)
	if err != nil {
		return err
	}
	open, err := e.store.OpenAlertTargets(rule.RuleID)
	if err != nil {
		return err
	}

	candidates := make(map[string]struct{}, len(observed)+len(open))
	for _, t := range observed {
		candidates[t] = struct{}{}
	}
	for _, t := range open {
		candidates[t] = struct{}{}
	}
	if rule.Comparator == models.ComparatorAbsent {
		known, err := e.store.KnownTargets(rule.MetricName)
		if err != nil {
			return err
		}
		for _, t := range known {
			candidates[t] = struct{}{}
		}
	}

	for target := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, err := e.store.ReadWindow(rule.MetricName, target, upper.Add(-rule.Window()), upper)
		if err != nil {
			return err
		}
		violating, value, decided := EvaluatePredicate(rule, samples)
		if !decided {
			continue
		}
		if err := e.applyTransition(rule, target, violating, value, upper); err != nil {
			return err
		}
	}
	return nil
}

// applyTransition reconciles the (rule, target) alert state with the
// predicate outcome. There is a single row per pair: opening after a
// RESOLVED reopens the same record, preserving alert_id.
func (e *Evaluator) applyTransition(rule *models.EvaluationRule, target string, violating bool, value *float64, evaluatedAt time.Time) error {
	alertID := models.AlertKey(rule.RuleID, target)
	existing, err := e.store.GetAlertState(alertID)
	if err != nil {
		return err
	}
	isOpen := existing != nil && existing.Status == models.AlertStatusOpen

	switch {
	case violating && !isOpen:
		state := &models.AlertState{
			AlertID:         alertID,
			RuleID:          rule.RuleID,
			TargetID:        target,
			Status:          models.AlertStatusOpen,
			Severity:        rule.Severity,
			Message:         alertMessage(rule, target, value),
			OpenedAt:        evaluatedAt,
			LastEvaluatedAt: evaluatedAt,
			LastValue:       value,
		}
		if err := e.store.UpsertAlertState(state); err != nil {
			return err
		}
		e.tracker.Apply(*state)
		e.log.WithFields(logrus.Fields{
			"rule":   rule.Name,
			"target": target,
			"alert":  alertID,
		}).Info("alert opened")

	case violating && isOpen:
		// Still violating: refresh evaluation metadata only, never a
		// second OPEN record.
		existing.LastEvaluatedAt = evaluatedAt
		existing.LastValue = value
		if err := e.store.UpsertAlertState(existing); err != nil {
			return err
		}
		e.tracker.Apply(*existing)

	case !violating && isOpen:
		existing.Status = models.AlertStatusResolved
		existing.LastEvaluatedAt = evaluatedAt
		existing.LastValue = value
		resolvedAt := evaluatedAt
		existing.ResolvedAt = &resolvedAt
		if err := e.store.UpsertAlertState(existing); err != nil {
			return err
		}
		e.tracker.Apply(*existing)
		e.log.WithFields(logrus.Fields{
			"rule":   rule.Name,
			"target": target,
			"alert":  alertID,
		}).Info("alert resolved")

	default:
		// Not violating, nothing open: no-op.
	}
	return nil
}

func alertMessage(rule *models.EvaluationRule, target string, value *float64) string {
	if rule.Comparator == models.ComparatorAbsent {
		return fmt.Sprintf("%s: no %s samples from %s within %s",
			rule.Name, rule.MetricName, target, rule.Window())
	}
	current := 0.0
	if value != nil {
		current = *value
	}
	threshold := 0.0
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}
	return fmt.Sprintf("%s: %s(%s) is %.2f (threshold %s %.2f) for target %s",
		rule.Name, rule.Aggregation, rule.MetricName, current, rule.Comparator, threshold, target)
}
