package evaluator

import "github.com/perfeye/internal/models"

// EvaluatePredicate computes a rule's predicate over the samples in its
// window. decided is false when there is not enough data to decide: a
// threshold rule with an empty window makes no transition either way.
// Absence rules always decide; an empty window is their violation.
func EvaluatePredicate(rule *models.EvaluationRule, samples []models.MetricSample) (violating bool, value *float64, decided bool) {
	if rule.Comparator == models.ComparatorAbsent {
		return len(samples) == 0, nil, true
	}
	if len(samples) == 0 || rule.Threshold == nil {
		return false, nil, false
	}
	v := aggregate(rule.Aggregation, samples)
	return compare(rule.Comparator, v, *rule.Threshold), &v, true
}

func aggregate(agg models.Aggregation, samples []models.MetricSample) float64 {
	switch agg {
	case models.AggregationAvg:
		sum := 0.0
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples))
	case models.AggregationMin:
		min := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value < min {
				min = s.Value
			}
		}
		return min
	case models.AggregationMax:
		max := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value > max {
				max = s.Value
			}
		}
		return max
	case models.AggregationSum:
		sum := 0.0
		for _, s := range samples {
			sum += s.Value
		}
		return sum
	default:
		// AggregationLast; samples arrive time-ascending from the store.
		return samples[len(samples)-1].Value
	}
}

func compare(cmp models.Comparator, current, threshold float64) bool {
	switch cmp {
	case models.ComparatorGT:
		return current > threshold
	case models.ComparatorLT:
		return current < threshold
	case models.ComparatorGTE:
		return current >= threshold
	case models.ComparatorLTE:
		return current <= threshold
	case models.ComparatorEQ:
		return current == threshold
	default:
		return false
	}
}
