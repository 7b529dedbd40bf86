package gates

import "fmt"

// ErrUnsupportedOp is wrapped by Evaluate when a rule carries an operator
// outside the supported set. This is a configuration error from a broken
// deployment, not bad input, so callers must treat it as fatal rather than
// degrade the way other failure modes do.
var ErrUnsupportedOp = fmt.Errorf("unsupported gate op")

// Evaluate runs every enabled rule against the metrics.
//
// Metrics missing from the set evaluate as 0. The evaluated list mirrors rule
// declaration order; only FAIL-severity rules whose comparison is false
// contribute to FailedGates. Comparison is exact (no epsilon): callers emit
// exact integers for count-like metrics.
func Evaluate(metrics MetricSet, rules []Rule) (*Verdict, error) {
	verdict := &Verdict{
		FailedGates: []FailedGate{},
		Evaluated:   []EvaluatedGate{},
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		actual := metrics[rule.Metric]
		passed, err := compare(actual, rule.Op, rule.Threshold)
		if err != nil {
			return nil, err
		}
		verdict.Evaluated = append(verdict.Evaluated, EvaluatedGate{
			Code:      rule.Code,
			Severity:  rule.Severity,
			Metric:    rule.Metric,
			Op:        rule.Op,
			Threshold: rule.Threshold,
			Actual:    actual,
			Passed:    passed,
			Message:   rule.Message,
		})
		if !passed && rule.Severity == SeverityFail {
			verdict.FailedGates = append(verdict.FailedGates, FailedGate{
				Code:       rule.Code,
				Message:    rule.Message,
				Actual:     actual,
				ExpectedOp: rule.Op,
				Expected:   rule.Threshold,
			})
		}
	}

	verdict.Passed = len(verdict.FailedGates) == 0
	return verdict, nil
}

func compare(actual float64, op string, expected float64) (bool, error) {
	switch op {
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	case "==":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOp, op)
	}
}
