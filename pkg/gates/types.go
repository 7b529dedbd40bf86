// Package gates evaluates document metrics against configurable quality rules.
//
// A gate compares one metric against a numeric threshold with a severity.
// FAIL-severity gates decide whether a document is accepted; WARN-severity
// gates are recorded for operators but never fail a job.
package gates

import "encoding/json"

// Severity levels for gate rules.
const (
	SeverityFail = "FAIL"
	SeverityWarn = "WARN"
)

// Rule is a single quality gate loaded from config.
//
// Rules are immutable after load. Declaration order is significant: the
// evaluated list in a Verdict mirrors it, so verdicts diff deterministically.
type Rule struct {
	Code      string  `json:"code"`
	Enabled   bool    `json:"enabled"`
	Metric    string  `json:"metric"`
	Op        string  `json:"op"`
	Threshold float64 `json:"threshold"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message,omitempty"`
}

// Limits holds hard job limits enforced outside the generic gate mechanism.
type Limits struct {
	MaxPages          int `json:"maxPages,omitempty"`
	ProcessTimeoutSec int `json:"processTimeoutSec,omitempty"`
	StderrTailKb      int `json:"stderrTailKb,omitempty"`
}

// Config is the parsed quality-gates.json.
//
// LegacyDocling and LegacyPreflight capture deprecated sections that older
// deployments kept in the gates file; the settings loader uses them as a
// fallback when the dedicated engine config file is missing.
type Config struct {
	Version int                `json:"version"`
	Strict  bool               `json:"strict,omitempty"`
	Gates   []Rule             `json:"gates"`
	Limits  Limits             `json:"limits,omitempty"`
	Quality map[string]float64 `json:"quality,omitempty"`

	LegacyDocling   map[string]any `json:"docling,omitempty"`
	LegacyPreflight map[string]any `json:"preflight,omitempty"`
}

// MetricSet maps metric names to values for one document.
type MetricSet map[string]float64

// FailedGate describes one FAIL-severity rule the document did not meet.
type FailedGate struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Actual     float64 `json:"actual"`
	ExpectedOp string  `json:"expectedOp"`
	Expected   float64 `json:"expected"`
}

// EvaluatedGate is the full per-rule result, kept in declaration order.
type EvaluatedGate struct {
	Code      string  `json:"code"`
	Severity  string  `json:"severity"`
	Metric    string  `json:"metric"`
	Op        string  `json:"op"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
	Message   string  `json:"message"`
}

// Verdict is the outcome of evaluating a MetricSet against a rule set.
type Verdict struct {
	Passed      bool            `json:"passed"`
	FailedGates []FailedGate    `json:"failedGates"`
	Evaluated   []EvaluatedGate `json:"evaluated"`
}

// MarshalJSON keeps empty slices as [] rather than null so persisted
// verdicts stay stable for downstream readers.
func (v *Verdict) MarshalJSON() ([]byte, error) {
	type alias Verdict
	out := alias(*v)
	if out.FailedGates == nil {
		out.FailedGates = []FailedGate{}
	}
	if out.Evaluated == nil {
		out.Evaluated = []EvaluatedGate{}
	}
	return json.Marshal(out)
}
