// Package quality verifies the derived graph and reports advisory findings.
// Nothing here changes the store unless a caller applies a finding's fix.
package quality

// Finding is one problem found in the derived graph
type Finding struct {
	Category  string  `json:"category"`
	Severity  string  `json:"severity"` // "error" | "warning" | "info"
	Message   string  `json:"message"`
	EntityIDs []int64 `json:"entityIds"`
	Fix       Fix     `json:"fix"`
}

// Fix is the suggested remedy for a finding
type Fix struct {
	Action string `json:"action"`
}

// Report is the result of a verification run
type Report struct {
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
}

// Summary counts findings by severity
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Category constants
const (
	CategorySelfLoop           = "self-loop-interaction"
	CategoryFalseBidirectional = "false-bidirectional"
	CategoryUngroundedInferred = "ungrounded-inferred-interaction"
	CategoryFanInAnomaly       = "fan-in-anomaly"
	CategoryEntryPointMismatch = "entry-point-module-mismatch"
	CategoryDanglingSymbolRef  = "dangling-symbol-ref"
)

// Fix action constants
const (
	ActionRemoveInteraction = "remove-interaction"
	ActionSetUnidirectional = "set-unidirectional"
	ActionReviewModule      = "review-module"
	ActionClearEntryPoint   = "clear-entry-point"
	ActionRunSync           = "run-sync"
)

// Severity constants
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Options tunes the checks
type Options struct {
	// FanInThreshold is the number of distinct non-utility callers above
	// which a module is reported
	FanInThreshold int
}

// DefaultOptions returns the default check options
func DefaultOptions() Options {
	return Options{FanInThreshold: 10}
}

func summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		default:
			s.Info++
		}
	}
	return s
}
