package compiler

import (
	"sort"

	"go.uber.org/zap"

	"gramforge/internal/safeio"
)

// Failure is one language's compile failure. Reason is the diagnostic text
// the compiler produced. When the executor capped the output, Reason ends
// with a truncation marker.
type Failure struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// FailureReport maps target codes to their failures. It is rebuilt on every
// compile pass.
type FailureReport map[string]Failure

// Targets returns the failing targets in sorted order.
func (r FailureReport) Targets() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SaveReport writes the report atomically.
func SaveReport(path string, report FailureReport) error {
	if report == nil {
		report = FailureReport{}
	}
	return safeio.WriteJSON(path, report)
}

// LoadReport reads a report. A missing or malformed file yields an empty
// report; the malformed case is logged.
func LoadReport(path string, log *zap.Logger) FailureReport {
	report := FailureReport{}
	if _, err := safeio.ReadJSON(path, &report); err != nil {
		if log != nil {
			log.Warn("failure report unreadable, treating as empty", zap.String("path", path), zap.Error(err))
		}
		return FailureReport{}
	}
	return report
}
