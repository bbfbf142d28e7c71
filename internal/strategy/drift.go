package strategy

import "fmt"

// DriftKind classifies a tier change between runs.
type DriftKind string

const (
	DriftRegression DriftKind = "REGRESSION"
	DriftUpgrade    DriftKind = "UPGRADE"
)

// DriftEvent is a change in a language's resolved tier.
type DriftEvent struct {
	Target   string    `json:"target"`
	Kind     DriftKind `json:"kind"`
	Previous string    `json:"previous"`
	Current  string    `json:"current"`
}

func (d DriftEvent) String() string {
	return fmt.Sprintf("%s %s: %s -> %s", d.Kind, d.Target, d.Previous, d.Current)
}

// DetectDrift compares the new status of target against the previous plan.
// It returns nil for an unchanged rank, for a language with no previous
// entry, and when either status is missing from ranks.
func DetectDrift(target, newStatus string, previous BuildPlan, ranks RankTable) *DriftEvent {
	prev, ok := previous[target]
	if !ok {
		return nil
	}
	prevRank, ok := ranks.Rank(prev.Status)
	if !ok {
		return nil
	}
	newRank, ok := ranks.Rank(newStatus)
	if !ok {
		return nil
	}

	switch {
	case newRank < prevRank:
		return &DriftEvent{Target: target, Kind: DriftRegression, Previous: prev.Status, Current: newStatus}
	case newRank > prevRank:
		return &DriftEvent{Target: target, Kind: DriftUpgrade, Previous: prev.Status, Current: newStatus}
	default:
		return nil
	}
}

// Regressions filters events down to regressions.
func Regressions(events []DriftEvent) []DriftEvent {
	var out []DriftEvent
	for _, e := range events {
		if e.Kind == DriftRegression {
			out = append(out, e)
		}
	}
	return out
}
