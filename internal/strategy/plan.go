package strategy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"gramforge/internal/inventory"
	"gramforge/internal/safeio"
)

// ErrRegression is returned by GeneratePlan when fail-on-regression is set
// and at least one language dropped a tier. The plan must not be persisted.
var ErrRegression = errors.New("strategy: tier regression detected")

// BuildPlan maps a target language code to its blueprint.
type BuildPlan map[string]Blueprint

// Targets returns the target codes in sorted order.
func (p BuildPlan) Targets() []string {
	out := make([]string, 0, len(p))
	for t := range p {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Buildable returns the sorted targets whose status is not SKIP.
func (p BuildPlan) Buildable() []string {
	var out []string
	for _, t := range p.Targets() {
		if p[t].Buildable() {
			out = append(out, t)
		}
	}
	return out
}

// LoadPlan reads a persisted plan. A missing or malformed file yields an
// empty plan; the malformed case is logged.
func LoadPlan(path string, log *zap.Logger) BuildPlan {
	plan := BuildPlan{}
	if _, err := safeio.ReadJSON(path, &plan); err != nil {
		if log != nil {
			log.Warn("build plan unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return BuildPlan{}
	}
	return plan
}

// SavePlan persists the buildable entries of plan atomically.
func SavePlan(path string, plan BuildPlan) error {
	out := make(BuildPlan, len(plan))
	for t, bp := range plan {
		if bp.Buildable() {
			out[t] = bp
		}
	}
	return safeio.WriteJSON(path, out)
}

// Language is one row of the target language table.
type Language struct {
	Family string `yaml:"family"`
	Name   string `yaml:"name"`
	File   string `yaml:"file"` // concrete source override, relative to the generated dir
}

// Languages maps target codes to families. Families without an entry build
// under their own code.
type Languages map[string]Language

// LoadLanguages reads the optional language table. An empty path returns an
// empty table.
func LoadLanguages(path string) (Languages, error) {
	if path == "" {
		return Languages{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read languages: %w", err)
	}
	var langs Languages
	if err := yaml.Unmarshal(data, &langs); err != nil {
		return nil, fmt.Errorf("failed to parse languages: %w", err)
	}
	if langs == nil {
		langs = Languages{}
	}
	return langs, nil
}

// Targets resolves the target → family mapping for an inventory: every
// table entry whose family is inventoried, plus every inventoried family
// not claimed by any entry (under its own code).
func (l Languages) Targets(inv inventory.Inventory) map[string]string {
	out := make(map[string]string)
	claimed := make(map[string]bool)
	for target, lang := range l {
		if _, ok := inv[lang.Family]; ok {
			out[target] = lang.Family
			claimed[lang.Family] = true
		}
	}
	for _, family := range inv.Families() {
		if !claimed[family] {
			out[family] = family
		}
	}
	return out
}

// Source returns the concrete source file name for target, relative to the
// generated dir.
func (l Languages) Source(target, prefix string) string {
	if lang, ok := l[target]; ok && lang.File != "" {
		return lang.File
	}
	return prefix + target + ".gf"
}

// PlanRequest bundles the inputs of GeneratePlan.
type PlanRequest struct {
	Inventory        inventory.Inventory
	Languages        Languages
	Ladder           *Ladder
	Previous         BuildPlan
	Context          BuildContext
	FailOnRegression bool
}

// PlanResult is the outcome of GeneratePlan.
type PlanResult struct {
	Plan     BuildPlan
	Drift    []DriftEvent
	Rejected map[string][]UnsupportedVariable
}

// GeneratePlan synthesizes a blueprint for every inventoried language and
// collects drift against the previous plan. With FailOnRegression set, any
// regression returns ErrRegression alongside the result so the caller can
// report it without persisting.
func GeneratePlan(req PlanRequest, log *zap.Logger) (*PlanResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ladder := req.Ladder
	if ladder == nil {
		ladder = DefaultLadder()
	}
	ranks := ladder.Ranks()

	res := &PlanResult{
		Plan:     make(BuildPlan),
		Rejected: make(map[string][]UnsupportedVariable),
	}

	targets := req.Languages.Targets(req.Inventory)
	codes := make([]string, 0, len(targets))
	for t := range targets {
		codes = append(codes, t)
	}
	sort.Strings(codes)

	for _, target := range codes {
		family := targets[target]
		ctx := make(BuildContext, len(req.Context)+1)
		for k, v := range req.Context {
			ctx[k] = v
		}
		ctx[VarTarget] = target
		bp, rejected := SynthesizeBlueprint(family, req.Inventory[family], ladder, ctx)
		res.Plan[target] = bp
		if len(rejected) > 0 {
			res.Rejected[target] = rejected
			for _, r := range rejected {
				log.Warn("strategy rejected", zap.String("target", target), zap.Error(r))
			}
		}
		if ev := DetectDrift(target, bp.Status, req.Previous, ranks); ev != nil {
			res.Drift = append(res.Drift, *ev)
			if ev.Kind == DriftRegression {
				log.Warn("tier regression", zap.String("target", target),
					zap.String("previous", ev.Previous), zap.String("current", ev.Current))
			} else {
				log.Info("tier upgrade", zap.String("target", target),
					zap.String("previous", ev.Previous), zap.String("current", ev.Current))
			}
		}
		log.Debug("blueprint", zap.String("target", target), zap.String("family", family), zap.String("status", bp.Status))
	}

	if req.FailOnRegression && len(Regressions(res.Drift)) > 0 {
		return res, ErrRegression
	}
	return res, nil
}

// Summary renders a one-line-per-status operator summary of a plan.
func Summary(plan BuildPlan, drift []DriftEvent) string {
	byStatus := make(map[string][]string)
	for _, t := range plan.Targets() {
		s := plan[t].Status
		byStatus[s] = append(byStatus[s], t)
	}
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	ranks := DefaultRanks()
	sort.Slice(statuses, func(i, j int) bool {
		ri, _ := ranks.Rank(statuses[i])
		rj, _ := ranks.Rank(statuses[j])
		if ri != rj {
			return ri > rj
		}
		return statuses[i] < statuses[j]
	})

	var b strings.Builder
	for _, s := range statuses {
		fmt.Fprintf(&b, "%-7s %3d  %s\n", s, len(byStatus[s]), strings.Join(byStatus[s], " "))
	}
	for _, d := range drift {
		fmt.Fprintf(&b, "%s\n", d)
	}
	return b.String()
}
