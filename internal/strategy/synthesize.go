package strategy

import (
	"fmt"

	"gramforge/internal/inventory"
)

// BuildContext holds named variables substituted into strategy templates.
type BuildContext map[string]string

// Reserved template variables. {lang} is always the family code and
// {target} the target code (the family code when the caller names no
// target); {cat} and {rgl} are only defined while rendering the lincat base.
const (
	VarLang   = "lang"
	VarTarget = "target"
	VarCat    = "cat"
	VarRGL    = "rgl"
)

func reserved(v string) bool {
	return v == VarLang || v == VarTarget || v == VarCat || v == VarRGL
}

// Blueprint is the resolved build instructions for one target language.
type Blueprint struct {
	Status  string            `json:"status"`
	Imports []string          `json:"imports"`
	Lincats map[string]string `json:"lincats"`
	Rules   map[string]string `json:"rules"`
}

// Buildable reports whether the blueprint should be compiled.
func (b Blueprint) Buildable() bool {
	return b.Status != "" && b.Status != StatusSkip
}

// SkipBlueprint is the result when no strategy applies.
func SkipBlueprint() Blueprint {
	return Blueprint{
		Status:  StatusSkip,
		Imports: []string{},
		Lincats: map[string]string{},
		Rules:   map[string]string{},
	}
}

// UnsupportedVariable records a strategy that matched a family's modules but
// could not be rendered: it referenced a variable the build context does not
// define, or one of its templates does not parse (Err).
type UnsupportedVariable struct {
	Strategy string
	Variable string
	Err      error
}

func (u UnsupportedVariable) Error() string {
	if u.Err != nil {
		return fmt.Sprintf("strategy %s: %v", u.Strategy, u.Err)
	}
	return fmt.Sprintf("strategy %s references undefined variable {%s}", u.Strategy, u.Variable)
}

func (u UnsupportedVariable) Unwrap() error { return u.Err }

// SynthesizeBlueprint walks the ladder in declared order and returns the
// blueprint of the first strategy whose required modules are all present and
// whose templates render against ctx. Strategies that match but fail to
// render are reported and skipped. Declared order decides, not rank.
// ctx may set {target}; it defaults to family.
func SynthesizeBlueprint(family string, present inventory.Modules, ladder *Ladder, ctx BuildContext) (Blueprint, []UnsupportedVariable) {
	var rejected []UnsupportedVariable
	if ladder == nil {
		return SkipBlueprint(), nil
	}

	vars := make(map[string]string, len(ctx)+2)
	for k, v := range ctx {
		vars[k] = v
	}
	vars[VarLang] = family
	if vars[VarTarget] == "" {
		vars[VarTarget] = family
	}

	for _, s := range ladder.Strategies {
		if !present.Has(s.Requires...) {
			continue
		}
		if !s.compiled {
			if err := s.Compile(); err != nil {
				rejected = append(rejected, UnsupportedVariable{Strategy: s.Name, Err: err})
				continue
			}
		}
		bp, missing := s.render(vars, ladder.Categories)
		if missing != "" {
			rejected = append(rejected, UnsupportedVariable{Strategy: s.Name, Variable: missing})
			continue
		}
		return bp, rejected
	}
	return SkipBlueprint(), rejected
}

// render expands every template of a compiled s. The second result names
// the first undefined variable.
func (s *Strategy) render(vars map[string]string, categories map[string]string) (Blueprint, string) {
	bp := Blueprint{
		Status:  s.Name,
		Imports: make([]string, 0, len(s.imports)),
		Lincats: make(map[string]string, len(categories)),
		Rules:   make(map[string]string, len(s.rules)),
	}

	for _, t := range s.imports {
		out, missing := t.render(vars)
		if missing != "" {
			return Blueprint{}, missing
		}
		bp.Imports = append(bp.Imports, out)
	}

	catVars := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		catVars[k] = v
	}
	for cat, rgl := range categories {
		catVars[VarCat] = cat
		catVars[VarRGL] = rgl
		out, missing := s.lincat.render(catVars)
		if missing != "" {
			return Blueprint{}, missing
		}
		bp.Lincats[cat] = out
	}

	for name, t := range s.rules {
		out, missing := t.render(vars)
		if missing != "" {
			return Blueprint{}, missing
		}
		bp.Rules[name] = out
	}
	return bp, ""
}

// CheckContext reports, for every strategy, the first variable it uses that
// ctx does not define. It lets callers surface unusable strategies once, at
// load time, instead of per language.
func (l *Ladder) CheckContext(ctx BuildContext) []UnsupportedVariable {
	var out []UnsupportedVariable
	for _, s := range l.Strategies {
		for _, v := range s.variables {
			if reserved(v) {
				continue
			}
			if _, ok := ctx[v]; !ok {
				out = append(out, UnsupportedVariable{Strategy: s.Name, Variable: v})
				break
			}
		}
	}
	return out
}
