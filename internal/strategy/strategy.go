// Package strategy synthesizes per-language build blueprints.
//
// A Strategy is a named, ranked bundle of templates together with the set of
// structural modules it needs. Strategies form an ordered ladder; the first
// one whose requirements are met by a language family wins. Templates are
// parsed when the ladder is loaded, so every placeholder a strategy uses is
// known before any language is evaluated.
package strategy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gramforge/internal/inventory"
)

// Tier names of the built-in ladder.
const (
	StatusGold   = "GOLD"
	StatusSilver = "SILVER"
	StatusBronze = "BRONZE"
	StatusIron   = "IRON"
	StatusSkip   = "SKIP"
)

// RankTable maps a status name onto its rank. Higher is better.
type RankTable map[string]int

// DefaultRanks returns GOLD=4 > SILVER=3 > BRONZE=2 > IRON=1 > SKIP=0.
func DefaultRanks() RankTable {
	return RankTable{
		StatusGold:   4,
		StatusSilver: 3,
		StatusBronze: 2,
		StatusIron:   1,
		StatusSkip:   0,
	}
}

// Rank returns the rank of status and whether it is known.
func (r RankTable) Rank(status string) (int, bool) {
	if r == nil {
		r = DefaultRanks()
	}
	v, ok := r[status]
	return v, ok
}

// Strategy is one rung of the ladder.
type Strategy struct {
	Name       string                 `yaml:"name"`
	Rank       int                    `yaml:"rank"`
	Requires   []inventory.ModuleKind `yaml:"requires"`
	Imports    []string               `yaml:"imports"`
	LincatBase string                 `yaml:"lincat_base"`
	Rules      map[string]string      `yaml:"rules"`

	imports   []template
	lincat    template
	rules     map[string]template
	variables []string
	compiled  bool
}

// Ladder is an ordered strategy list plus the abstract categories each
// blueprint must provide a lincat for.
type Ladder struct {
	// Categories maps an abstract category to the resource-grammar category
	// it is usually realised as; both are exposed to lincat templates as
	// {cat} and {rgl}.
	Categories map[string]string `yaml:"categories"`
	Strategies []*Strategy       `yaml:"strategies"`
}

// Variables returns the placeholder names this strategy references, sorted.
// Per-category variables ({cat}, {rgl}) and built-ins are included.
func (s *Strategy) Variables() []string {
	return append([]string(nil), s.variables...)
}

// Compile parses every template of s. It is called by Load and
// DefaultLadder; strategies built by hand must be compiled before use.
func (s *Strategy) Compile() error {
	if s.Name == "" {
		return errors.New("strategy name is required")
	}
	if s.Name == StatusSkip {
		return fmt.Errorf("strategy name %q is reserved", StatusSkip)
	}
	for _, k := range s.Requires {
		if !k.Valid() {
			return fmt.Errorf("strategy %s: unknown module kind %q", s.Name, k)
		}
	}

	vars := make(map[string]struct{})
	collect := func(t template) {
		for _, v := range t.variables() {
			vars[v] = struct{}{}
		}
	}

	s.imports = make([]template, 0, len(s.Imports))
	for _, raw := range s.Imports {
		t, err := parseTemplate(raw)
		if err != nil {
			return fmt.Errorf("strategy %s import: %w", s.Name, err)
		}
		s.imports = append(s.imports, t)
		collect(t)
	}

	lincat, err := parseTemplate(s.LincatBase)
	if err != nil {
		return fmt.Errorf("strategy %s lincat_base: %w", s.Name, err)
	}
	s.lincat = lincat
	collect(lincat)

	s.rules = make(map[string]template, len(s.Rules))
	for name, raw := range s.Rules {
		t, err := parseTemplate(raw)
		if err != nil {
			return fmt.Errorf("strategy %s rule %s: %w", s.Name, name, err)
		}
		s.rules[name] = t
		collect(t)
	}

	s.variables = sortedSet(vars)
	s.compiled = true
	return nil
}

// Compile compiles every strategy and checks names are unique.
func (l *Ladder) Compile() error {
	seen := make(map[string]bool, len(l.Strategies))
	for i, s := range l.Strategies {
		if s == nil {
			return fmt.Errorf("strategy #%d is empty", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy %q", s.Name)
		}
		seen[s.Name] = true
		if err := s.Compile(); err != nil {
			return err
		}
	}
	return nil
}

// Ranks returns the rank table for this ladder: the built-in tiers, with any
// strategy that declares a positive rank overriding or extending them.
func (l *Ladder) Ranks() RankTable {
	ranks := DefaultRanks()
	for _, s := range l.Strategies {
		if s.Rank > 0 {
			ranks[s.Name] = s.Rank
		}
	}
	return ranks
}

// Load reads a ladder from YAML. Strategies that are not built-in tiers must
// declare a rank so drift can be measured against them.
func Load(path string) (*Ladder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies: %w", err)
	}
	var l Ladder
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse strategies: %w", err)
	}
	if len(l.Categories) == 0 {
		l.Categories = DefaultCategories()
	}
	if err := l.Compile(); err != nil {
		return nil, err
	}
	builtin := DefaultRanks()
	for _, s := range l.Strategies {
		if _, ok := builtin[s.Name]; !ok && s.Rank <= 0 {
			return nil, fmt.Errorf("strategy %s: rank is required for non-tier names", s.Name)
		}
	}
	return &l, nil
}

// DefaultCategories are the abstract categories of the shared semantic module.
func DefaultCategories() map[string]string {
	return map[string]string{
		"Entity":    "NP",
		"Property":  "AP",
		"Predicate": "VP",
		"Fact":      "Cl",
		"Statement": "S",
	}
}

// DefaultLadder returns the built-in GOLD/SILVER/BRONZE/IRON ladder.
func DefaultLadder() *Ladder {
	l := &Ladder{
		Categories: DefaultCategories(),
		Strategies: []*Strategy{
			{
				Name:       StatusGold,
				Requires:   []inventory.ModuleKind{inventory.KindCat, inventory.KindParadigms, inventory.KindGrammar, inventory.KindSyntax},
				Imports:    []string{"Syntax{lang}", "Paradigms{lang}"},
				LincatBase: "Syntax{lang}.{rgl}",
				Rules: map[string]string{
					"mkFact":      `\subj,pred -> mkCl subj pred`,
					"mkStatement": `\fact -> mkS {ambiguity} fact`,
					"mkProperty":  `\adj -> mkAP adj`,
				},
			},
			{
				Name:       StatusSilver,
				Requires:   []inventory.ModuleKind{inventory.KindCat, inventory.KindGrammar},
				Imports:    []string{"Grammar{lang}", "Cat{lang}"},
				LincatBase: "Cat{lang}.{rgl}",
				Rules: map[string]string{
					"mkFact":      `\subj,pred -> Grammar{lang}.PredVP subj pred`,
					"mkStatement": `\fact -> Grammar{lang}.UseCl (TTAnt TPres ASimul) PPos fact`,
				},
			},
			{
				Name:       StatusBronze,
				Requires:   []inventory.ModuleKind{inventory.KindCat, inventory.KindParadigms},
				Imports:    []string{"Cat{lang}", "Paradigms{lang}"},
				LincatBase: "Cat{lang}.{rgl}",
				Rules: map[string]string{
					"mkFact": `\subj,pred -> {{s = subj.s ++ pred.s}}`,
				},
			},
			{
				Name:       StatusIron,
				Requires:   nil,
				Imports:    nil,
				LincatBase: "{{s : Str}}",
				Rules: map[string]string{
					"mkFact": `\subj,pred -> {{s = subj.s ++ pred.s}}`,
				},
			},
		},
	}
	if err := l.Compile(); err != nil {
		panic(err) // built-in ladder is static
	}
	return l
}
