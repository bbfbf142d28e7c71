// Package inventory describes which structural grammar modules exist for each
// language family. The inventory is produced by a scan of the module tree and
// is consumed read-only by the Strategist.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gramforge/internal/safeio"
)

// ModuleKind is a structural module a family may provide.
type ModuleKind string

const (
	KindCat       ModuleKind = "cat"       // category definitions
	KindParadigms ModuleKind = "paradigms" // inflection paradigms
	KindGrammar   ModuleKind = "grammar"   // core grammar
	KindSyntax    ModuleKind = "syntax"    // high-level syntax API
)

// AllKinds lists every module kind in canonical order.
var AllKinds = []ModuleKind{KindCat, KindParadigms, KindGrammar, KindSyntax}

// Valid reports whether k is a known kind.
func (k ModuleKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Modules maps each present kind to its source path.
type Modules map[ModuleKind]string

// Has reports whether every kind in req is present.
func (m Modules) Has(req ...ModuleKind) bool {
	for _, k := range req {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// Kinds returns the present kinds in canonical order.
func (m Modules) Kinds() []ModuleKind {
	out := make([]ModuleKind, 0, len(m))
	for _, k := range AllKinds {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Inventory maps a family code (e.g. "Eng") to the modules present for it.
type Inventory map[string]Modules

// Families returns the family codes in sorted order.
func (inv Inventory) Families() []string {
	out := make([]string, 0, len(inv))
	for code := range inv {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Load reads an inventory JSON file of the form
// {"Eng": {"cat": "english/CatEng.gf", ...}}.
// A missing file is an error; unknown module kinds are dropped.
func Load(path string) (Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	inv := make(Inventory, len(raw))
	for code, mods := range raw {
		m := make(Modules, len(mods))
		for kind, path := range mods {
			if k := ModuleKind(kind); k.Valid() {
				m[k] = path
			}
		}
		inv[code] = m
	}
	return inv, nil
}

// Save writes the inventory as indented JSON.
func (inv Inventory) Save(path string) error {
	if err := safeio.WriteJSON(path, inv); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	return nil
}

var moduleFile = regexp.MustCompile(`^(Cat|Paradigms|Grammar|Syntax)([A-Z][a-z]{2})\.gf$`)

var prefixKind = map[string]ModuleKind{
	"Cat":       KindCat,
	"Paradigms": KindParadigms,
	"Grammar":   KindGrammar,
	"Syntax":    KindSyntax,
}

// Scan walks the immediate subdirectories of tree and records every
// Cat/Paradigms/Grammar/Syntax module it finds, keyed by the three-letter
// family suffix of the file name. Paths are relative to tree.
func Scan(tree string) (Inventory, error) {
	entries, err := os.ReadDir(tree)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Inventory{}, nil
		}
		return nil, fmt.Errorf("failed to scan module tree: %w", err)
	}

	inv := make(Inventory)
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(tree, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			match := moduleFile.FindStringSubmatch(f.Name())
			if match == nil {
				continue
			}
			code := match[2]
			if inv[code] == nil {
				inv[code] = make(Modules)
			}
			inv[code][prefixKind[match[1]]] = filepath.Join(dir.Name(), f.Name())
		}
	}
	return inv, nil
}
