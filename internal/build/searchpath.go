package build

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SearchPath is the module search path handed to the compiler.
type SearchPath []string

// ComputeSearchPath returns the core bases (root, abstract dir, generated
// dir) unioned with every immediate subdirectory of moduleTree, so shared
// family modules are always reachable. Paths are cleaned, deduplicated and
// sorted; the core bases keep their leading position. A missing module tree
// contributes nothing.
func ComputeSearchPath(root, abstractDir, generatedDir, moduleTree string) (SearchPath, error) {
	seen := make(map[string]bool)
	var core SearchPath
	for _, p := range []string{root, abstractDir, generatedDir} {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			core = append(core, p)
		}
	}

	var families []string
	if moduleTree != "" {
		tree := filepath.Clean(moduleTree)
		if !seen[tree] {
			seen[tree] = true
			families = append(families, tree)
		}
		entries, err := os.ReadDir(tree)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			p := filepath.Join(tree, e.Name())
			if !seen[p] {
				seen[p] = true
				families = append(families, p)
			}
		}
	}
	sort.Strings(families)
	return append(core, families...), nil
}

// String joins the path with the OS list separator.
func (s SearchPath) String() string {
	return strings.Join(s, string(os.PathListSeparator))
}
