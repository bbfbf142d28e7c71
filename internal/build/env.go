// Package build provides the sandboxed environment for grammar compiler
// invocations.
//
// Every invocation starts from an allow-list of inherited variables rather
// than the full operator environment, and never carries variables that
// would let the compiler resolve modules outside the controlled search path.
// Builds therefore depend only on the configured tree, not on the state of
// the machine they run on.
package build

import (
	"os"
	"sort"
)

// DefaultStripVars are never inherited: each lets the grammar compiler find
// modules outside the explicit search path.
var DefaultStripVars = []string{"GF_LIB_PATH", "GF_GRAMMAR_PATH"}

// EnvPolicy decides which variables a sandboxed process sees.
type EnvPolicy struct {
	// Allow lists variables inherited from the current process.
	Allow []string
	// Strip lists variables that are removed even when allow-listed or
	// passed as extras.
	Strip []string
	// Extra variables set explicitly (override inherited values).
	Extra map[string]string
}

// SandboxEnv returns the environment for a sandboxed invocation in
// KEY=VALUE form, sorted by key.
func SandboxEnv(policy EnvPolicy) []string {
	return sandboxEnv(policy, os.LookupEnv)
}

func sandboxEnv(policy EnvPolicy, lookup func(string) (string, bool)) []string {
	strip := make(map[string]bool, len(policy.Strip)+len(DefaultStripVars))
	for _, k := range DefaultStripVars {
		strip[k] = true
	}
	for _, k := range policy.Strip {
		strip[k] = true
	}

	vars := make(map[string]string)
	for _, key := range policy.Allow {
		if strip[key] {
			continue
		}
		if val, ok := lookup(key); ok && val != "" {
			vars[key] = val
		}
	}
	for key, val := range policy.Extra {
		if strip[key] {
			continue
		}
		vars[key] = val
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
