package config

// ExecutionConfig configures invocations of the external grammar compiler.
type ExecutionConfig struct {
	// Binary is the grammar compiler executable.
	Binary string `yaml:"binary"`

	// AbstractModule is the shared language-independent module, relative to paths.abstract_dir.
	AbstractModule string `yaml:"abstract_module"`

	// ConcretePrefix names concrete sources as <prefix><family>.gf.
	ConcretePrefix string `yaml:"concrete_prefix"`

	// ArtifactName is the base name of the linked artifact.
	ArtifactName string `yaml:"artifact_name"`

	// Timeout bounds a single compiler invocation; the process is killed when it elapses.
	Timeout string `yaml:"timeout"`

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// AllowedEnvVars are inherited from the operator's environment.
	AllowedEnvVars []string `yaml:"allowed_env_vars"`

	// StripEnvVars are never passed on, even if allow-listed.
	StripEnvVars []string `yaml:"strip_env_vars"`
}

// DefaultExecutionConfig returns the compiler defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Binary:         "gf",
		AbstractModule: "Semantics.gf",
		ConcretePrefix: "Semantics",
		ArtifactName:   "Semantics",
		Timeout:        "10m",
		MaxOutputBytes: 4 << 20,
		AllowedEnvVars: []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR"},
		StripEnvVars:   []string{"GF_LIB_PATH", "GF_GRAMMAR_PATH"},
	}
}
