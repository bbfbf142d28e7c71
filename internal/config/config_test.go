package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gramforge", cfg.Name)
	assert.Equal(t, 3, cfg.Repair.MaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	content := `
paths:
  root: /srv/grammars
execution:
  binary: gf-3.12
  timeout: 90s
strategy:
  fail_on_regression: true
  context:
    ambiguity: all
repair:
  failure_threshold: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/grammars", cfg.Paths.Root)
	assert.Equal(t, "gf-3.12", cfg.Execution.Binary)
	assert.Equal(t, 90*time.Second, cfg.GetCompileTimeout())
	assert.True(t, cfg.Strategy.FailOnRegression)
	assert.Equal(t, "all", cfg.Strategy.Context["ambiguity"])
	assert.Equal(t, 2, cfg.Repair.FailureThreshold)
	// untouched fields keep defaults
	assert.Equal(t, "Semantics.gf", cfg.Execution.AbstractModule)
	assert.Equal(t, 3, cfg.Repair.MaxAttempts)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Second, cfg.GetPopTimeout())
	assert.Equal(t, 30*time.Minute, cfg.GetLease())
	assert.Equal(t, 10*time.Minute, cfg.GetCompileTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetRepairBaseDelay())
	assert.Equal(t, 60*time.Second, cfg.GetRecoveryTimeout())

	cfg.Queue.PopTimeout = "not-a-duration"
	assert.Equal(t, 5*time.Second, cfg.GetPopTimeout())
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Root = "/srv/g"
	assert.Equal(t, filepath.Join("/srv/g", "data/plan.json"), cfg.Resolve("data/plan.json"))
	assert.Equal(t, "/abs/plan.json", cfg.Resolve("/abs/plan.json"))
	assert.Equal(t, "", cfg.Resolve(""))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.Binary = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Repair.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Audit.Workers = 0
	assert.Error(t, cfg.Validate())
}
