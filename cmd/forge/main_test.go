package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gramforge/internal/compiler"
	"gramforge/internal/config"
	"gramforge/internal/strategy"
)

// fakeCompiler stands in for the grammar compiler: it fails when the last
// argument names a file containing BROKEN.
const fakeCompiler = `#!/bin/sh
for last; do :; done
if [ -f "$last" ] && grep -q BROKEN "$last"; then
  echo "$last: syntax error" >&2
  exit 1
fi
exit 0
`

func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"abstract/Semantics.gf":          "abstract Semantics = {}",
		"lib/src/english/CatEng.gf":      "",
		"lib/src/english/GrammarEng.gf":  "",
		"lib/src/french/CatFre.gf":       "",
		"lib/src/french/ParadigmsFre.gf": "",
		"lib/src/zulu/CatZul.gf":         "",
		"generated/SemanticsEng.gf":      "concrete SemanticsEng of Semantics = {}",
		"generated/SemanticsFre.gf":      "concrete SemanticsFre of Semantics = {}",
		"generated/SemanticsZul.gf":      "BROKEN",
	}
	for name, body := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	bin := filepath.Join(root, "fakegf")
	require.NoError(t, os.WriteFile(bin, []byte(fakeCompiler), 0755))

	cfg = config.DefaultConfig()
	cfg.Paths.Root = root
	cfg.Execution.Binary = bin
	cfg.Repair.APIKey = ""
	logger = zap.NewNop()

	planScan, planFailOnRegression, planDryRun = false, false, false
	compileLang = ""
	auditFast, auditWorkers, auditWatch, auditScript = false, 0, false, ""
	enqueueLang, enqueueName, enqueueInstructions = "", "", ""
	enqueueParams = nil
	return root
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetOut(&buf)
	return c, &buf
}

func TestPlanThenCompile(t *testing.T) {
	root := setupWorkspace(t)

	c, out := testCmd()
	require.NoError(t, runPlan(c, nil))
	assert.Contains(t, out.String(), "SILVER")

	plan := strategy.LoadPlan(filepath.Join(root, "data/build_plan.json"), nil)
	assert.Equal(t, strategy.StatusSilver, plan["Eng"].Status)
	assert.Equal(t, strategy.StatusBronze, plan["Fre"].Status)
	assert.Equal(t, strategy.StatusIron, plan["Zul"].Status)
	_, err := os.Stat(filepath.Join(root, "data/inventory.json"))
	assert.NoError(t, err, "scanned inventory is persisted")

	c, out = testCmd()
	err = runCompile(c, nil)
	require.Error(t, err)
	assert.Contains(t, out.String(), "succeeded: 2  failed: 1")
	assert.Contains(t, out.String(), "FAILED Zul")

	report := compiler.LoadReport(filepath.Join(root, "data/failure_report.json"), nil)
	require.Contains(t, report, "Zul")
	assert.Contains(t, report["Zul"].Reason, "syntax error")
	assert.NotContains(t, report, "Eng")

	// Healing without a configured service leaves the source alone.
	c, out = testCmd()
	require.NoError(t, runHeal(c, nil))
	assert.Contains(t, out.String(), "healed 0 of 1")

	require.NoError(t, os.WriteFile(filepath.Join(root, "generated/SemanticsZul.gf"), []byte("fixed"), 0644))
	c, out = testCmd()
	require.NoError(t, runCompile(c, nil))
	assert.Contains(t, out.String(), "succeeded: 3  failed: 0")
}

func TestCompileSingleLanguage(t *testing.T) {
	setupWorkspace(t)
	c, _ := testCmd()
	require.NoError(t, runPlan(c, nil))

	compileLang = "Fre"
	c, out := testCmd()
	require.NoError(t, runCompile(c, nil))
	assert.Contains(t, out.String(), "succeeded: 1  failed: 0")
	assert.Contains(t, out.String(), "Semantics_Fre.pgf")
}

func TestCompileWithoutPlan(t *testing.T) {
	setupWorkspace(t)
	c, _ := testCmd()
	err := runCompile(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forge plan")
}

func TestPlanFailOnRegression(t *testing.T) {
	root := setupWorkspace(t)
	c, _ := testCmd()
	require.NoError(t, runPlan(c, nil))
	before, err := os.ReadFile(filepath.Join(root, "data/build_plan.json"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "lib/src/english/GrammarEng.gf")))
	planScan, planFailOnRegression = true, true
	c, out := testCmd()
	err = runPlan(c, nil)
	require.ErrorIs(t, err, strategy.ErrRegression)
	assert.Contains(t, out.String(), "Eng")

	after, err := os.ReadFile(filepath.Join(root, "data/build_plan.json"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "plan not written on regression")
}

func TestEnqueueAndQueueLen(t *testing.T) {
	setupWorkspace(t)

	c, out := testCmd()
	require.NoError(t, runEnqueue(c, []string{"compile_all"}))
	assert.Len(t, strings.TrimSpace(out.String()), 36, "prints the job uuid")

	enqueueLang = "Fre"
	enqueueParams = map[string]string{"requested_by": "ci"}
	c, _ = testCmd()
	require.NoError(t, runEnqueue(c, []string{"compile_one"}))

	c, _ = testCmd()
	assert.Error(t, runEnqueue(c, []string{"deploy"}))

	c, out = testCmd()
	require.NoError(t, runQueueLen(c, nil))
	assert.Equal(t, "2", strings.TrimSpace(out.String()))
}

func TestAuditWritesRemediationScript(t *testing.T) {
	root := setupWorkspace(t)
	auditScript = filepath.Join(root, "disable_broken.sh")

	c, out := testCmd()
	err := runAudit(c, nil)
	require.Error(t, err, "broken sources fail the audit")
	assert.Contains(t, out.String(), "valid: 2  broken: 1")

	script, err := os.ReadFile(auditScript)
	require.NoError(t, err)
	assert.Contains(t, string(script), "SemanticsZul.gf.disabled")
	assert.NotContains(t, string(script), "SemanticsEng.gf")

	auditFast, auditScript = true, ""
	c, out = testCmd()
	require.Error(t, runAudit(c, nil))
	assert.Contains(t, out.String(), "skipped: 2")
}
