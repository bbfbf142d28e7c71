package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gramforge/internal/build"
	"gramforge/internal/strategy"
)

// fakeExec fails any single-file compile whose file name is in broken and
// fails the link when failLink is set.
type fakeExec struct {
	broken   map[string]string
	failLink bool
	calls    []build.Invocation
}

func (f *fakeExec) Run(_ context.Context, inv build.Invocation) (*build.Result, error) {
	f.calls = append(f.calls, inv)
	if hasArg(inv.Args, "-make") {
		if f.failLink {
			return &build.Result{ExitCode: 1, Stderr: "link error: duplicate symbol"}, nil
		}
		return &build.Result{}, nil
	}
	file := filepath.Base(inv.Args[len(inv.Args)-1])
	if msg, ok := f.broken[file]; ok {
		return &build.Result{ExitCode: 1, Stderr: file + ": " + msg}, nil
	}
	return &build.Result{}, nil
}

func (f *fakeExec) links() []build.Invocation {
	var out []build.Invocation
	for _, c := range f.calls {
		if hasArg(c.Args, "-make") {
			out = append(out, c)
		}
	}
	return out
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func newTestCompiler(t *testing.T, exec build.Executor, targets ...string) (*Compiler, Options) {
	t.Helper()
	root := t.TempDir()
	layout := Layout{
		Root:           root,
		AbstractDir:    filepath.Join(root, "abstract"),
		GeneratedDir:   filepath.Join(root, "generated"),
		ModuleTree:     filepath.Join(root, "rgl"),
		BuildDir:       filepath.Join(root, "build"),
		LogDir:         filepath.Join(root, "build", "logs"),
		AbstractModule: "Semantics.gf",
		ArtifactName:   "Semantics",
	}
	for _, dir := range []string{layout.AbstractDir, layout.GeneratedDir, layout.ModuleTree} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	require.NoError(t, os.WriteFile(layout.AbstractPath(), []byte("abstract Semantics = {}"), 0644))
	for _, target := range targets {
		p := filepath.Join(layout.GeneratedDir, "Semantics"+target+".gf")
		require.NoError(t, os.WriteFile(p, []byte("concrete Semantics"+target+" of Semantics = {}"), 0644))
	}
	opts := Options{
		Binary:     "gf",
		Layout:     layout,
		ReportPath: filepath.Join(root, "build", "failure_report.json"),
	}
	return New(opts, exec, zap.NewNop()), opts
}

func plan(statuses map[string]string) strategy.BuildPlan {
	p := strategy.BuildPlan{}
	for target, status := range statuses {
		p[target] = strategy.Blueprint{Status: status}
	}
	return p
}

func TestCompileIsolatesFailures(t *testing.T) {
	exec := &fakeExec{broken: map[string]string{"SemanticsFre.gf": "syntax error at line 3"}}
	c, opts := newTestCompiler(t, exec, "Eng", "Fre", "Ger")

	res, err := c.Compile(context.Background(), plan(map[string]string{
		"Eng": strategy.StatusGold,
		"Fre": strategy.StatusSilver,
		"Ger": strategy.StatusBronze,
	}))
	require.NoError(t, err)

	assert.True(t, res.Linked)
	assert.Equal(t, []string{"Eng", "Ger"}, res.Succeeded)
	require.Contains(t, res.Failed, "Fre")
	assert.Contains(t, res.Failed["Fre"].Reason, "syntax error")
	assert.NotContains(t, res.Failed["Fre"].Reason, "Eng")

	ok, failed := res.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)

	links := exec.links()
	require.Len(t, links, 1)
	args := strings.Join(links[0].Args, " ")
	assert.Contains(t, args, "SemanticsEng.gf")
	assert.Contains(t, args, "SemanticsGer.gf")
	assert.NotContains(t, args, "SemanticsFre.gf")

	logData, err := os.ReadFile(c.LogPath("Fre"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "syntax error")

	report := LoadReport(opts.ReportPath, zap.NewNop())
	assert.Equal(t, res.Failed, report)
}

func TestCompileAbstractFailureIsFatal(t *testing.T) {
	exec := &fakeExec{broken: map[string]string{"Semantics.gf": "undefined category"}}
	c, opts := newTestCompiler(t, exec, "Eng")

	res, err := c.Compile(context.Background(), plan(map[string]string{"Eng": strategy.StatusGold}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAbstractFailed))
	require.NotNil(t, res)
	assert.False(t, res.Linked)
	assert.Empty(t, res.Failed)
	assert.Len(t, exec.calls, 1, "nothing runs after the abstract module fails")
	assert.Empty(t, LoadReport(opts.ReportPath, zap.NewNop()))
}

func TestCompileNoSuccessSkipsLink(t *testing.T) {
	exec := &fakeExec{broken: map[string]string{"SemanticsEng.gf": "bad"}}
	c, _ := newTestCompiler(t, exec, "Eng")

	res, err := c.Compile(context.Background(), plan(map[string]string{"Eng": strategy.StatusIron}))
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Empty(t, exec.links())
}

func TestCompileLinkFailure(t *testing.T) {
	exec := &fakeExec{failLink: true}
	c, _ := newTestCompiler(t, exec, "Eng")

	res, err := c.Compile(context.Background(), plan(map[string]string{"Eng": strategy.StatusGold}))
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Contains(t, res.LinkDiagnostic, "duplicate symbol")
	assert.Equal(t, []string{"Eng"}, res.Succeeded)
}

func TestCompileSkipsSkipEntriesAndMissingSources(t *testing.T) {
	exec := &fakeExec{}
	c, _ := newTestCompiler(t, exec, "Eng")

	res, err := c.Compile(context.Background(), plan(map[string]string{
		"Eng": strategy.StatusGold,
		"Xyz": strategy.StatusSkip,
		"Zul": strategy.StatusIron, // no source on disk
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Xyz"}, res.Skipped)
	require.Contains(t, res.Failed, "Zul")
	assert.Contains(t, res.Failed["Zul"].Reason, "source file not found")
	assert.True(t, res.Linked)
}

func TestCompileIsIdempotent(t *testing.T) {
	exec := &fakeExec{broken: map[string]string{"SemanticsFre.gf": "type error"}}
	c, opts := newTestCompiler(t, exec, "Eng", "Fre")
	p := plan(map[string]string{"Eng": strategy.StatusGold, "Fre": strategy.StatusGold})

	first, err := c.Compile(context.Background(), p)
	require.NoError(t, err)
	firstReport, err := os.ReadFile(opts.ReportPath)
	require.NoError(t, err)

	second, err := c.Compile(context.Background(), p)
	require.NoError(t, err)
	secondReport, err := os.ReadFile(opts.ReportPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, string(firstReport), string(secondReport))
}

func TestCompileOneScopesLink(t *testing.T) {
	exec := &fakeExec{}
	c, opts := newTestCompiler(t, exec, "Eng", "Fre")
	p := plan(map[string]string{"Eng": strategy.StatusGold, "Fre": strategy.StatusGold})

	res, err := c.CompileOne(context.Background(), p, "Fre")
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, []string{"Fre"}, res.Succeeded)
	assert.Equal(t, opts.Layout.ArtifactPath("Semantics_Fre"), res.Artifact)

	links := exec.links()
	require.Len(t, links, 1)
	assert.NotContains(t, strings.Join(links[0].Args, " "), "SemanticsEng.gf")

	_, err = os.Stat(opts.ReportPath)
	assert.True(t, os.IsNotExist(err), "single-language compile leaves the shared report alone")

	_, err = c.CompileOne(context.Background(), p, "Ger")
	assert.Error(t, err)
}

func TestCompileSandboxesInvocations(t *testing.T) {
	t.Setenv("GF_LIB_PATH", "/somewhere/else")
	exec := &fakeExec{}
	c, _ := newTestCompiler(t, exec, "Eng")
	c.opts.Env = build.EnvPolicy{Allow: []string{"PATH", "GF_LIB_PATH"}, Strip: build.DefaultStripVars}

	_, err := c.Compile(context.Background(), plan(map[string]string{"Eng": strategy.StatusGold}))
	require.NoError(t, err)
	require.NotEmpty(t, exec.calls)
	for _, call := range exec.calls {
		for _, kv := range call.Env {
			assert.False(t, strings.HasPrefix(kv, "GF_LIB_PATH="), "ambient library path leaked: %s", kv)
		}
		assert.Equal(t, c.opts.Layout.Root, call.Dir)
	}
}

// objDirRecorder records the object directory of every invocation and
// checks it exists while the compiler runs.
type objDirRecorder struct {
	mu     sync.Mutex
	dirs   []string
	absent []string
}

func (r *objDirRecorder) Run(_ context.Context, inv build.Invocation) (*build.Result, error) {
	for _, a := range inv.Args {
		dir, ok := strings.CutPrefix(a, "-gfo-dir=")
		if !ok {
			continue
		}
		_, err := os.Stat(dir)
		r.mu.Lock()
		r.dirs = append(r.dirs, dir)
		if err != nil {
			r.absent = append(r.absent, dir)
		}
		r.mu.Unlock()
	}
	return &build.Result{}, nil
}

func TestCompileFileUsesPrivateObjectDirs(t *testing.T) {
	rec := &objDirRecorder{}
	targets := []string{"Eng", "Fre", "Ger", "Swe"}
	c, _ := newTestCompiler(t, rec, targets...)

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.CompileFile(context.Background(), c.SourcePath(target))
			assert.NoError(t, err)
			assert.True(t, res.OK())
		}()
	}
	wg.Wait()

	require.Len(t, rec.dirs, len(targets))
	assert.Empty(t, rec.absent)
	shared := c.opts.Layout.objectDir()
	seen := make(map[string]bool)
	for _, dir := range rec.dirs {
		assert.NotEqual(t, shared, dir, "check must not write to the shared object dir")
		assert.Equal(t, shared, filepath.Dir(dir))
		assert.False(t, seen[dir], "object dir %s reused", dir)
		seen[dir] = true
		_, err := os.Stat(dir)
		assert.True(t, os.IsNotExist(err), "object dir %s not removed", dir)
	}
}
