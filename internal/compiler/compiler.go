// Package compiler performs sandboxed, failure-isolated compilation of the
// concrete grammars named by a build plan, followed by one link pass that
// produces the single linked artifact.
//
// Languages are compiled one at a time and each in its own process, so a
// malformed source can only ever fail, and be blamed for, itself. This is
// deliberately sequential: deterministic failure attribution matters more
// than throughput here.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"gramforge/internal/build"
	"gramforge/internal/logging"
	"gramforge/internal/strategy"
)

// ErrAbstractFailed means the shared abstract module did not compile. The
// run is aborted: nothing else is compiled or linked.
var ErrAbstractFailed = errors.New("compiler: abstract module failed to compile")

// Layout locates the grammar tree.
type Layout struct {
	Root           string
	AbstractDir    string
	GeneratedDir   string
	ModuleTree     string
	BuildDir       string
	LogDir         string
	AbstractModule string // file name inside AbstractDir
	ArtifactName   string
}

// AbstractPath returns the path of the shared abstract module.
func (l Layout) AbstractPath() string {
	return filepath.Join(l.AbstractDir, l.AbstractModule)
}

// ArtifactPath returns the path of the linked artifact called name.
func (l Layout) ArtifactPath(name string) string {
	return filepath.Join(l.BuildDir, name+".pgf")
}

func (l Layout) objectDir() string {
	return filepath.Join(l.BuildDir, "gfo")
}

// Options configures a Compiler.
type Options struct {
	Binary string
	Layout Layout
	Env    build.EnvPolicy
	// Timeout bounds each compiler invocation.
	Timeout time.Duration
	// SourceFor maps a target code to its concrete source, relative to
	// Layout.GeneratedDir unless absolute. Defaults to <ArtifactName><target>.gf.
	SourceFor func(target string) string
	// ReportPath is where Compile writes the failure report. Empty disables it.
	ReportPath string
}

// Compiler drives the external grammar compiler.
type Compiler struct {
	opts Options
	exec build.Executor
	log  *zap.Logger
}

// New creates a compiler. exec is usually a *build.ProcessExecutor.
func New(opts Options, exec build.Executor, log *zap.Logger) *Compiler {
	if opts.SourceFor == nil {
		prefix := opts.Layout.ArtifactName
		opts.SourceFor = func(target string) string { return prefix + target + ".gf" }
	}
	return &Compiler{opts: opts, exec: exec, log: logging.For(log, logging.CategoryCompiler)}
}

// Result is the outcome of a compile pass.
type Result struct {
	// Linked is true only when the final link produced the artifact.
	Linked         bool
	Artifact       string
	Succeeded      []string
	Failed         FailureReport
	Skipped        []string
	LinkDiagnostic string
}

// OK reports a fully successful pass: linked, with no failing language.
func (r *Result) OK() bool {
	return r != nil && r.Linked && len(r.Failed) == 0
}

// Counts returns (languages succeeded, languages failed).
func (r *Result) Counts() (int, int) {
	if r == nil {
		return 0, 0
	}
	return len(r.Succeeded), len(r.Failed)
}

// SourcePath returns the concrete source file for target.
func (c *Compiler) SourcePath(target string) string {
	p := c.opts.SourceFor(target)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.opts.Layout.GeneratedDir, p)
}

// LogPath returns the per-language diagnostic log for target.
func (c *Compiler) LogPath(target string) string {
	return filepath.Join(c.opts.Layout.LogDir, target+".log")
}

// session holds the per-run sandbox: environment, search path and the
// directory compiled objects are written to.
type session struct {
	env    []string
	path   build.SearchPath
	objDir string
}

func (c *Compiler) newSession() (*session, error) {
	l := c.opts.Layout
	sp, err := build.ComputeSearchPath(l.Root, l.AbstractDir, l.GeneratedDir, l.ModuleTree)
	if err != nil {
		return nil, fmt.Errorf("compute search path: %w", err)
	}
	if err := os.MkdirAll(l.objectDir(), 0755); err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	if err := os.MkdirAll(l.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &session{env: build.SandboxEnv(c.opts.Env), path: sp, objDir: l.objectDir()}, nil
}

func (c *Compiler) invocation(s *session, args ...string) build.Invocation {
	base := []string{"-batch", "-path=" + s.path.String(), "-gfo-dir=" + s.objDir}
	return build.Invocation{
		Binary:  c.opts.Binary,
		Args:    append(base, args...),
		Dir:     c.opts.Layout.Root,
		Env:     s.env,
		Timeout: c.opts.Timeout,
	}
}

// compileFile compiles one module on its own.
func (c *Compiler) compileFile(ctx context.Context, s *session, file string) (*build.Result, error) {
	if _, err := os.Stat(file); err != nil {
		return &build.Result{ExitCode: -1, Stderr: fmt.Sprintf("source file not found: %s", file)}, nil
	}
	return c.exec.Run(ctx, c.invocation(s, "-c", file))
}

// CompileFile compiles a single source against the sandboxed search path.
// It is the unit check used by the audit tool. Each call writes its objects
// to a private directory under the build dir, removed on return, so
// concurrent checks never share object files with each other or with a
// running Compile.
func (c *Compiler) CompileFile(ctx context.Context, file string) (*build.Result, error) {
	s, err := c.newSession()
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(s.objDir, "check-*")
	if err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	defer os.RemoveAll(dir)
	s.objDir = dir
	return c.compileFile(ctx, s, file)
}

// Compile runs a full pass over plan: abstract module, every non-SKIP
// language in isolation, then one link of the survivors. The failure
// report is written to Options.ReportPath. The plan is not modified.
func (c *Compiler) Compile(ctx context.Context, plan strategy.BuildPlan) (*Result, error) {
	timer := logging.StartTimer(c.log, "compile pass")
	defer timer.Stop()

	res, err := c.run(ctx, plan, plan.Targets(), c.opts.Layout.ArtifactName)
	if err != nil && !errors.Is(err, ErrAbstractFailed) {
		return nil, err
	}
	if c.opts.ReportPath != "" {
		report := FailureReport{}
		if res != nil {
			report = res.Failed
		}
		if werr := SaveReport(c.opts.ReportPath, report); werr != nil {
			c.log.Error("failed to write failure report", zap.String("path", c.opts.ReportPath), zap.Error(werr))
		}
	}
	return res, err
}

// CompileOne runs the same path scoped to target. The scoped link writes
// <artifact>_<target>.pgf so the full artifact is left alone, and the
// shared failure report is not touched.
func (c *Compiler) CompileOne(ctx context.Context, plan strategy.BuildPlan, target string) (*Result, error) {
	if _, ok := plan[target]; !ok {
		return nil, fmt.Errorf("compiler: target %q not in build plan", target)
	}
	return c.run(ctx, plan, []string{target}, c.opts.Layout.ArtifactName+"_"+target)
}

func (c *Compiler) run(ctx context.Context, plan strategy.BuildPlan, targets []string, artifact string) (*Result, error) {
	s, err := c.newSession()
	if err != nil {
		return nil, err
	}
	c.log.Debug("sandbox", zap.Strings("search_path", s.path), zap.Int("env_vars", len(s.env)))

	abstract := c.opts.Layout.AbstractPath()
	res := &Result{Failed: FailureReport{}}

	ar, err := c.compileFile(ctx, s, abstract)
	if err != nil {
		return nil, fmt.Errorf("compile abstract: %w", err)
	}
	if !ar.OK() {
		diag := ar.Diagnostic()
		c.log.Error("abstract module failed; aborting run", zap.String("file", abstract), zap.String("diagnostic", diag))
		return res, fmt.Errorf("%w: %s", ErrAbstractFailed, firstLine(diag))
	}

	var linkFiles []string
	for _, target := range targets {
		bp := plan[target]
		if !bp.Buildable() {
			res.Skipped = append(res.Skipped, target)
			c.log.Debug("skipped", zap.String("target", target))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file := c.SourcePath(target)
		lr, err := c.compileFile(ctx, s, file)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", target, err)
		}
		if lr.OK() {
			res.Succeeded = append(res.Succeeded, target)
			linkFiles = append(linkFiles, file)
			_ = os.Remove(c.LogPath(target)) // stale log from an earlier failure
			c.log.Info("compiled", zap.String("target", target), zap.String("status", bp.Status), zap.Duration("elapsed", lr.Duration))
			continue
		}

		diag := lr.Diagnostic()
		res.Failed[target] = Failure{File: file, Reason: diag}
		if werr := os.WriteFile(c.LogPath(target), []byte(diag+"\n"), 0644); werr != nil {
			c.log.Warn("failed to write diagnostic log", zap.String("target", target), zap.Error(werr))
		}
		c.log.Warn("compile failed", zap.String("target", target), zap.String("file", file), zap.String("error", firstLine(diag)))
	}

	if len(res.Succeeded) == 0 {
		c.log.Error("no language compiled; skipping link", zap.Int("failed", len(res.Failed)))
		return res, nil
	}

	args := []string{"-make", "-output-dir=" + c.opts.Layout.BuildDir, "-name=" + artifact, abstract}
	lr, err := c.exec.Run(ctx, c.invocation(s, append(args, linkFiles...)...))
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if !lr.OK() {
		res.LinkDiagnostic = lr.Diagnostic()
		c.log.Error("link failed", zap.Int("languages", len(linkFiles)), zap.String("diagnostic", firstLine(res.LinkDiagnostic)))
		return res, nil
	}

	res.Linked = true
	res.Artifact = c.opts.Layout.ArtifactPath(artifact)
	ok, failed := res.Counts()
	c.log.Info("linked", zap.String("artifact", res.Artifact), zap.Int("succeeded", ok), zap.Int("failed", failed), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
