// Package audit checks many grammar sources for compile health in
// parallel. Unlike a build, every file is checked on its own, so the
// checks can run on a bounded pool.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gramforge/internal/build"
	"gramforge/internal/logging"
	"gramforge/internal/safeio"
)

// Checker compiles one file on its own.
type Checker interface {
	CompileFile(ctx context.Context, file string) (*build.Result, error)
}

// FileResult is the verdict for one file in one run.
type FileResult struct {
	File       string
	Status     Status
	Hash       string
	Diagnostic string
}

// Report is the outcome of a run, sorted by file.
type Report struct {
	Results []FileResult
}

// Broken returns the broken files, sorted.
func (r *Report) Broken() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusBroken {
			out = append(out, res.File)
		}
	}
	return out
}

// Count returns how many files ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

type memoKey struct {
	path  string
	size  int64
	mtime int64
}

// Auditor runs audits against a cache.
type Auditor struct {
	check   Checker
	cache   *Cache
	workers int
	memo    *lru.Cache[memoKey, string]
	now     func() time.Time
	log     *zap.Logger
}

// New creates an auditor with at most workers concurrent checks.
func New(check Checker, cache *Cache, workers int, log *zap.Logger) (*Auditor, error) {
	if workers < 1 {
		workers = 1
	}
	memo, err := lru.New[memoKey, string](4096)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash memo: %w", err)
	}
	return &Auditor{
		check:   check,
		cache:   cache,
		workers: workers,
		memo:    memo,
		now:     time.Now,
		log:     logging.For(log, logging.CategoryAudit),
	}, nil
}

// Cache returns the auditor's cache.
func (a *Auditor) Cache() *Cache { return a.cache }

// Run audits files. In fast mode a file whose hash matches a cached VALID
// entry is reported SKIPPED without invoking the compiler. Every checked
// file's cache entry is updated; the cache is saved at the end.
func (a *Auditor) Run(ctx context.Context, files []string, fast bool) (*Report, error) {
	timer := logging.StartTimer(a.log, "audit")
	defer timer.Stop()

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, file := range files {
		g.Go(func() error {
			res, err := a.auditFile(gctx, file, fast)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	report := &Report{Results: results}

	if err := a.cache.Save(); err != nil {
		a.log.Error("failed to save audit cache", zap.Error(err))
	}
	a.log.Info("audit complete",
		zap.Int("files", len(files)),
		zap.Int("valid", report.Count(StatusValid)),
		zap.Int("broken", report.Count(StatusBroken)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Bool("fast", fast))
	return report, nil
}

func (a *Auditor) auditFile(ctx context.Context, file string, fast bool) (FileResult, error) {
	hash, err := a.hash(file)
	if err != nil {
		a.log.Warn("unreadable source", zap.String("file", file), zap.Error(err))
		res := FileResult{File: file, Status: StatusBroken, Diagnostic: err.Error()}
		a.cache.Put(file, Entry{Status: StatusBroken, LastCheck: a.stamp()})
		return res, nil
	}

	if fast {
		if e, ok := a.cache.Get(file); ok && e.Status == StatusValid && e.Hash == hash {
			return FileResult{File: file, Status: StatusSkipped, Hash: hash}, nil
		}
	}

	out, err := a.check.CompileFile(ctx, file)
	if err != nil {
		return FileResult{}, fmt.Errorf("audit %s: %w", file, err)
	}

	res := FileResult{File: file, Hash: hash, Status: StatusValid}
	if !out.OK() {
		res.Status = StatusBroken
		res.Diagnostic = out.Diagnostic()
		a.log.Debug("broken", zap.String("file", file))
	}
	a.cache.Put(file, Entry{Status: res.Status, Hash: hash, LastCheck: a.stamp()})
	return res, nil
}

func (a *Auditor) stamp() float64 {
	return float64(a.now().UnixMilli()) / 1000
}

// hash returns the content hash of file, reusing the memo while size and
// mtime are unchanged.
func (a *Auditor) hash(file string) (string, error) {
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	key := memoKey{path: file, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if h, ok := a.memo.Get(key); ok {
		return h, nil
	}
	h, err := safeio.HashFile(file)
	if err != nil {
		return "", err
	}
	a.memo.Add(key, h)
	return h, nil
}

// Discover lists the grammar sources directly inside dir, sorted.
func Discover(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gf"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
