// Package healer runs one repair pass over a failure report. It never
// recompiles; the worker decides what happens next.
package healer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"gramforge/internal/compiler"
	"gramforge/internal/logging"
	"gramforge/internal/safeio"
)

// Repairer produces a patched source, or reports that none is available.
type Repairer interface {
	Repair(ctx context.Context, source, diagnostic string, maxAttempts int) (string, bool)
}

// Healer rewrites broken sources with patches from a Repairer.
type Healer struct {
	repair      Repairer
	maxAttempts int
	backup      bool
	log         *zap.Logger
}

// Option configures a Healer.
type Option func(*Healer)

// WithMaxAttempts sets the per-language attempt budget (default 3).
func WithMaxAttempts(n int) Option {
	return func(h *Healer) { h.maxAttempts = n }
}

// WithoutBackup disables the <file>.bak copy of the original source.
func WithoutBackup() Option {
	return func(h *Healer) { h.backup = false }
}

// New creates a healer.
func New(r Repairer, log *zap.Logger, opts ...Option) *Healer {
	h := &Healer{repair: r, maxAttempts: 3, backup: true, log: logging.For(log, logging.CategoryHealer)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunHealingRound asks for a patch for every entry of report, in target
// order, and overwrites each source that received one. It returns the set
// of patched targets. A language that cannot be read or patched is logged
// and left alone.
func (h *Healer) RunHealingRound(ctx context.Context, report compiler.FailureReport) map[string]bool {
	healed := make(map[string]bool)
	timer := logging.StartTimer(h.log, "healing round")
	defer timer.Stop()

	for _, target := range report.Targets() {
		if ctx.Err() != nil {
			h.log.Info("healing round interrupted", zap.Int("healed", len(healed)))
			break
		}
		failure := report[target]
		if err := h.healOne(ctx, target, failure); err != nil {
			h.log.Warn("not healed", zap.String("target", target), zap.String("file", failure.File), zap.Error(err))
			continue
		}
		healed[target] = true
	}

	h.log.Info("healing round complete", zap.Int("attempted", len(report)), zap.Int("healed", len(healed)))
	return healed
}

var errNoPatch = errors.New("no patch available")

func (h *Healer) healOne(ctx context.Context, target string, f compiler.Failure) error {
	info, err := os.Stat(f.File)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	source, err := os.ReadFile(f.File)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	patch, ok := h.repair.Repair(ctx, string(source), f.Reason, h.maxAttempts)
	if !ok {
		return errNoPatch
	}
	if h.backup {
		if err := safeio.WriteFileAtomic(f.File+".bak", source, info.Mode().Perm()); err != nil {
			return fmt.Errorf("backup source: %w", err)
		}
	}
	if err := safeio.WriteFileAtomic(f.File, []byte(ensureNewline(patch)), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write patch: %w", err)
	}
	h.log.Info("patched", zap.String("target", target), zap.String("file", f.File))
	return nil
}

func ensureNewline(s string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s
	}
	return s + "\n"
}
