package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-audits grammar sources in a directory as they change. Bursts
// of events (editors save in several steps) are collapsed: a batch is
// audited once no event has arrived for the debounce interval.
type Watcher struct {
	dir      string
	debounce time.Duration
	auditor  *Auditor
	onReport func(*Report)
	log      *zap.Logger
}

// NewWatcher creates a watcher over dir. onReport, if set, receives every
// batch's report.
func NewWatcher(dir string, debounce time.Duration, a *Auditor, onReport func(*Report)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, auditor: a, onReport: onReport, log: a.log}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.log.Info("watching", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".gf") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			sort.Strings(files)
			clear(pending)

			report, err := w.auditor.Run(ctx, files, true)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Error("re-audit failed", zap.Error(err))
				continue
			}
			if broken := report.Broken(); len(broken) > 0 {
				w.log.Warn("broken sources", zap.Strings("files", broken))
			}
			if w.onReport != nil {
				w.onReport(report)
			}
		}
	}
}
