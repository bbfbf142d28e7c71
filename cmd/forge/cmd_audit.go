package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gramforge/internal/audit"
	"gramforge/internal/logging"
	"gramforge/internal/safeio"
)

var (
	auditFast    bool
	auditWorkers int
	auditWatch   bool
	auditScript  string
)

// auditCmd checks generated sources for compile health
var auditCmd = &cobra.Command{
	Use:   "audit [files...]",
	Short: "Check generated grammar sources for compile health",
	Long: `Compiles each generated concrete source on its own, in parallel, and
records VALID or BROKEN per file in the audit cache. With --fast, files that
are unchanged since their last VALID check are skipped.

--script writes a shell script that renames every broken source out of the
build set. --watch keeps running and re-audits sources as they change.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().BoolVar(&auditFast, "fast", false, "Skip files unchanged since their last VALID check")
	auditCmd.Flags().IntVar(&auditWorkers, "workers", 0, "Concurrent checks (default audit.workers)")
	auditCmd.Flags().BoolVar(&auditWatch, "watch", false, "Re-audit sources as they change")
	auditCmd.Flags().StringVar(&auditScript, "script", "", "Write a remediation script for broken sources")
}

func runAudit(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, logging.CategoryAudit)

	comp, err := newCompiler(cfg, logger)
	if err != nil {
		return err
	}
	workers := auditWorkers
	if workers <= 0 {
		workers = cfg.Audit.Workers
	}
	a, err := audit.New(comp, audit.LoadCache(cfg.Resolve(cfg.Paths.AuditCache), log), workers, logger)
	if err != nil {
		return err
	}

	files := args
	if len(files) == 0 {
		files, err = filepath.Glob(generatedGlob(cfg))
		if err != nil {
			return err
		}
	}

	report, err := a.Run(cmd.Context(), files, auditFast)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range report.Results {
		fmt.Fprintf(out, "%-7s %s\n", r.Status, r.File)
	}
	fmt.Fprintf(out, "valid: %d  broken: %d  skipped: %d\n",
		report.Count(audit.StatusValid), report.Count(audit.StatusBroken), report.Count(audit.StatusSkipped))

	if auditScript != "" {
		script := audit.RemediationScript(report.Broken())
		if err := safeio.WriteFileAtomic(auditScript, []byte(script), 0755); err != nil {
			return fmt.Errorf("failed to write remediation script: %w", err)
		}
		log.Info("remediation script written", zap.String("path", auditScript), zap.Int("broken", len(report.Broken())))
	}

	if auditWatch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		w := audit.NewWatcher(cfg.Resolve(cfg.Paths.GeneratedDir), cfg.GetAuditDebounce(), a, func(r *audit.Report) {
			for _, res := range r.Results {
				fmt.Fprintf(out, "%-7s %s\n", res.Status, res.File)
			}
		})
		return w.Run(ctx)
	}

	if n := report.Count(audit.StatusBroken); n > 0 {
		return fmt.Errorf("%d broken source(s)", n)
	}
	return nil
}
