package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gramforge/internal/compiler"
	"gramforge/internal/logging"
)

// healCmd runs one healing round over the last failure report
var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Ask the repair service to patch every language in the failure report",
	Long: `Runs one healing round over the failure report written by the last
compile. Patched sources are overwritten (the original is kept as
<file>.bak). Nothing is recompiled; run 'forge compile' afterwards.`,
	RunE: runHeal,
}

func runHeal(cmd *cobra.Command, args []string) error {
	report := compiler.LoadReport(cfg.Resolve(cfg.Paths.FailureReport), logging.For(logger, logging.CategoryHealer))
	out := cmd.OutOrStdout()
	if len(report) == 0 {
		fmt.Fprintln(out, "failure report is empty; nothing to heal")
		return nil
	}

	client, err := newRepairClient(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	healed := newHealer(client, cfg, logger).RunHealingRound(cmd.Context(), report)

	for _, t := range report.Targets() {
		mark := "unchanged"
		if healed[t] {
			mark = "patched"
		}
		fmt.Fprintf(out, "%-9s %s\n", mark, t)
	}
	fmt.Fprintf(out, "healed %d of %d\n", len(healed), len(report))
	return nil
}
