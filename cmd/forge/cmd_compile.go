package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gramforge/internal/compiler"
	"gramforge/internal/logging"
	"gramforge/internal/strategy"
)

var compileLang string

// compileCmd runs one compile pass in the foreground
var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile every planned language and link the artifact",
	Long: `Compiles the abstract module, then each non-SKIP language of the build
plan on its own, then links everything that compiled. Failures are written
to the failure report and to one log file per language.

Exits non-zero unless every language compiled and the link succeeded.`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileLang, "lang", "", "Compile a single target language")
}

func runCompile(cmd *cobra.Command, args []string) error {
	comp, err := newCompiler(cfg, logger)
	if err != nil {
		return err
	}
	plan := strategy.LoadPlan(planPath(cfg), logging.For(logger, logging.CategoryStrategy))
	if len(plan) == 0 {
		return fmt.Errorf("build plan %s is empty; run 'forge plan' first", planPath(cfg))
	}

	var res *compiler.Result
	if compileLang != "" {
		res, err = comp.CompileOne(cmd.Context(), plan, compileLang)
	} else {
		res, err = comp.Compile(cmd.Context(), plan)
	}
	if err != nil {
		return err
	}
	return reportCompile(cmd, res)
}

func reportCompile(cmd *cobra.Command, res *compiler.Result) error {
	ok, failed := res.Counts()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "succeeded: %d  failed: %d  skipped: %d\n", ok, failed, len(res.Skipped))
	for _, t := range res.Failed.Targets() {
		fmt.Fprintf(out, "  FAILED %s (%s)\n", t, res.Failed[t].File)
	}
	if res.LinkDiagnostic != "" {
		fmt.Fprintf(out, "link failed:\n%s\n", res.LinkDiagnostic)
	}
	if res.Linked {
		fmt.Fprintf(out, "artifact: %s\n", res.Artifact)
	}
	if !res.OK() {
		return fmt.Errorf("compile failed (%d succeeded, %d failed)", ok, failed)
	}
	return nil
}
