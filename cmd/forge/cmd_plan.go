package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gramforge/internal/inventory"
	"gramforge/internal/logging"
	"gramforge/internal/strategy"
)

var (
	planScan             bool
	planFailOnRegression bool
	planDryRun           bool
)

// planCmd synthesizes the build plan
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Synthesize the build plan from the module inventory",
	Long: `Picks, for every language, the best strategy its inventoried modules
support and writes the resulting build plan. Tier changes against the
previous plan are reported as upgrades or regressions.

With --fail-on-regression (or strategy.fail_on_regression) any regression
aborts without writing the plan.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planScan, "scan", false, "Rescan the module tree and rewrite the inventory first")
	planCmd.Flags().BoolVar(&planFailOnRegression, "fail-on-regression", false, "Abort without writing when any language drops a tier")
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "Print the plan summary without writing it")
}

func runPlan(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, logging.CategoryStrategy)

	inv, err := loadInventory(planScan, log)
	if err != nil {
		return err
	}
	ladder, err := loadLadder(cfg)
	if err != nil {
		return err
	}
	langs, err := strategy.LoadLanguages(cfg.Resolve(cfg.Paths.Languages))
	if err != nil {
		return err
	}

	ctxVars := strategy.BuildContext(cfg.Strategy.Context)
	for _, u := range ladder.CheckContext(ctxVars) {
		log.Warn("strategy uses a variable the build context does not define", zap.Error(u))
	}

	path := planPath(cfg)
	res, err := strategy.GeneratePlan(strategy.PlanRequest{
		Inventory:        inv,
		Languages:        langs,
		Ladder:           ladder,
		Previous:         strategy.LoadPlan(path, log),
		Context:          ctxVars,
		FailOnRegression: planFailOnRegression || cfg.Strategy.FailOnRegression,
	}, log)

	out := cmd.OutOrStdout()
	if res != nil {
		fmt.Fprint(out, strategy.Summary(res.Plan, res.Drift))
	}
	if errors.Is(err, strategy.ErrRegression) {
		return fmt.Errorf("%w: %d language(s) regressed; plan not written", err, len(strategy.Regressions(res.Drift)))
	}
	if err != nil {
		return err
	}
	if planDryRun {
		return nil
	}

	if err := strategy.SavePlan(path, res.Plan); err != nil {
		return fmt.Errorf("failed to write build plan: %w", err)
	}
	log.Info("build plan written", zap.String("path", path), zap.Int("buildable", len(res.Plan.Buildable())), zap.Int("languages", len(res.Plan)))
	return nil
}

func loadInventory(rescan bool, log *zap.Logger) (inventory.Inventory, error) {
	path := cfg.Resolve(cfg.Paths.Inventory)
	if !rescan {
		inv, err := inventory.Load(path)
		if err == nil {
			return inv, nil
		}
		log.Info("inventory unavailable, scanning module tree", zap.String("path", path), zap.Error(err))
	}

	tree := cfg.Resolve(cfg.Paths.ModuleTree)
	inv, err := inventory.Scan(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to scan module tree: %w", err)
	}
	if err := inv.Save(path); err != nil {
		return nil, fmt.Errorf("failed to write inventory: %w", err)
	}
	log.Info("inventory scanned", zap.String("tree", tree), zap.Int("families", len(inv)))
	return inv, nil
}
