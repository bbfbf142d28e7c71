package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"gramforge/internal/build"
	"gramforge/internal/compiler"
	"gramforge/internal/config"
	"gramforge/internal/healer"
	"gramforge/internal/logging"
	"gramforge/internal/queue"
	"gramforge/internal/repair"
	"gramforge/internal/strategy"
)

// newCompiler wires the compiler from config. The language table decides
// concrete source names.
func newCompiler(c *config.Config, log *zap.Logger) (*compiler.Compiler, error) {
	langs, err := strategy.LoadLanguages(c.Resolve(c.Paths.Languages))
	if err != nil {
		return nil, err
	}
	prefix := c.Execution.ConcretePrefix

	exec := build.NewProcessExecutor(c.GetCompileTimeout(), c.Execution.MaxOutputBytes, log)
	return compiler.New(compiler.Options{
		Binary: c.Execution.Binary,
		Layout: compiler.Layout{
			Root:           c.Paths.Root,
			AbstractDir:    c.Resolve(c.Paths.AbstractDir),
			GeneratedDir:   c.Resolve(c.Paths.GeneratedDir),
			ModuleTree:     c.Resolve(c.Paths.ModuleTree),
			BuildDir:       c.Resolve(c.Paths.BuildDir),
			LogDir:         c.Resolve(c.Paths.LogDir),
			AbstractModule: c.Execution.AbstractModule,
			ArtifactName:   c.Execution.ArtifactName,
		},
		Env: build.EnvPolicy{
			Allow: c.Execution.AllowedEnvVars,
			Strip: c.Execution.StripEnvVars,
		},
		Timeout:    c.GetCompileTimeout(),
		SourceFor:  func(target string) string { return langs.Source(target, prefix) },
		ReportPath: c.Resolve(c.Paths.FailureReport),
	}, exec, log), nil
}

// newRepairClient builds the process's single repair client. Without an
// API key the client is constructed disabled and healing is a no-op.
func newRepairClient(ctx context.Context, c *config.Config, log *zap.Logger) (*repair.Client, error) {
	breaker := repair.NewBreaker(c.Repair.FailureThreshold, c.GetRecoveryTimeout(), nil)
	if !c.RepairEnabled() {
		log.Warn("repair service not configured (set GEMINI_API_KEY); healing disabled")
		return repair.NewClient(nil, breaker, c.GetRepairBaseDelay(), log), nil
	}
	if c.Repair.Provider != "" && c.Repair.Provider != "gemini" {
		return nil, fmt.Errorf("unsupported repair provider %q", c.Repair.Provider)
	}
	gem, err := repair.NewGeminiGenerator(ctx, c.Repair.APIKey, c.Repair.Model)
	if err != nil {
		return nil, err
	}
	logging.For(log, logging.CategoryBoot).Info("repair enabled", zap.String("model", gem.Model()))
	gen := repair.Wrap(gem, repair.WithLogging(log.Named("repair.gemini")))
	return repair.NewClient(gen, breaker, c.GetRepairBaseDelay(), log), nil
}

func newHealer(client *repair.Client, c *config.Config, log *zap.Logger) *healer.Healer {
	return healer.New(client, log, healer.WithMaxAttempts(c.Repair.MaxAttempts))
}

func openQueue(c *config.Config) (*queue.Queue, error) {
	q, err := queue.Open(c.Resolve(c.Queue.DSN), c.Queue.Name, queue.WithLease(c.GetLease()))
	if err != nil {
		return nil, fmt.Errorf("queue %s at %s: %w", c.Queue.Name, c.Queue.DSN, err)
	}
	return q, nil
}

func loadLadder(c *config.Config) (*strategy.Ladder, error) {
	if c.Paths.Strategies == "" {
		return strategy.DefaultLadder(), nil
	}
	return strategy.Load(c.Resolve(c.Paths.Strategies))
}

func planPath(c *config.Config) string {
	return c.Resolve(c.Paths.BuildPlan)
}

func generatedGlob(c *config.Config) string {
	return filepath.Join(c.Resolve(c.Paths.GeneratedDir), c.Execution.ConcretePrefix+"*.gf")
}
