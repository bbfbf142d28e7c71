package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gramforge/internal/logging"
	"gramforge/internal/strategy"
	"gramforge/internal/worker"
)

// workerCmd runs the job loop
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process build jobs from the durable queue",
	Long: `Polls the job queue and runs each job:

  compile_all  compile, heal once on failure, recompile once
  compile_one  compile a single language, no automatic healing

SIGINT/SIGTERM stop the loop after the current job. Several workers may
share one queue; they must not share one build directory.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return startWorker(ctx)
}

func startWorker(ctx context.Context) error {
	boot := logging.For(logger, logging.CategoryBoot)

	q, err := openQueue(cfg)
	if err != nil {
		boot.Error("queue unreachable at startup", zap.Error(err))
		return err
	}
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		boot.Error("queue unreachable at startup", zap.Error(err))
		return err
	}

	comp, err := newCompiler(cfg, logger)
	if err != nil {
		return err
	}
	client, err := newRepairClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	path := planPath(cfg)
	planLog := logging.For(logger, logging.CategoryStrategy)
	w, err := worker.New(worker.Deps{
		Compiler:   comp,
		Healer:     newHealer(client, cfg, logger),
		Queue:      q,
		Plan:       func() strategy.BuildPlan { return strategy.LoadPlan(path, planLog) },
		PopTimeout: cfg.GetPopTimeout(),
		RetryDelay: cfg.GetQueueRetryDelay(),
		Log:        logger,
	})
	if err != nil {
		return err
	}

	boot.Info("worker ready", zap.String("queue", q.Name()), zap.String("owner", q.Owner()))
	return w.Run(ctx)
}
