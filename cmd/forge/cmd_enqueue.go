package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gramforge/internal/logging"
	"gramforge/internal/queue"
)

var (
	enqueueLang         string
	enqueueName         string
	enqueueInstructions string
	enqueueParams       map[string]string
)

// enqueueCmd pushes a job onto the queue
var enqueueCmd = &cobra.Command{
	Use:   "enqueue [compile_all|compile_one]",
	Short: "Push a build job onto the queue",
	Example: `  forge enqueue compile_all
  forge enqueue compile_one --lang Fre
  forge enqueue compile_all --param requested_by=ci --param ref=main`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(queue.JobCompileAll), string(queue.JobCompileOne)},
	RunE:      runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueLang, "lang", "", "Target language (compile_one)")
	enqueueCmd.Flags().StringVar(&enqueueName, "name", "", "Free-form job name")
	enqueueCmd.Flags().StringVar(&enqueueInstructions, "instructions", "", "Free-form instructions carried with the job")
	enqueueCmd.Flags().StringToStringVar(&enqueueParams, "param", nil, "Key=value pair carried in the job payload (repeatable)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	job := &queue.Job{
		Type:         queue.JobType(args[0]),
		Lang:         enqueueLang,
		Name:         enqueueName,
		Instructions: enqueueInstructions,
		Params:       enqueueParams,
	}
	id, err := q.Push(cmd.Context(), job)
	if err != nil {
		return err
	}
	logging.For(logger, logging.CategoryQueue).Info("job enqueued", zap.String("job_id", id), zap.String("type", args[0]))
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
