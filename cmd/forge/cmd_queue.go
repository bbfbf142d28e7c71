package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// queueCmd groups queue inspection commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the job queue",
}

var queueLenCmd = &cobra.Command{
	Use:   "len",
	Short: "Print the number of queued jobs",
	RunE:  runQueueLen,
}

func init() {
	queueCmd.AddCommand(queueLenCmd)
}

func runQueueLen(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	n, err := q.Len(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}
