package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/jobs"
)

var (
	retryDataRoot string
	retryNewID    string
)

var retryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "create a new job folder retrying a done|failed job, preserving the original for audit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := jobs.Retry(retryDataRoot, args[0], retryNewID, time.Now())
		if err != nil {
			die(exitValidation, "retry failed: %v", err)
		}
		printJSON(spec)
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryDataRoot, "data-root", "", "DATA_ROOT the job queue lives under")
	retryCmd.Flags().StringVar(&retryNewID, "new-job-id", "", "explicit id for the retried job; default mints one")
	retryCmd.MarkFlagRequired("data-root")
}
