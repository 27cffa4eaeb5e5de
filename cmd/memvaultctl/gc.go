package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/jobs"
)

var (
	gcDataRoot  string
	gcWorkspace string
	gcOlderDays int
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "list consumed inbox folders (_done/_failed) older than N days; dry-run only, never deletes",
	Run: func(cmd *cobra.Command, args []string) {
		candidates, err := jobs.InboxGCCandidates(gcDataRoot, gcWorkspace, gcOlderDays, time.Now())
		if err != nil {
			die(exitValidation, "gc scan failed: %v", err)
		}
		printJSON(map[string]any{
			"dry_run":    true,
			"older_days": gcOlderDays,
			"candidates": candidates,
		})
	},
}

func init() {
	gcCmd.Flags().StringVar(&gcDataRoot, "data-root", "", "DATA_ROOT the inbox lives under")
	gcCmd.Flags().StringVar(&gcWorkspace, "workspace", "", "restrict the scan to one workspace")
	gcCmd.Flags().IntVar(&gcOlderDays, "older-days", 30, "minimum age in days for a folder to be listed")
	gcCmd.MarkFlagRequired("data-root")
}
