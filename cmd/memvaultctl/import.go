package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/jobs"
)

var (
	importDataRoot    string
	importWorkspace   string
	importSplit       string
	importSourceKind  string
	importVaultID     string
)

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "enqueue a raw file or directory into a workspace's inbox job queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := jobs.Enqueue(importDataRoot, importWorkspace, args[0], jobs.JobSpec{
			Split:      importSplit,
			SourceKind: importSourceKind,
			VaultID:    importVaultID,
		}, time.Now())
		if err != nil {
			die(exitValidation, "enqueue failed: %v", err)
		}
		printJSON(spec)
	},
}

func init() {
	importCmd.Flags().StringVar(&importDataRoot, "data-root", "", "DATA_ROOT the job queue lives under")
	importCmd.Flags().StringVar(&importWorkspace, "workspace", "", "workspace id the job belongs to")
	importCmd.Flags().StringVar(&importSplit, "split", "line_window:200", "packer split strategy")
	importCmd.Flags().StringVar(&importSourceKind, "source-kind", "file", "meta.source.kind the packer should stamp")
	importCmd.Flags().StringVar(&importVaultID, "vault-id", "default", "vault id the job's outputs are ingested into")
	importCmd.MarkFlagRequired("data-root")
	importCmd.MarkFlagRequired("workspace")
}
