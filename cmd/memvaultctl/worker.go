package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/jobs"
)

var (
	workerConfigPath string
	workerDataRoot   string
	workerVaultID    string
	workerConcurrent int
	workerPollOnce   bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "drain the file-queue job inbox, driving every queued job through ingest->pack->validate->membership->index",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(workerConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}
		vaultRoot, err := cfg.VaultRoot(vaultIDOrDefault(workerVaultID))
		if err != nil {
			die(exitValidation, "%v", err)
		}

		opts := jobs.WorkerOptions{
			Packer:      jobs.SubprocessPacker{},
			VaultRoot:   vaultRoot,
			IndexDBPath: cfg.IndexDBPath,
			Now:         time.Now(),
		}

		ctx := context.Background()
		if workerPollOnce {
			dirs, err := jobs.FindJobDirs(workerDataRoot)
			if err != nil {
				die(exitValidation, "find job dirs: %v", err)
			}
			consumedAny := false
			for _, d := range dirs {
				consumed, err := jobs.ConsumeOne(ctx, workerDataRoot, d, opts)
				if err != nil {
					die(exitValidation, "consume %s: %v", d, err)
				}
				consumedAny = consumedAny || consumed
			}
			printJSON(map[string]any{"consumed_any": consumedAny, "jobs_scanned": len(dirs)})
			return
		}

		if err := jobs.RunWorkers(ctx, workerDataRoot, workerConcurrent, opts); err != nil {
			die(exitValidation, "worker run failed: %v", err)
		}
		printJSON(map[string]any{"status": "drained"})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	workerCmd.Flags().StringVar(&workerDataRoot, "data-root", "", "DATA_ROOT the job queue and inbox live under")
	workerCmd.Flags().StringVar(&workerVaultID, "vault-id", "default", "vault id jobs ingest raw/mu files into")
	workerCmd.Flags().IntVar(&workerConcurrent, "concurrency", 1, "number of concurrent job consumers")
	workerCmd.Flags().BoolVar(&workerPollOnce, "once", false, "consume every currently-queued job once and exit, instead of draining in a loop")
	workerCmd.MarkFlagRequired("data-root")
}
