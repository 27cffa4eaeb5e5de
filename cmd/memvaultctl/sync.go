package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/manifestsync"
	"github.com/Coinsides/mimobrain-memory-system/pipeline"
)

var (
	syncConfigPath string
	syncKind       string
	syncBase       string
	syncIncoming   string
	syncApply      bool
	syncIndexPath  string
	syncRepoDir    string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "compare a base manifest against an incoming one and run the manifest-sync pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(syncConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}

		var db *index.DB
		if syncIndexPath != "" {
			db, err = index.Open(syncIndexPath)
			if err != nil {
				die(exitValidation, "open index: %v", err)
			}
			defer db.Close()
		}

		manifest, err := pipeline.RunSyncPipeline(context.Background(), pipeline.SyncOptions{
			Kind:         manifestsync.Kind(syncKind),
			BasePath:     syncBase,
			IncomingPath: syncIncoming,
			Apply:        syncApply,
			VaultRoots:   cfg.VaultRoots,
			RunsRoot:     cfg.RunsRootSync,
			DB:           db,
			RepoDir:      syncRepoDir,
		})
		if err != nil {
			die(exitValidation, "sync pipeline failed: %v", err)
		}
		printJSON(manifest)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	syncCmd.Flags().StringVar(&syncKind, "kind", "raw", "manifest kind: raw|mu|asset")
	syncCmd.Flags().StringVar(&syncBase, "base", "", "path to the base manifest")
	syncCmd.Flags().StringVar(&syncIncoming, "incoming", "", "path to the incoming manifest")
	syncCmd.Flags().BoolVar(&syncApply, "apply", false, "execute SYNC_MANIFEST_APPLY for real instead of a dry run")
	syncCmd.Flags().StringVar(&syncIndexPath, "index-db", "", "optional index db path to journal tasks against")
	syncCmd.Flags().StringVar(&syncRepoDir, "repo-dir", "", "repo dir to resolve git_head from, if any")
	syncCmd.MarkFlagRequired("base")
	syncCmd.MarkFlagRequired("incoming")
}
