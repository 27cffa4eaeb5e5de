package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/bundle"
	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/index"
)

var (
	bundleConfigPath    string
	bundleIndexPath     string
	bundleDataRoot      string
	bundleWorkspace     string
	bundleQuery         string
	bundleDays          int
	bundleEvidenceDepth string
	bundleTargetLevel   string
	bundleLimit         int
	bundleDiagnostics   bool
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "build a retrievable bundle for a workspace/query",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(bundleConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}

		dbPath := bundleIndexPath
		if dbPath == "" {
			dbPath = cfg.IndexDBPath
		}
		db, err := index.Open(dbPath)
		if err != nil {
			die(exitValidation, "open index: %v", err)
		}
		defer db.Close()

		req := bundle.Request{
			DB:                 db,
			DataRoot:           bundleDataRoot,
			Workspace:          bundleWorkspace,
			Query:              bundleQuery,
			Days:               bundleDays,
			EvidenceDepth:      bundleEvidenceDepth,
			TargetLevel:        bundleTargetLevel,
			Limit:              bundleLimit,
			IncludeDiagnostics: bundleDiagnostics,
			VaultRoots:         cfg.VaultRoots,
			RawManifestPath:    cfg.RawManifestPath,
		}

		b, err := bundle.Build(context.Background(), req, time.Now())
		if err != nil {
			die(exitValidation, "bundle build failed: %v", err)
		}
		printJSON(b)
	},
}

func init() {
	bundleCmd.Flags().StringVar(&bundleConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	bundleCmd.Flags().StringVar(&bundleIndexPath, "index-db", "", "path to the sqlite metadata index")
	bundleCmd.Flags().StringVar(&bundleDataRoot, "data-root", "", "DATA_ROOT holding workspaces/membership.jsonl")
	bundleCmd.Flags().StringVar(&bundleWorkspace, "workspace", "", "workspace id to fence retrieval to")
	bundleCmd.Flags().StringVar(&bundleQuery, "query", "", "keyword query")
	bundleCmd.Flags().IntVar(&bundleDays, "days", 7, "scope window in days")
	bundleCmd.Flags().StringVar(&bundleEvidenceDepth, "evidence-depth", "mu_ids", "mu_ids|mu_snippets|raw_quotes")
	bundleCmd.Flags().StringVar(&bundleTargetLevel, "target-level", "private", "viewer's privacy rank: public|org|private")
	bundleCmd.Flags().IntVar(&bundleLimit, "limit", 50, "maximum source mu count")
	bundleCmd.Flags().BoolVar(&bundleDiagnostics, "diagnostics", true, "include the diagnostics block")
	bundleCmd.MarkFlagRequired("data-root")
	bundleCmd.MarkFlagRequired("workspace")
}
