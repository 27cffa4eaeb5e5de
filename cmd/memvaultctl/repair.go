package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/bundle"
	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/pipeline"
)

var (
	repairConfigPath  string
	repairIndexPath   string
	repairDataRoot    string
	repairWorkspace   string
	repairQuery       string
	repairDays        int
	repairTargetLevel string
	repairLimit       int
	repairAutoFix     bool
	repairIngest      bool
	repairVaultID     string
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "build a raw_quotes bundle, emit REPAIR_POINTER tasks for degraded evidence, and run the repair pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(repairConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}

		dbPath := repairIndexPath
		if dbPath == "" {
			dbPath = cfg.IndexDBPath
		}
		db, err := index.Open(dbPath)
		if err != nil {
			die(exitValidation, "open index: %v", err)
		}
		defer db.Close()

		now := time.Now()
		b, err := bundle.Build(context.Background(), bundle.Request{
			DB:                 db,
			DataRoot:           repairDataRoot,
			Workspace:          repairWorkspace,
			Query:              repairQuery,
			Days:               repairDays,
			EvidenceDepth:      "raw_quotes",
			TargetLevel:        repairTargetLevel,
			Limit:              repairLimit,
			IncludeDiagnostics: true,
			VaultRoots:         cfg.VaultRoots,
			RawManifestPath:    cfg.RawManifestPath,
		}, now)
		if err != nil {
			die(exitValidation, "bundle build failed: %v", err)
		}

		vaultRoot, err := cfg.VaultRoot(vaultIDOrDefault(repairVaultID))
		if err != nil {
			die(exitValidation, "%v", err)
		}

		manifest, err := pipeline.RunBundleRepairPipeline(context.Background(), pipeline.RepairOptions{
			Bundle:          b,
			RawManifestPath: cfg.RawManifestPath,
			VaultRoots:      cfg.VaultRoots,
			AutoFix:         repairAutoFix,
			Ingest:          repairIngest,
			VaultRoot:       vaultRoot,
			IndexDBPath:     dbPath,
			RunsRoot:        cfg.RunsRootRepair,
			Now:             now,
		})
		if err != nil {
			die(exitValidation, "repair pipeline failed: %v", err)
		}
		printJSON(manifest)
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	repairCmd.Flags().StringVar(&repairIndexPath, "index-db", "", "path to the sqlite metadata index")
	repairCmd.Flags().StringVar(&repairDataRoot, "data-root", "", "DATA_ROOT holding workspaces/membership.jsonl")
	repairCmd.Flags().StringVar(&repairWorkspace, "workspace", "", "workspace id to fence retrieval to")
	repairCmd.Flags().StringVar(&repairQuery, "query", "", "keyword query")
	repairCmd.Flags().IntVar(&repairDays, "days", 7, "scope window in days")
	repairCmd.Flags().StringVar(&repairTargetLevel, "target-level", "private", "viewer's privacy rank: public|org|private")
	repairCmd.Flags().IntVar(&repairLimit, "limit", 50, "maximum source mu count")
	repairCmd.Flags().BoolVar(&repairAutoFix, "auto-fix", false, "write a superseding mu for every resolvable pointer")
	repairCmd.Flags().BoolVar(&repairIngest, "ingest", false, "ingest auto-fixed mus into the vault and reindex")
	repairCmd.Flags().StringVar(&repairVaultID, "vault-id", "default", "vault id auto-fixed mus are ingested into")
	repairCmd.MarkFlagRequired("data-root")
	repairCmd.MarkFlagRequired("workspace")
}
