package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/index"
)

var (
	indexConfigPath string
	indexDBPath     string
	indexReset      bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "rebuild the metadata index from the mu tree; --reset is always safe since the index is a pure function of mu files",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(indexConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}
		dbPath := indexDBPath
		if dbPath == "" {
			dbPath = cfg.IndexDBPath
		}

		db, err := index.Open(dbPath)
		if err != nil {
			die(exitValidation, "open index: %v", err)
		}
		defer db.Close()

		res, err := index.BuildFromMUTree(context.Background(), db, cfg.MURoot, indexReset)
		if err != nil {
			die(exitValidation, "rebuild failed: %v", err)
		}
		printJSON(res)
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	indexCmd.Flags().StringVar(&indexDBPath, "index-db", "", "path to the sqlite metadata index")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "drop and recreate the managed tables before rebuilding")
}
