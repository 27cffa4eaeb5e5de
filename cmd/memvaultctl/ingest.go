package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

var (
	ingestConfigPath string
	ingestVaultID    string
	ingestIsMU       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "ingest a raw file (or directory of raw files) or a single MU file into the vault",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(ingestConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}
		vaultRoot, err := cfg.VaultRoot(vaultIDOrDefault(ingestVaultID))
		if err != nil {
			die(exitValidation, "%v", err)
		}

		src := args[0]
		ctx := context.Background()

		if ingestIsMU {
			res, err := vault.IngestMUFile(ctx, src, vault.IngestOptions{VaultRoot: vaultRoot, VaultID: ingestVaultID, ManifestPath: cfg.MUManifestPath})
			if err != nil {
				die(exitValidation, "ingest failed: %v", err)
			}
			printJSON(res)
			return
		}

		info, err := os.Stat(src)
		if err != nil {
			die(exitValidation, "stat source: %v", err)
		}
		opts := vault.IngestOptions{VaultRoot: vaultRoot, VaultID: ingestVaultID, ManifestPath: cfg.RawManifestPath}
		if info.IsDir() {
			results, err := vault.IngestDir(ctx, src, opts)
			if err != nil {
				die(exitValidation, "ingest failed: %v", err)
			}
			printJSON(results)
			return
		}
		res, err := vault.IngestFile(ctx, src, opts)
		if err != nil {
			die(exitValidation, "ingest failed: %v", err)
		}
		printJSON(res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	ingestCmd.Flags().StringVar(&ingestVaultID, "vault-id", "default", "vault id to ingest into")
	ingestCmd.Flags().BoolVar(&ingestIsMU, "mu", false, "treat <path> as a single already-packed MU file")
}

func vaultIDOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
