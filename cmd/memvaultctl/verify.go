package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Coinsides/mimobrain-memory-system/config"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

var (
	verifyConfigPath string
	verifyMU         bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "verify a raw or mu manifest against the vault's actual file contents",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(verifyConfigPath)
		if err != nil {
			die(exitValidation, "config error: %v", err)
		}
		manifestPath := cfg.RawManifestPath
		if verifyMU {
			manifestPath = cfg.MUManifestPath
		}

		errs, err := vault.VerifyManifest(manifestPath, cfg.VaultRoots)
		if err != nil {
			die(exitValidation, "verify failed: %v", err)
		}

		printJSON(map[string]any{
			"manifest": manifestPath,
			"ok":       len(errs) == 0,
			"errors":   errs,
		})
		if len(errs) > 0 {
			os.Exit(exitValidation)
		}
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyConfigPath, "config", "ms_config.yaml", "path to ms_config.yaml")
	verifyCmd.Flags().BoolVar(&verifyMU, "mu", false, "verify the mu manifest instead of the raw manifest")
}
