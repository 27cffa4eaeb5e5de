// Package config loads the runtime configuration shared by every
// subcommand: which vault roots exist and where the manifests, the MU
// tree, and pipeline run directories live. It is provided by a yaml file,
// optionally overridden by environment variables.
//
// An environment override is named MS_ plus the upper-snake form of the
// yaml field (raw_manifest_path -> MS_RAW_MANIFEST_PATH); only the path
// fields can be overridden this way, vault_roots cannot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// Config is the top-level ms_config document.
type Config struct {
	VaultRoots      map[string]string `yaml:"vault_roots"`
	RawManifestPath string            `yaml:"raw_manifest_path,omitempty"`
	MUManifestPath  string            `yaml:"mu_manifest_path,omitempty"`
	MURoot          string            `yaml:"mu_root,omitempty"`
	RunsRootSync    string            `yaml:"runs_root_sync,omitempty"`
	RunsRootRepair  string            `yaml:"runs_root_repair,omitempty"`
	IndexDBPath     string            `yaml:"index_db_path,omitempty"`
}

const envPrefix = "MS_"

// Load reads path as yaml, overlays the non-empty MS_RAW_MANIFEST_PATH,
// MS_MU_MANIFEST_PATH, MS_MU_ROOT, MS_RUNS_ROOT_SYNC, MS_RUNS_ROOT_REPAIR
// and MS_INDEX_DB_PATH environment variables, then fills any path still
// empty from the `default` vault_root and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindConfig, "config.Load", "read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, merrors.Wrap(merrors.KindConfig, "config.Load", "parse yaml", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	overrides := map[string]*string{
		"RAW_MANIFEST_PATH": &c.RawManifestPath,
		"MU_MANIFEST_PATH":  &c.MUManifestPath,
		"MU_ROOT":           &c.MURoot,
		"RUNS_ROOT_SYNC":    &c.RunsRootSync,
		"RUNS_ROOT_REPAIR":  &c.RunsRootRepair,
		"INDEX_DB_PATH":     &c.IndexDBPath,
	}
	for suffix, field := range overrides {
		if v, ok := os.LookupEnv(envPrefix + suffix); ok && v != "" {
			*field = v
		}
	}
	return nil
}

// applyDefaults fills unset manifest/mu_root paths from vault_roots.default,
// so a minimal config naming a single root gets the whole sibling layout
// without spelling every path out.
func (c *Config) applyDefaults() error {
	root, ok := c.VaultRoots["default"]
	if !ok || root == "" {
		return nil
	}

	if c.RawManifestPath == "" {
		c.RawManifestPath = filepath.Join(root, "manifests", "raw_manifest.jsonl")
	}
	if c.MUManifestPath == "" {
		c.MUManifestPath = filepath.Join(root, "manifests", "mu_manifest.jsonl")
	}
	if c.MURoot == "" {
		c.MURoot = filepath.Join(root, "mu")
	}
	// vault_roots.default conventionally sits at <DATA_ROOT>/vaults/<id>,
	// so paths derived two levels up stay DATA_ROOT-relative siblings of
	// vaults/, inbox/, and jobs/ rather than nested inside the vault.
	dataRoot := filepath.Dir(filepath.Dir(root))
	if c.IndexDBPath == "" {
		c.IndexDBPath = filepath.Join(dataRoot, "index", "meta.sqlite")
	}
	if c.RunsRootSync == "" {
		c.RunsRootSync = filepath.Join(dataRoot, "runs", "sync")
	}
	if c.RunsRootRepair == "" {
		c.RunsRootRepair = filepath.Join(dataRoot, "runs", "repair")
	}
	return nil
}

// Validate checks the required shape: at least one named vault root, each
// with a non-empty path.
func (c *Config) Validate() error {
	if len(c.VaultRoots) == 0 {
		return merrors.Validation("config.Validate", "vault_roots must contain at least one entry")
	}
	for id, p := range c.VaultRoots {
		if strings.TrimSpace(id) == "" {
			return merrors.Validation("config.Validate", "vault_roots has an empty key")
		}
		if strings.TrimSpace(p) == "" {
			return merrors.Validation("config.Validate", fmt.Sprintf("vault_roots[%q] is empty", id))
		}
	}
	return nil
}

// VaultRoot returns the filesystem root registered for vaultID.
func (c *Config) VaultRoot(vaultID string) (string, error) {
	root, ok := c.VaultRoots[vaultID]
	if !ok {
		return "", merrors.NotFound("config.VaultRoot", fmt.Sprintf("no vault root registered for %q", vaultID))
	}
	return root, nil
}
