package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, yamlBody string) string {
	t.Helper()
	p := filepath.Join(dir, "ms_config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(yamlBody), 0o644))
	return p
}

func TestLoadAppliesDefaultsFromVaultRootsDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
vault_roots:
  default: /data/vaults/default
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/data/vaults/default", "manifests", "raw_manifest.jsonl"), cfg.RawManifestPath)
	require.Equal(t, filepath.Join("/data/vaults/default", "manifests", "mu_manifest.jsonl"), cfg.MUManifestPath)
	require.Equal(t, filepath.Join("/data/vaults/default", "mu"), cfg.MURoot)
	require.Equal(t, filepath.Join("/data", "index", "meta.sqlite"), cfg.IndexDBPath)
}

func TestLoadRespectsExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
vault_roots:
  default: /data/vaults/default
raw_manifest_path: /custom/raw.jsonl
index_db_path: /custom/index.sqlite
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/custom/raw.jsonl", cfg.RawManifestPath)
	require.Equal(t, "/custom/index.sqlite", cfg.IndexDBPath)
}

func TestLoadRejectsEmptyVaultRoots(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
vault_roots: {}
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyVaultRootValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
vault_roots:
  default: ""
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
vault_roots:
  default: /data/vaults/default
`)

	t.Setenv("MS_RAW_MANIFEST_PATH", "/env/raw.jsonl")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/env/raw.jsonl", cfg.RawManifestPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestVaultRootLookup(t *testing.T) {
	cfg := &Config{VaultRoots: map[string]string{"default": "/data/vaults/default"}}
	root, err := cfg.VaultRoot("default")
	require.NoError(t, err)
	require.Equal(t, "/data/vaults/default", root)

	_, err = cfg.VaultRoot("ghost")
	require.Error(t, err)
}
