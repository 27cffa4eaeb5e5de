package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMUYAML = `
mu_id: mu_0001
schema_version: "1"
content_hash: "sha256:abc123"
idempotency:
  mu_key: "sha256:def456"
summary: a test memory unit
pointer:
  - uri: "vault://default/raw/2024/01/abc123.txt"
    sha256: "sha256:abc123"
privacy:
  level: private
`

func TestIngestMUFileIsIdempotentByMUID(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "mu_0001.yaml", testMUYAML)

	opts := IngestOptions{VaultRoot: vaultRoot}

	r1, err := IngestMUFile(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, "mu_0001", r1.RawID)
	require.FileExists(t, r1.DestPath)

	r2, err := IngestMUFile(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, r1.DestPath, r2.DestPath)
	require.Equal(t, r1.URI, r2.URI)

	var records []map[string]any
	require.NoError(t, IterJSONL(r1.ManifestPath, func(rec map[string]any) error {
		records = append(records, rec)
		return nil
	}))
	require.Len(t, records, 2, "manifest is append-only, even re-ingesting the same mu_id")
	require.Equal(t, []any{"sha256:abc123"}, records[0]["source_raw_ids"])
}

func TestIngestMUFileRejectsInvalidMU(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "bad.yaml", "not: a valid mu\n")

	_, err := IngestMUFile(context.Background(), src, IngestOptions{VaultRoot: vaultRoot})
	require.Error(t, err)
}
