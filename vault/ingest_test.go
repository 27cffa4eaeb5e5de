package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIngestFileIsIdempotentByHash(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "note.txt", "hello world")

	opts := IngestOptions{VaultRoot: vaultRoot}

	r1, err := IngestFile(context.Background(), src, opts)
	require.NoError(t, err)
	require.NotEmpty(t, r1.RawID)
	require.FileExists(t, r1.DestPath)

	r2, err := IngestFile(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, r1.RawID, r2.RawID)
	require.Equal(t, r1.URI, r2.URI)
	require.Equal(t, r1.DestPath, r2.DestPath)

	var lines int
	require.NoError(t, IterJSONL(r1.ManifestPath, func(rec map[string]any) error {
		lines++
		return nil
	}))
	require.Equal(t, 2, lines, "ingest appends a manifest line every call, even when the content already exists on disk")
}

func TestIngestFileRejectsDirectory(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()

	_, err := IngestFile(context.Background(), srcDir, IngestOptions{VaultRoot: vaultRoot})
	require.Error(t, err)
}

func TestIngestFileDistinctContentGetsDistinctURIs(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	a := writeTempFile(t, srcDir, "a.txt", "content a")
	b := writeTempFile(t, srcDir, "b.txt", "content b")

	opts := IngestOptions{VaultRoot: vaultRoot}
	ra, err := IngestFile(context.Background(), a, opts)
	require.NoError(t, err)
	rb, err := IngestFile(context.Background(), b, opts)
	require.NoError(t, err)

	require.NotEqual(t, ra.RawID, rb.RawID)
	require.NotEqual(t, ra.URI, rb.URI)
}

func TestIngestDirWalksRecursivelyInLexicalOrder(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	writeTempFile(t, srcDir, "a.txt", "first")
	writeTempFile(t, filepath.Join(srcDir, "sub"), "b.txt", "second")

	results, err := IngestDir(context.Background(), srcDir, IngestOptions{VaultRoot: vaultRoot})
	require.NoError(t, err)
	require.Len(t, results, 2)
}
