package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendJSONLAndIterJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.jsonl")

	require.NoError(t, AppendJSONL(path, RawManifestRecord{RawID: "sha256:a", URI: "vault://default/raw/a"}))
	require.NoError(t, AppendJSONL(path, RawManifestRecord{RawID: "sha256:b", URI: "vault://default/raw/b"}))

	var ids []string
	require.NoError(t, IterJSONL(path, func(rec map[string]any) error {
		ids = append(ids, rec["raw_id"].(string))
		return nil
	}))
	require.Equal(t, []string{"sha256:a", "sha256:b"}, ids)
}

func TestIterJSONLMissingFileYieldsNoError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does_not_exist.jsonl")
	var calls int
	err := IterJSONL(path, func(rec map[string]any) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, calls)
}

func TestIterJSONLSkipsBlankLinesAndRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"raw_id\":\"sha256:a\"}\n\n{\"raw_id\":\"sha256:b\"}\n"), 0o644))

	var ids []string
	err := IterJSONL(path, func(rec map[string]any) error {
		ids = append(ids, rec["raw_id"].(string))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sha256:a", "sha256:b"}, ids)

	bad := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"raw_id\":\"sha256:a\"}\nnot json\n"), 0o644))
	require.Error(t, IterJSONL(bad, func(rec map[string]any) error { return nil }))
}

func TestIterJSONLPropagatesCallbackError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, AppendJSONL(path, map[string]any{"raw_id": "sha256:a"}))
	require.NoError(t, AppendJSONL(path, map[string]any{"raw_id": "sha256:b"}))

	var seen int
	err := IterJSONL(path, func(rec map[string]any) error {
		seen++
		if seen == 1 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, 1, seen)
}

var errStop = stopErr{}

type stopErr struct{}

func (stopErr) Error() string { return "stop" }
