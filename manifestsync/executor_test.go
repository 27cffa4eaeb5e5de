package manifestsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Coinsides/mimobrain-memory-system/task"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

func TestExecuteVerifyManifestOK(t *testing.T) {
	vaultRoot := t.TempDir()
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "note.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	res, err := vault.IngestFile(context.Background(), src, vault.IngestOptions{VaultRoot: vaultRoot})
	require.NoError(t, err)

	spec := task.Spec{
		TaskID: task.NewTaskID(),
		Type:   "VERIFY_MANIFEST",
		Params: map[string]any{"manifest_path": res.ManifestPath},
	}
	result := Execute(spec, ExecContext{VaultRoots: map[string]string{"default": vaultRoot}})
	require.Equal(t, task.StatusOK, result.Status)
	require.Empty(t, result.Diagnostics)
}

func TestExecuteVerifyManifestMissingParam(t *testing.T) {
	spec := task.Spec{TaskID: task.NewTaskID(), Type: "VERIFY_MANIFEST", Params: map[string]any{}}
	result := Execute(spec, ExecContext{})
	require.Equal(t, task.StatusError, result.Status)
}

func TestExecuteRepairManifestURISuggestsPreferredURI(t *testing.T) {
	spec := task.Spec{
		TaskID: task.NewTaskID(),
		Type:   "REPAIR_MANIFEST_URI",
		Params: map[string]any{
			"sha256":           "sha256:a",
			"base_records":     []map[string]any{{"uri": "vault://default/raw/base"}},
			"incoming_records": []map[string]any{{"uri": "vault://default/raw/incoming"}},
			"policy":           "prefer_base_uri",
		},
	}
	result := Execute(spec, ExecContext{})
	require.Equal(t, task.StatusOK, result.Status)
	require.Len(t, result.Diagnostics, 1)
	require.Contains(t, result.Diagnostics[0].Msg, "preferred=vault://default/raw/base")
}

func TestExecuteSyncManifestApplyDryRunDoesNotWrite(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t, map[string]any{"raw_id": "r2", "uri": "vault://default/raw/b", "sha256": "sha256:b"})

	spec := task.Spec{
		TaskID: task.NewTaskID(),
		Type:   "SYNC_MANIFEST_APPLY",
		Params: map[string]any{
			"kind":          string(KindRaw),
			"base_path":     base,
			"incoming_path": incoming,
			"dry_run":       true,
		},
	}
	result := Execute(spec, ExecContext{})
	require.Equal(t, task.StatusOK, result.Status)

	var ids []string
	require.NoError(t, vault.IterJSONL(base, func(rec map[string]any) error {
		ids = append(ids, rec["raw_id"].(string))
		return nil
	}))
	require.Equal(t, []string{"r1"}, ids, "dry run must not mutate the base manifest")
}

func TestExecuteUnknownTaskType(t *testing.T) {
	spec := task.Spec{TaskID: task.NewTaskID(), Type: "BOGUS"}
	result := Execute(spec, ExecContext{})
	require.Equal(t, task.StatusError, result.Status)
}
