package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInboxGCCandidatesListsOnlyOldTerminalFolders(t *testing.T) {
	dataRoot := t.TempDir()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)

	mk := func(ws, state, jobID string, mtime time.Time) string {
		dir := filepath.Join(InboxRoot(dataRoot), ws, state, jobID)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.Chtimes(dir, mtime, mtime))
		return dir
	}

	oldDone := mk("ws1", "_done", "JOB-old", old)
	mk("ws1", "_done", "JOB-fresh", now)
	oldFailed := mk("ws1", "_failed", "JOB-dead", old)
	mk("ws1", "_queue", "JOB-pending", old)
	mk("ws2", "_done", "JOB-other-ws", old)

	candidates, err := InboxGCCandidates(dataRoot, "ws1", 30, now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, oldDone, candidates[0].Path)
	require.Equal(t, "done", candidates[0].State)
	require.Equal(t, oldFailed, candidates[1].Path)
	require.Equal(t, "failed", candidates[1].State)
	require.GreaterOrEqual(t, candidates[0].AgeDays, 30)
}

func TestInboxGCCandidatesAllWorkspaces(t *testing.T) {
	dataRoot := t.TempDir()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)

	for _, ws := range []string{"ws1", "ws2"} {
		dir := filepath.Join(InboxRoot(dataRoot), ws, "_done", "JOB-x")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.Chtimes(dir, old, old))
	}

	candidates, err := InboxGCCandidates(dataRoot, "", 30, now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
}

func TestInboxGCCandidatesMissingInboxYieldsNone(t *testing.T) {
	candidates, err := InboxGCCandidates(t.TempDir(), "", 30, time.Now())
	require.NoError(t, err)
	require.Empty(t, candidates)
}
