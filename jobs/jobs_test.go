package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

type stubPacker struct {
	muContent string
	fail      error
}

func (p stubPacker) Pack(ctx context.Context, rawInputsDir, muOutDir, sourceKind, split, vaultID string) error {
	if p.fail != nil {
		return p.fail
	}
	if err := os.MkdirAll(muOutDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(muOutDir, "mu_1.mimo"), []byte(p.muContent), 0o644)
}

const sampleMUYAML = `mu_id: mu_1
schema_version: 1
content_hash: "sha256:deadbeef"
idempotency:
  mu_key: "sha256:deadbeef"
summary: "a test memory unit"
pointer: []
`

func writeSource(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))
	return src
}

func TestEnqueueWritesJobAndInboxFiles(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	spec, err := Enqueue(dataRoot, "ws1", src, JobSpec{}, fixedNow)
	require.NoError(t, err)
	require.NotEmpty(t, spec.JobID)
	require.Equal(t, "ws1", spec.WorkspaceID)

	require.FileExists(t, filepath.Join(spec.InboxPath, "note.txt"))
	require.FileExists(t, filepath.Join(JobsRoot(dataRoot), spec.JobID, "job.json"))
	require.FileExists(t, filepath.Join(JobsRoot(dataRoot), spec.JobID, "status.json"))

	var status JobStatus
	require.NoError(t, readJSON(filepath.Join(JobsRoot(dataRoot), spec.JobID, "status.json"), &status))
	require.Equal(t, StatusQueued, status.Status)
}

func TestEnqueueRejectsMissingWorkspace(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())
	_, err := Enqueue(dataRoot, "", src, JobSpec{}, fixedNow)
	require.Error(t, err)
}

func TestRetryPreservesOldJobAndBumpsAttempt(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	orig, err := Enqueue(dataRoot, "ws1", src, JobSpec{JobID: "JOB-ORIG"}, fixedNow)
	require.NoError(t, err)

	retried, err := Retry(dataRoot, orig.JobID, "JOB-RETRY-1", fixedNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, orig.JobID, retried.RetryOf)
	require.Equal(t, 2, retried.Attempt)

	require.FileExists(t, filepath.Join(JobsRoot(dataRoot), orig.JobID, "job.json"))
	var origSpec JobSpec
	require.NoError(t, readJSON(filepath.Join(JobsRoot(dataRoot), orig.JobID, "job.json"), &origSpec))
	require.Equal(t, "", origSpec.RetryOf, "the original job must not be mutated by a retry")
}

func TestTryLockThenUnlockRoundTrips(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".lock")

	ok, err := TryLock(lockPath)
	require.NoError(t, err)
	require.True(t, ok)

	ok2, err := TryLock(lockPath)
	require.NoError(t, err)
	require.False(t, ok2, "a second lock attempt must not succeed while held")

	require.NoError(t, Unlock(lockPath))

	ok3, err := TryLock(lockPath)
	require.NoError(t, err)
	require.True(t, ok3)
}

func TestInspectLockReportsAgeWithoutRemoving(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".lock")

	info, err := InspectLock(lockPath, fixedNow)
	require.NoError(t, err)
	require.False(t, info.Held)

	ok, err := TryLock(lockPath)
	require.NoError(t, err)
	require.True(t, ok)

	info, err = InspectLock(lockPath, time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	require.True(t, info.Held)
	require.GreaterOrEqual(t, info.Age, time.Duration(0))
	require.FileExists(t, lockPath, "InspectLock must never delete the lock it observes")
}

func TestFindJobDirsListsOnlyFoldersWithJobJSON(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	_, err := Enqueue(dataRoot, "ws1", src, JobSpec{JobID: "JOB-A"}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(JobsRoot(dataRoot), "JOB-EMPTY"), 0o755))

	dirs, err := FindJobDirs(dataRoot)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	require.Contains(t, dirs[0], "JOB-A")
}

func TestConsumeOneRunsFullPipelineToDone(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	spec, err := Enqueue(dataRoot, "ws1", src, JobSpec{JobID: "JOB-OK"}, fixedNow)
	require.NoError(t, err)

	vaultRoot := filepath.Join(dataRoot, "vaults", "default")
	opts := WorkerOptions{
		Packer:    stubPacker{muContent: sampleMUYAML},
		VaultRoot: vaultRoot,
		Now:       fixedNow,
	}

	jobDir := filepath.Join(JobsRoot(dataRoot), spec.JobID)
	consumed, err := ConsumeOne(context.Background(), dataRoot, jobDir, opts)
	require.NoError(t, err)
	require.True(t, consumed)

	var status JobStatus
	require.NoError(t, readJSON(filepath.Join(jobDir, "status.json"), &status))
	require.Equal(t, StatusDone, status.Status)
	require.Equal(t, 1, status.Metrics.IngestedFiles)
	require.Equal(t, 1, status.Metrics.WrittenMUs)
	require.Equal(t, 1, status.Metrics.MembershipAdded)
	require.Equal(t, 1, status.Metrics.IngestedMUFiles)
	require.Contains(t, []string{"hardlink", "copy"}, status.RawInputsProvenance)

	_, err = os.Stat(filepath.Join(jobDir, ".lock"))
	require.True(t, os.IsNotExist(err), "lock must be released after a consumption attempt")
}

func TestConsumeOneFailsJobWhenPackerErrors(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	spec, err := Enqueue(dataRoot, "ws1", src, JobSpec{JobID: "JOB-BAD"}, fixedNow)
	require.NoError(t, err)

	badOpts := WorkerOptions{
		Packer:    failingPacker{},
		VaultRoot: filepath.Join(dataRoot, "vaults", "default"),
		Now:       fixedNow,
	}

	jobDir := filepath.Join(JobsRoot(dataRoot), spec.JobID)
	consumed, err := ConsumeOne(context.Background(), dataRoot, jobDir, badOpts)
	require.NoError(t, err)
	require.True(t, consumed)

	var status JobStatus
	require.NoError(t, readJSON(filepath.Join(jobDir, "status.json"), &status))
	require.Equal(t, StatusFailed, status.Status)
	require.NotEmpty(t, status.LastError)
}

type failingPacker struct{}

func (failingPacker) Pack(ctx context.Context, rawInputsDir, muOutDir, sourceKind, split, vaultID string) error {
	return errors.New("packer failed")
}

func TestConsumeOneSkipsWhenAlreadyLocked(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeSource(t, t.TempDir())

	spec, err := Enqueue(dataRoot, "ws1", src, JobSpec{JobID: "JOB-LOCKED"}, fixedNow)
	require.NoError(t, err)

	jobDir := filepath.Join(JobsRoot(dataRoot), spec.JobID)
	locked, err := TryLock(JobPaths(jobDir).LockFile)
	require.NoError(t, err)
	require.True(t, locked)
	defer Unlock(JobPaths(jobDir).LockFile)

	opts := WorkerOptions{Packer: stubPacker{muContent: sampleMUYAML}, VaultRoot: dataRoot, Now: fixedNow}
	consumed, err := ConsumeOne(context.Background(), dataRoot, jobDir, opts)
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestSubprocessPackerRequiresConfiguredCommand(t *testing.T) {
	os.Unsetenv("MU_PACKER_CMD")
	p := SubprocessPacker{}
	err := p.Pack(context.Background(), t.TempDir(), t.TempDir(), "file", "line_window:200", "default")
	require.Error(t, err)
}
