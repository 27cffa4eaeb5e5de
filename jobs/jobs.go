// Package jobs implements the file-queue worker: job folders under
// <DATA_ROOT>/jobs/<job_id>/ driven through ingest_raw -> pack_mu ->
// validate_mu -> assign_membership -> ingest_mu -> index, with status
// tracked in an auditable status.json and an O_EXCL lock file guarding
// concurrent consumption of the same job.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/membership"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// JobSpec is the immutable job.json a job folder carries.
type JobSpec struct {
	JobID       string `json:"job_id"`
	WorkspaceID string `json:"workspace_id"`
	InboxPath   string `json:"inbox_path"`
	Split       string `json:"split,omitempty"`
	SourceKind  string `json:"source_kind,omitempty"`
	VaultID     string `json:"vault_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	RetryOf     string `json:"retry_of,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
}

// Metrics tracks per-step counts for a job's status.json.
type Metrics struct {
	IngestedFiles      int    `json:"ingested_files"`
	WrittenMUs         int    `json:"written_mus"`
	Validated          string `json:"validated,omitempty"`
	MembershipAdded    int    `json:"membership_added"`
	MembershipSkipped  int    `json:"membership_skipped"`
	IngestedMUFiles    int    `json:"ingested_mu_files"`
	Indexed            int    `json:"indexed"`
}

// JobStatus is the mutable status.json a worker updates as it progresses.
type JobStatus struct {
	JobID       string   `json:"job_id"`
	WorkspaceID string   `json:"workspace_id"`
	Status      Status   `json:"status"`
	Step        string   `json:"step,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
	UpdatedAt   string   `json:"updated_at"`
	FinishedAt  string   `json:"finished_at,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	// RawInputsProvenance records how files landed in raw_inputs/:
	// "hardlink" when every link succeeded, "copy" when any fell back.
	RawInputsProvenance string  `json:"raw_inputs_provenance,omitempty"`
	Metrics             Metrics `json:"metrics"`
}

// Paths are the fixed file locations inside one job folder.
type Paths struct {
	JobDir     string
	JobJSON    string
	StatusJSON string
	LogTxt     string
	LockFile   string
}

// JobPaths returns the fixed file layout for jobDir.
func JobPaths(jobDir string) Paths {
	return Paths{
		JobDir:     jobDir,
		JobJSON:    filepath.Join(jobDir, "job.json"),
		StatusJSON: filepath.Join(jobDir, "status.json"),
		LogTxt:     filepath.Join(jobDir, "log.txt"),
		LockFile:   filepath.Join(jobDir, ".lock"),
	}
}

// JobsRoot, InboxRoot are the top-level DATA_ROOT subdirectories this
// package owns.
func JobsRoot(dataRoot string) string  { return filepath.Join(dataRoot, "jobs") }
func InboxRoot(dataRoot string) string { return filepath.Join(dataRoot, "inbox") }

func nowISOZ(now time.Time) string {
	return now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "jobs.writeJSON", "mkdir", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "jobs.writeJSON", "encode", err)
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "jobs.readJSON", "read", err)
	}
	b = stripBOM(b)
	if err := json.Unmarshal(b, v); err != nil {
		return merrors.Wrap(merrors.KindIntegrity, "jobs.readJSON", "decode", err)
	}
	return nil
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func appendLog(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strings.TrimRight(line, "\n") + "\n")
	return err
}

// TryLock creates lockPath exclusively (O_EXCL), recording who holds it.
// It returns false (not an error) when the lock is already held.
func TryLock(lockPath string) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, merrors.Wrap(merrors.KindTransientIO, "jobs.TryLock", "create lock file", err)
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "locked_at=%s pid=%d\n", nowISOZ(time.Now()), os.Getpid())
	return true, nil
}

// Unlock removes lockPath. Missing is not an error.
func Unlock(lockPath string) error {
	err := os.Remove(lockPath)
	if err != nil && !os.IsNotExist(err) {
		return merrors.Wrap(merrors.KindTransientIO, "jobs.Unlock", "remove lock file", err)
	}
	return nil
}

// LockInfo is what InspectLock reports about a held lock, without
// reclaiming it.
type LockInfo struct {
	Held    bool
	Age     time.Duration
	Content string
}

// InspectLock reports a job lock's age without deleting it. Stale locks
// are only ever reclaimed by explicit operator action; this function
// only observes.
func InspectLock(lockPath string, now time.Time) (LockInfo, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return LockInfo{Held: false}, nil
		}
		return LockInfo{}, merrors.Wrap(merrors.KindTransientIO, "jobs.InspectLock", "stat lock file", err)
	}
	content, _ := os.ReadFile(lockPath)
	return LockInfo{
		Held:    true,
		Age:     now.Sub(info.ModTime()),
		Content: string(content),
	}, nil
}

// Enqueue copies srcPath into <DATA_ROOT>/inbox/<workspace>/_queue/<job_id>/
// and writes job.json + a queued status.json. Enqueueing never runs the
// pipeline itself; a worker picks the job up later.
func Enqueue(dataRoot, workspaceID, srcPath string, opts JobSpec, now time.Time) (JobSpec, error) {
	if workspaceID == "" {
		return JobSpec{}, merrors.Validation("jobs.Enqueue", "workspace_id is required")
	}
	jobID := opts.JobID
	if jobID == "" {
		jobID = "JOB-" + now.UTC().Format("20060102-150405")
	}

	inboxDir := filepath.Join(InboxRoot(dataRoot), workspaceID, "_queue", jobID)
	if err := copyInto(srcPath, inboxDir); err != nil {
		return JobSpec{}, err
	}

	split := opts.Split
	if split == "" {
		split = "line_window:200"
	}
	sourceKind := opts.SourceKind
	if sourceKind == "" {
		sourceKind = "file"
	}
	vaultID := opts.VaultID
	if vaultID == "" {
		vaultID = "default"
	}

	spec := JobSpec{
		JobID:       jobID,
		WorkspaceID: workspaceID,
		InboxPath:   inboxDir,
		Split:       split,
		SourceKind:  sourceKind,
		VaultID:     vaultID,
		CreatedAt:   nowISOZ(now),
	}

	jobDir := filepath.Join(JobsRoot(dataRoot), jobID)
	if err := writeJSON(filepath.Join(jobDir, "job.json"), spec); err != nil {
		return JobSpec{}, err
	}
	status := JobStatus{
		JobID: jobID, WorkspaceID: workspaceID, Status: StatusQueued,
		CreatedAt: nowISOZ(now), UpdatedAt: nowISOZ(now),
	}
	if err := writeJSON(filepath.Join(jobDir, "status.json"), status); err != nil {
		return JobSpec{}, err
	}
	return spec, nil
}

func copyInto(src, dstDir string) error {
	info, err := os.Stat(src)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "jobs.copyInto", "stat source", err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "jobs.copyInto", "mkdir dest", err)
	}
	if !info.IsDir() {
		return copyFile(src, filepath.Join(dstDir, filepath.Base(src)))
	}
	target := filepath.Join(dstDir, filepath.Base(src))
	if _, err := os.Stat(target); err == nil {
		return merrors.Validation("jobs.copyInto", "target already exists: "+target)
	}
	return copyTree(src, target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

// Retry creates a new job folder under newJobID (or a minted one if
// empty) carrying retry_of/attempt, preserving the old job folder
// untouched — a retry is always an append, never a mutation.
func Retry(dataRoot, oldJobID, newJobID string, now time.Time) (JobSpec, error) {
	oldJobDir := filepath.Join(JobsRoot(dataRoot), oldJobID)
	var oldSpec JobSpec
	if err := readJSON(filepath.Join(oldJobDir, "job.json"), &oldSpec); err != nil {
		return JobSpec{}, err
	}

	if newJobID == "" {
		newJobID = "JOB-RETRY-" + now.UTC().Format("20060102-150405")
	}
	newJobDir := filepath.Join(JobsRoot(dataRoot), newJobID)
	if _, err := os.Stat(newJobDir); err == nil {
		return JobSpec{}, merrors.Validation("jobs.Retry", "new job dir already exists: "+newJobDir)
	}

	attempt := oldSpec.Attempt
	if attempt == 0 {
		attempt = 1
	}
	attempt++

	newSpec := oldSpec
	newSpec.JobID = newJobID
	newSpec.RetryOf = oldJobID
	newSpec.Attempt = attempt
	newSpec.CreatedAt = nowISOZ(now)

	if err := writeJSON(filepath.Join(newJobDir, "job.json"), newSpec); err != nil {
		return JobSpec{}, err
	}
	status := JobStatus{
		JobID: newJobID, WorkspaceID: newSpec.WorkspaceID, Status: StatusQueued,
		CreatedAt: nowISOZ(now), UpdatedAt: nowISOZ(now),
	}
	if err := writeJSON(filepath.Join(newJobDir, "status.json"), status); err != nil {
		return JobSpec{}, err
	}
	return newSpec, nil
}

// FindJobDirs lists every job folder under dataRoot/jobs carrying a
// job.json, in lexical (and hence roughly chronological, given the
// JOB-<timestamp> id convention) order.
func FindJobDirs(dataRoot string) ([]string, error) {
	root := JobsRoot(dataRoot)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merrors.Wrap(merrors.KindTransientIO, "jobs.FindJobDirs", "read jobs root", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "job.json")); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Packer packs raw inputs into MU files. The real implementation is an
// external subprocess (the MU packer is out of scope for this module,
// invoked only as a collaborator); tests inject a stub.
type Packer interface {
	Pack(ctx context.Context, rawInputsDir, muOutDir, sourceKind, split, vaultID string) error
}

// SubprocessPacker shells out to the command named by the MU_PACKER_CMD
// environment variable (space-separated argv), appending the flags
// --in/--out/--source/--split/--vault-id with their values in that order.
type SubprocessPacker struct {
	Env []string
}

// Pack invokes the configured packer command. An unset MU_PACKER_CMD is a
// configuration error: there is no in-process fallback packer, since
// parsing/chunking raw content into MUs is explicitly out of scope here.
func (p SubprocessPacker) Pack(ctx context.Context, rawInputsDir, muOutDir, sourceKind, split, vaultID string) error {
	cmdline := os.Getenv("MU_PACKER_CMD")
	if cmdline == "" {
		return merrors.Config("jobs.SubprocessPacker.Pack", "MU_PACKER_CMD is not set")
	}
	args := append(strings.Fields(cmdline),
		"--in", rawInputsDir, "--out", muOutDir,
		"--source", sourceKind, "--split", split, "--vault-id", vaultID)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return merrors.Wrap(merrors.KindTask, "jobs.SubprocessPacker.Pack",
			"packer command failed: "+strings.TrimSpace(string(out)), err)
	}
	return nil
}

// WorkerOptions configures a job consumption pass.
type WorkerOptions struct {
	Packer      Packer
	VaultRoot   string // <DATA_ROOT>/vaults/default by convention
	IndexDBPath string
	Now         time.Time
}

// ConsumeOne drives jobDir's full pipeline (ingest_raw -> pack_mu ->
// validate_mu -> assign_membership -> ingest_mu -> index). It returns
// (false, nil) when jobDir has no job.json or its lock is already held
// by another consumer; any pipeline failure is recorded into status.json
// (status=failed, last_error set) and reported as (true, nil): a failed
// job is a completed consumption attempt, not a Go-level error, so a
// worker drain loop keeps going past it.
func ConsumeOne(ctx context.Context, dataRoot, jobDir string, opts WorkerOptions) (bool, error) {
	log := dcontext.GetLogger(ctx)
	paths := JobPaths(jobDir)

	if _, err := os.Stat(paths.JobJSON); err != nil {
		return false, nil
	}

	// Workers skip jobs already in a terminal state.
	var prior JobStatus
	if err := readJSON(paths.StatusJSON, &prior); err == nil {
		if prior.Status == StatusDone || prior.Status == StatusFailed {
			return false, nil
		}
	}

	locked, err := TryLock(paths.LockFile)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, nil
	}
	defer Unlock(paths.LockFile)

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var spec JobSpec
	if err := readJSON(paths.JobJSON, &spec); err != nil {
		return true, failJob(paths, spec, err, now)
	}
	if spec.JobID == "" {
		spec.JobID = filepath.Base(jobDir)
	}
	if spec.WorkspaceID == "" {
		return true, failJob(paths, spec, fmt.Errorf("job missing workspace_id"), now)
	}
	if _, err := os.Stat(spec.InboxPath); err != nil {
		return true, failJob(paths, spec, fmt.Errorf("inbox_path does not exist: %s", spec.InboxPath), now)
	}

	status := JobStatus{
		JobID: spec.JobID, WorkspaceID: spec.WorkspaceID, Status: StatusRunning,
		StartedAt: nowISOZ(now), UpdatedAt: nowISOZ(now),
	}
	if err := writeJSON(paths.StatusJSON, status); err != nil {
		return true, err
	}
	setStep := func(step string) {
		status.Step = step
		status.UpdatedAt = nowISOZ(now)
		_ = writeJSON(paths.StatusJSON, status)
		_ = appendLog(paths.LogTxt, fmt.Sprintf("[%s] step=%s", nowISOZ(now), step))
	}

	rawInputsDir := filepath.Join(jobDir, "raw_inputs")
	muOutDir := filepath.Join(jobDir, "mu_out")
	if err := os.MkdirAll(rawInputsDir, 0o755); err != nil {
		return true, failJob(paths, spec, err, now)
	}
	if err := os.MkdirAll(muOutDir, 0o755); err != nil {
		return true, failJob(paths, spec, err, now)
	}

	// 1) ingest_raw
	setStep("ingest_raw")
	ingested, provenance, err := ingestRaw(ctx, spec, rawInputsDir, opts.VaultRoot)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.IngestedFiles = len(ingested)
	status.RawInputsProvenance = provenance
	_ = writeJSON(paths.StatusJSON, status)

	// 2) pack_mu
	setStep("pack_mu")
	if opts.Packer == nil {
		return true, failJob(paths, spec, fmt.Errorf("no Packer configured"), now)
	}
	if err := opts.Packer.Pack(ctx, rawInputsDir, muOutDir, spec.SourceKind, spec.Split, spec.VaultID); err != nil {
		return true, failJob(paths, spec, err, now)
	}
	muFiles, err := listMimoFiles(muOutDir)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.WrittenMUs = len(muFiles)
	_ = writeJSON(paths.StatusJSON, status)

	// 3) validate_mu
	setStep("validate_mu")
	muIDs, failedCount, err := validateMU(muFiles)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.Validated = fmt.Sprintf("checked=%d failed=%d", len(muFiles), failedCount)
	_ = writeJSON(paths.StatusJSON, status)
	if failedCount > 0 {
		return true, failJob(paths, spec, fmt.Errorf("%d mu file(s) failed validation", failedCount), now)
	}

	// 4) assign_membership
	setStep("assign_membership")
	added, skipped, err := assignMembership(dataRoot, spec, muIDs, now)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.MembershipAdded = added
	status.Metrics.MembershipSkipped = skipped
	_ = writeJSON(paths.StatusJSON, status)

	// 5) ingest_mu
	setStep("ingest_mu")
	ingestedMU, err := ingestMUFiles(ctx, muFiles, opts.VaultRoot)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.IngestedMUFiles = ingestedMU
	_ = writeJSON(paths.StatusJSON, status)

	// 6) index
	setStep("index")
	indexed, err := reindexLocked(ctx, opts, dataRoot)
	if err != nil {
		return true, failJob(paths, spec, err, now)
	}
	status.Metrics.Indexed = indexed
	_ = writeJSON(paths.StatusJSON, status)

	status.Status = StatusDone
	status.Step = ""
	status.UpdatedAt = nowISOZ(now)
	status.FinishedAt = nowISOZ(now)
	if err := writeJSON(paths.StatusJSON, status); err != nil {
		return true, err
	}
	_ = appendLog(paths.LogTxt, fmt.Sprintf("[%s] DONE", nowISOZ(now)))
	moveInbox(spec, "done")
	log.Infof("job %s done: %+v", spec.JobID, status.Metrics)
	return true, nil
}

func failJob(paths Paths, spec JobSpec, cause error, now time.Time) error {
	var status JobStatus
	_ = readJSON(paths.StatusJSON, &status)
	status.JobID = spec.JobID
	status.WorkspaceID = spec.WorkspaceID
	status.Status = StatusFailed
	status.UpdatedAt = nowISOZ(now)
	status.LastError = cause.Error()
	_ = writeJSON(paths.StatusJSON, status)
	_ = appendLog(paths.LogTxt, fmt.Sprintf("[%s] FAILED: %v", nowISOZ(now), cause))
	moveInbox(spec, "failed")
	return nil
}

// moveInbox relocates an inbox job's staging folder from _queue to
// _done/_failed, best-effort; it never deletes anything.
func moveInbox(spec JobSpec, destState string) {
	if spec.InboxPath == "" {
		return
	}
	inboxDir := spec.InboxPath
	if filepath.Base(filepath.Dir(inboxDir)) != "_queue" {
		return
	}
	wsDir := filepath.Dir(filepath.Dir(inboxDir))
	dst := filepath.Join(wsDir, "_"+destState, filepath.Base(inboxDir))
	if _, err := os.Stat(dst); err == nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(dst), 0o755)
	_ = os.Rename(inboxDir, dst)
}

func ingestRaw(ctx context.Context, spec JobSpec, rawInputsDir, vaultRoot string) ([]vault.IngestResult, string, error) {
	var files []string
	err := filepath.Walk(spec.InboxPath, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	sort.Strings(files)

	provenance := ""
	var results []vault.IngestResult
	for _, p := range files {
		r, err := vault.IngestFile(ctx, p, vault.IngestOptions{VaultRoot: vaultRoot, VaultID: spec.VaultID})
		if err != nil {
			return results, provenance, err
		}
		results = append(results, r)

		linkPath := filepath.Join(rawInputsDir, filepath.Base(p))
		if _, err := os.Stat(linkPath); os.IsNotExist(err) {
			if err := os.Link(r.DestPath, linkPath); err != nil {
				if cerr := copyFile(r.DestPath, linkPath); cerr != nil {
					return results, provenance, cerr
				}
				provenance = "copy"
			} else if provenance == "" {
				provenance = "hardlink"
			}
		}
	}
	return results, provenance, nil
}

func listMimoFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && strings.HasSuffix(p, ".mimo") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, merrors.Wrap(merrors.KindTransientIO, "jobs.listMimoFiles", "walk mu_out", err)
	}
	sort.Strings(out)
	return out, nil
}

func validateMU(muFiles []string) (muIDs []string, failedCount int, err error) {
	for _, p := range muFiles {
		raw, readErr := os.ReadFile(p)
		if readErr != nil {
			failedCount++
			continue
		}
		mu, loadErr := muyaml.Load(raw)
		if loadErr != nil {
			failedCount++
			continue
		}
		muIDs = append(muIDs, mu.MUID)
	}
	return muIDs, failedCount, nil
}

func assignMembership(dataRoot string, spec JobSpec, muIDs []string, now time.Time) (added, skipped int, err error) {
	effective, _, err := membership.LoadEffectiveMembership(dataRoot, spec.WorkspaceID)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range muIDs {
		if effective[id] {
			skipped++
			continue
		}
		if err := membership.AppendEvent(dataRoot, spec.WorkspaceID, "add", id, nowISOZ(now), "job:"+spec.JobID); err != nil {
			return added, skipped, err
		}
		added++
	}
	return added, skipped, nil
}

func ingestMUFiles(ctx context.Context, muFiles []string, vaultRoot string) (int, error) {
	count := 0
	for _, p := range muFiles {
		if _, err := vault.IngestMUFile(ctx, p, vault.IngestOptions{VaultRoot: vaultRoot}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// reindexLocked rebuilds the shared metadata index, guarded by an
// advisory flock on <DATA_ROOT>/index/.lock: WAL mode tolerates concurrent
// readers fine, but concurrent worker processes rebuilding the same
// sqlite file must still be serialized.
func reindexLocked(ctx context.Context, opts WorkerOptions, dataRoot string) (int, error) {
	if opts.IndexDBPath == "" {
		return 0, nil
	}

	lockPath := filepath.Join(dataRoot, "index", ".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return 0, merrors.Wrap(merrors.KindTransientIO, "jobs.reindexLocked", "mkdir lock dir", err)
	}
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return 0, merrors.Wrap(merrors.KindTransientIO, "jobs.reindexLocked", "acquire index lock", err)
	}
	defer fl.Unlock()

	db, err := index.Open(opts.IndexDBPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	res, err := index.BuildFromMUTree(ctx, db, opts.VaultRoot+"/mu", true)
	if err != nil {
		return 0, err
	}
	return res.Indexed, nil
}

// RunWorkers drains every queued job in dataRoot using n concurrent
// workers, returning once no job was consumed by any worker in a full
// pass. n<=1 runs a single worker.
func RunWorkers(ctx context.Context, dataRoot string, n int, opts WorkerOptions) error {
	if n <= 1 {
		n = 1
	}
	for {
		dirs, err := FindJobDirs(dataRoot)
		if err != nil {
			return err
		}
		var pending []string
		for _, d := range dirs {
			var st JobStatus
			statusPath := JobPaths(d).StatusJSON
			if _, err := os.Stat(statusPath); err == nil {
				_ = readJSON(statusPath, &st)
				if st.Status == StatusDone || st.Status == StatusFailed {
					continue
				}
			}
			pending = append(pending, d)
		}
		if len(pending) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, n)
		var anyConsumed atomic.Bool
		for _, d := range pending {
			d := d
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				consumed, err := ConsumeOne(gctx, dataRoot, d, opts)
				if consumed {
					anyConsumed.Store(true)
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if !anyConsumed.Load() {
			return nil
		}
	}
}
