// Package pipeline wires the per-run orchestration: a manifest sync run
// (analyze -> plan -> task emission -> journal -> run manifest) and a
// bundle repair run (build bundle raw_quotes -> repair task emission ->
// execute -> optional re-ingest/reindex -> run manifest), both producing
// a content-fingerprinted RunManifest rather than just an exit code.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Coinsides/mimobrain-memory-system/bundle"
	"github.com/Coinsides/mimobrain-memory-system/digest"
	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/manifestsync"
	"github.com/Coinsides/mimobrain-memory-system/repair"
	"github.com/Coinsides/mimobrain-memory-system/task"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// NewRunID mints a "RUN-<yyyymmddhhmmss>-<uuid-suffix>" run identifier.
func NewRunID(now time.Time) string {
	suffix := uuid.New().String()
	if i := strings.IndexByte(suffix, '-'); i > 0 {
		suffix = suffix[:i]
	}
	return "RUN-" + now.UTC().Format("20060102150405") + "-" + suffix
}

// Fingerprint is a recorded input/output artifact with its sha256.
type Fingerprint struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// TaskRecord pairs a task.Spec with the task.Result it produced.
type TaskRecord struct {
	Spec   task.Spec   `json:"spec"`
	Result task.Result `json:"result"`
}

// RunManifest is the artifact every pipeline run writes out: what ran,
// against what inputs, producing what outputs, with which git revision
// of the repo checked out at the time.
type RunManifest struct {
	RunID     string        `json:"run_id"`
	Kind      string        `json:"kind"` // "sync" | "repair"
	CreatedAt string        `json:"created_at"`
	GitHead   string        `json:"git_head,omitempty"`
	Inputs    []Fingerprint `json:"inputs,omitempty"`
	Outputs   []Fingerprint `json:"outputs,omitempty"`
	Tasks     []TaskRecord  `json:"tasks"`
}

// GitHead best-effort resolves HEAD's commit sha inside repoDir, returning
// "" (never an error) when the directory isn't a git checkout or git isn't
// on PATH — a run manifest's provenance is a nice-to-have, not a
// requirement the pipeline should fail over.
func GitHead(repoDir string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func fingerprintFile(path string) (Fingerprint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fingerprint{}, merrors.Wrap(merrors.KindTransientIO, "pipeline.fingerprintFile", "read file", err)
	}
	return Fingerprint{Path: path, SHA256: digest.FromBytes(b).String()}, nil
}

// WriteJSON marshals v as indented JSON to path, creating parent
// directories as needed, and returns a fingerprint of the bytes written.
func WriteJSON(path string, v any) (Fingerprint, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fingerprint{}, merrors.Wrap(merrors.KindTransientIO, "pipeline.WriteJSON", "mkdir out dir", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Fingerprint{}, merrors.Wrap(merrors.KindValidation, "pipeline.WriteJSON", "encode value", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return Fingerprint{}, merrors.Wrap(merrors.KindTransientIO, "pipeline.WriteJSON", "write file", err)
	}
	return Fingerprint{Path: path, SHA256: digest.FromBytes(b).String()}, nil
}

// SyncOptions configures one RunSyncPipeline invocation.
type SyncOptions struct {
	Kind         manifestsync.Kind
	BasePath     string
	IncomingPath string
	Apply        bool // if false, SYNC_MANIFEST_APPLY stays a dry run
	VaultRoots   map[string]string
	RunsRoot     string // <config>.RunsRootSync
	DB           *index.DB
	RepoDir      string // for GitHead; "" disables
	Now          time.Time
}

// RunSyncPipeline runs manifest_sync end to end: Analyze, TasksFromReport,
// executes every task through manifestsync.Execute (honoring opts.Apply),
// journals each task result, and writes a RunManifest under
// <RunsRoot>/<run_id>/run_manifest.json.
func RunSyncPipeline(ctx context.Context, opts SyncOptions) (RunManifest, error) {
	log := dcontext.GetLogger(ctx)
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	runID := NewRunID(now)

	report, err := manifestsync.Analyze(opts.Kind, opts.BasePath, opts.IncomingPath)
	if err != nil {
		return RunManifest{}, err
	}

	specs := manifestsync.TasksFromReport(report)
	for i := range specs {
		if specs[i].Type != "SYNC_MANIFEST_APPLY" {
			continue
		}
		specs[i].Params["dry_run"] = !opts.Apply
	}

	execCtx := manifestsync.ExecContext{VaultRoots: opts.VaultRoots}

	runDir := filepath.Join(opts.RunsRoot, runID)
	specs = setSyncOutDir(specs, filepath.Join(runDir, "patch_plans"))

	records := make([]TaskRecord, 0, len(specs))
	for _, spec := range specs {
		result := manifestsync.Execute(spec, execCtx)
		records = append(records, TaskRecord{Spec: spec, Result: result})
		if opts.DB != nil {
			if err := opts.DB.AppendTask(spec, result, map[string]any{"run_id": runID}); err != nil {
				log.Warnf("journal append failed for task %s: %v", spec.TaskID, err)
			}
		}
	}

	var inputs []Fingerprint
	for _, p := range []string{opts.BasePath, opts.IncomingPath} {
		if p == "" {
			continue
		}
		if fp, err := fingerprintFile(p); err == nil {
			inputs = append(inputs, fp)
		}
	}

	manifest := RunManifest{
		RunID:     runID,
		Kind:      "sync",
		CreatedAt: now.Format(time.RFC3339),
		Inputs:    inputs,
		Tasks:     records,
	}
	if opts.RepoDir != "" {
		manifest.GitHead = GitHead(opts.RepoDir)
	}

	outPath := filepath.Join(runDir, "run_manifest.json")
	fp, err := WriteJSON(outPath, manifest)
	if err != nil {
		return manifest, err
	}
	manifest.Outputs = append(manifest.Outputs, fp)

	log.Infof("sync pipeline run %s: %d tasks", runID, len(records))
	return manifest, nil
}

func setSyncOutDir(specs []task.Spec, outDir string) []task.Spec {
	for i := range specs {
		if specs[i].Type == "SYNC_MANIFEST_APPLY" {
			specs[i].Params["out_dir"] = outDir
		}
	}
	return specs
}

// RepairOptions configures one RunBundleRepairPipeline invocation.
type RepairOptions struct {
	Bundle      bundle.Bundle
	RawManifestPath string
	VaultRoots  map[string]string
	AutoFix     bool
	Ingest      bool // ingest auto-fixed MUs into the vault + reindex
	VaultRoot   string
	IndexDBPath string
	RunsRoot    string // <config>.RunsRootRepair
	RepoDir     string
	Now         time.Time
}

// RunBundleRepairPipeline converts a bundle's degraded-evidence signals
// into REPAIR_POINTER tasks, executes each through repair.Execute, and
// writes a RunManifest under <RunsRoot>/<run_id>/. With opts.Ingest, any
// auto-fixed MU the repair step wrote is ingested into the vault and the
// index rebuilt.
func RunBundleRepairPipeline(ctx context.Context, opts RepairOptions) (RunManifest, error) {
	log := dcontext.GetLogger(ctx)
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	runID := NewRunID(now)
	runDir := filepath.Join(opts.RunsRoot, runID)
	fixedDir := filepath.Join(runDir, "fixed_mu")

	specs := bundle.TasksFromBundle(opts.Bundle, now)

	execCtx := &repair.ExecContext{
		RawManifestPath: opts.RawManifestPath,
		VaultRoots:      opts.VaultRoots,
		OutMUDir:        fixedDir,
		AutoFix:         opts.AutoFix,
		Now:             now,
	}

	records := make([]TaskRecord, 0, len(specs))
	var fixedMUPaths []string

	for _, spec := range specs {
		result := repair.Execute(ctx, spec, execCtx)
		records = append(records, TaskRecord{Spec: spec, Result: result})
		for _, out := range result.Outputs {
			if out.Kind == "MU" && out.URI != "" {
				fixedMUPaths = append(fixedMUPaths, out.URI)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Spec.TaskID < records[j].Spec.TaskID })

	if opts.Ingest && len(fixedMUPaths) > 0 {
		for _, p := range fixedMUPaths {
			if _, err := ingestFixed(ctx, p, opts); err != nil {
				log.Warnf("failed to ingest auto-fixed mu %s: %v", p, err)
			}
		}
	}

	manifest := RunManifest{
		RunID:     runID,
		Kind:      "repair",
		CreatedAt: now.Format(time.RFC3339),
		Tasks:     records,
	}
	if opts.RepoDir != "" {
		manifest.GitHead = GitHead(opts.RepoDir)
	}
	for _, p := range fixedMUPaths {
		if fp, err := fingerprintFile(p); err == nil {
			manifest.Outputs = append(manifest.Outputs, fp)
		}
	}

	outPath := filepath.Join(runDir, "run_manifest.json")
	fp, err := WriteJSON(outPath, manifest)
	if err != nil {
		return manifest, err
	}
	manifest.Outputs = append(manifest.Outputs, fp)

	log.Infof("repair pipeline run %s: %d tasks, %d fixed mus", runID, len(records), len(fixedMUPaths))
	return manifest, nil
}

func ingestFixed(ctx context.Context, muPath string, opts RepairOptions) (string, error) {
	if opts.VaultRoot == "" {
		return "", fmt.Errorf("pipeline.ingestFixed: no vault root configured")
	}

	res, err := vault.IngestMUFile(ctx, muPath, vault.IngestOptions{VaultRoot: opts.VaultRoot})
	if err != nil {
		return "", err
	}

	if opts.IndexDBPath != "" {
		db, err := index.Open(opts.IndexDBPath)
		if err != nil {
			return res.URI, err
		}
		defer db.Close()

		muRoot := filepath.Join(opts.VaultRoot, "mu")
		if _, err := index.BuildFromMUTree(ctx, db, muRoot, false); err != nil {
			return res.URI, err
		}
	}

	return res.URI, nil
}
