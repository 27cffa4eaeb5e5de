package manifestsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/task"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// ExecContext carries the vault root mapping an executor needs to resolve
// vault:// uris during VERIFY_MANIFEST.
type ExecContext struct {
	VaultRoots map[string]string
}

// Execute dispatches a TaskSpec to the matching conservative executor:
// VERIFY_MANIFEST, REPAIR_MANIFEST_URI, or SYNC_MANIFEST_APPLY. Unknown
// task types return a TaskError result rather than panicking.
func Execute(t task.Spec, ctx ExecContext) task.Result {
	switch t.Type {
	case "VERIFY_MANIFEST":
		return execVerifyManifest(t, ctx)
	case "REPAIR_MANIFEST_URI":
		return execRepairManifestURI(t, ctx)
	case "SYNC_MANIFEST_APPLY":
		return execSyncManifestApply(t, ctx)
	default:
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_TASK", Msg: "unsupported task type: " + t.Type}}, 0)
	}
}

func execVerifyManifest(t task.Spec, ctx ExecContext) task.Result {
	start := time.Now()
	manifestPath, _ := t.Params["manifest_path"].(string)
	if manifestPath == "" {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_TASK", Msg: "missing params.manifest_path"}}, time.Since(start))
	}

	errs, err := vault.VerifyManifest(manifestPath, ctx.VaultRoots)
	if err != nil {
		errs = append(errs, err.Error())
	}

	status := task.StatusOK
	var diags []task.Diagnostic
	if len(errs) > 0 {
		status = task.StatusError
		for _, e := range errs {
			diags = append(diags, task.Diagnostic{Code: "E_VERIFY", Msg: e})
		}
	}

	return task.NewResult(t.TaskID, status, []task.Output{
		{Kind: "REPORT", Meta: map[string]any{"manifest": manifestPath}},
	}, diags, time.Since(start))
}

func execRepairManifestURI(t task.Spec, ctx ExecContext) task.Result {
	start := time.Now()
	sha, _ := t.Params["sha256"].(string)
	if sha == "" {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_TASK", Msg: "missing params.sha256"}}, time.Since(start))
	}

	// Records arrive as []map[string]any in-process and as []any after a
	// journal round-trip through JSON.
	firstURI := func(recs any) string {
		var maps []map[string]any
		switch list := recs.(type) {
		case []map[string]any:
			maps = list
		case []any:
			for _, it := range list {
				if m, ok := it.(map[string]any); ok {
					maps = append(maps, m)
				}
			}
		}
		for _, r := range maps {
			if u, ok := r["uri"].(string); ok && u != "" {
				return u
			}
		}
		return ""
	}

	baseURI := firstURI(t.Params["base_records"])
	incURI := firstURI(t.Params["incoming_records"])
	policy, _ := t.Params["policy"].(string)

	preferred := incURI
	if policy == "prefer_base_uri" {
		preferred = baseURI
	}

	observed := map[string]bool{}
	if baseURI != "" {
		observed[baseURI] = true
	}
	if incURI != "" {
		observed[incURI] = true
	}
	var observedList []string
	for u := range observed {
		observedList = append(observedList, u)
	}

	diag := task.Diagnostic{
		Code: "SUGGEST_URI_ALIAS",
		Msg:  "sha256=" + sha + " observed uris=" + strings.Join(observedList, ",") + " preferred=" + preferred,
	}

	return task.NewResult(t.TaskID, task.StatusOK, []task.Output{
		{Kind: "REPORT", Meta: map[string]any{"sha256": sha, "preferred_uri": preferred}},
	}, []task.Diagnostic{diag}, time.Since(start))
}

func execSyncManifestApply(t task.Spec, ctx ExecContext) task.Result {
	start := time.Now()

	kind, _ := t.Params["kind"].(string)
	basePath, _ := t.Params["base_path"].(string)
	incomingPath, _ := t.Params["incoming_path"].(string)
	dryRun := true
	if v, ok := t.Params["dry_run"].(bool); ok {
		dryRun = v
	}

	if kind == "" || basePath == "" || incomingPath == "" {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_TASK", Msg: "missing kind/base_path/incoming_path"}}, time.Since(start))
	}

	plan, err := PlanPatch(Kind(kind), basePath, incomingPath)
	if err != nil {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_TASK", Msg: err.Error()}}, time.Since(start))
	}
	plan.DryRun = dryRun

	if !dryRun {
		if err := Apply(plan); err != nil {
			return task.NewResult(t.TaskID, task.StatusError, nil,
				[]task.Diagnostic{{Code: "E_APPLY", Msg: err.Error()}}, time.Since(start))
		}
	}

	var outPath string
	if outDir, ok := t.Params["out_dir"].(string); ok && strings.TrimSpace(outDir) != "" {
		outPath = filepath.Join(outDir, filepath.Base(basePath)+".patch_plan.json")
	} else {
		outPath = strings.TrimSuffix(basePath, filepath.Ext(basePath)) + ".patch_plan.json"
	}

	if err := writePlanJSON(outPath, plan); err != nil {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{{Code: "E_IO", Msg: err.Error()}}, time.Since(start))
	}

	return task.NewResult(t.TaskID, task.StatusOK, []task.Output{
		{Kind: "FILE", URI: outPath, Meta: map[string]any{"dry_run": dryRun}},
	}, nil, time.Since(start))
}

func writePlanJSON(path string, plan Plan) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "manifestsync.writePlanJSON", "mkdir out dir", err)
	}
	b, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "manifestsync.writePlanJSON", "encode plan", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "manifestsync.writePlanJSON", "write plan file", err)
	}
	return nil
}
