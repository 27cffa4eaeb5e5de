// Package repair executes REPAIR_POINTER tasks: given a stale pointer,
// look up its sha256 in the raw manifest's index and suggest (or, with
// AutoFix, write out) a corrected MU. A repair never mutates the MU it
// is fixing; it always writes a new, superseding one, the same way the
// vault never overwrites a content-addressed record in place.
package repair

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
	"github.com/Coinsides/mimobrain-memory-system/task"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// ExecContext carries the shared, reusable state a batch of repairs runs
// against: the sha256 index should be built once per batch rather than
// re-scanning the raw manifest for every pointer.
type ExecContext struct {
	RawManifestPath string
	VaultRoots      map[string]string
	OutMUDir        string // destination dir for auto-fixed .mimo files
	SHA256Index     vault.SHA256Index // built lazily if nil
	AutoFix         bool
	Now             time.Time
	RandSource      *rand.Rand // id suffix source; nil seeds math/rand from the timestamp and old mu_id
}

func (c *ExecContext) index() (vault.SHA256Index, error) {
	if c.SHA256Index != nil {
		return c.SHA256Index, nil
	}
	idx, err := vault.BuildSHA256Index(c.RawManifestPath)
	if err != nil {
		return nil, err
	}
	c.SHA256Index = idx
	return idx, nil
}

func diagnostic(code, msg string) task.Diagnostic {
	return task.Diagnostic{Code: code, Msg: msg}
}

// Execute runs one REPAIR_POINTER (or VERIFY_MANIFEST) task.Spec against
// execCtx and returns its task.Result. It never panics or returns a
// non-nil error for a task-level failure: every failure mode is expressed
// as a PARTIAL/ERROR Result with a diagnostic, since a batch repair run
// must keep going past individual misses.
func Execute(ctx context.Context, t task.Spec, execCtx *ExecContext) task.Result {
	log := dcontext.GetLogger(ctx)
	started := time.Now()

	switch t.Type {
	case "REPAIR_POINTER":
		r := executeRepairPointer(t, execCtx, started)
		log.Debugf("repair task %s finished status=%s", t.TaskID, r.Status)
		return r
	case "VERIFY_MANIFEST":
		return executeVerifyManifest(t, execCtx, started)
	default:
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{diagnostic("UNKNOWN_TASK_TYPE", "unsupported task type: "+t.Type)},
			time.Since(started))
	}
}

func executeVerifyManifest(t task.Spec, ctx *ExecContext, started time.Time) task.Result {
	errs, err := vault.VerifyManifest(ctx.RawManifestPath, ctx.VaultRoots)
	if err != nil {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{diagnostic("VERIFY_FAILED", err.Error())}, time.Since(started))
	}
	if len(errs) == 0 {
		return task.NewResult(t.TaskID, task.StatusOK, nil, nil, time.Since(started))
	}
	diags := make([]task.Diagnostic, 0, len(errs))
	for _, e := range errs {
		diags = append(diags, diagnostic("MANIFEST_INTEGRITY_ERROR", e))
	}
	return task.NewResult(t.TaskID, task.StatusPartial, nil, diags, time.Since(started))
}

func executeRepairPointer(t task.Spec, ctx *ExecContext, started time.Time) task.Result {
	muID, _ := t.Params["mu_id"].(string)
	muPath, _ := t.Params["mu_path"].(string)
	sha, _ := t.Params["sha256"].(string)
	uri, _ := t.Params["uri"].(string)

	if muID == "" || sha == "" {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{diagnostic("INVALID_TASK_PARAMS", "mu_id and sha256 are required")},
			time.Since(started))
	}

	idx, err := ctx.index()
	if err != nil {
		return task.NewResult(t.TaskID, task.StatusError, nil,
			[]task.Diagnostic{diagnostic("MANIFEST_INDEX_FAILED", err.Error())}, time.Since(started))
	}

	suggested, ok := idx.Lookup(sha)
	if !ok {
		return task.NewResult(t.TaskID, task.StatusPartial, nil,
			[]task.Diagnostic{diagnostic("NO_SUGGESTION_FOUND", "sha256 "+sha+" not present in raw manifest")},
			time.Since(started))
	}

	diags := []task.Diagnostic{diagnostic("SUGGEST_POINTER_URI", suggested)}
	outputs := []task.Output{{Kind: "SUGGESTION", ID: muID, URI: suggested, Meta: map[string]any{
		"old_uri": uri,
		"sha256":  sha,
	}}}

	if !ctx.AutoFix || muPath == "" || ctx.OutMUDir == "" {
		return task.NewResult(t.TaskID, task.StatusOK, outputs, diags, time.Since(started))
	}

	newID, newPath, fixErr := applyAutoFix(muPath, muID, sha, suggested, ctx)
	if fixErr != nil {
		diags = append(diags, diagnostic("AUTO_FIX_FAILED", fixErr.Error()))
		return task.NewResult(t.TaskID, task.StatusPartial, outputs, diags, time.Since(started))
	}

	diags = append(diags, diagnostic("AUTO_FIXED", "wrote superseding mu "+newID))
	outputs = append(outputs, task.Output{Kind: "MU", ID: newID, URI: newPath})
	return task.NewResult(t.TaskID, task.StatusOK, outputs, diags, time.Since(started))
}

// applyAutoFix loads the MU at muPath, rewrites every pointer whose sha256
// matches the repaired one to the suggested uri, mints a new mu_migr_ id,
// appends the original mu_id to links.supersedes, and writes the result
// to ctx.OutMUDir. The original file is never touched.
func applyAutoFix(muPath, oldMUID, sha, suggestedURI string, ctx *ExecContext) (string, string, error) {
	raw, err := os.ReadFile(muPath)
	if err != nil {
		return "", "", err
	}
	mu, err := muyaml.Load(raw)
	if err != nil {
		return "", "", err
	}

	changed := false
	for i := range mu.Pointer {
		if mu.Pointer[i].SHA256 == sha {
			mu.Pointer[i].URI = suggestedURI
			changed = true
		}
	}
	if !changed {
		return "", "", fmt.Errorf("no pointer in %s matches sha256 %s", oldMUID, sha)
	}

	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	newID := newMigrationID(now, oldMUID, ctx.RandSource)

	mu.MUID = newID
	mu.Links.Supersedes = append(mu.Links.Supersedes, oldMUID)

	out, err := mu.Dump()
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(ctx.OutMUDir, 0o755); err != nil {
		return "", "", err
	}
	destPath := filepath.Join(ctx.OutMUDir, newID+".mimo")
	if err := os.WriteFile(destPath, out, 0o644); err != nil {
		return "", "", err
	}

	return newID, destPath, nil
}

// newMigrationID mints a deterministic-shape mu_migr_<yyyymmddhhmmss>_<10hex>
// id. The hex suffix is derived from the old id and timestamp rather than
// the system's global entropy source, so repairing the same stale pointer
// at the same instant always reproduces the same new id (useful for tests
// and for idempotent re-runs of a repair task that already succeeded).
func newMigrationID(now time.Time, oldMUID string, src *rand.Rand) string {
	ts := now.UTC().Format("20060102150405")
	if src == nil {
		src = rand.New(rand.NewSource(seedFrom(ts + oldMUID)))
	}
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 10)
	for i := range b {
		b[i] = hexDigits[src.Intn(16)]
	}
	return "mu_migr_" + ts + "_" + string(b)
}

func seedFrom(s string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range s {
		h ^= int64(c)
		h *= 1099511628211
	}
	if h < 0 {
		h = -h
	}
	return h
}
