package manifestsync

import (
	"time"

	"github.com/Coinsides/mimobrain-memory-system/task"
)

// TasksFromReport converts a sync Report into the conservative TaskSpec
// sequence a downstream executor runs: verify both manifests, suggest a
// uri repair for every sha-collision conflict, and always emit one
// dry-run SYNC_MANIFEST_APPLY task that can append brand-new records.
func TasksFromReport(report Report) []task.Spec {
	now := time.Now().UTC().Format(time.RFC3339)
	var tasks []task.Spec

	newTask := func(ttype, idemKey string, inputs []task.Input, params map[string]any) task.Spec {
		return task.Spec{
			TaskID:         task.NewTaskID(),
			Type:           ttype,
			CreatedAt:      now,
			IdempotencyKey: idemKey,
			Inputs:         inputs,
			Params:         params,
		}
	}

	if report.Base.Path != "" {
		tasks = append(tasks, newTask(
			"VERIFY_MANIFEST",
			"verify:"+string(report.Kind)+":base:"+report.Base.Path,
			[]task.Input{{Kind: "TEXT", IDs: []string{report.Base.Path}}},
			map[string]any{"kind": string(report.Kind), "manifest_path": report.Base.Path},
		))
	}
	if report.Incoming.Path != "" {
		tasks = append(tasks, newTask(
			"VERIFY_MANIFEST",
			"verify:"+string(report.Kind)+":incoming:"+report.Incoming.Path,
			[]task.Input{{Kind: "TEXT", IDs: []string{report.Incoming.Path}}},
			map[string]any{"kind": string(report.Kind), "manifest_path": report.Incoming.Path},
		))
	}

	var manual []Conflict
	for _, c := range report.Conflicts {
		switch c.Type {
		case ConflictSHADifferentURI:
			tasks = append(tasks, newTask(
				"REPAIR_MANIFEST_URI",
				"repair_uri:"+string(report.Kind)+":"+c.Key,
				nil,
				map[string]any{
					"kind":              string(report.Kind),
					"sha256":            c.Key,
					"base_records":      c.BaseRecords,
					"incoming_records":  c.IncomingRecords,
					"policy":            "prefer_base_uri",
					"dry_run":           true,
				},
			))
		case ConflictSchemaError, ConflictIDDifferentSHA, ConflictURIDifferentSHA:
			manual = append(manual, c)
		}
	}

	tasks = append(tasks, newTask(
		"SYNC_MANIFEST_APPLY",
		"sync_apply:"+string(report.Kind)+":"+report.Base.Path+":"+report.Incoming.Path,
		nil,
		map[string]any{
			"kind":             string(report.Kind),
			"base_path":        report.Base.Path,
			"incoming_path":    report.Incoming.Path,
			"dry_run":          true,
			"manual_conflicts": manual,
			"policy":           "conservative_no_overwrite",
		},
	))

	return tasks
}
