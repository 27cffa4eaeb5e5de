package manifestsync

import (
	"time"

	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// ActionType enumerates the kinds of step a Plan can contain.
type ActionType string

const (
	ActionAppendRecord    ActionType = "APPEND_RECORD"
	ActionSuggestURIAlias ActionType = "SUGGEST_URI_ALIAS"
	ActionBlockedConflict ActionType = "BLOCKED_CONFLICT"
	ActionNote            ActionType = "NOTE"
)

// Action is one step of a Plan.
type Action struct {
	Type    ActionType       `json:"type"`
	Message string           `json:"message"`
	Record  map[string]any   `json:"record,omitempty"`
	FromURI string           `json:"from_uri,omitempty"`
	ToURI   string           `json:"to_uri,omitempty"`
	SHA256  string           `json:"sha256,omitempty"`
}

// PlanStats summarizes a Plan's actions.
type PlanStats struct {
	AppendNewRecords  int `json:"append_new_records"`
	SkippedExactDupes int `json:"skipped_exact_dupes"`
	BlockedConflicts  int `json:"blocked_conflicts"`
}

// Plan is a conservative, append-only patch computed from an Analyze
// report: only brand-new record ids are auto-appendable; everything else
// is surfaced as a note, a blocked conflict, or a uri-alias suggestion.
type Plan struct {
	PlanVersion  string    `json:"plan_version"`
	CreatedAt    string    `json:"created_at"`
	Kind         Kind      `json:"kind"`
	BasePath     string    `json:"base_path"`
	IncomingPath string    `json:"incoming_path"`
	DryRun       bool      `json:"dry_run"`
	Stats        PlanStats `json:"stats"`
	Actions      []Action  `json:"actions"`
}

// PlanPatch computes a Plan by re-running Analyze and then walking the
// incoming records to decide which are safe to append automatically.
func PlanPatch(kind Kind, basePath, incomingPath string) (Plan, error) {
	key, err := idKey(kind)
	if err != nil {
		return Plan{}, err
	}

	var baseRecords, incomingRecords []map[string]any
	if err := vault.IterJSONL(basePath, func(rec map[string]any) error {
		baseRecords = append(baseRecords, rec)
		return nil
	}); err != nil {
		return Plan{}, err
	}
	if err := vault.IterJSONL(incomingPath, func(rec map[string]any) error {
		incomingRecords = append(incomingRecords, rec)
		return nil
	}); err != nil {
		return Plan{}, err
	}

	baseFP := map[string]bool{}
	for _, r := range baseRecords {
		baseFP[fingerprint(r)] = true
	}
	baseIDs := map[string]bool{}
	for _, r := range baseRecords {
		if id, ok := r[key].(string); ok && id != "" {
			baseIDs[id] = true
		}
	}

	report, err := Analyze(kind, basePath, incomingPath)
	if err != nil {
		return Plan{}, err
	}

	var actions []Action
	blocked := 0
	blockedIDs := map[string]bool{}
	blockedURIs := map[string]bool{}
	for _, c := range report.Conflicts {
		if c.Severity != SeverityError {
			continue
		}
		blocked++
		actions = append(actions, Action{
			Type:    ActionBlockedConflict,
			Message: "blocked due to conflict: " + string(c.Type) + " key=" + c.Key,
		})
		switch c.Type {
		case ConflictIDDifferentSHA:
			blockedIDs[c.Key] = true
		case ConflictURIDifferentSHA:
			blockedURIs[c.Key] = true
		}
	}

	for _, c := range report.Conflicts {
		if c.Type != ConflictSHADifferentURI || len(c.BaseRecords) == 0 || len(c.IncomingRecords) == 0 {
			continue
		}
		bURI, _ := c.BaseRecords[0]["uri"].(string)
		iURI, _ := c.IncomingRecords[0]["uri"].(string)
		if bURI != "" && iURI != "" && bURI != iURI {
			actions = append(actions, Action{
				Type:    ActionSuggestURIAlias,
				Message: "same sha256=" + c.Key + " observed at different uris; consider alias/redirect",
				FromURI: iURI,
				ToURI:   bURI,
				SHA256:  c.Key,
			})
		}
	}

	appendCount, skippedDupes := 0, 0
	for _, r := range incomingRecords {
		rid, ok := r[key].(string)
		if !ok || rid == "" {
			continue
		}
		if baseFP[fingerprint(r)] {
			skippedDupes++
			continue
		}
		uri, _ := r["uri"].(string)
		if blockedIDs[rid] || (uri != "" && blockedURIs[uri]) {
			continue
		}
		if baseIDs[rid] {
			actions = append(actions, Action{
				Type:    ActionNote,
				Message: "record with existing " + key + "=" + rid + " differs; not appending automatically",
				Record:  r,
			})
			continue
		}
		actions = append(actions, Action{
			Type:    ActionAppendRecord,
			Message: "append new " + key + "=" + rid,
			Record:  r,
		})
		appendCount++
	}

	return Plan{
		PlanVersion:  "0.1",
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		Kind:         kind,
		BasePath:     basePath,
		IncomingPath: incomingPath,
		DryRun:       true,
		Stats: PlanStats{
			AppendNewRecords:  appendCount,
			SkippedExactDupes: skippedDupes,
			BlockedConflicts:  blocked,
		},
		Actions: actions,
	}, nil
}

// Apply appends every APPEND_RECORD action's record to the plan's base
// manifest. Nothing else in the plan is ever applied automatically.
func Apply(plan Plan) error {
	for _, a := range plan.Actions {
		if a.Type != ActionAppendRecord || a.Record == nil {
			continue
		}
		if err := vault.AppendJSONL(plan.BasePath, a.Record); err != nil {
			return err
		}
	}
	return nil
}
