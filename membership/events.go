// Package membership implements the workspace membership fence: an
// append-only per-workspace event log folded into an effective set, and
// single-hop (iteratively applied) canonicalization across an MU's
// supersedes/corrects/duplicate_of relations. MU stays pure — there is no
// workspace_id field anywhere in an MU; membership lives entirely in this
// external event log.
package membership

import (
	"path/filepath"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// Diagnostics reports how an effective set was folded from its event log.
type Diagnostics struct {
	WorkspaceID     string
	MembershipPath  string
	EventsTotal     int
	Adds            int
	Removes         int
	EffectiveCount  int
}

// Paths returns the workspaces.json and membership.jsonl locations under
// a DATA_ROOT, mirroring <data_root>/workspaces/.
func Paths(dataRoot string) (workspacesJSON string, membershipJSONL string) {
	dir := filepath.Join(dataRoot, "workspaces")
	return filepath.Join(dir, "workspaces.json"), filepath.Join(dir, "membership.jsonl")
}

// LoadEffectiveMembership folds workspaceID's add/remove event log (oldest
// first) into the set of mu_ids currently believed to be members. Remove
// is itself an append-only tombstone event for that (workspace, mu_id)
// pair — it does not delete history, only the effective-set membership.
func LoadEffectiveMembership(dataRoot, workspaceID string) (map[string]bool, Diagnostics, error) {
	_, membershipPath := Paths(dataRoot)

	effective := map[string]bool{}
	diag := Diagnostics{WorkspaceID: workspaceID, MembershipPath: membershipPath}

	err := vault.IterJSONL(membershipPath, func(rec map[string]any) error {
		diag.EventsTotal++

		ws, _ := rec["workspace_id"].(string)
		if ws != workspaceID {
			return nil
		}
		muID, _ := rec["mu_id"].(string)
		if muID == "" {
			return nil
		}
		switch rec["event"] {
		case "add":
			diag.Adds++
			effective[muID] = true
		case "remove":
			diag.Removes++
			delete(effective, muID)
		}
		return nil
	})
	if err != nil {
		return nil, Diagnostics{}, merrors.Wrap(merrors.KindTransientIO, "membership.LoadEffectiveMembership", "read membership log", err)
	}

	diag.EffectiveCount = len(effective)
	return effective, diag, nil
}

// AppendEvent appends an add/remove event to workspaceID's membership log.
func AppendEvent(dataRoot, workspaceID, event, muID, at, source string) error {
	_, membershipPath := Paths(dataRoot)
	return vault.AppendJSONL(membershipPath, map[string]any{
		"event":        event,
		"workspace_id": workspaceID,
		"mu_id":        muID,
		"at":           at,
		"source":       source,
	})
}
