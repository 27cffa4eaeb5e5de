package manifestsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTasksFromReportEmitsVerifyAndSyncApplyTasks(t *testing.T) {
	report := Report{
		Kind:     KindRaw,
		Base:     ManifestStat{Path: "base.jsonl"},
		Incoming: ManifestStat{Path: "incoming.jsonl"},
	}

	specs := TasksFromReport(report)
	require.Len(t, specs, 3) // verify base, verify incoming, sync apply

	var types []string
	for _, s := range specs {
		types = append(types, s.Type)
	}
	require.Contains(t, types, "VERIFY_MANIFEST")
	require.Contains(t, types, "SYNC_MANIFEST_APPLY")

	last := specs[len(specs)-1]
	require.Equal(t, "SYNC_MANIFEST_APPLY", last.Type)
	require.Equal(t, true, last.Params["dry_run"])
}

func TestTasksFromReportEmitsRepairForSHACollision(t *testing.T) {
	report := Report{
		Kind: KindRaw,
		Base: ManifestStat{Path: "base.jsonl"},
		Conflicts: []Conflict{
			{Type: ConflictSHADifferentURI, Severity: SeverityWarn, Key: "sha256:a"},
		},
	}

	specs := TasksFromReport(report)
	var repairs int
	for _, s := range specs {
		if s.Type == "REPAIR_MANIFEST_URI" {
			repairs++
			require.Equal(t, "sha256:a", s.Params["sha256"])
		}
	}
	require.Equal(t, 1, repairs)
}

func TestTasksFromReportCarriesManualConflictsIntoSyncApply(t *testing.T) {
	report := Report{
		Kind: KindRaw,
		Base: ManifestStat{Path: "base.jsonl"},
		Conflicts: []Conflict{
			{Type: ConflictIDDifferentSHA, Severity: SeverityError, Key: "r1"},
		},
	}

	specs := TasksFromReport(report)
	last := specs[len(specs)-1]
	manual, ok := last.Params["manual_conflicts"].([]Conflict)
	require.True(t, ok)
	require.Len(t, manual, 1)
	require.Equal(t, ConflictIDDifferentSHA, manual[0].Type)
}

func TestTasksFromReportEveryTaskIDUnique(t *testing.T) {
	report := Report{Kind: KindRaw, Base: ManifestStat{Path: "base.jsonl"}, Incoming: ManifestStat{Path: "inc.jsonl"}}
	specs := TasksFromReport(report)

	seen := map[string]bool{}
	for _, s := range specs {
		require.False(t, seen[s.TaskID])
		seen[s.TaskID] = true
	}
}
