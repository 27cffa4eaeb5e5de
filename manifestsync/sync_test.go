package manifestsync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Coinsides/mimobrain-memory-system/vault"
)

func writeManifest(t *testing.T, records ...map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	for _, r := range records {
		require.NoError(t, vault.AppendJSONL(path, r))
	}
	return path
}

func TestAnalyzeDetectsNewRecordsAndExactDupes(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "sha256:a", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t,
		map[string]any{"raw_id": "sha256:a", "uri": "vault://default/raw/a", "sha256": "sha256:a"},
		map[string]any{"raw_id": "sha256:b", "uri": "vault://default/raw/b", "sha256": "sha256:b"},
	)

	report, err := Analyze(KindRaw, base, incoming)
	require.NoError(t, err)
	require.Equal(t, 1, report.Stats.ExactDupes)
	require.Equal(t, 1, report.Stats.NewRecords)
	require.Empty(t, report.Conflicts)
}

func TestAnalyzeDetectsIDCollisionDifferentSHA(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:b"})

	report, err := Analyze(KindRaw, base, incoming)
	require.NoError(t, err)
	// The pair also shares a uri, so a URI_COLLISION_DIFFERENT_SHA is
	// reported after the id collision.
	require.Len(t, report.Conflicts, 2)
	require.Equal(t, ConflictIDDifferentSHA, report.Conflicts[0].Type)
	require.Equal(t, SeverityError, report.Conflicts[0].Severity)
}

func TestAnalyzeDetectsURICollisionDifferentSHA(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t, map[string]any{"raw_id": "r2", "uri": "vault://default/raw/a", "sha256": "sha256:b"})

	report, err := Analyze(KindRaw, base, incoming)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	require.Equal(t, ConflictURIDifferentSHA, report.Conflicts[0].Type)
}

func TestAnalyzeDetectsSHACollisionDifferentURI(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t, map[string]any{"raw_id": "r2", "uri": "vault://default/raw/b", "sha256": "sha256:a"})

	report, err := Analyze(KindRaw, base, incoming)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	require.Equal(t, ConflictSHADifferentURI, report.Conflicts[0].Type)
	require.Equal(t, SeverityWarn, report.Conflicts[0].Severity)
}

func TestAnalyzeUnknownKindRejected(t *testing.T) {
	base := writeManifest(t)
	_, err := Analyze(Kind("bogus"), base, base)
	require.Error(t, err)
}

func TestPlanPatchAppendsOnlyBrandNewRecords(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t,
		map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"},
		map[string]any{"raw_id": "r2", "uri": "vault://default/raw/b", "sha256": "sha256:b"},
	)

	plan, err := PlanPatch(KindRaw, base, incoming)
	require.NoError(t, err)
	require.True(t, plan.DryRun)
	require.Equal(t, 1, plan.Stats.AppendNewRecords)
	require.Equal(t, 1, plan.Stats.SkippedExactDupes)

	var appended []Action
	for _, a := range plan.Actions {
		if a.Type == ActionAppendRecord {
			appended = append(appended, a)
		}
	}
	require.Len(t, appended, 1)
	require.Equal(t, "r2", appended[0].Record["raw_id"])
}

func TestPlanPatchBlocksOnErrorConflicts(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})
	incoming := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:b"})

	plan, err := PlanPatch(KindRaw, base, incoming)
	require.NoError(t, err)
	// One id collision and one uri collision, both ERROR severity.
	require.Equal(t, 2, plan.Stats.BlockedConflicts)
}

func TestPlanPatchDoesNotAppendRecordBlockedByURICollision(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "A", "uri": "vault://default/raw/2026/02/21/a.txt", "sha256": "sha256:a"})
	incoming := writeManifest(t,
		map[string]any{"raw_id": "A", "uri": "vault://default/raw/2026/02/22/a.txt", "sha256": "sha256:a"},
		map[string]any{"raw_id": "B", "uri": "vault://default/raw/2026/02/21/a.txt", "sha256": "sha256:b"},
	)

	plan, err := PlanPatch(KindRaw, base, incoming)
	require.NoError(t, err)
	require.Equal(t, 0, plan.Stats.AppendNewRecords)
	require.Equal(t, 1, plan.Stats.BlockedConflicts)

	for _, a := range plan.Actions {
		if a.Type == ActionAppendRecord {
			t.Fatalf("record %v should not have been auto-appended: its uri collides with an ERROR conflict", a.Record)
		}
	}
}

func TestApplyOnlyAppendsAppendRecordActions(t *testing.T) {
	base := writeManifest(t, map[string]any{"raw_id": "r1", "uri": "vault://default/raw/a", "sha256": "sha256:a"})

	plan := Plan{
		BasePath: base,
		Actions: []Action{
			{Type: ActionAppendRecord, Record: map[string]any{"raw_id": "r2", "uri": "vault://default/raw/b", "sha256": "sha256:b"}},
			{Type: ActionNote, Record: map[string]any{"raw_id": "r3"}},
		},
	}
	require.NoError(t, Apply(plan))

	var ids []string
	require.NoError(t, vault.IterJSONL(base, func(rec map[string]any) error {
		ids = append(ids, rec["raw_id"].(string))
		return nil
	}))
	require.Equal(t, []string{"r1", "r2"}, ids)
}
