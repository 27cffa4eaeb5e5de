package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresCoreFields(t *testing.T) {
	errs := Validate(Bundle{})
	require.NotEmpty(t, errs)
	require.Contains(t, errs, "bundle_id: required")
	require.Contains(t, errs, "template: required")
}

func TestValidateAcceptsMinimalBundle(t *testing.T) {
	b := Bundle{
		BundleID:    "bndl_20260101000000",
		Template:    "ad_hoc",
		Scope:       Scope{Workspace: "ws1"},
		CreatedAt:   "2026-01-01T00:00:00Z",
		SourceMUIDs: []string{},
	}
	require.Empty(t, Validate(b))
}

func TestNewBundleIDIsDeterministicForAGivenInstant(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "bndl_20260729120000", newBundleID(now))
}

func TestTasksFromBundleSkipsWhenNoDiagnostics(t *testing.T) {
	require.Nil(t, TasksFromBundle(Bundle{}, time.Now()))
}

func TestTasksFromBundleEmitsOnePerRepairSignal(t *testing.T) {
	b := Bundle{
		BundleID: "bndl_x",
		Diagnostics: &Diagnostics{
			RepairTasks: []RepairTask{
				{Type: "REPAIR_POINTER", MUID: "mu_1", SHA256: "sha256:aa", URI: "legacy://x"},
				{Type: "REPAIR_POINTER", MUID: "mu_2", SHA256: "sha256:bb", URI: "legacy://y"},
			},
		},
	}

	specs := TasksFromBundle(b, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, specs, 2)
	for _, s := range specs {
		require.Equal(t, "REPAIR_POINTER", s.Type)
		require.NotEmpty(t, s.TaskID)
		require.NotEmpty(t, s.IdempotencyKey)
		require.Equal(t, "bndl_x", s.Params["source_bundle_id"])
	}
	require.NotEqual(t, specs[0].IdempotencyKey, specs[1].IdempotencyKey)
}

func TestTemplateLabelFallsBackToAdHoc(t *testing.T) {
	require.Equal(t, "ad_hoc", Request{}.templateLabel())
	require.Equal(t, "time_overview_v1", Request{TemplateName: "time_overview_v1"}.templateLabel())
}

func TestSortedUniqueDedupsAndSorts(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "a", "b", "a"}))
}
