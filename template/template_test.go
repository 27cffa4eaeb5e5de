package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeSpecOrder(t *testing.T) {
	defaults := Defaults{
		ScopeDays:   7,
		Granularity: Granularity{DetailLevel: "normal", TimeResolution: "day", EvidenceDepth: "mu_ids"},
		Budget:      Budget{MaxMU: 50, MaxTokens: 900},
	}

	days := 21
	depth := "mu_snippets"
	maxTokens := 400

	spec := MergeSpec("time_overview_v1", defaults,
		&QuestionSetup{Scope: ScopeOverride{TimeWindowDays: &days}},
		&QuestionExpect{Evidence: EvidenceOverride{Depth: depth}},
		&QuestionBudget{MaxTokens: &maxTokens},
	)

	require.Equal(t, 21, spec.ScopeDays)
	require.Equal(t, "mu_snippets", spec.Granularity.EvidenceDepth)
	require.Equal(t, 400, spec.Budget.MaxTokens)
}

func TestQuestionBudgetOnlyTightens(t *testing.T) {
	defaults := Defaults{Budget: Budget{MaxMU: 50, MaxTokens: 300}}
	loosen := 5000

	spec := MergeSpec("t", defaults, nil, nil, &QuestionBudget{MaxTokens: &loosen})
	require.Equal(t, 300, spec.Budget.MaxTokens, "question budget must never loosen the template's max_tokens")
}

func TestDowngradeOrderAppliesEvidenceFirst(t *testing.T) {
	spec := CompiledSpec{
		Template:    "t",
		ScopeDays:   7,
		Granularity: Granularity{DetailLevel: "forensic", TimeResolution: "event", EvidenceDepth: "mu_snippets"},
		Budget:      Budget{MaxMU: 120, MaxTokens: 600},
	}

	final, plan := DowngradeForBudget(spec)

	require.Equal(t, "mu_ids", final.Granularity.EvidenceDepth)
	require.NotEmpty(t, plan)
	require.Equal(t, "evidence_depth", plan[0].Field, "downgrade step 1 (evidence_depth) must apply before any other dimension")
}

func TestDowngradeTerminatesAndMeetsBudget(t *testing.T) {
	spec := CompiledSpec{
		Template:    "t",
		ScopeDays:   365,
		Granularity: Granularity{DetailLevel: "forensic", TimeResolution: "event", EvidenceDepth: "mu_snippets"},
		Budget:      Budget{MaxMU: 500, MaxTokens: 250},
	}

	final, _ := DowngradeForBudget(spec)
	require.LessOrEqual(t, EstimateTokens(final), final.Budget.MaxTokens)
}

func TestEstimateTokensStableAcrossCalls(t *testing.T) {
	spec := CompiledSpec{
		Template:    "t",
		ScopeDays:   30,
		Granularity: Granularity{DetailLevel: "detailed", TimeResolution: "session", EvidenceDepth: "mu_snippets"},
		Budget:      Budget{MaxMU: 40, MaxTokens: 2000},
	}
	require.Equal(t, EstimateTokens(spec), EstimateTokens(spec))
}

func TestLoadTemplateYAML(t *testing.T) {
	raw := []byte(`
name: time_overview_v1
defaults:
  scope_days: 7
  granularity:
    detail_level: normal
    time_resolution: day
    evidence_depth: mu_ids
  budget:
    max_mu: 50
    max_tokens: 900
`)
	doc, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, "time_overview_v1", doc.Name)
	require.Equal(t, 7, doc.Defaults.ScopeDays)
	require.Equal(t, "mu_ids", doc.Defaults.Granularity.EvidenceDepth)
}
