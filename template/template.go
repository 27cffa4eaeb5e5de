// Package template compiles a named template's defaults plus a question's
// scope/evidence/budget overrides into a CompiledSpec, and applies the
// deterministic, budget-driven downgrade planner over it. Everything here
// is pure and side-effect free so it stays exhaustively testable: no file
// IO, no clock reads beyond what a caller passes in.
package template

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// Granularity is the detail/time/evidence triple a spec compiles to.
type Granularity struct {
	DetailLevel    string `yaml:"detail_level" json:"detail_level"`
	TimeResolution string `yaml:"time_resolution" json:"time_resolution"`
	EvidenceDepth  string `yaml:"evidence_depth" json:"evidence_depth"`
}

// Budget bounds how much a compiled spec is allowed to retrieve/spend.
type Budget struct {
	MaxMU     int `yaml:"max_mu" json:"max_mu"`
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// Defaults is the `defaults:` block of a template yaml file.
type Defaults struct {
	ScopeDays   int         `yaml:"scope_days"`
	Granularity Granularity `yaml:"granularity"`
	Budget      Budget      `yaml:"budget"`
}

// Doc is a loaded template file: a name plus its defaults.
type Doc struct {
	Name     string   `yaml:"name"`
	Defaults Defaults `yaml:"defaults"`
}

// Load reads and parses a template yaml file. There is no schema library
// in this module's dependency set, so validation here is limited to "did
// it parse"; callers needing stricter checks should validate the handful
// of fields this package reads (scope_days, granularity.*, budget.*)
// themselves.
func Load(raw []byte) (Doc, error) {
	var d Doc
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Doc{}, merrors.Wrap(merrors.KindValidation, "template.Load", "parse template yaml", err)
	}
	return d, nil
}

// ScopeOverride is the `setup.scope` portion of a question.
type ScopeOverride struct {
	TimeWindowDays *int `json:"time_window_days,omitempty"`
}

// QuestionSetup is the `setup` portion of a question.
type QuestionSetup struct {
	Scope ScopeOverride `json:"scope,omitempty"`
}

// EvidenceOverride is the `expect.evidence` portion of a question.
type EvidenceOverride struct {
	Depth string `json:"depth,omitempty"`
}

// QuestionExpect is the `expect` portion of a question.
type QuestionExpect struct {
	Evidence EvidenceOverride `json:"evidence,omitempty"`
}

// QuestionBudget is the `budget` portion of a question; it may only
// tighten (never loosen) the template's max_tokens.
type QuestionBudget struct {
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// CompiledSpec is a template's defaults merged with one question's
// overrides, before any downgrade has been applied.
type CompiledSpec struct {
	Template    string      `json:"template"`
	ScopeDays   int         `json:"scope_days"`
	Granularity Granularity `json:"granularity"`
	Budget      Budget      `json:"budget"`
}

func fallbackInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func fallbackStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// MergeSpec applies the strict merge order: template defaults, then
// question setup.scope.time_window_days overrides scope_days, question
// expect.evidence.depth overrides evidence_depth, and question
// budget.max_tokens tightens (never loosens) max_tokens.
func MergeSpec(templateName string, defaults Defaults, setup *QuestionSetup, expect *QuestionExpect, budgetIn *QuestionBudget) CompiledSpec {
	scopeDays := fallbackInt(defaults.ScopeDays, 7)
	if setup != nil && setup.Scope.TimeWindowDays != nil {
		scopeDays = *setup.Scope.TimeWindowDays
	}

	detailLevel := fallbackStr(defaults.Granularity.DetailLevel, "normal")
	timeResolution := fallbackStr(defaults.Granularity.TimeResolution, "day")
	evidenceDepth := fallbackStr(defaults.Granularity.EvidenceDepth, "mu_ids")
	if expect != nil {
		switch expect.Evidence.Depth {
		case "mu_ids", "mu_snippets", "raw_quotes":
			evidenceDepth = expect.Evidence.Depth
		}
	}

	maxMU := fallbackInt(defaults.Budget.MaxMU, 50)
	maxTokens := fallbackInt(defaults.Budget.MaxTokens, 900)
	if budgetIn != nil && budgetIn.MaxTokens != nil {
		if *budgetIn.MaxTokens < maxTokens {
			maxTokens = *budgetIn.MaxTokens
		}
	}

	return CompiledSpec{
		Template:  templateName,
		ScopeDays: scopeDays,
		Granularity: Granularity{
			DetailLevel:    detailLevel,
			TimeResolution: timeResolution,
			EvidenceDepth:  evidenceDepth,
		},
		Budget: Budget{MaxMU: maxMU, MaxTokens: maxTokens},
	}
}

var (
	detailOrder = []string{"forensic", "detailed", "normal", "overview"}
	timeOrder   = []string{"event", "session", "day", "week"}
)

// EstimateTokens is a cheap, explicit, deterministic token estimator. It
// is not meant to model a real renderer's output size, only to be stable
// across runs so the downgrade planner is testable.
func EstimateTokens(spec CompiledSpec) int {
	const base = 220

	// evidence cost dominates; anything beyond bare ids pays the full rate
	perMU := 55
	if spec.Granularity.EvidenceDepth == "mu_ids" {
		perMU = 18
	}

	detailBoost := map[string]int{"overview": 0, "normal": 120, "detailed": 260, "forensic": 420}[spec.Granularity.DetailLevel]
	timeBoost := map[string]int{"week": 0, "day": 80, "session": 160, "event": 260}[spec.Granularity.TimeResolution]

	scopeBoost := (spec.ScopeDays - 7) * 18
	if scopeBoost < 0 {
		scopeBoost = 0
	}
	if scopeBoost > 600 {
		scopeBoost = 600
	}

	return base + spec.Budget.MaxMU*perMU + detailBoost + timeBoost + scopeBoost
}

// DowngradeStep records one downgrade applied during planning, for a
// bundle's diagnostics.downgrade_plan.
type DowngradeStep struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func shrinkScopeDays(days int) int {
	n := (days + 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}

func shrinkMaxMU(n int) int {
	m := (n + 1) / 2
	if m < 1 {
		m = 1
	}
	return m
}

const maxDowngradeIterations = 32

// DowngradeForBudget applies the fixed downgrade order until
// estimate_tokens(spec) <= spec.Budget.MaxTokens, or the bound of
// 32 iterations is hit (the cap itself never fires in practice since
// every dimension bottoms out well before 32 steps; it exists purely so
// a logic bug can't spin forever). The order is fixed:
//
//  1. evidence_depth: mu_snippets -> mu_ids
//  2. detail_level: forensic -> detailed -> normal -> overview
//  3. time_resolution: event -> session -> day -> week
//  4. scope_days: halve (floor (d+1)/2) until >= 1
//  5. max_mu: halve as the last resort
func DowngradeForBudget(spec CompiledSpec) (CompiledSpec, []DowngradeStep) {
	if spec.Budget.MaxTokens <= 0 {
		return spec, nil
	}

	cur := spec
	var plan []DowngradeStep

	for i := 0; i < maxDowngradeIterations; i++ {
		if EstimateTokens(cur) <= cur.Budget.MaxTokens {
			return cur, plan
		}

		if cur.Granularity.EvidenceDepth == "mu_snippets" {
			plan = append(plan, DowngradeStep{Field: "evidence_depth", From: "mu_snippets", To: "mu_ids"})
			cur.Granularity.EvidenceDepth = "mu_ids"
			continue
		}

		if i := indexOf(detailOrder, cur.Granularity.DetailLevel); i >= 0 && i+1 < len(detailOrder) {
			plan = append(plan, DowngradeStep{Field: "detail_level", From: cur.Granularity.DetailLevel, To: detailOrder[i+1]})
			cur.Granularity.DetailLevel = detailOrder[i+1]
			continue
		}

		if i := indexOf(timeOrder, cur.Granularity.TimeResolution); i >= 0 && i+1 < len(timeOrder) {
			plan = append(plan, DowngradeStep{Field: "time_resolution", From: cur.Granularity.TimeResolution, To: timeOrder[i+1]})
			cur.Granularity.TimeResolution = timeOrder[i+1]
			continue
		}

		if nd := shrinkScopeDays(cur.ScopeDays); nd != cur.ScopeDays {
			plan = append(plan, DowngradeStep{Field: "scope_days", From: fmt.Sprint(cur.ScopeDays), To: fmt.Sprint(nd)})
			cur.ScopeDays = nd
			continue
		}

		if nm := shrinkMaxMU(cur.Budget.MaxMU); nm != cur.Budget.MaxMU {
			plan = append(plan, DowngradeStep{Field: "max_mu", From: fmt.Sprint(cur.Budget.MaxMU), To: fmt.Sprint(nm)})
			cur.Budget.MaxMU = nm
			continue
		}

		return cur, plan
	}

	return cur, plan
}
