// Package bundle assembles a retrievable "bundle": the output of running
// a question against the metadata index, fenced to a workspace's
// canonical membership, with evidence attached per the requested depth
// and repair/degraded-evidence diagnostics surfaced rather than raised.
package bundle

import (
	"context"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/membership"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
	"github.com/Coinsides/mimobrain-memory-system/pointer"
	"github.com/Coinsides/mimobrain-memory-system/task"
	"github.com/Coinsides/mimobrain-memory-system/template"
)

// Evidence is one result's attached proof, shaped per evidence_depth.
type Evidence struct {
	MUID     string           `json:"mu_id"`
	Snippet  string           `json:"snippet,omitempty"`
	Pointer  []muyaml.Pointer `json:"pointer,omitempty"`
	Snapshot bool             `json:"snapshot,omitempty"`
	Privacy  string           `json:"privacy,omitempty"`
}

// Scope describes the time/workspace window a bundle was built over.
type Scope struct {
	TimeWindowDays int    `json:"time_window_days"`
	Since          string `json:"since"`
	Workspace      string `json:"workspace"`
}

// QueryOn records the query a bundle's source_mu_ids were selected by.
type QueryOn struct {
	Query string `json:"query"`
}

// RepairTask is a REPAIR_POINTER trigger signal surfaced in diagnostics,
// consumable directly by TasksFromBundle.
type RepairTask struct {
	Type    string         `json:"type"`
	MUID    string         `json:"mu_id"`
	MUPath  string         `json:"mu_path,omitempty"`
	SHA256  string         `json:"sha256,omitempty"`
	URI     string         `json:"uri,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Hint    map[string]any `json:"hint,omitempty"`
}

// Diagnostics aggregates every auditability signal a bundle build can
// surface: compiled/final template specs, the downgrade plan, membership
// fold diagnostics, degraded evidence, and repair triggers.
type Diagnostics struct {
	CompiledSpec          *template.CompiledSpec   `json:"compiled_spec,omitempty"`
	FinalSpec             *template.CompiledSpec   `json:"final_spec,omitempty"`
	DowngradePlan         []template.DowngradeStep `json:"downgrade_plan,omitempty"`
	Membership            map[string]any           `json:"membership,omitempty"`
	VaultRoots            map[string]string        `json:"vault_roots,omitempty"`
	RawManifest           string                   `json:"raw_manifest,omitempty"`
	EvidenceDegraded      bool                      `json:"evidence_degraded,omitempty"`
	EvidenceDegradedMUIDs []string                  `json:"evidence_degraded_mu_ids,omitempty"`
	RepairTasks           []RepairTask              `json:"repair_tasks,omitempty"`
	BundleSchemaErrors    []string                  `json:"bundle_schema_errors,omitempty"`
}

// Bundle is the externally consumed answer package.
type Bundle struct {
	BundleID      string       `json:"bundle_id"`
	Template      string       `json:"template"`
	Scope         Scope        `json:"scope"`
	SourceMUIDs   []string     `json:"source_mu_ids"`
	CreatedAt     string       `json:"created_at"`
	QueryOn       QueryOn      `json:"query_on"`
	Evidence      []Evidence   `json:"evidence"`
	Diagnostics   *Diagnostics `json:"diagnostics,omitempty"`
}

// Request is every input a bundle build accepts.
type Request struct {
	DB              *index.DB
	DataRoot        string
	Workspace       string
	Query           string
	Days            int
	EvidenceDepth   string // mu_ids|mu_snippets|raw_quotes
	TargetLevel     string // private|org|public
	Limit           int

	TemplateName    string
	TemplateDoc     *template.Doc
	QuestionSetup   *template.QuestionSetup
	QuestionExpect  *template.QuestionExpect
	QuestionBudget  *template.QuestionBudget

	IncludeDiagnostics bool

	VaultRoots      map[string]string
	RawManifestPath string
}

func newBundleID(now time.Time) string {
	return "bndl_" + now.UTC().Format("20060102150405")
}

func isoDaysAgo(now time.Time, days int) string {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
}

// Build runs the full bundle pipeline: optionally compile a
// template spec, fold+canonicalize workspace membership, retrieve via the
// index intersected with the canonical set at the query level, attach
// evidence per evidence_depth, and emit a Bundle with diagnostics.
func Build(ctx context.Context, req Request, now time.Time) (Bundle, error) {
	log := dcontext.GetLogger(ctx)

	templateLabel := req.templateLabel()
	days := req.Days
	if days == 0 {
		days = 7
	}
	evidenceDepth := req.EvidenceDepth
	if evidenceDepth == "" {
		evidenceDepth = "mu_ids"
	}
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	var diag *Diagnostics
	if req.IncludeDiagnostics {
		diag = &Diagnostics{}
	}

	if req.TemplateName != "" && req.TemplateDoc != nil {
		compiled := template.MergeSpec(req.TemplateName, req.TemplateDoc.Defaults, req.QuestionSetup, req.QuestionExpect, req.QuestionBudget)
		final, plan := template.DowngradeForBudget(compiled)

		templateLabel = final.Template
		days = final.ScopeDays
		evidenceDepth = final.Granularity.EvidenceDepth
		limit = final.Budget.MaxMU

		if diag != nil {
			compiledCopy, finalCopy := compiled, final
			diag.CompiledSpec = &compiledCopy
			diag.FinalSpec = &finalCopy
			diag.DowngradePlan = plan
		}
	}

	since := isoDaysAgo(now, days)

	effective, memDiag, err := membership.LoadEffectiveMembership(req.DataRoot, req.Workspace)
	if err != nil {
		return Bundle{}, err
	}

	effectiveIDs := make([]string, 0, len(effective))
	for id := range effective {
		effectiveIDs = append(effectiveIDs, id)
	}
	sort.Strings(effectiveIDs)

	linkRows, err := req.DB.LinkRows()
	if err != nil {
		return Bundle{}, err
	}
	canonMap, canonDiag, err := membership.Canonicalize(linkRows, effectiveIDs)
	if err != nil {
		return Bundle{}, err
	}

	canonSet := map[string]bool{}
	for _, c := range canonMap {
		canonSet[c] = true
	}
	canonicalIDs := make([]string, 0, len(canonSet))
	for id := range canonSet {
		canonicalIDs = append(canonicalIDs, id)
	}
	sort.Strings(canonicalIDs)

	if diag != nil {
		diag.Membership = map[string]any{
			"workspace_id":             memDiag.WorkspaceID,
			"membership_path":          memDiag.MembershipPath,
			"events_total":             memDiag.EventsTotal,
			"adds":                     memDiag.Adds,
			"removes":                  memDiag.Removes,
			"effective_count":          memDiag.EffectiveCount,
			"canonicalized_count":      len(canonicalIDs),
			"folded_by_supersedes":     canonDiag.FoldedBySupersedes,
			"folded_by_corrects":       canonDiag.FoldedByCorrects,
			"folded_by_duplicate_of":   canonDiag.FoldedByDuplicateOf,
			"tombstoned_excluded":      canonDiag.TombstonedExcluded,
			"cycles_detected":          canonDiag.CyclesDetected,
		}
	}

	includeSnippet := evidenceDepth == "mu_snippets"
	includeRawQuotes := evidenceDepth == "raw_quotes"

	results, err := req.DB.Search(index.SearchQuery{
		Query:          req.Query,
		Since:          since,
		TargetLevel:    req.TargetLevel,
		IncludeSnippet: includeSnippet,
		Limit:          limit,
		AllowMUIDs:     canonicalIDs,
	})
	if err != nil {
		return Bundle{}, err
	}

	muIDs := make([]string, 0, len(results))
	evidence := make([]Evidence, 0, len(results))
	var degradedIDs []string
	var repairTasks []RepairTask

	for _, r := range results {
		muIDs = append(muIDs, r.MUID)

		switch {
		case includeRawQuotes:
			ev, degraded, rt := attachRawQuote(r.MUID, r.Path, req.TargetLevel, req.VaultRoots, req.RawManifestPath)
			evidence = append(evidence, ev)
			if degraded {
				degradedIDs = append(degradedIDs, r.MUID)
			}
			if rt != nil {
				repairTasks = append(repairTasks, *rt)
			}
		case includeSnippet:
			evidence = append(evidence, Evidence{MUID: r.MUID, Snippet: r.Summary})
		default:
			evidence = append(evidence, Evidence{MUID: r.MUID})
		}
	}

	b := Bundle{
		BundleID:    newBundleID(now),
		Template:    templateLabel,
		Scope:       Scope{TimeWindowDays: days, Since: since, Workspace: req.Workspace},
		SourceMUIDs: muIDs,
		CreatedAt:   now.UTC().Format(time.RFC3339),
		QueryOn:     QueryOn{Query: req.Query},
		Evidence:    evidence,
	}

	if diag != nil {
		if len(req.VaultRoots) > 0 {
			diag.VaultRoots = req.VaultRoots
		}
		if req.RawManifestPath != "" {
			diag.RawManifest = req.RawManifestPath
		}
		if len(degradedIDs) > 0 {
			diag.EvidenceDegraded = true
			diag.EvidenceDegradedMUIDs = sortedUnique(degradedIDs)
		}
		diag.RepairTasks = repairTasks

		if errs := Validate(b); len(errs) > 0 {
			diag.BundleSchemaErrors = errs
		}

		b.Diagnostics = diag
		log.Debugf("built bundle %s over %d candidates (evidence_depth=%s)", b.BundleID, len(muIDs), evidenceDepth)
	}

	return b, nil
}

func sortedUnique(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// attachRawQuote loads the MU at muPath and tries every pointer in order,
// keeping the first one pointer.Resolve reports ok for with a non-empty
// snippet. A pointer is
// only carried in the evidence entry when targetLevel is "private":
// non-private targets get the resolved snippet but never the raw
// uri/locator.
func attachRawQuote(muID, muPath, targetLevel string, vaultRoots map[string]string, rawManifestPath string) (Evidence, bool, *RepairTask) {
	if muPath == "" {
		return Evidence{MUID: muID}, false, nil
	}

	raw, err := os.ReadFile(muPath)
	if err != nil {
		return Evidence{MUID: muID}, false, nil
	}
	mu, err := muyaml.Load(raw)
	if err != nil {
		return Evidence{MUID: muID}, false, nil
	}

	var lastFail pointer.Outcome
	var lastFailPtr *muyaml.Pointer

	for i := range mu.Pointer {
		p := mu.Pointer[i]
		out := pointer.Resolve(p, vaultRoots, rawManifestPath)
		if out.OK && out.Snippet != "" {
			resolved := p
			resolved.URI = out.URI
			ev := Evidence{MUID: muID, Snippet: out.Snippet}
			if targetLevel == "private" {
				ev.Pointer = []muyaml.Pointer{resolved}
			}
			return ev, false, nil
		}
		lastFail = out
		lastFailPtr = &p
	}

	if mu.Snapshot != nil {
		var rt *RepairTask
		if lastFailPtr != nil {
			reason, _ := lastFail.Diagnostics["error"].(string)
			rt = &RepairTask{
				Type:   "REPAIR_POINTER",
				MUID:   muID,
				MUPath: muPath,
				SHA256: lastFailPtr.SHA256,
				URI:    lastFailPtr.URI,
				Reason: reason,
				Hint: map[string]any{
					"need_vault_roots": len(vaultRoots) == 0,
					"need_raw_manifest": rawManifestPath == "",
				},
			}
		}
		return Evidence{MUID: muID, Snapshot: true}, true, rt
	}

	if lastFailPtr != nil {
		reason, _ := lastFail.Diagnostics["error"].(string)
		return Evidence{MUID: muID}, false, &RepairTask{
			Type:   "REPAIR_POINTER",
			MUID:   muID,
			MUPath: muPath,
			SHA256: lastFailPtr.SHA256,
			URI:    lastFailPtr.URI,
			Reason: reason,
			Hint: map[string]any{
				"need_vault_roots":  len(vaultRoots) == 0,
				"need_raw_manifest": rawManifestPath == "",
			},
		}
	}

	return Evidence{MUID: muID}, false, nil
}

// templateLabel returns the bundle's nominal template label before any
// template-compile override runs (empty string falls back to a literal
// template name the caller would otherwise have passed directly).
func (r Request) templateLabel() string {
	if r.TemplateName != "" {
		return r.TemplateName
	}
	return "ad_hoc"
}

// Validate checks the minimal shape every Bundle must carry, returning a
// human-readable error per violation rather than raising; schema errors
// are meant to be recorded in diagnostics, not to abort a build.
func Validate(b Bundle) []string {
	var errs []string
	if b.BundleID == "" {
		errs = append(errs, "bundle_id: required")
	}
	if b.Template == "" {
		errs = append(errs, "template: required")
	}
	if b.Scope.Workspace == "" {
		errs = append(errs, "scope.workspace: required")
	}
	if b.CreatedAt == "" {
		errs = append(errs, "created_at: required")
	}
	if b.SourceMUIDs == nil {
		errs = append(errs, "source_mu_ids: required")
	}
	for i, ev := range b.Evidence {
		if ev.MUID == "" {
			errs = append(errs, "evidence["+strconv.Itoa(i)+"].mu_id: required")
		}
	}
	return errs
}

// TasksFromBundle converts diagnostics.repair_tasks signals into the
// concrete REPAIR_POINTER TaskSpecs a repair executor consumes.
func TasksFromBundle(b Bundle, now time.Time) []task.Spec {
	if b.Diagnostics == nil || len(b.Diagnostics.RepairTasks) == 0 {
		return nil
	}

	created := now.UTC().Format(time.RFC3339)
	var specs []task.Spec
	for _, rt := range b.Diagnostics.RepairTasks {
		if rt.Type != "REPAIR_POINTER" || rt.MUID == "" {
			continue
		}
		specs = append(specs, task.Spec{
			TaskID:         task.NewTaskID(),
			Type:           "REPAIR_POINTER",
			CreatedAt:      created,
			IdempotencyKey: "sha256:" + rt.MUID + ":" + rt.SHA256 + ":" + rt.URI,
			Inputs:         []task.Input{{Kind: "MU_SET", IDs: []string{rt.MUID}}},
			Params: map[string]any{
				"mu_id":            rt.MUID,
				"mu_path":          rt.MUPath,
				"sha256":           rt.SHA256,
				"uri":              rt.URI,
				"reason":           rt.Reason,
				"hint":             rt.Hint,
				"source_bundle_id": b.BundleID,
			},
		})
	}
	return specs
}
