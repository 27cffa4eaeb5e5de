// Package manifestsync compares a base manifest against an incoming one,
// classifies conflicts, and plans a conservative append-only patch. It
// never mutates a manifest itself except through the explicit Apply step,
// and even then only ever appends APPEND_RECORD actions.
package manifestsync

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

// Kind is the manifest family being compared.
type Kind string

const (
	KindRaw   Kind = "raw"
	KindMU    Kind = "mu"
	KindAsset Kind = "asset"
)

// idKey returns the record field that uniquely identifies a Kind's records.
func idKey(kind Kind) (string, error) {
	switch kind {
	case KindRaw:
		return "raw_id", nil
	case KindMU:
		return "mu_id", nil
	case KindAsset:
		return "asset_id", nil
	default:
		return "", merrors.Validation("manifestsync.idKey", fmt.Sprintf("unknown kind %q", kind))
	}
}

// ConflictType enumerates the taxonomy of record-level mismatches.
type ConflictType string

const (
	ConflictSchemaError           ConflictType = "SCHEMA_ERROR"
	ConflictIDDifferentSHA        ConflictType = "ID_COLLISION_DIFFERENT_SHA"
	ConflictURIDifferentSHA       ConflictType = "URI_COLLISION_DIFFERENT_SHA"
	ConflictSHADifferentURI       ConflictType = "SHA_COLLISION_DIFFERENT_URI"
)

// Severity is ERROR (blocks auto-apply) or WARN (informational).
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// Conflict is one classified mismatch between base and incoming records.
type Conflict struct {
	Type             ConflictType     `json:"type"`
	Severity         Severity         `json:"severity"`
	Key              string           `json:"key"`
	Message          string           `json:"message"`
	BaseRecords      []map[string]any `json:"base_records"`
	IncomingRecords  []map[string]any `json:"incoming_records"`
}

// ManifestStat describes one side of a compared manifest.
type ManifestStat struct {
	Path      string `json:"path"`
	LineCount int    `json:"line_count"`
}

// Stats summarizes a Report's record-level comparison.
type Stats struct {
	BaseUnique     int `json:"base_unique"`
	IncomingUnique int `json:"incoming_unique"`
	ExactDupes     int `json:"exact_dupes"`
	NewRecords     int `json:"new_records"`
}

// Report is the machine-first classification of base vs incoming.
type Report struct {
	ReportVersion string       `json:"report_version"`
	CreatedAt     string       `json:"created_at"`
	Kind          Kind         `json:"kind"`
	Base          ManifestStat `json:"base"`
	Incoming      ManifestStat `json:"incoming"`
	Stats         Stats        `json:"stats"`
	Conflicts     []Conflict   `json:"conflicts"`
}

func readLines(path string) ([]map[string]any, []Conflict, int, error) {
	var records []map[string]any
	var conflicts []Conflict
	lineNo := 0

	err := vault.IterJSONL(path, func(rec map[string]any) error {
		lineNo++
		records = append(records, rec)
		return nil
	})
	if err != nil {
		conflicts = append(conflicts, Conflict{
			Type: ConflictSchemaError, Severity: SeverityError,
			Key: path, Message: fmt.Sprintf("invalid manifest: %v", err),
		})
		return records, conflicts, lineNo, nil
	}

	return records, conflicts, lineNo, nil
}

func fingerprint(rec map[string]any) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(rec))
	for _, k := range keys {
		ordered[k] = rec[k]
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

func indexBy(records []map[string]any, key string) map[string][]map[string]any {
	idx := map[string][]map[string]any{}
	for _, r := range records {
		v, ok := r[key].(string)
		if !ok || v == "" {
			continue
		}
		idx[v] = append(idx[v], r)
	}
	return idx
}

func shaSet(recs []map[string]any) map[string]bool {
	out := map[string]bool{}
	for _, r := range recs {
		if s, ok := r["sha256"].(string); ok && s != "" {
			out[s] = true
		}
	}
	return out
}

func uriSet(recs []map[string]any) map[string]bool {
	out := map[string]bool{}
	for _, r := range recs {
		if u, ok := r["uri"].(string); ok && u != "" {
			out[u] = true
		}
	}
	return out
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Analyze compares basePath against incomingPath for the given kind and
// returns a classification report. It never mutates either manifest.
func Analyze(kind Kind, basePath, incomingPath string) (Report, error) {
	key, err := idKey(kind)
	if err != nil {
		return Report{}, err
	}

	baseRecs, baseConf, baseLines, err := readLines(basePath)
	if err != nil {
		return Report{}, err
	}
	incRecs, incConf, incLines, err := readLines(incomingPath)
	if err != nil {
		return Report{}, err
	}

	var conflicts []Conflict
	conflicts = append(conflicts, baseConf...)
	conflicts = append(conflicts, incConf...)

	baseFP := map[string]bool{}
	for _, r := range baseRecs {
		baseFP[fingerprint(r)] = true
	}
	exactDupes := 0
	for _, r := range incRecs {
		if baseFP[fingerprint(r)] {
			exactDupes++
		}
	}

	baseByID := indexBy(baseRecs, key)
	incByID := indexBy(incRecs, key)

	for rid, incList := range incByID {
		baseList, ok := baseByID[rid]
		if !ok {
			continue
		}
		bSha, iSha := shaSet(baseList), shaSet(incList)
		if len(bSha) > 0 && len(iSha) > 0 && !setsEqual(bSha, iSha) {
			conflicts = append(conflicts, Conflict{
				Type: ConflictIDDifferentSHA, Severity: SeverityError, Key: rid,
				Message:         fmt.Sprintf("same %s but sha256 differs: base=%v incoming=%v", key, sortedKeys(bSha), sortedKeys(iSha)),
				BaseRecords:     baseList,
				IncomingRecords: incList,
			})
		}
	}

	baseBySha := indexBy(baseRecs, "sha256")
	incBySha := indexBy(incRecs, "sha256")
	for sha, incList := range incBySha {
		baseList, ok := baseBySha[sha]
		if !ok {
			continue
		}
		bURI, iURI := uriSet(baseList), uriSet(incList)
		if len(bURI) > 0 && len(iURI) > 0 && !setsEqual(bURI, iURI) {
			conflicts = append(conflicts, Conflict{
				Type: ConflictSHADifferentURI, Severity: SeverityWarn, Key: sha,
				Message:         fmt.Sprintf("same sha256 but uri differs: base=%v incoming=%v", sortedKeys(bURI), sortedKeys(iURI)),
				BaseRecords:     baseList,
				IncomingRecords: incList,
			})
		}
	}

	baseByURI := indexBy(baseRecs, "uri")
	incByURI := indexBy(incRecs, "uri")
	for uri, incList := range incByURI {
		baseList, ok := baseByURI[uri]
		if !ok {
			continue
		}
		bSha, iSha := shaSet(baseList), shaSet(incList)
		if len(bSha) > 0 && len(iSha) > 0 && !setsEqual(bSha, iSha) {
			conflicts = append(conflicts, Conflict{
				Type: ConflictURIDifferentSHA, Severity: SeverityError, Key: uri,
				Message:         fmt.Sprintf("same uri but sha256 differs: base=%v incoming=%v", sortedKeys(bSha), sortedKeys(iSha)),
				BaseRecords:     baseList,
				IncomingRecords: incList,
			})
		}
	}

	newCount := 0
	for rid := range incByID {
		if _, ok := baseByID[rid]; !ok {
			newCount++
		}
	}

	return Report{
		ReportVersion: "0.1",
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Kind:          kind,
		Base:          ManifestStat{Path: basePath, LineCount: baseLines},
		Incoming:      ManifestStat{Path: incomingPath, LineCount: incLines},
		Stats: Stats{
			BaseUnique:     len(baseByID),
			IncomingUnique: len(incByID),
			ExactDupes:     exactDupes,
			NewRecords:     newCount,
		},
		Conflicts: conflicts,
	}, nil
}
