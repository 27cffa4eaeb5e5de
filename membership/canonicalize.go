package membership

import (
	"encoding/json"

	"github.com/Coinsides/mimobrain-memory-system/index"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

const maxHops = 16

// CanonicalizeDiagnostics reports exactly how the fold maps were built
// and how each input id resolved.
type CanonicalizeDiagnostics struct {
	FoldedBySupersedes  map[string]string
	FoldedByCorrects    map[string]string
	FoldedByDuplicateOf map[string]string
	TombstonedExcluded  []string
	CyclesDetected      [][]string
	ReverseCorrectsSize  int
	ReverseSupersedesSize int
	ForwardDuplicateOfSize int
}

// relations holds the forward/reverse lookup maps built once from every
// linked mu row, then reused across every input id's single-hop walk.
type relations struct {
	reverseCorrects   map[string]string // corrected-by: target -> corrector
	reverseSupersedes map[string]string // superseded-by: target -> supersessor
	forwardDuplicateOf map[string]string // duplicate -> canonical
	tombstoned        map[string]bool
}

func buildRelations(rows []index.LinkRow) (relations, error) {
	r := relations{
		reverseCorrects:    map[string]string{},
		reverseSupersedes:  map[string]string{},
		forwardDuplicateOf: map[string]string{},
		tombstoned:         map[string]bool{},
	}

	for _, row := range rows {
		if row.TombstoneJSON != "" {
			r.tombstoned[row.MUID] = true
		}
		if row.CorrectsJSON != "" {
			var targets []string
			if err := json.Unmarshal([]byte(row.CorrectsJSON), &targets); err != nil {
				return relations{}, merrors.Wrap(merrors.KindIntegrity, "membership.buildRelations", "decode corrects", err)
			}
			for _, t := range targets {
				r.reverseCorrects[t] = row.MUID
			}
		}
		if row.SupersedesJSON != "" {
			var targets []string
			if err := json.Unmarshal([]byte(row.SupersedesJSON), &targets); err != nil {
				return relations{}, merrors.Wrap(merrors.KindIntegrity, "membership.buildRelations", "decode supersedes", err)
			}
			for _, t := range targets {
				r.reverseSupersedes[t] = row.MUID
			}
		}
		if row.DuplicateOfJSON != "" {
			var targets []string
			if err := json.Unmarshal([]byte(row.DuplicateOfJSON), &targets); err != nil {
				return relations{}, merrors.Wrap(merrors.KindIntegrity, "membership.buildRelations", "decode duplicate_of", err)
			}
			// Only the first listed target is canonical.
			if len(targets) > 0 && targets[0] != "" {
				r.forwardDuplicateOf[row.MUID] = targets[0]
			}
		}
	}
	return r, nil
}

// step applies one hop of priority order supersedes > corrects >
// duplicate_of to id, returning the next id and which relation fired (or
// "" if none fired, meaning id is already canonical).
func (r relations) step(id string) (next string, via string) {
	if s, ok := r.reverseSupersedes[id]; ok {
		return s, "supersedes"
	}
	if c, ok := r.reverseCorrects[id]; ok {
		return c, "corrects"
	}
	if d, ok := r.forwardDuplicateOf[id]; ok {
		return d, "duplicate_of"
	}
	return "", ""
}

// Canonicalize resolves each of ids to its canonical form: repeatedly
// applying step (bounded at maxHops hops, priority supersedes > corrects >
// duplicate_of) until no relation fires, a cycle is detected via a
// per-input visited set, or the hop bound is hit. Any id that becomes
// tombstoned mid-walk is excluded from the result rather than returned.
func Canonicalize(rows []index.LinkRow, ids []string) (map[string]string, CanonicalizeDiagnostics, error) {
	rel, err := buildRelations(rows)
	if err != nil {
		return nil, CanonicalizeDiagnostics{}, err
	}

	diag := CanonicalizeDiagnostics{
		FoldedBySupersedes:    map[string]string{},
		FoldedByCorrects:      map[string]string{},
		FoldedByDuplicateOf:   map[string]string{},
		ReverseCorrectsSize:   len(rel.reverseCorrects),
		ReverseSupersedesSize: len(rel.reverseSupersedes),
		ForwardDuplicateOfSize: len(rel.forwardDuplicateOf),
	}

	result := map[string]string{}

	for _, id := range ids {
		if rel.tombstoned[id] {
			diag.TombstonedExcluded = append(diag.TombstonedExcluded, id)
			continue
		}

		cur := id
		visited := map[string]bool{cur: true}

		for hop := 0; hop < maxHops; hop++ {
			next, via := rel.step(cur)
			if via == "" {
				break
			}
			if rel.tombstoned[next] {
				cur = next
				break
			}
			switch via {
			case "supersedes":
				diag.FoldedBySupersedes[cur] = next
			case "corrects":
				diag.FoldedByCorrects[cur] = next
			case "duplicate_of":
				diag.FoldedByDuplicateOf[cur] = next
			}
			if visited[next] {
				diag.CyclesDetected = append(diag.CyclesDetected, []string{id, next})
				break
			}
			visited[next] = true
			cur = next
		}

		if rel.tombstoned[cur] {
			diag.TombstonedExcluded = append(diag.TombstonedExcluded, id)
			continue
		}
		// A detected cycle still resolves to cur, the last stable hop
		// reached before re-entry.
		result[id] = cur
	}

	return result, diag, nil
}
