package index

import (
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// LinkRow is the subset of an mu row canonicalization needs: its relation
// lists and tombstone state.
type LinkRow struct {
	MUID            string
	CorrectsJSON    string
	SupersedesJSON  string
	DuplicateOfJSON string
	TombstoneJSON   string
}

// LinkRows returns every mu row that carries at least one relation or a
// tombstone flag, the pre-filter canonicalization applies before building
// its fold maps.
func (db *DB) LinkRows() ([]LinkRow, error) {
	rows, err := db.conn.Query(`
		SELECT mu_id, corrects_json, supersedes_json, duplicate_of_json, tombstone_json
		FROM mu
		WHERE corrects_json IS NOT NULL
		   OR supersedes_json IS NOT NULL
		   OR duplicate_of_json IS NOT NULL
		   OR tombstone_json IS NOT NULL`)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.LinkRows", "query mu", err)
	}
	defer rows.Close()

	var out []LinkRow
	for rows.Next() {
		var r LinkRow
		var corrects, supersedes, dupOf, tombstone *string
		if err := rows.Scan(&r.MUID, &corrects, &supersedes, &dupOf, &tombstone); err != nil {
			return nil, merrors.Wrap(merrors.KindIntegrity, "index.LinkRows", "scan row", err)
		}
		if corrects != nil {
			r.CorrectsJSON = *corrects
		}
		if supersedes != nil {
			r.SupersedesJSON = *supersedes
		}
		if dupOf != nil {
			r.DuplicateOfJSON = *dupOf
		}
		if tombstone != nil {
			r.TombstoneJSON = *tombstone
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.LinkRows", "iterate rows", err)
	}
	return out, nil
}
