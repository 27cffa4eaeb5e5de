package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/digest"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// View is a cached, reusable rendering of some scope/template over a set
// of MU ids. Its dependency set (SourceMUIDs) is what invalidation keys
// off — there is no attempt to diff content, only to notice a dependency
// changed.
type View struct {
	ViewID       string
	Template     string
	Scope        map[string]any
	SourceMUIDs  []string
	CreatedAt    string
	ExpiresAt    string
	Stale        bool
	Content      map[string]any
}

// PutView inserts or replaces a view, content-addressing its dependency
// fingerprint as sha256(scope_json + "|" + sorted(source_mu_ids)_json) so
// two calls with identical scope+deps collide on the same hash even if
// never compared directly.
func (db *DB) PutView(v View) error {
	scopeJSON, err := json.Marshal(v.Scope)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "index.PutView", "encode scope", err)
	}

	ids := append([]string(nil), v.SourceMUIDs...)
	sort.Strings(ids)
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "index.PutView", "encode source_mu_ids", err)
	}

	sourceHash := digest.FromBytes(append(append(scopeJSON, '|'), idsJSON...))

	contentJSON, err := json.Marshal(v.Content)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "index.PutView", "encode content", err)
	}

	createdAt := v.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err = db.conn.Exec(`
		INSERT OR REPLACE INTO view_cache
		  (view_id, template, scope_json, source_mu_ids_json, source_mu_hash, created_at, expires_at, stale, content_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		v.ViewID, v.Template, string(scopeJSON), string(idsJSON), string(sourceHash), createdAt,
		nullableStr(v.ExpiresAt), string(contentJSON),
	)
	if err != nil {
		return merrors.Wrap(merrors.KindIntegrity, "index.PutView", "insert view_cache row", err)
	}
	return nil
}

// GetView returns the view stored under viewID, or (nil, nil) if absent.
func (db *DB) GetView(viewID string) (*View, error) {
	row := db.conn.QueryRow(`
		SELECT view_id, template, scope_json, source_mu_ids_json, created_at, expires_at, stale, content_json
		FROM view_cache WHERE view_id = ?`, viewID)

	var v View
	var scopeJSON, idsJSON, contentJSON string
	var expiresAt *string
	var staleInt int

	if err := row.Scan(&v.ViewID, &v.Template, &scopeJSON, &idsJSON, &v.CreatedAt, &expiresAt, &staleInt, &contentJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetView", "scan view_cache row", err)
	}

	if expiresAt != nil {
		v.ExpiresAt = *expiresAt
	}
	v.Stale = staleInt != 0

	if err := json.Unmarshal([]byte(scopeJSON), &v.Scope); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetView", "decode scope", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &v.SourceMUIDs); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetView", "decode source_mu_ids", err)
	}
	if err := json.Unmarshal([]byte(contentJSON), &v.Content); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.GetView", "decode content", err)
	}

	return &v, nil
}

// InvalidateByMUIDs marks stale every non-stale view whose dependency set
// intersects changed. Brute-force scan: linear in the number of views,
// acceptable at this scale.
func (db *DB) InvalidateByMUIDs(changed []string) (int, error) {
	if len(changed) == 0 {
		return 0, nil
	}
	changedSet := make(map[string]bool, len(changed))
	for _, id := range changed {
		changedSet[id] = true
	}

	rows, err := db.conn.Query(`SELECT view_id, source_mu_ids_json FROM view_cache WHERE stale = 0`)
	if err != nil {
		return 0, merrors.Wrap(merrors.KindIntegrity, "index.InvalidateByMUIDs", "query view_cache", err)
	}

	var toStale []string
	for rows.Next() {
		var viewID, idsJSON string
		if err := rows.Scan(&viewID, &idsJSON); err != nil {
			rows.Close()
			return 0, merrors.Wrap(merrors.KindIntegrity, "index.InvalidateByMUIDs", "scan row", err)
		}
		var deps []string
		if err := json.Unmarshal([]byte(idsJSON), &deps); err != nil {
			continue
		}
		for _, d := range deps {
			if changedSet[d] {
				toStale = append(toStale, viewID)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, merrors.Wrap(merrors.KindIntegrity, "index.InvalidateByMUIDs", "iterate rows", err)
	}
	rows.Close()

	for _, vid := range toStale {
		if _, err := db.conn.Exec(`UPDATE view_cache SET stale = 1 WHERE view_id = ?`, vid); err != nil {
			return len(toStale), merrors.Wrap(merrors.KindIntegrity, "index.InvalidateByMUIDs", "mark stale", err)
		}
	}

	return len(toStale), nil
}
