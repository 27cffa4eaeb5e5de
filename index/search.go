package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
)

// SearchQuery is a search_mu request: a keyword query plus time/tag/privacy
// filters and an optional membership fence.
type SearchQuery struct {
	Query         string
	Since         string
	Until         string
	Tag           string
	Privacy       string
	TargetLevel   string // defaults to "private"
	IncludeSnippet bool
	Limit         int
	AllowMUIDs    []string // membership fence; nil means unfenced
}

// SearchResult is one ranked hit.
type SearchResult struct {
	MUID         string
	Score        *float64
	Summary      string
	Reason       map[string]any
	Path         string
	PrivacyLevel string
}

// looksLikeCJK reports whether s contains any CJK Unified Ideograph, a
// case FTS5's default tokenizer segments poorly.
func looksLikeCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}

// looksLikeUnsafeFTS reports whether s contains characters outside the
// conservative ASCII-word-plus-space set FTS5 MATCH tolerates without a
// syntax error (punctuation, operators, leading dashes). CJK unified
// ideographs (U+4E00-U+9FFF) are also treated as safe.
func looksLikeUnsafeFTS(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '_':
			continue
		case r >= 0x4e00 && r <= 0x9fff:
			continue
		default:
			return true
		}
	}
	return false
}

// Search runs a hybrid keyword query: FTS5 MATCH with bm25 ranking for
// simple ASCII-ish queries, falling back to a LIKE scan (ordered by time
// descending, no score) for CJK or punctuation-heavy queries that would
// otherwise trip FTS5's MATCH syntax. Results are fenced to AllowMUIDs
// when non-nil, and filtered to rows at or below TargetLevel visibility.
func (db *DB) Search(q SearchQuery) ([]SearchResult, error) {
	targetLevel := q.TargetLevel
	if targetLevel == "" {
		targetLevel = "private"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	trimmed := strings.TrimSpace(q.Query)
	hasQuery := trimmed != ""
	useLike := hasQuery && (looksLikeCJK(trimmed) || looksLikeUnsafeFTS(trimmed))

	var (
		joins    []string
		wheres   []string
		args     []any
		scoreSQL = "NULL"
	)

	switch {
	case hasQuery && !useLike:
		joins = append(joins, "JOIN mu_fts ON mu_fts.mu_id = mu.mu_id")
		wheres = append(wheres, "mu_fts MATCH ?")
		args = append(args, trimmed)
		scoreSQL = "bm25(mu_fts)"
	case hasQuery && useLike:
		wheres = append(wheres, "mu.summary LIKE ?")
		args = append(args, "%"+trimmed+"%")
	}

	if q.Since != "" {
		wheres = append(wheres, "mu.time >= ?")
		args = append(args, q.Since)
	}
	if q.Until != "" {
		wheres = append(wheres, "mu.time <= ?")
		args = append(args, q.Until)
	}
	if q.Privacy != "" {
		wheres = append(wheres, "mu.privacy_level = ?")
		args = append(args, q.Privacy)
	}
	if q.Tag != "" {
		joins = append(joins, "JOIN mu_tag ON mu_tag.mu_id = mu.mu_id")
		wheres = append(wheres, "mu_tag.tag = ?")
		args = append(args, q.Tag)
	}
	if q.AllowMUIDs != nil {
		if len(q.AllowMUIDs) == 0 {
			return nil, nil
		}
		ids := append([]string(nil), q.AllowMUIDs...)
		sort.Strings(ids)
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		wheres = append(wheres, "mu.mu_id IN ("+strings.Join(placeholders, ",")+")")
	}

	query := fmt.Sprintf("SELECT mu.mu_id, mu.summary, mu.privacy_level, mu.path, %s as score FROM mu %s",
		scoreSQL, strings.Join(joins, " "))
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	if hasQuery && !useLike {
		query += " ORDER BY score ASC"
	} else {
		query += " ORDER BY mu.time DESC"
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.Search", "run query", err)
	}
	defer rows.Close()

	targetRank := muyaml.PrivacyRank[targetLevel]

	var results []SearchResult
	for rows.Next() {
		var muID string
		var summary, privacyLevel, path *string
		var score *float64

		if err := rows.Scan(&muID, &summary, &privacyLevel, &path, &score); err != nil {
			return nil, merrors.Wrap(merrors.KindIntegrity, "index.Search", "scan row", err)
		}

		level := "private"
		if privacyLevel != nil {
			level = *privacyLevel
		}
		if rank, ok := muyaml.PrivacyRank[level]; ok && rank > targetRank {
			continue
		}

		reason := map[string]any{"filters": map[string]any{}}
		if hasQuery {
			reason["fts"] = map[string]any{"query": q.Query, "bm25": score}
		}
		filters := reason["filters"].(map[string]any)
		if q.Since != "" || q.Until != "" {
			filters["time"] = map[string]any{"since": q.Since, "until": q.Until}
		}
		if q.Tag != "" {
			filters["tag"] = q.Tag
		}
		if q.Privacy != "" {
			filters["privacy"] = q.Privacy
		}

		summaryStr := ""
		if summary != nil {
			summaryStr = *summary
		}
		out := summaryStr
		if q.IncludeSnippet {
			out = makeSnippet(summaryStr, q.Query, 220)
			reason["snippet"] = map[string]any{"max_chars": 220}
		}

		pathStr := ""
		if path != nil {
			pathStr = *path
		}

		results = append(results, SearchResult{
			MUID:         muID,
			Score:        score,
			Summary:      out,
			Reason:       reason,
			Path:         pathStr,
			PrivacyLevel: level,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, merrors.Wrap(merrors.KindIntegrity, "index.Search", "iterate rows", err)
	}

	return results, nil
}

// makeSnippet extracts a window of text around the first match of query
// inside summary, falling back to a plain truncation when the query does
// not literally appear (e.g. it was an FTS expression).
func makeSnippet(summary, query string, maxChars int) string {
	s := strings.TrimSpace(summary)
	if s == "" {
		return s
	}
	if len(s) <= maxChars {
		return s
	}

	q := strings.TrimSpace(query)
	if q != "" {
		if i := strings.Index(strings.ToLower(s), strings.ToLower(q)); i >= 0 {
			start := i - 60
			if start < 0 {
				start = 0
			}
			end := i + len(q) + 120
			if end > len(s) {
				end = len(s)
			}
			chunk := s[start:end]
			if start > 0 {
				chunk = "…" + chunk
			}
			if end < len(s) {
				chunk = chunk + "…"
			}
			return chunk
		}
	}

	return s[:maxChars-1] + "…"
}
