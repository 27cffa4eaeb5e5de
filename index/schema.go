// Package index implements the derived, rebuildable metadata store: an
// embedded SQLite database (pure-Go, via ncruces/go-sqlite3 so the module
// never needs cgo) holding the mu/tag/mu_tag tables, an FTS5 index over MU
// summaries, and a view cache. The index is a pure function of the MU
// file tree — a full rebuild from scratch is always safe.
package index

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

const schemaSQL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS mu (
  mu_id TEXT PRIMARY KEY,
  time TEXT,
  summary TEXT,
  content_hash TEXT,
  mu_key TEXT,
  privacy_level TEXT,
  corrects_json TEXT,
  supersedes_json TEXT,
  duplicate_of_json TEXT,
  tombstone_json TEXT,
  source_kind TEXT,
  source_note TEXT,
  path TEXT,
  mtime REAL
);

CREATE TABLE IF NOT EXISTS tag (
  tag TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS mu_tag (
  mu_id TEXT NOT NULL,
  tag TEXT NOT NULL,
  PRIMARY KEY (mu_id, tag),
  FOREIGN KEY (mu_id) REFERENCES mu(mu_id) ON DELETE CASCADE,
  FOREIGN KEY (tag) REFERENCES tag(tag) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS mu_fts USING fts5(
  mu_id UNINDEXED,
  summary,
  content='mu',
  content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS mu_ai AFTER INSERT ON mu BEGIN
  INSERT INTO mu_fts(rowid, mu_id, summary) VALUES (new.rowid, new.mu_id, coalesce(new.summary,''));
END;

CREATE TRIGGER IF NOT EXISTS mu_ad AFTER DELETE ON mu BEGIN
  INSERT INTO mu_fts(mu_fts, rowid, mu_id, summary) VALUES ('delete', old.rowid, old.mu_id, old.summary);
END;

CREATE TRIGGER IF NOT EXISTS mu_au AFTER UPDATE ON mu BEGIN
  INSERT INTO mu_fts(mu_fts, rowid, mu_id, summary) VALUES ('delete', old.rowid, old.mu_id, old.summary);
  INSERT INTO mu_fts(rowid, mu_id, summary) VALUES (new.rowid, new.mu_id, coalesce(new.summary,''));
END;

CREATE INDEX IF NOT EXISTS idx_mu_time ON mu(time);
CREATE INDEX IF NOT EXISTS idx_mu_privacy ON mu(privacy_level);

CREATE TABLE IF NOT EXISTS view_cache (
  view_id TEXT PRIMARY KEY,
  template TEXT NOT NULL,
  scope_json TEXT NOT NULL,
  source_mu_ids_json TEXT NOT NULL,
  source_mu_hash TEXT,
  created_at TEXT NOT NULL,
  expires_at TEXT,
  stale INTEGER NOT NULL DEFAULT 0,
  content_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_view_template ON view_cache(template);
CREATE INDEX IF NOT EXISTS idx_view_stale ON view_cache(stale);

CREATE TABLE IF NOT EXISTS tasks (
  task_id TEXT PRIMARY KEY,
  idempotency_key TEXT,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  elapsed_ms INTEGER,
  spec_json TEXT NOT NULL,
  result_json TEXT NOT NULL,
  context_json TEXT
);
`

// DB wraps the metadata sqlite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if absent) the metadata database at path and runs
// the schema migrations. Safe to call repeatedly.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, merrors.Wrap(merrors.KindTransientIO, "index.Open", "mkdir db dir", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindTransientIO, "index.Open", "open sqlite", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return merrors.Wrap(merrors.KindIntegrity, "index.migrate", "apply schema", err)
	}
	for _, stmt := range []string{
		`ALTER TABLE mu ADD COLUMN supersedes_json TEXT`,
		`ALTER TABLE mu ADD COLUMN duplicate_of_json TEXT`,
	} {
		_, _ = db.conn.Exec(stmt) // ignore "duplicate column" once the migration has applied
	}
	return nil
}

// Close releases the underlying sqlite connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Reset drops and recreates every managed table, for a full index rebuild
// from the MU file tree. The MU tree itself is always the source of
// truth, so this is always safe to run.
func (db *DB) Reset() error {
	drops := []string{
		`DROP TABLE IF EXISTS mu_tag`,
		`DROP TABLE IF EXISTS tag`,
		`DROP TABLE IF EXISTS mu_fts`,
		`DROP TABLE IF EXISTS mu`,
	}
	for _, stmt := range drops {
		if _, err := db.conn.Exec(stmt); err != nil {
			return merrors.Wrap(merrors.KindIntegrity, "index.Reset", "drop table", err)
		}
	}
	return db.migrate()
}
