package index

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
)

// BuildResult reports how many MU files were indexed by a rebuild pass.
type BuildResult struct {
	Indexed int
}

// BuildFromMUTree walks muRoot for every *.mimo file, loads it, and
// upserts its row into mu/tag/mu_tag. When reset is true the managed
// tables are dropped and recreated first, matching the full-rebuild
// default: the index is derived from the MU tree and always safe to
// throw away and regenerate.
func BuildFromMUTree(ctx context.Context, db *DB, muRoot string, reset bool) (BuildResult, error) {
	log := dcontext.GetLogger(ctx)

	if reset {
		if err := db.Reset(); err != nil {
			return BuildResult{}, err
		}
	}

	var paths []string
	err := filepath.WalkDir(muRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".mimo") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return BuildResult{}, merrors.Wrap(merrors.KindTransientIO, "index.BuildFromMUTree", "walk mu root", err)
	}

	count := 0
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		mu, err := muyaml.Load(raw)
		if err != nil {
			log.Warnf("skipping unindexable mu file %s: %v", p, err)
			continue
		}

		info, err := os.Stat(p)
		var mtime float64
		if err == nil {
			mtime = float64(info.ModTime().UnixNano()) / 1e9
		}

		if err := db.UpsertMU(mu, p, mtime); err != nil {
			return BuildResult{Indexed: count}, err
		}
		count++
	}

	return BuildResult{Indexed: count}, nil
}

func jsonOrNil(v []string) any {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// UpsertMU writes (or replaces) mu's row plus its tag associations.
func (db *DB) UpsertMU(mu *muyaml.MU, path string, mtime float64) error {
	var tombstoneJSON any
	if mu.Links.IsTombstoned() {
		b, _ := json.Marshal(mu.Links.Tombstone)
		tombstoneJSON = string(b)
	}

	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO mu
		  (mu_id, time, summary, content_hash, mu_key, privacy_level, corrects_json,
		   supersedes_json, duplicate_of_json, tombstone_json, source_kind, source_note, path, mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mu.MUID, nullableStr(mu.Meta.Time), nullableStr(mu.Summary), nullableStr(mu.ContentHash),
		nullableStr(mu.Idempotency.MUKey), nullableStr(mu.Privacy.Level),
		jsonOrNil(mu.Links.Corrects), jsonOrNil(mu.Links.Supersedes), jsonOrNil(mu.Links.DuplicateOf),
		tombstoneJSON, nullableStr(mu.Meta.Source.Kind), nullableStr(mu.Meta.Source.Note),
		path, mtime,
	)
	if err != nil {
		return merrors.Wrap(merrors.KindIntegrity, "index.UpsertMU", "upsert mu row", err)
	}

	for _, t := range mu.Meta.Tags {
		if _, err := db.conn.Exec(`INSERT OR IGNORE INTO tag(tag) VALUES (?)`, t); err != nil {
			return merrors.Wrap(merrors.KindIntegrity, "index.UpsertMU", "insert tag", err)
		}
		if _, err := db.conn.Exec(`INSERT OR IGNORE INTO mu_tag(mu_id, tag) VALUES (?, ?)`, mu.MUID, t); err != nil {
			return merrors.Wrap(merrors.KindIntegrity, "index.UpsertMU", "insert mu_tag", err)
		}
	}

	return nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
