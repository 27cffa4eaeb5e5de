// Package vault implements the content-addressed store: ingesting raw
// files and MU records under a vault root, the append-only jsonl
// manifests that index them, and the verify/repair-suggest operations a
// doctor pass runs over a manifest.
//
// The on-disk layout is a split-directory, content-addressable store,
// partitioned by year/month since every object is keyed by sha256:
//
//	<vault_root>/
//	  raw/<yyyy>/<mm>/<sha256hex><ext>
//	  mu/...
//	  assets/...
//	  manifests/raw_manifest.jsonl
//	  manifests/mu_manifest.jsonl
//	  logs/...
//	  derived/...
package vault

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// RawManifestRecord is one line of raw_manifest.jsonl.
type RawManifestRecord struct {
	RawID       string `json:"raw_id"`
	URI         string `json:"uri"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
	MTime       string `json:"mtime,omitempty"`
	Mime        string `json:"mime,omitempty"`
	IngestedAt  string `json:"ingested_at"`
}

// MUManifestRecord is one line of mu_manifest.jsonl, matching the shape
// {mu_id, schema_version, uri, source_raw_ids[], mu_key, content_hash,
// created_at}.
type MUManifestRecord struct {
	MUID          string   `json:"mu_id"`
	SchemaVersion string   `json:"schema_version"`
	URI           string   `json:"uri"`
	SourceRawIDs  []string `json:"source_raw_ids"`
	MUKey         string   `json:"mu_key"`
	ContentHash   string   `json:"content_hash"`
	CreatedAt     string   `json:"created_at"`
}

// AppendJSONL marshals record and appends it as one line to path, creating
// parent directories as needed. Manifests are append-only: this never
// truncates or rewrites existing lines.
func AppendJSONL(path string, record any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.AppendJSONL", "mkdir manifest dir", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.AppendJSONL", "open manifest", err)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return merrors.Wrap(merrors.KindValidation, "vault.AppendJSONL", "encode record", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.AppendJSONL", "write manifest line", err)
	}
	if err := f.Sync(); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.AppendJSONL", "flush manifest line", err)
	}
	return nil
}

// stripBOM removes a leading UTF-8 byte-order mark, tolerated on read
// even though this package never writes one.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// IterJSONL decodes each line of path as a map[string]any, calling fn for
// every record. A missing file yields no records and no error: a manifest
// that has not been created yet is an empty manifest.
func IterJSONL(path string, fn func(rec map[string]any) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.Wrap(merrors.KindTransientIO, "vault.IterJSONL", "open manifest", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if lineNo == 1 {
			line = stripBOM(line)
		}
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return merrors.Wrap(merrors.KindIntegrity, "vault.IterJSONL",
				fmt.Sprintf("%s:%d: invalid json", path, lineNo), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.IterJSONL", "scan manifest", err)
	}
	return nil
}
