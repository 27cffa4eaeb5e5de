package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
	"github.com/Coinsides/mimobrain-memory-system/vaulturi"
)

// IngestMUFile loads and validates an MU yaml file, copies it (idempotent
// on mu_id) to mu/<yyyy>/<mm>/<mu_id>.mimo under the vault root, and
// appends an MU manifest line whose source_raw_ids is derived from the
// MU's pointers.
func IngestMUFile(ctx context.Context, muFilePath string, opts IngestOptions) (IngestResult, error) {
	log := dcontext.GetLogger(ctx)

	vaultID := opts.VaultID
	if vaultID == "" {
		vaultID = "default"
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(opts.VaultRoot, "manifests", "mu_manifest.jsonl")
	}

	raw, err := os.ReadFile(muFilePath)
	if err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindValidation, "vault.IngestMUFile", "read mu file", err)
	}

	mu, err := muyaml.Load(raw)
	if err != nil {
		return IngestResult{}, err
	}

	now := time.Now().UTC()
	rel := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		mu.MUID+".mimo",
	)
	destPath := filepath.Join(opts.VaultRoot, "mu", rel)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindTransientIO, "vault.IngestMUFile", "mkdir dest dir", err)
	}
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		if err := copyFile(muFilePath, destPath); err != nil {
			return IngestResult{}, err
		}
	}

	uriStr, err := vaulturi.Format(vaultID, vaulturi.KindMU, filepath.ToSlash(rel))
	if err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindValidation, "vault.IngestMUFile", "format vault uri", err)
	}

	rec := MUManifestRecord{
		MUID:          mu.MUID,
		SchemaVersion: mu.SchemaVersion,
		URI:           uriStr,
		SourceRawIDs:  mu.SourceRawIDs(),
		MUKey:         mu.Idempotency.MUKey,
		ContentHash:   mu.ContentHash,
		CreatedAt:     now.Format(time.RFC3339),
	}
	if err := AppendJSONL(manifestPath, rec); err != nil {
		return IngestResult{}, err
	}

	log.Infof("ingested mu %s into %s", mu.MUID, uriStr)

	return IngestResult{
		RawID:        mu.MUID,
		URI:          uriStr,
		DestPath:     destPath,
		ManifestPath: manifestPath,
	}, nil
}
