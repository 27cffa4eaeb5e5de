package vault

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/digest"
	"github.com/Coinsides/mimobrain-memory-system/internal/dcontext"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/vaulturi"
)

// IngestResult describes a file just admitted into a vault.
type IngestResult struct {
	RawID      string
	URI        string
	DestPath   string
	ManifestPath string
}

// IngestOptions configures a single IngestFile call.
type IngestOptions struct {
	VaultRoot      string
	VaultID        string // defaults to "default"
	ManifestPath   string // defaults to <VaultRoot>/manifests/raw_manifest.jsonl
}

// IngestFile computes the sha256 of src, copies it into the vault's raw
// area under a year/month partition keyed by that hash, and appends a
// record to the raw manifest. Re-ingesting a file whose content already
// exists under the destination path is a no-op copy (idempotent by hash).
func IngestFile(ctx context.Context, src string, opts IngestOptions) (IngestResult, error) {
	log := dcontext.GetLogger(ctx)

	vaultID := opts.VaultID
	if vaultID == "" {
		vaultID = "default"
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(opts.VaultRoot, "manifests", "raw_manifest.jsonl")
	}

	info, err := os.Stat(src)
	if err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindValidation, "vault.IngestFile", "stat source file", err)
	}
	if info.IsDir() {
		return IngestResult{}, merrors.Validation("vault.IngestFile", "source is a directory, use IngestDir")
	}

	sha, err := sha256File(src)
	if err != nil {
		return IngestResult{}, err
	}
	hex := strings.TrimPrefix(string(sha), "sha256:")

	now := time.Now().UTC()
	ext := strings.ToLower(filepath.Ext(src))
	rel := filepath.Join(
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		hex+ext,
	)
	destPath := filepath.Join(opts.VaultRoot, "raw", rel)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindTransientIO, "vault.IngestFile", "mkdir dest dir", err)
	}

	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		if err := copyFile(src, destPath); err != nil {
			return IngestResult{}, err
		}
	}

	destInfo, err := os.Stat(destPath)
	if err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindTransientIO, "vault.IngestFile", "stat dest file", err)
	}

	uriStr, err := vaulturi.Format(vaultID, vaulturi.KindRaw, filepath.ToSlash(rel))
	if err != nil {
		return IngestResult{}, merrors.Wrap(merrors.KindValidation, "vault.IngestFile", "format vault uri", err)
	}

	rec := RawManifestRecord{
		RawID:      string(sha),
		URI:        uriStr,
		SHA256:     string(sha),
		SizeBytes:  destInfo.Size(),
		MTime:      destInfo.ModTime().UTC().Format(time.RFC3339),
		Mime:       guessMime(destPath),
		IngestedAt: now.Format(time.RFC3339),
	}
	if err := AppendJSONL(manifestPath, rec); err != nil {
		return IngestResult{}, err
	}

	log.Infof("ingested raw file into %s", uriStr)

	return IngestResult{
		RawID:        rec.RawID,
		URI:          uriStr,
		DestPath:     destPath,
		ManifestPath: manifestPath,
	}, nil
}

// IngestDir walks dir recursively and ingests every regular file found,
// in lexical order for determinism, returning one result per file.
func IngestDir(ctx context.Context, dir string, opts IngestOptions) ([]IngestResult, error) {
	var results []IngestResult
	var paths []string

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, merrors.Wrap(merrors.KindTransientIO, "vault.IngestDir", "walk source directory", err)
	}

	for _, p := range paths {
		r, err := IngestFile(ctx, p, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func sha256File(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", merrors.Wrap(merrors.KindTransientIO, "vault.sha256File", "open file", err)
	}
	defer f.Close()

	d, err := digest.FromReader(f)
	if err != nil {
		return "", merrors.Wrap(merrors.KindTransientIO, "vault.sha256File", "hash file", err)
	}
	return d, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.copyFile", "open source", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.copyFile", "create dest", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return merrors.Wrap(merrors.KindTransientIO, "vault.copyFile", "copy bytes", err)
	}
	return out.Close()
}

func guessMime(path string) string {
	if m := mime.TypeByExtension(filepath.Ext(path)); m != "" {
		return m
	}
	return "application/octet-stream"
}
