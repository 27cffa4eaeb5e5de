package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Coinsides/mimobrain-memory-system/digest"
	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
	"github.com/Coinsides/mimobrain-memory-system/vaulturi"
)

// ResolveURI maps a vault:// URI to a local filesystem path using the
// vault_roots mapping from config, the same explicit injectable mapping
// doctor tooling passes in rather than hardcoding a single root.
func ResolveURI(uri string, vaultRoots map[string]string) (string, error) {
	u, err := vaulturi.Parse(uri)
	if err != nil {
		return "", merrors.Wrap(merrors.KindValidation, "vault.ResolveURI", "parse vault uri", err)
	}
	root, ok := vaultRoots[u.VaultID]
	if !ok || root == "" {
		return "", merrors.NotFound("vault.ResolveURI", fmt.Sprintf("no vault root configured for vault_id=%q", u.VaultID))
	}
	return filepath.Join(root, string(u.Kind), filepath.FromSlash(u.Path)), nil
}

// VerifyManifest walks every raw_manifest/mu_manifest-style line in
// manifestPath and confirms the sha256 recorded matches the file the
// line's uri resolves to. Only vault:// uris are supported; anything
// else is reported as an error rather than silently skipped.
func VerifyManifest(manifestPath string, vaultRoots map[string]string) ([]string, error) {
	var errs []string

	err := IterJSONL(manifestPath, func(rec map[string]any) error {
		uri, _ := rec["uri"].(string)
		expected, _ := rec["sha256"].(string)
		if uri == "" || expected == "" {
			errs = append(errs, fmt.Sprintf("invalid record (missing uri/sha256): %v", rec))
			return nil
		}

		path, err := ResolveURI(uri, vaultRoots)
		if err != nil {
			errs = append(errs, fmt.Sprintf("resolve failed for %s: %v", uri, err))
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("missing file for uri=%s: %s", uri, path))
			return nil
		}
		defer f.Close()

		actual, err := digest.FromReader(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("hash failed for uri=%s: %v", uri, err))
			return nil
		}
		if string(actual) != expected {
			errs = append(errs, fmt.Sprintf("sha256 mismatch for uri=%s: expected=%s actual=%s", uri, expected, actual))
		}
		return nil
	})
	if err != nil {
		return errs, err
	}
	return errs, nil
}

// RepairSuggestion pairs a stale uri with the current uri observed for
// the same content hash elsewhere in the manifest.
type RepairSuggestion struct {
	OldURI      string
	SHA256      string
	SuggestedURI string
}

// SHA256Index is a reusable lookup built once per manifest scan, amortizing
// repeated linear scans across many repair calls in a single run.
type SHA256Index map[string]string

// BuildSHA256Index scans manifestPath once and returns a sha256 -> first
// observed uri index.
func BuildSHA256Index(manifestPath string) (SHA256Index, error) {
	idx := SHA256Index{}
	err := IterJSONL(manifestPath, func(rec map[string]any) error {
		sha, _ := rec["sha256"].(string)
		uri, _ := rec["uri"].(string)
		if sha == "" || uri == "" {
			return nil
		}
		if _, exists := idx[sha]; !exists {
			idx[sha] = uri
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Lookup returns the uri recorded for sha, if any.
func (idx SHA256Index) Lookup(sha string) (string, bool) {
	uri, ok := idx[sha]
	return uri, ok
}

// RepairSuggestionsForMissing scans records for vault:// uris whose target
// file is absent, and for each proposes the uri currently on file for the
// same sha256 in idx (built from the authoritative manifest).
func RepairSuggestionsForMissing(manifestPath string, idx SHA256Index, vaultRoots map[string]string) ([]RepairSuggestion, error) {
	var out []RepairSuggestion

	err := IterJSONL(manifestPath, func(rec map[string]any) error {
		uri, _ := rec["uri"].(string)
		sha, _ := rec["sha256"].(string)
		if uri == "" || sha == "" {
			return nil
		}

		u, parseErr := vaulturi.Parse(uri)
		if parseErr != nil {
			return nil
		}
		_ = u

		path, resolveErr := ResolveURI(uri, vaultRoots)
		missing := resolveErr != nil
		if !missing {
			if _, statErr := os.Stat(path); statErr != nil {
				missing = true
			}
		}
		if !missing {
			return nil
		}

		if newURI, ok := idx.Lookup(sha); ok && newURI != uri {
			out = append(out, RepairSuggestion{OldURI: uri, SHA256: sha, SuggestedURI: newURI})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
