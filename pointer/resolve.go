// Package pointer resolves a Pointer to a local file: vault:// URIs go
// straight to vault.ResolveURI, legacy URIs resolve only via a sha256
// lookup in the raw manifest. Resolution verifies the stored sha256
// against the file on disk and, for a supported locator kind, extracts a
// snippet. Every failure mode returns an Outcome with ok=false and a
// diagnostic rather than an error — this is an evidence backtrace, not a
// hard operation, and callers (bundle assembly, repair suggestion) need
// to keep going past individual misses.
package pointer

import (
	"os"
	"strconv"
	"strings"

	"github.com/Coinsides/mimobrain-memory-system/digest"
	"github.com/Coinsides/mimobrain-memory-system/muyaml"
	"github.com/Coinsides/mimobrain-memory-system/vault"
)

func sha256HexFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d, err := digest.FromReader(f)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Outcome is the result of resolving one pointer.
type Outcome struct {
	OK             bool
	URI            string
	Path           string
	SHA256Expected string
	SHA256Actual   string
	Snippet        string
	Diagnostics    map[string]any
}

func fail(uri, path, expected string, diag map[string]any) Outcome {
	return Outcome{OK: false, URI: uri, Path: path, SHA256Expected: expected, Diagnostics: diag}
}

// Resolve resolves p against vaultRoots, falling back to a sha256 lookup
// in rawManifestPath (empty string disables the fallback) for any URI
// that isn't vault://.
func Resolve(p muyaml.Pointer, vaultRoots map[string]string, rawManifestPath string) Outcome {
	diag := map[string]any{}

	if p.URI == "" {
		return fail("", "", p.SHA256, map[string]any{"error": "missing uri"})
	}
	if !strings.HasPrefix(p.SHA256, "sha256:") {
		diag["warning"] = "missing/invalid sha256; cannot verify"
	}

	chosenURI := p.URI
	if !strings.HasPrefix(p.URI, "vault://") {
		if rawManifestPath == "" || p.SHA256 == "" {
			return fail(p.URI, "", p.SHA256, map[string]any{"error": "legacy uri without manifest lookup"})
		}
		idx, err := vault.BuildSHA256Index(rawManifestPath)
		if err != nil {
			return fail(p.URI, "", p.SHA256, map[string]any{"error": "manifest lookup failed: " + err.Error()})
		}
		newURI, ok := idx.Lookup(p.SHA256)
		if !ok {
			return fail(p.URI, "", p.SHA256, map[string]any{"error": "sha256 not found in raw manifest"})
		}
		chosenURI = newURI
		diag["resolved_via_manifest"] = true
		diag["original_uri"] = p.URI
	}

	localPath, err := vault.ResolveURI(chosenURI, vaultRoots)
	if err != nil {
		d := map[string]any{"error": "resolve_vault_uri_to_path failed: " + err.Error()}
		for k, v := range diag {
			d[k] = v
		}
		return fail(chosenURI, "", p.SHA256, d)
	}

	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		d := map[string]any{"error": "missing file"}
		for k, v := range diag {
			d[k] = v
		}
		return Outcome{OK: false, URI: chosenURI, Path: localPath, SHA256Expected: p.SHA256, Diagnostics: d}
	}

	actual, err := sha256HexFile(localPath)
	if err != nil {
		d := map[string]any{"error": "hash failed: " + err.Error()}
		for k, v := range diag {
			d[k] = v
		}
		return Outcome{OK: false, URI: chosenURI, Path: localPath, SHA256Expected: p.SHA256, Diagnostics: d}
	}
	if p.SHA256 != "" && actual != p.SHA256 {
		d := map[string]any{"error": "sha256 mismatch"}
		for k, v := range diag {
			d[k] = v
		}
		return Outcome{OK: false, URI: chosenURI, Path: localPath, SHA256Expected: p.SHA256, SHA256Actual: actual, Diagnostics: d}
	}

	snippet := ""
	switch {
	case p.Locator.Kind == "":
		diag["warning"] = "missing locator; no snippet extracted"
	case p.Locator.Kind == "line_range":
		s, err := readLineRange(localPath, p.Locator.Start, p.Locator.End)
		if err != nil {
			diag["warning"] = "snippet extraction failed: " + err.Error()
		} else {
			snippet = s
		}
	default:
		diag["warning"] = "unsupported locator kind: " + strconv.Quote(p.Locator.Kind)
	}

	return Outcome{
		OK:             true,
		URI:            chosenURI,
		Path:           localPath,
		SHA256Expected: p.SHA256,
		SHA256Actual:   actual,
		Snippet:        snippet,
		Diagnostics:    diag,
	}
}

func readLineRange(path string, start, end int) (string, error) {
	if start < 1 || end < start {
		return "", errInvalidLineRange(start, end)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(raw), "\n")
	if end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", nil
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

type lineRangeError struct{ start, end int }

func (e lineRangeError) Error() string {
	return "invalid line_range: start=" + strconv.Itoa(e.start) + " end=" + strconv.Itoa(e.end)
}

func errInvalidLineRange(start, end int) error { return lineRangeError{start, end} }
