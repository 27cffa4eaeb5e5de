// Package vaulturi provides a general type to represent the stable logical
// identifier every stored object carries, independent of local filesystem
// layout or which machine holds a replica.
//
// Grammar
//
//	uri        := "vault://" vault-id "/" kind "/" path
//	vault-id   := [^/]+
//	kind       := "raw" | "mu" | "assets" | "manifests" | "logs" | "derived"
//	path       := component ["/" component]*
package vaulturi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the object categories a vault partitions storage into.
type Kind string

const (
	KindRaw       Kind = "raw"
	KindMU        Kind = "mu"
	KindAssets    Kind = "assets"
	KindManifests Kind = "manifests"
	KindLogs      Kind = "logs"
	KindDerived   Kind = "derived"
)

func (k Kind) valid() bool {
	switch k {
	case KindRaw, KindMU, KindAssets, KindManifests, KindLogs, KindDerived:
		return true
	}
	return false
}

// ErrInvalidFormat is returned when a string does not parse as a vault URI.
var ErrInvalidFormat = errors.New("vaulturi: invalid format")

// URI is a parsed "vault://<vault_id>/<kind>/<path>" identifier.
type URI struct {
	VaultID string
	Kind    Kind
	Path    string // path inside kind, no leading slash
}

const scheme = "vault://"

// Parse validates s and returns the decomposed URI.
func Parse(s string) (URI, error) {
	if !strings.HasPrefix(s, scheme) {
		return URI{}, fmt.Errorf("%w: missing vault:// scheme: %q", ErrInvalidFormat, s)
	}

	rest := s[len(scheme):]
	var parts []string
	for _, p := range strings.Split(rest, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return URI{}, fmt.Errorf("%w: need vault_id/kind/path: %q", ErrInvalidFormat, s)
	}

	vaultID, kind := parts[0], Kind(parts[1])
	if !kind.valid() {
		return URI{}, fmt.Errorf("%w: invalid kind %q in %q", ErrInvalidFormat, kind, s)
	}

	return URI{
		VaultID: vaultID,
		Kind:    kind,
		Path:    strings.Join(parts[2:], "/"),
	}, nil
}

// Format builds and validates a vault URI from its components.
func Format(vaultID string, kind Kind, path string) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrInvalidFormat, kind)
	}
	u := URI{VaultID: vaultID, Kind: kind, Path: strings.TrimLeft(path, "/")}
	return u.String(), nil
}

// String renders u back into its canonical "vault://..." form.
func (u URI) String() string {
	s := scheme + u.VaultID + "/" + string(u.Kind) + "/" + u.Path
	return strings.TrimRight(s, "/")
}
