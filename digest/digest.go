// Package digest wraps github.com/opencontainers/go-digest and restricts
// it to sha256: every content hash in this system (MU content_hash, raw
// pointer integrity, manifest record shas) is always a sha256 digest,
// never sha1/md5/tarsum.
package digest

import (
	"crypto/sha256"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

// Algorithm is the single algorithm this system ever produces or accepts.
const Algorithm = godigest.SHA256

// Digest is a validated "sha256:<hex>" content hash.
type Digest = godigest.Digest

// FromBytes computes the sha256 digest of b.
func FromBytes(b []byte) Digest {
	return Algorithm.FromBytes(b)
}

// FromReader computes the sha256 digest of the full contents of r.
func FromReader(r io.Reader) (Digest, error) {
	return Algorithm.FromReader(r)
}

// Parse validates s as a "sha256:<64-hex>" digest string.
func Parse(s string) (Digest, error) {
	d, err := godigest.Parse(s)
	if err != nil {
		return "", err
	}
	if d.Algorithm() != Algorithm {
		return "", godigest.ErrDigestUnsupported
	}
	return d, nil
}

// Validate reports whether s is a well-formed sha256 digest string without
// allocating a Digest value.
func Validate(s string) error {
	d := Digest(s)
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Algorithm() != Algorithm {
		return godigest.ErrDigestUnsupported
	}
	return nil
}

// Verifier returns a digest.Verifier seeded for comparison against want,
// for verify-while-copying callers.
func Verifier(want Digest) godigest.Verifier {
	return want.Verifier()
}

// NewHash returns a fresh sha256 hash.Hash, for callers that need to stream
// content through a hasher without going through a Digest value yet.
var NewHash = sha256.New
