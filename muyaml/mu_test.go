package muyaml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validMUYAML = `
mu_id: mu_0001
schema_version: "1"
content_hash: "sha256:abc123"
idempotency:
  mu_key: "sha256:def456"
summary: a test memory unit
meta:
  time: "2024-01-01T00:00:00Z"
  tags: [note, test]
pointer:
  - uri: "vault://default/raw/2024/01/abc123.txt"
    sha256: "sha256:abc123"
    locator:
      kind: line_range
      start: 1
      end: 3
privacy:
  level: private
`

func TestLoadValidMU(t *testing.T) {
	mu, err := Load([]byte(validMUYAML))
	require.NoError(t, err)
	require.Equal(t, "mu_0001", mu.MUID)
	require.Equal(t, "sha256:def456", mu.Idempotency.MUKey)
	require.Len(t, mu.Pointer, 1)
	require.Equal(t, []string{"sha256:abc123"}, mu.SourceRawIDs())
}

func TestLoadRejectsMissingMUID(t *testing.T) {
	_, err := Load([]byte(`
schema_version: "1"
content_hash: "sha256:abc123"
idempotency:
  mu_key: "sha256:def456"
`))
	require.Error(t, err)
}

func TestLoadRejectsMissingSchemaVersion(t *testing.T) {
	_, err := Load([]byte(`
mu_id: mu_0001
content_hash: "sha256:abc123"
idempotency:
  mu_key: "sha256:def456"
`))
	require.Error(t, err)
}

func TestLoadRejectsNonSHA256ContentHash(t *testing.T) {
	_, err := Load([]byte(`
mu_id: mu_0001
schema_version: "1"
content_hash: "md5:abc123"
idempotency:
  mu_key: "sha256:def456"
`))
	require.Error(t, err)
}

func TestLoadRejectsNonSHA256MUKey(t *testing.T) {
	_, err := Load([]byte(`
mu_id: mu_0001
schema_version: "1"
content_hash: "sha256:abc123"
idempotency:
  mu_key: "def456"
`))
	require.Error(t, err)
}

func TestLoadRejectsPointerMissingSHA256(t *testing.T) {
	_, err := Load([]byte(`
mu_id: mu_0001
schema_version: "1"
content_hash: "sha256:abc123"
idempotency:
  mu_key: "sha256:def456"
pointer:
  - uri: "vault://default/raw/2024/01/abc123.txt"
`))
	require.Error(t, err)
}

func TestLoadRejectsEmptyDocument(t *testing.T) {
	_, err := Load([]byte(``))
	require.Error(t, err)
}

func TestLinksIsTombstoned(t *testing.T) {
	require.False(t, Links{}.IsTombstoned())
	require.False(t, Links{Tombstone: false}.IsTombstoned())
	require.True(t, Links{Tombstone: true}.IsTombstoned())
	require.True(t, Links{Tombstone: "2024-01-01T00:00:00Z"}.IsTombstoned())
}

func TestDumpRoundTrips(t *testing.T) {
	mu, err := Load([]byte(validMUYAML))
	require.NoError(t, err)

	out, err := mu.Dump()
	require.NoError(t, err)

	reloaded, err := Load(out)
	require.NoError(t, err)
	require.Equal(t, mu.MUID, reloaded.MUID)
	require.Equal(t, mu.ContentHash, reloaded.ContentHash)
	require.Equal(t, mu.SourceRawIDs(), reloaded.SourceRawIDs())
}

func TestSourceRawIDsDeduplicatesPreservingOrder(t *testing.T) {
	mu := &MU{
		Pointer: []Pointer{
			{SHA256: "sha256:a"},
			{SHA256: "sha256:b"},
			{SHA256: "sha256:a"},
			{SHA256: ""},
		},
	}
	require.Equal(t, []string{"sha256:a", "sha256:b"}, mu.SourceRawIDs())
}
