// Package muyaml defines the Memory Unit (MU) shape and its load/validate
// path. MU files are dynamic YAML: this package loads into a generic tree
// first and checks mu_id, schema_version, a sha256-form content_hash and
// idempotency.mu_key, then decodes into the MU struct and requires a
// sha256 on every pointer. snapshot, links and privacy are checked only by
// that struct decode (a value of the wrong YAML shape is rejected); their
// contents are not validated.
package muyaml

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// Locator describes where inside the referenced bytes a pointer's content
// lives. Only "line_range" is interpreted today; any other/future kind is
// carried through but produces no snippet on resolve (diagnostic-only).
type Locator struct {
	Kind  string `yaml:"kind"`
	Start int    `yaml:"start,omitempty"`
	End   int    `yaml:"end,omitempty"`
}

// Pointer is a verified reference to raw bytes backing an MU's content.
type Pointer struct {
	Type    string  `yaml:"type,omitempty"`
	URI     string  `yaml:"uri"`
	SHA256  string  `yaml:"sha256"`
	Locator Locator `yaml:"locator,omitempty"`
}

// SourceRef identifies the raw bytes a snapshot was captured from.
type SourceRef struct {
	URI    string `yaml:"uri,omitempty"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// Snapshot is an inline cached payload, used as a fallback evidence source
// when a pointer can no longer be resolved to live bytes.
type Snapshot struct {
	Kind       string         `yaml:"kind,omitempty"`
	Codec      string         `yaml:"codec,omitempty"`
	SizeBytes  int64          `yaml:"size_bytes,omitempty"`
	CreatedAt  string         `yaml:"created_at,omitempty"`
	SourceRef  SourceRef      `yaml:"source_ref,omitempty"`
	Payload    map[string]any `yaml:"payload,omitempty"`
}

// Links captures an MU's correction/supersession/duplication relations and
// tombstone state. All three relation lists hold mu_ids.
type Links struct {
	Corrects     []string `yaml:"corrects,omitempty"`
	Supersedes   []string `yaml:"supersedes,omitempty"`
	DuplicateOf  []string `yaml:"duplicate_of,omitempty"`
	Tombstone    any      `yaml:"tombstone,omitempty"`
}

// IsTombstoned reports whether this MU has been tombstoned.
func (l Links) IsTombstoned() bool {
	if l.Tombstone == nil {
		return false
	}
	switch v := l.Tombstone.(type) {
	case bool:
		return v
	default:
		return true
	}
}

// SharePolicy controls whether pointer/snapshot content may leave the
// privacy boundary for a given export target.
type SharePolicy struct {
	AllowPointer  bool `yaml:"allow_pointer,omitempty"`
	AllowSnapshot bool `yaml:"allow_snapshot,omitempty"`
}

// Privacy is an MU's visibility and redaction policy.
type Privacy struct {
	Level       string      `yaml:"level"`
	Redact      string      `yaml:"redact,omitempty"`
	PII         []string    `yaml:"pii,omitempty"`
	SharePolicy SharePolicy `yaml:"share_policy,omitempty"`
}

// PrivacyRank orders privacy levels for visibility comparisons: public is
// the least restrictive, private the most.
var PrivacyRank = map[string]int{"public": 0, "org": 1, "private": 2}

// Source describes where an MU's content was derived from.
type Source struct {
	Kind string `yaml:"kind,omitempty"`
	Note string `yaml:"note,omitempty"`
}

// Meta carries an MU's timestamp, source, and tag set.
type Meta struct {
	Time   string   `yaml:"time,omitempty"`
	Source Source   `yaml:"source,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`
}

// Idempotency carries the stable content key a packer assigns an MU so
// re-running the same derivation does not mint a duplicate id.
type Idempotency struct {
	MUKey string `yaml:"mu_key,omitempty"`
}

// MU is a Memory Unit: an immutable, pure record with no workspace_id.
// Workspace membership is tracked externally in an append-only event log.
type MU struct {
	MUID          string      `yaml:"mu_id"`
	SchemaVersion string      `yaml:"schema_version"`
	ContentHash   string      `yaml:"content_hash"`
	Idempotency   Idempotency `yaml:"idempotency"`
	Summary       string      `yaml:"summary,omitempty"`
	Meta          Meta        `yaml:"meta,omitempty"`
	Pointer       []Pointer   `yaml:"pointer,omitempty"`
	Snapshot      *Snapshot   `yaml:"snapshot,omitempty"`
	Links         Links       `yaml:"links,omitempty"`
	Privacy       Privacy     `yaml:"privacy,omitempty"`
}

// Load parses raw MU yaml bytes into a generic tree, validates the fields
// the core requires, then decodes into an MU. Unknown extra fields are
// tolerated (forward compatibility); missing required fields are rejected.
func Load(raw []byte) (*MU, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, merrors.Wrap(merrors.KindValidation, "muyaml.Load", "parse yaml", err)
	}
	if tree == nil {
		return nil, merrors.Validation("muyaml.Load", "empty document")
	}

	if err := validateRequired(tree); err != nil {
		return nil, err
	}

	var mu MU
	if err := yaml.Unmarshal(raw, &mu); err != nil {
		return nil, merrors.Wrap(merrors.KindValidation, "muyaml.Load", "decode mu", err)
	}

	for i, p := range mu.Pointer {
		if p.SHA256 == "" {
			return nil, merrors.Validation("muyaml.Load", fmt.Sprintf("pointer[%d] missing sha256", i))
		}
	}

	return &mu, nil
}

func validateRequired(tree map[string]any) error {
	muID, _ := tree["mu_id"].(string)
	if muID == "" {
		if id, ok := tree["id"].(string); ok {
			muID = id
		}
	}
	if muID == "" {
		return merrors.Validation("muyaml.validateRequired", "missing mu_id")
	}

	if _, ok := tree["schema_version"]; !ok {
		return merrors.Validation("muyaml.validateRequired", "missing schema_version")
	}

	contentHash, _ := tree["content_hash"].(string)
	if contentHash == "" {
		return merrors.Validation("muyaml.validateRequired", "missing content_hash")
	}
	if !strings.HasPrefix(contentHash, "sha256:") {
		return merrors.Validation("muyaml.validateRequired", "content_hash must be sha256-form")
	}

	idem, _ := tree["idempotency"].(map[string]any)
	muKey, _ := idem["mu_key"].(string)
	if muKey == "" {
		return merrors.Validation("muyaml.validateRequired", "missing idempotency.mu_key")
	}
	if !strings.HasPrefix(muKey, "sha256:") {
		return merrors.Validation("muyaml.validateRequired", "idempotency.mu_key must be sha256-form")
	}

	return nil
}

// Dump renders m back to yaml, the form a repair executor writes a
// superseding MU out as.
func (m *MU) Dump() ([]byte, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, merrors.Wrap(merrors.KindValidation, "muyaml.Dump", "encode mu", err)
	}
	return b, nil
}

// SourceRawIDs derives the set of raw sha256 ids an MU's pointers
// reference, preserving first-seen order and de-duplicating.
func (m *MU) SourceRawIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range m.Pointer {
		if p.SHA256 == "" || seen[p.SHA256] {
			continue
		}
		seen[p.SHA256] = true
		ids = append(ids, p.SHA256)
	}
	return ids
}
