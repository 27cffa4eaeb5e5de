package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Coinsides/mimobrain-memory-system/muyaml"
)

const punctuationMUYAML = `
mu_id: mu_punct
schema_version: "1"
content_hash: "sha256:c"
idempotency:
  mu_key: "sha256:c"
summary: "memory: first!"
privacy:
  level: private
`

func TestSearchFTSMatchesByKeyword(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{Query: "first"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mu_1", results[0].MUID)
}

func TestSearchEmptyQueryOrdersByTimeDesc(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "mu_2", results[0].MUID, "newer mu ranks first with no query")
}

func TestSearchFiltersByTag(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{Tag: "alpha"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mu_1", results[0].MUID)
}

func TestSearchFencedToEmptyAllowListReturnsNoResults(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{AllowMUIDs: []string{}})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSearchFencedToAllowListFiltersResults(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{AllowMUIDs: []string{"mu_1"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mu_1", results[0].MUID)
}

func TestSearchFiltersByTargetLevelPrivacyRank(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	results, err := db.Search(SearchQuery{TargetLevel: "public"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mu_2", results[0].MUID, "mu_1 is private and must be excluded at target level public")
}

func TestSearchLikeFallbackForPunctuationHeavyQuery(t *testing.T) {
	db := openTestDB(t)
	muRoot := writeMUTree(t)
	_, err := BuildFromMUTree(context.Background(), db, muRoot, false)
	require.NoError(t, err)

	mu, err := muyaml.Load([]byte(punctuationMUYAML))
	require.NoError(t, err)
	require.NoError(t, db.UpsertMU(mu, "inline.mimo", 0))

	results, err := db.Search(SearchQuery{Query: "memory: first!"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mu_punct", results[0].MUID)
}

func TestMakeSnippetTruncatesAroundMatch(t *testing.T) {
	long := make([]byte, 0, 300)
	for len(long) < 300 {
		long = append(long, []byte("lorem ipsum dolor sit amet ")...)
	}
	summary := string(long) + "needle" + string(long)

	snippet := makeSnippet(summary, "needle", 220)
	require.Contains(t, snippet, "needle")
	require.Less(t, len(snippet), len(summary))
}

func TestMakeSnippetShortSummaryUnchanged(t *testing.T) {
	require.Equal(t, "short summary", makeSnippet("short summary", "short", 220))
}
