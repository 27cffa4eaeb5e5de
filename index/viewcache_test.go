package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutViewThenGetViewRoundTrips(t *testing.T) {
	db := openTestDB(t)

	v := View{
		ViewID:      "view_1",
		Template:    "daily_digest",
		Scope:       map[string]any{"days": float64(7)},
		SourceMUIDs: []string{"mu_2", "mu_1"},
		Content:     map[string]any{"summary": "hello"},
	}
	require.NoError(t, db.PutView(v))

	got, err := db.GetView("view_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "daily_digest", got.Template)
	require.Equal(t, []string{"mu_1", "mu_2"}, got.SourceMUIDs, "source ids are stored sorted for stable fingerprinting")
	require.False(t, got.Stale)
}

func TestGetViewMissingReturnsNilNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetView("ghost")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInvalidateByMUIDsMarksOnlyIntersectingViews(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutView(View{ViewID: "v1", Template: "t", Scope: map[string]any{}, SourceMUIDs: []string{"mu_1"}, Content: map[string]any{}}))
	require.NoError(t, db.PutView(View{ViewID: "v2", Template: "t", Scope: map[string]any{}, SourceMUIDs: []string{"mu_2"}, Content: map[string]any{}}))

	n, err := db.InvalidateByMUIDs([]string{"mu_1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	v1, err := db.GetView("v1")
	require.NoError(t, err)
	require.True(t, v1.Stale)

	v2, err := db.GetView("v2")
	require.NoError(t, err)
	require.False(t, v2.Stale)
}

func TestInvalidateByMUIDsEmptyChangedIsNoop(t *testing.T) {
	db := openTestDB(t)
	n, err := db.InvalidateByMUIDs(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPutViewReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	v := View{ViewID: "v1", Template: "t", Scope: map[string]any{}, SourceMUIDs: []string{"mu_1"}, Content: map[string]any{"n": float64(1)}}
	require.NoError(t, db.PutView(v))

	v.Content = map[string]any{"n": float64(2)}
	require.NoError(t, db.PutView(v))

	got, err := db.GetView("v1")
	require.NoError(t, err)
	require.Equal(t, float64(2), got.Content["n"])
}
