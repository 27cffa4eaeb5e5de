package membership

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEffectiveMembershipFoldsAddRemoveInOrder(t *testing.T) {
	dataRoot := t.TempDir()

	require.NoError(t, AppendEvent(dataRoot, "ws1", "add", "mu_1", "2024-01-01T00:00:00Z", "test"))
	require.NoError(t, AppendEvent(dataRoot, "ws1", "add", "mu_2", "2024-01-01T00:01:00Z", "test"))
	require.NoError(t, AppendEvent(dataRoot, "ws1", "remove", "mu_1", "2024-01-01T00:02:00Z", "test"))
	require.NoError(t, AppendEvent(dataRoot, "ws2", "add", "mu_3", "2024-01-01T00:03:00Z", "test"))

	effective, diag, err := LoadEffectiveMembership(dataRoot, "ws1")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"mu_2": true}, effective)
	require.Equal(t, 4, diag.EventsTotal,"events total counts every line scanned, including other workspaces")
	require.Equal(t, 2, diag.Adds)
	require.Equal(t, 1, diag.Removes)
	require.Equal(t, 1, diag.EffectiveCount)
}

func TestLoadEffectiveMembershipReAddAfterRemove(t *testing.T) {
	dataRoot := t.TempDir()

	require.NoError(t, AppendEvent(dataRoot, "ws1", "add", "mu_1", "2024-01-01T00:00:00Z", "test"))
	require.NoError(t, AppendEvent(dataRoot, "ws1", "remove", "mu_1", "2024-01-01T00:01:00Z", "test"))
	require.NoError(t, AppendEvent(dataRoot, "ws1", "add", "mu_1", "2024-01-01T00:02:00Z", "test"))

	effective, _, err := LoadEffectiveMembership(dataRoot, "ws1")
	require.NoError(t, err)
	require.True(t, effective["mu_1"])
}

func TestLoadEffectiveMembershipEmptyLogYieldsEmptySet(t *testing.T) {
	dataRoot := t.TempDir()

	effective, diag, err := LoadEffectiveMembership(dataRoot, "ws1")
	require.NoError(t, err)
	require.Empty(t, effective)
	require.Zero(t, diag.EventsTotal)
}

func TestLoadEffectiveMembershipIgnoresOtherWorkspaces(t *testing.T) {
	dataRoot := t.TempDir()
	require.NoError(t, AppendEvent(dataRoot, "ws-other", "add", "mu_9", "2024-01-01T00:00:00Z", "test"))

	effective, _, err := LoadEffectiveMembership(dataRoot, "ws1")
	require.NoError(t, err)
	require.Empty(t, effective)
}
