package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUnknownIntegration(t *testing.T) {
	_, err := Get("nonesuch")
	assert.Error(t, err)
}

func TestKindLookup(t *testing.T) {
	kind, err := Kind("dattormm", "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "company", kind.ParentKind)
	assert.True(t, kind.FanOut())
	assert.True(t, kind.PruneStale)

	_, err = Kind("dattormm", "ticket")
	assert.Error(t, err)
}

func TestRootKindsExcludeFannedOut(t *testing.T) {
	kinds, err := RootKinds("dattormm")
	require.NoError(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, "company", kinds[0].EntityType)
	assert.False(t, kinds[0].FanOut())
}

func TestChildKinds(t *testing.T) {
	kinds, err := ChildKinds("sophos-partner", "company")
	require.NoError(t, err)

	types := make([]string, 0, len(kinds))
	for _, k := range kinds {
		types = append(types, k.EntityType)
	}
	assert.ElementsMatch(t, []string{"endpoint", "firewall"}, types)
}

func TestEveryKindResolvableThroughLookup(t *testing.T) {
	for _, name := range Integrations() {
		spec, err := Get(name)
		require.NoError(t, err)
		for _, k := range spec.Kinds {
			got, err := Kind(name, k.EntityType)
			require.NoError(t, err)
			assert.Equal(t, k, got)
			if k.FanOut() {
				_, err := Kind(name, k.ParentKind)
				assert.NoError(t, err, "%s/%s parent kind must exist", name, k.EntityType)
			}
		}
	}
}
